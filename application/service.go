package application

import (
	"context"
	"errors"
	"fmt"

	"gigflow/notify"
	"gigflow/project"
	"gigflow/workorder"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrForbidden = errors.New("application: forbidden")
	// ErrProjectClosed is returned when applying to a project that is not
	// accepting applications.
	ErrProjectClosed = errors.New("application: project not open")
	// ErrAlreadyProcessed is returned on accept/decline of a terminal
	// application, including the loser of a concurrent accept race.
	ErrAlreadyProcessed = errors.New("application: already processed")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProjectStore is the slice of the project repository the engine needs.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (project.Project, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (project.Project, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status project.Status) (project.Project, error)
}

// OrderCreator creates the work order inside the acceptance transaction.
type OrderCreator interface {
	CreateFromAcceptance(ctx context.Context, tx pgx.Tx, params workorder.AcceptanceParams) (workorder.Order, error)
}

// OutboxWriter appends a notification event within the active transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event notify.Event) error
}

// Service is the application engine. Accept runs the whole
// project-to-work-order conversion in one transaction so at most one
// application per project ever wins.
type Service struct {
	pool     TxBeginner
	repo     Repository
	projects ProjectStore
	orders   OrderCreator
	outbox   OutboxWriter
	idGen    func() string
}

func NewService(pool TxBeginner, repo Repository, projects ProjectStore, orders OrderCreator, outbox OutboxWriter) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		projects: projects,
		orders:   orders,
		outbox:   outbox,
		idGen:    func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// SubmitParams carries a creative's proposal.
type SubmitParams struct {
	ProjectID    string
	CreativeID   string
	CoverLetter  string
	ProposedRate *int64
	Timeline     *string
}

// Submit files an application against an open project. Direct projects do not
// take applications; clients cannot apply to their own projects; a repeat
// application returns ErrDuplicate.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Application, error) {
	if params.ProjectID == "" || params.CreativeID == "" {
		return Application{}, fmt.Errorf("application: missing project or creative id")
	}
	if params.ProposedRate != nil && *params.ProposedRate < 0 {
		return Application{}, fmt.Errorf("application: negative proposed rate")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the project row so a submit cannot land on a project a concurrent
	// accept is assigning; the open check holds until commit.
	proj, err := s.projects.GetForUpdate(ctx, tx, params.ProjectID)
	if err != nil {
		return Application{}, err
	}
	if proj.Status != project.StatusOpen {
		return Application{}, ErrProjectClosed
	}
	if proj.IsDirect {
		return Application{}, fmt.Errorf("application: direct projects take no applications: %w", ErrProjectClosed)
	}
	if proj.ClientID == params.CreativeID {
		return Application{}, ErrForbidden
	}

	created, err := s.repo.Create(ctx, tx, Application{
		ID:           s.idGen(),
		ProjectID:    params.ProjectID,
		CreativeID:   params.CreativeID,
		CoverLetter:  params.CoverLetter,
		ProposedRate: params.ProposedRate,
		Timeline:     params.Timeline,
		Status:       StatusPending,
	})
	if err != nil {
		return Application{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, notify.Event{
			Type:        notify.TypeApplication,
			RecipientID: proj.ClientID,
			ActorID:     params.CreativeID,
			Payload: map[string]any{
				"project_id":     proj.ID,
				"application_id": created.ID,
			},
		}); err != nil {
			return Application{}, fmt.Errorf("application: enqueue submit: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit submit: %w", err)
	}
	return created, nil
}

// MarkViewed records that the client opened the application. Only a pending
// application moves; later statuses are left as they are.
func (s *Service) MarkViewed(ctx context.Context, applicationID, callerID string) (Application, error) {
	return s.reviewTransition(ctx, applicationID, callerID, StatusViewed, []Status{StatusPending})
}

// Shortlist flags a promising application for later comparison.
func (s *Service) Shortlist(ctx context.Context, applicationID, callerID string) (Application, error) {
	return s.reviewTransition(ctx, applicationID, callerID, StatusShortlisted, []Status{StatusPending, StatusViewed})
}

func (s *Service) reviewTransition(ctx context.Context, applicationID, callerID string, to Status, from []Status) (Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin review tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return Application{}, err
	}
	proj, err := s.projects.GetByID(ctx, app.ProjectID)
	if err != nil {
		return Application{}, err
	}
	if proj.ClientID != callerID {
		return Application{}, ErrForbidden
	}

	eligible := false
	for _, st := range from {
		if app.Status == st {
			eligible = true
			break
		}
	}
	if !eligible {
		if app.Status == to {
			return app, nil
		}
		return Application{}, ErrAlreadyProcessed
	}

	updated, err := s.repo.UpdateStatusInTx(ctx, tx, app.ID, to)
	if err != nil {
		return Application{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit review: %w", err)
	}
	return updated, nil
}

// AcceptResult bundles everything the acceptance transaction produced.
type AcceptResult struct {
	Application Application
	Order       workorder.Order
	Declined    []Application
}

// Accept converts one application into a work order. The application and
// project rows are locked for the duration, all open sibling applications are
// force-declined, the project is assigned, and the order plus its pending
// escrow are created, all in one transaction. A concurrent accept on a
// sibling observes the terminal status after the lock is released and fails
// with ErrAlreadyProcessed.
func (s *Service) Accept(ctx context.Context, applicationID, callerID string) (AcceptResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("application: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return AcceptResult{}, err
	}
	proj, err := s.projects.GetForUpdate(ctx, tx, app.ProjectID)
	if err != nil {
		return AcceptResult{}, err
	}
	if proj.ClientID != callerID {
		return AcceptResult{}, ErrForbidden
	}
	if !app.Status.Acceptable() {
		return AcceptResult{}, ErrAlreadyProcessed
	}
	if proj.Status != project.StatusOpen {
		return AcceptResult{}, ErrAlreadyProcessed
	}

	accepted, err := s.repo.UpdateStatusInTx(ctx, tx, app.ID, StatusAccepted)
	if err != nil {
		return AcceptResult{}, err
	}

	declined, err := s.repo.DeclineSiblingsInTx(ctx, tx, proj.ID, app.ID)
	if err != nil {
		return AcceptResult{}, err
	}

	if _, err := s.projects.UpdateStatus(ctx, tx, proj.ID, project.StatusAssigned); err != nil {
		return AcceptResult{}, err
	}

	agreedRate := workorder.DeriveAgreedRate(app.ProposedRate, proj.BudgetMin)
	order, err := s.orders.CreateFromAcceptance(ctx, tx, workorder.AcceptanceParams{
		ProjectID:        proj.ID,
		ClientID:         proj.ClientID,
		CreativeID:       app.CreativeID,
		AgreedRate:       agreedRate,
		AgreedBudgetType: string(proj.BudgetType),
		EscrowTotal:      workorder.DeriveEscrowTotal(proj.BudgetMax, proj.BudgetMin, agreedRate),
		Deadline:         proj.Deadline,
		ActorID:          callerID,
	})
	if err != nil {
		return AcceptResult{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, notify.Event{
			Type:        notify.TypeWorkOrderUpdate,
			RecipientID: app.CreativeID,
			ActorID:     callerID,
			Payload: map[string]any{
				"project_id":     proj.ID,
				"application_id": app.ID,
				"work_order_id":  order.ID,
			},
		}); err != nil {
			return AcceptResult{}, fmt.Errorf("application: enqueue accept: %w", err)
		}
		for _, sib := range declined {
			if err := s.outbox.Enqueue(ctx, tx, notify.Event{
				Type:        notify.TypeApplication,
				RecipientID: sib.CreativeID,
				ActorID:     callerID,
				Payload: map[string]any{
					"project_id":     proj.ID,
					"application_id": sib.ID,
					"status":         StatusDeclined,
				},
			}); err != nil {
				return AcceptResult{}, fmt.Errorf("application: enqueue sibling decline: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("application: commit accept: %w", err)
	}
	return AcceptResult{Application: accepted, Order: order, Declined: declined}, nil
}

// Decline turns down a single application. Declining an already-terminal
// application fails rather than silently re-declining.
func (s *Service) Decline(ctx context.Context, applicationID, callerID string) (Application, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Application{}, fmt.Errorf("application: begin decline tx: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err := s.repo.GetForUpdate(ctx, tx, applicationID)
	if err != nil {
		return Application{}, err
	}
	proj, err := s.projects.GetByID(ctx, app.ProjectID)
	if err != nil {
		return Application{}, err
	}
	if proj.ClientID != callerID {
		return Application{}, ErrForbidden
	}
	if !app.Status.Acceptable() {
		return Application{}, ErrAlreadyProcessed
	}

	declined, err := s.repo.UpdateStatusInTx(ctx, tx, app.ID, StatusDeclined)
	if err != nil {
		return Application{}, err
	}

	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, notify.Event{
			Type:        notify.TypeApplication,
			RecipientID: app.CreativeID,
			ActorID:     callerID,
			Payload: map[string]any{
				"project_id":     proj.ID,
				"application_id": app.ID,
				"status":         StatusDeclined,
			},
		}); err != nil {
			return Application{}, fmt.Errorf("application: enqueue decline: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Application{}, fmt.Errorf("application: commit decline: %w", err)
	}
	return declined, nil
}

// ListForProject returns all applications on the client's own project.
func (s *Service) ListForProject(ctx context.Context, projectID, callerID string) ([]Application, error) {
	proj, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if proj.ClientID != callerID {
		return nil, ErrForbidden
	}
	return s.repo.ListForProject(ctx, projectID)
}

// ListMine returns the creative's own applications, newest first.
func (s *Service) ListMine(ctx context.Context, creativeID, cursor string, limit int) (Page, error) {
	return s.repo.ListForCreative(ctx, creativeID, cursor, limit)
}

// GetByID returns one application to either the applicant or the project
// owner.
func (s *Service) GetByID(ctx context.Context, applicationID, callerID string) (Application, error) {
	app, err := s.repo.GetByID(ctx, applicationID)
	if err != nil {
		return Application{}, err
	}
	if app.CreativeID == callerID {
		return app, nil
	}
	proj, err := s.projects.GetByID(ctx, app.ProjectID)
	if err != nil {
		return Application{}, err
	}
	if proj.ClientID != callerID {
		return Application{}, ErrForbidden
	}
	return app, nil
}
