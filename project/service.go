package project

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gigflow/notify"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrForbidden    = errors.New("project: forbidden")
	ErrInvalidState = errors.New("project: invalid state")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OutboxWriter appends a notification event within the active transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event notify.Event) error
}

type Service struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
	idGen  func() string
}

type CreateParams struct {
	ClientID         string
	Title            string
	BudgetType       BudgetType
	BudgetMin        *int64
	BudgetMax        *int64
	IsDirect         bool
	TargetCreativeID *string
	Deadline         *time.Time
}

func NewService(pool TxBeginner, repo Repository, outbox OutboxWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		outbox: outbox,
		idGen:  func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Create posts a new project. Direct projects target a single creative and
// bypass open applications; the target is notified immediately.
func (s *Service) Create(ctx context.Context, params CreateParams) (Project, error) {
	if params.ClientID == "" {
		return Project{}, fmt.Errorf("project: missing client id")
	}
	if params.Title == "" {
		return Project{}, fmt.Errorf("project: title required")
	}
	if params.BudgetType == "" {
		params.BudgetType = BudgetFixed
	}
	if params.BudgetMin != nil && params.BudgetMax != nil && *params.BudgetMin > *params.BudgetMax {
		return Project{}, fmt.Errorf("project: invalid budget range")
	}
	if params.IsDirect && (params.TargetCreativeID == nil || *params.TargetCreativeID == "") {
		return Project{}, fmt.Errorf("project: direct request requires a target creative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p := Project{
		ID:               s.idGen(),
		ClientID:         params.ClientID,
		Title:            params.Title,
		BudgetType:       params.BudgetType,
		BudgetMin:        params.BudgetMin,
		BudgetMax:        params.BudgetMax,
		Status:           StatusOpen,
		IsDirect:         params.IsDirect,
		TargetCreativeID: params.TargetCreativeID,
		Deadline:         params.Deadline,
	}

	created, err := s.repo.Create(ctx, tx, p)
	if err != nil {
		return Project{}, fmt.Errorf("project: create: %w", err)
	}

	if created.IsDirect && s.outbox != nil {
		event := notify.Event{
			Type:        notify.TypeWorkRequest,
			RecipientID: *created.TargetCreativeID,
			ActorID:     created.ClientID,
			Payload: map[string]any{
				"project_id": created.ID,
				"title":      created.Title,
			},
		}
		if err := s.outbox.Enqueue(ctx, tx, event); err != nil {
			return Project{}, fmt.Errorf("project: enqueue work request: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("project: commit: %w", err)
	}

	return created, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (Project, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Project, int, error) {
	return s.repo.List(ctx, filters)
}

// Cancel withdraws a still-open project. Assigned projects are cancelled only
// through their work order.
func (s *Service) Cancel(ctx context.Context, projectID, actorID string) (Project, error) {
	if projectID == "" {
		return Project{}, fmt.Errorf("project: cancel missing project id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("project: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return Project{}, err
	}
	if p.ClientID != actorID {
		return Project{}, ErrForbidden
	}
	if p.Status != StatusOpen && p.Status != StatusDraft {
		return Project{}, ErrInvalidState
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, projectID, StatusCancelled)
	if err != nil {
		return Project{}, err
	}

	if updated.IsDirect && s.outbox != nil && updated.TargetCreativeID != nil {
		event := notify.Event{
			Type:        notify.TypeWorkRequest,
			RecipientID: *updated.TargetCreativeID,
			ActorID:     actorID,
			Payload: map[string]any{
				"project_id": updated.ID,
				"status":     updated.Status,
			},
		}
		if err := s.outbox.Enqueue(ctx, tx, event); err != nil {
			return Project{}, fmt.Errorf("project: enqueue cancel notice: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("project: cancel commit: %w", err)
	}

	return updated, nil
}
