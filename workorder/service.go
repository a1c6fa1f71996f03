package workorder

import (
	"context"
	"errors"
	"fmt"

	"gigflow/escrow"
	"gigflow/notify"
	"gigflow/project"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrForbidden signals the caller is not allowed to perform the action.
	ErrForbidden = errors.New("workorder: forbidden")
	// ErrInvalidState signals an illegal transition for the current status.
	ErrInvalidState = errors.New("workorder: invalid state")
	// ErrAlreadyProcessed signals the delivery was already approved or sent
	// back for revision.
	ErrAlreadyProcessed = errors.New("workorder: already processed")
	// ErrEscrowNotFunded blocks starting work before the client funds escrow.
	ErrEscrowNotFunded = errors.New("workorder: escrow not funded")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EscrowLedger narrows the escrow package for the service so unit tests can
// substitute an in-memory ledger.
type EscrowLedger interface {
	Get(ctx context.Context, workOrderID string) (escrow.Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, workOrderID string) (escrow.Record, error)
	Fund(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error)
	Release(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error)
	Refund(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error)
}

// PGEscrowLedger delegates to the escrow package helpers.
type PGEscrowLedger struct {
	pool *pgxpool.Pool
}

func NewEscrowLedger(pool *pgxpool.Pool) *PGEscrowLedger {
	return &PGEscrowLedger{pool: pool}
}

func (l *PGEscrowLedger) Get(ctx context.Context, workOrderID string) (escrow.Record, error) {
	return escrow.Get(ctx, l.pool, workOrderID)
}

func (l *PGEscrowLedger) GetForUpdate(ctx context.Context, tx pgx.Tx, workOrderID string) (escrow.Record, error) {
	return escrow.GetForUpdate(ctx, tx, workOrderID)
}

func (l *PGEscrowLedger) Fund(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error) {
	return escrow.FundInTx(ctx, tx, rec)
}

func (l *PGEscrowLedger) Release(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error) {
	return escrow.ReleaseInTx(ctx, tx, rec)
}

func (l *PGEscrowLedger) Refund(ctx context.Context, tx pgx.Tx, rec escrow.Record) (escrow.Record, error) {
	return escrow.RefundInTx(ctx, tx, rec)
}

// OutboxWriter appends a notification event within the active transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, event notify.Event) error
}

// ProjectStore is the subset of the project repository needed for direct
// requests.
type ProjectStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (project.Project, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status project.Status) (project.Project, error)
}

// Service owns the work order state machine. Every mutation runs in a single
// transaction holding FOR UPDATE locks on the order (and escrow) rows, and
// appends exactly one notification to the outbox for the counterpart.
type Service struct {
	pool     TxBeginner
	repo     Repository
	escrows  EscrowLedger
	projects ProjectStore
	outbox   OutboxWriter
	logger   *zap.Logger
}

func NewService(pool TxBeginner, repo Repository, escrows EscrowLedger, projects ProjectStore, outbox OutboxWriter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		pool:     pool,
		repo:     repo,
		escrows:  escrows,
		projects: projects,
		outbox:   outbox,
		logger:   logger,
	}
}

// DeriveAgreedRate resolves the contract rate from the accepted proposal,
// falling back to the project's budget floor.
func DeriveAgreedRate(proposedRate, budgetMin *int64) int64 {
	if proposedRate != nil {
		return *proposedRate
	}
	if budgetMin != nil {
		return *budgetMin
	}
	return 0
}

// DeriveEscrowTotal resolves the amount held in escrow at creation.
func DeriveEscrowTotal(budgetMax, budgetMin *int64, agreedRate int64) int64 {
	if budgetMax != nil {
		return *budgetMax
	}
	if budgetMin != nil {
		return *budgetMin
	}
	return agreedRate
}

// FundEscrow moves the order's escrow from pending to funded. Full funding
// only; a second call fails.
func (s *Service) FundEscrow(ctx context.Context, workOrderID, callerID string) (escrow.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return escrow.Record{}, fmt.Errorf("workorder: begin fund tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return escrow.Record{}, err
	}
	if order.ClientID != callerID {
		return escrow.Record{}, ErrForbidden
	}
	if order.Status.Terminal() {
		return escrow.Record{}, ErrInvalidState
	}

	rec, err := s.escrows.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return escrow.Record{}, err
	}
	if rec.Status != escrow.StatusPending {
		return escrow.Record{}, fmt.Errorf("workorder: escrow already funded: %w", ErrInvalidState)
	}

	funded, err := s.escrows.Fund(ctx, tx, rec)
	if err != nil {
		return escrow.Record{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "ESCROW_FUNDED", callerID, map[string]any{
		"funded_amount": funded.FundedAmount,
	}); err != nil {
		return escrow.Record{}, err
	}

	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeEscrowUpdate, map[string]any{
		"work_order_id": order.ID,
		"escrow_status": funded.Status,
	}); err != nil {
		return escrow.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return escrow.Record{}, fmt.Errorf("workorder: commit fund: %w", err)
	}
	return funded, nil
}

// Start begins work on a funded order.
func (s *Service) Start(ctx context.Context, workOrderID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("workorder: begin start tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return Order{}, err
	}
	if order.CreativeID != callerID {
		return Order{}, ErrForbidden
	}
	if !CanTransition(order.Status, StatusInProgress) || order.Status != StatusAwaitingFunding {
		return Order{}, ErrInvalidState
	}

	rec, err := s.escrows.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return Order{}, err
	}
	if rec.Status != escrow.StatusFunded {
		return Order{}, ErrEscrowNotFunded
	}

	updated, err := s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusInProgress)
	if err != nil {
		return Order{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "WORK_STARTED", callerID, nil); err != nil {
		return Order{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeWorkOrderUpdate, map[string]any{
		"work_order_id": order.ID,
		"status":        updated.Status,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("workorder: commit start: %w", err)
	}
	return updated, nil
}

// AddMilestone appends a checkpoint. Either participant may manage
// milestones; the operation is deliberately symmetric.
func (s *Service) AddMilestone(ctx context.Context, workOrderID, callerID, title string, amount int64) (Milestone, error) {
	if title == "" {
		return Milestone{}, fmt.Errorf("workorder: milestone title required")
	}
	if amount < 0 {
		return Milestone{}, fmt.Errorf("workorder: negative milestone amount")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("workorder: begin milestone tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return Milestone{}, err
	}
	if !order.Participant(callerID) {
		return Milestone{}, ErrForbidden
	}
	if order.Status.Terminal() {
		return Milestone{}, ErrInvalidState
	}

	m, err := s.repo.InsertMilestone(ctx, tx, order.ID, title, amount)
	if err != nil {
		return Milestone{}, err
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "MILESTONE_ADDED", callerID, map[string]any{
		"milestone_id": m.ID,
		"title":        m.Title,
		"position":     m.Position,
	}); err != nil {
		return Milestone{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeMilestoneUpdate, map[string]any{
		"work_order_id": order.ID,
		"milestone_id":  m.ID,
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("workorder: commit milestone: %w", err)
	}
	return m, nil
}

// UpdateMilestone edits title and/or amount of one milestone.
func (s *Service) UpdateMilestone(ctx context.Context, workOrderID, milestoneID, callerID string, title *string, amount *int64) (Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("workorder: begin milestone update tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return Milestone{}, err
	}
	if !order.Participant(callerID) {
		return Milestone{}, ErrForbidden
	}
	if order.Status.Terminal() {
		return Milestone{}, ErrInvalidState
	}

	m, err := s.repo.UpdateMilestoneFields(ctx, tx, milestoneID, title, amount)
	if err != nil {
		return Milestone{}, err
	}
	if m.WorkOrderID != order.ID {
		return Milestone{}, ErrNotFound
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "MILESTONE_UPDATED", callerID, map[string]any{
		"milestone_id": m.ID,
	}); err != nil {
		return Milestone{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeMilestoneUpdate, map[string]any{
		"work_order_id": order.ID,
		"milestone_id":  m.ID,
	}); err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("workorder: commit milestone update: %w", err)
	}
	return m, nil
}

// ReorderMilestones rewrites milestone positions to match the supplied id
// list, zero-indexed by slice position.
func (s *Service) ReorderMilestones(ctx context.Context, workOrderID, callerID string, ids []string) ([]Milestone, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("workorder: reorder requires milestone ids")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("workorder: begin reorder tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return nil, err
	}
	if !order.Participant(callerID) {
		return nil, ErrForbidden
	}
	if order.Status.Terminal() {
		return nil, ErrInvalidState
	}

	milestones, err := s.repo.ReorderMilestonesInTx(ctx, tx, order.ID, ids)
	if err != nil {
		return nil, err
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "MILESTONES_REORDERED", callerID, map[string]any{
		"order": ids,
	}); err != nil {
		return nil, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeMilestoneUpdate, map[string]any{
		"work_order_id": order.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("workorder: commit reorder: %w", err)
	}
	return milestones, nil
}

// SubmitDeliveryParams carries a creative's submission.
type SubmitDeliveryParams struct {
	WorkOrderID string
	CallerID    string
	MilestoneID *string
	Message     string
	Attachments []string
}

// SubmitDelivery records a delivery and moves the order (and milestone, if
// targeted) to delivered. Only one delivery per milestone may be pending
// review at a time.
func (s *Service) SubmitDelivery(ctx context.Context, params SubmitDeliveryParams) (Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("workorder: begin delivery tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, params.WorkOrderID)
	if err != nil {
		return Delivery{}, err
	}
	if order.CreativeID != params.CallerID {
		return Delivery{}, ErrForbidden
	}
	if !CanTransition(order.Status, StatusDelivered) {
		return Delivery{}, ErrInvalidState
	}

	if params.MilestoneID != nil {
		milestones, err := s.repo.ListMilestonesForUpdate(ctx, tx, order.ID)
		if err != nil {
			return Delivery{}, err
		}
		found := false
		for _, m := range milestones {
			if m.ID == *params.MilestoneID {
				found = true
				break
			}
		}
		if !found {
			return Delivery{}, ErrNotFound
		}
	}

	d, err := s.repo.InsertDelivery(ctx, tx, Delivery{
		WorkOrderID: order.ID,
		MilestoneID: params.MilestoneID,
		Message:     params.Message,
		Attachments: params.Attachments,
	})
	if err != nil {
		return Delivery{}, err
	}

	if _, err := s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusDelivered); err != nil {
		return Delivery{}, err
	}
	if params.MilestoneID != nil {
		if _, err := s.repo.UpdateMilestoneStatusInTx(ctx, tx, *params.MilestoneID, MilestoneDelivered); err != nil {
			return Delivery{}, err
		}
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "DELIVERY_SUBMITTED", params.CallerID, map[string]any{
		"delivery_id": d.ID,
	}); err != nil {
		return Delivery{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, params.CallerID, notify.TypeDelivery, map[string]any{
		"work_order_id": order.ID,
		"delivery_id":   d.ID,
	}); err != nil {
		return Delivery{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Delivery{}, fmt.Errorf("workorder: commit delivery: %w", err)
	}
	return d, nil
}

// ApproveDelivery accepts a pending delivery. Completion and full escrow
// release are gated on every milestone being approved, not on the delivered
// milestone being last in position.
func (s *Service) ApproveDelivery(ctx context.Context, deliveryID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("workorder: begin approve tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Resolve the order without locking, then lock order before delivery.
	// Every other path takes the order lock first; taking them in the same
	// order here keeps concurrent reviews and cancels deadlock-free.
	ref, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Order{}, err
	}
	order, err := s.repo.GetForUpdate(ctx, tx, ref.WorkOrderID)
	if err != nil {
		return Order{}, err
	}
	d, err := s.repo.GetDeliveryForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return Order{}, err
	}
	if order.ClientID != callerID {
		return Order{}, ErrForbidden
	}
	if d.Status != DeliveryPendingReview {
		return Order{}, ErrAlreadyProcessed
	}
	if order.Status != StatusDelivered {
		return Order{}, ErrInvalidState
	}

	if _, err := s.repo.UpdateDeliveryStatusInTx(ctx, tx, d.ID, DeliveryApproved, nil); err != nil {
		return Order{}, err
	}

	milestones, err := s.repo.ListMilestonesForUpdate(ctx, tx, order.ID)
	if err != nil {
		return Order{}, err
	}

	approvedID := ""
	if d.MilestoneID != nil {
		approvedID = *d.MilestoneID
		if _, err := s.repo.UpdateMilestoneStatusInTx(ctx, tx, approvedID, MilestoneApproved); err != nil {
			return Order{}, err
		}
	}

	var updated Order
	if allMilestonesApproved(milestones, approvedID) {
		updated, err = s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusCompleted)
		if err != nil {
			return Order{}, err
		}

		rec, err := s.escrows.GetForUpdate(ctx, tx, order.ID)
		if err != nil {
			return Order{}, err
		}
		if _, err := s.escrows.Release(ctx, tx, rec); err != nil {
			return Order{}, err
		}
	} else {
		updated, err = s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusInProgress)
		if err != nil {
			return Order{}, err
		}
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "DELIVERY_APPROVED", callerID, map[string]any{
		"delivery_id": d.ID,
		"completed":   updated.Status == StatusCompleted,
	}); err != nil {
		return Order{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeWorkOrderUpdate, map[string]any{
		"work_order_id": order.ID,
		"status":        updated.Status,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("workorder: commit approve: %w", err)
	}
	return updated, nil
}

// RequestRevision sends a pending delivery back to the creative.
func (s *Service) RequestRevision(ctx context.Context, deliveryID, callerID, revisionNote string) (Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Delivery{}, fmt.Errorf("workorder: begin revision tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Same lock order as ApproveDelivery: order row first, then the delivery.
	ref, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	order, err := s.repo.GetForUpdate(ctx, tx, ref.WorkOrderID)
	if err != nil {
		return Delivery{}, err
	}
	d, err := s.repo.GetDeliveryForUpdate(ctx, tx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if order.ClientID != callerID {
		return Delivery{}, ErrForbidden
	}
	if d.Status != DeliveryPendingReview {
		return Delivery{}, ErrAlreadyProcessed
	}
	if order.Status != StatusDelivered {
		return Delivery{}, ErrInvalidState
	}

	note := revisionNote
	updated, err := s.repo.UpdateDeliveryStatusInTx(ctx, tx, d.ID, DeliveryRevisionRequested, &note)
	if err != nil {
		return Delivery{}, err
	}

	if _, err := s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusInRevision); err != nil {
		return Delivery{}, err
	}
	if d.MilestoneID != nil {
		if _, err := s.repo.UpdateMilestoneStatusInTx(ctx, tx, *d.MilestoneID, MilestoneInRevision); err != nil {
			return Delivery{}, err
		}
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "REVISION_REQUESTED", callerID, map[string]any{
		"delivery_id": d.ID,
	}); err != nil {
		return Delivery{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeDelivery, map[string]any{
		"work_order_id": order.ID,
		"delivery_id":   d.ID,
		"revision":      true,
	}); err != nil {
		return Delivery{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Delivery{}, fmt.Errorf("workorder: commit revision: %w", err)
	}
	return updated, nil
}

// Cancel aborts a non-terminal order. Held funds are refunded; a never-funded
// escrow is left untouched.
func (s *Service) Cancel(ctx context.Context, workOrderID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("workorder: begin cancel tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := s.repo.GetForUpdate(ctx, tx, workOrderID)
	if err != nil {
		return Order{}, err
	}
	if !order.Participant(callerID) {
		return Order{}, ErrForbidden
	}
	if order.Status.Terminal() {
		return Order{}, ErrInvalidState
	}

	updated, err := s.repo.UpdateStatusInTx(ctx, tx, order.ID, StatusCancelled)
	if err != nil {
		return Order{}, err
	}

	rec, err := s.escrows.GetForUpdate(ctx, tx, order.ID)
	if err != nil {
		return Order{}, err
	}
	refunded := false
	if escrow.Refundable(rec.Status) {
		if _, err := s.escrows.Refund(ctx, tx, rec); err != nil {
			return Order{}, err
		}
		refunded = true
	}

	if err := s.repo.AppendEvent(ctx, tx, order.ID, "WORK_ORDER_CANCELLED", callerID, map[string]any{
		"refunded": refunded,
	}); err != nil {
		return Order{}, err
	}
	if err := s.notifyCounterpart(ctx, tx, order, callerID, notify.TypeWorkOrderUpdate, map[string]any{
		"work_order_id": order.ID,
		"status":        updated.Status,
	}); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("workorder: commit cancel: %w", err)
	}
	return updated, nil
}

// AcceptDirectRequest converts a direct project into a work order plus
// escrow, skipping the application stage.
func (s *Service) AcceptDirectRequest(ctx context.Context, projectID, callerID string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("workorder: begin direct accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proj, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return Order{}, err
	}
	if !proj.IsDirect {
		return Order{}, ErrInvalidState
	}
	if proj.TargetCreativeID == nil || *proj.TargetCreativeID != callerID {
		return Order{}, ErrForbidden
	}
	if proj.Status != project.StatusOpen {
		return Order{}, ErrInvalidState
	}

	if _, err := s.projects.UpdateStatus(ctx, tx, proj.ID, project.StatusAssigned); err != nil {
		return Order{}, err
	}

	agreedRate := DeriveAgreedRate(nil, proj.BudgetMin)
	order, err := s.repo.CreateFromAcceptance(ctx, tx, AcceptanceParams{
		ProjectID:        proj.ID,
		ClientID:         proj.ClientID,
		CreativeID:       callerID,
		AgreedRate:       agreedRate,
		AgreedBudgetType: string(proj.BudgetType),
		EscrowTotal:      DeriveEscrowTotal(proj.BudgetMax, proj.BudgetMin, agreedRate),
		Deadline:         proj.Deadline,
		ActorID:          callerID,
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, notify.Event{
		Type:        notify.TypeWorkOrderUpdate,
		RecipientID: proj.ClientID,
		ActorID:     callerID,
		Payload: map[string]any{
			"project_id":    proj.ID,
			"work_order_id": order.ID,
		},
	}); err != nil {
		return Order{}, fmt.Errorf("workorder: enqueue direct accept: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("workorder: commit direct accept: %w", err)
	}
	return order, nil
}

// DeclineDirectRequest turns down a direct project; the project is closed.
func (s *Service) DeclineDirectRequest(ctx context.Context, projectID, callerID string) (project.Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return project.Project{}, fmt.Errorf("workorder: begin direct decline tx: %w", err)
	}
	defer tx.Rollback(ctx)

	proj, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		return project.Project{}, err
	}
	if !proj.IsDirect {
		return project.Project{}, ErrInvalidState
	}
	if proj.TargetCreativeID == nil || *proj.TargetCreativeID != callerID {
		return project.Project{}, ErrForbidden
	}
	if proj.Status != project.StatusOpen {
		return project.Project{}, ErrInvalidState
	}

	updated, err := s.projects.UpdateStatus(ctx, tx, proj.ID, project.StatusCancelled)
	if err != nil {
		return project.Project{}, err
	}

	if err := s.outbox.Enqueue(ctx, tx, notify.Event{
		Type:        notify.TypeWorkRequest,
		RecipientID: proj.ClientID,
		ActorID:     callerID,
		Payload: map[string]any{
			"project_id": proj.ID,
			"declined":   true,
		},
	}); err != nil {
		return project.Project{}, fmt.Errorf("workorder: enqueue direct decline: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return project.Project{}, fmt.Errorf("workorder: commit direct decline: %w", err)
	}
	return updated, nil
}

// GetByID returns the order with its milestones, deliveries, and timeline.
// Only participants may read it.
func (s *Service) GetByID(ctx context.Context, workOrderID, callerID string) (Detail, error) {
	order, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		return Detail{}, err
	}
	if !order.Participant(callerID) {
		return Detail{}, ErrForbidden
	}

	milestones, err := s.repo.ListMilestones(ctx, order.ID)
	if err != nil {
		return Detail{}, err
	}
	deliveries, err := s.repo.ListDeliveries(ctx, order.ID)
	if err != nil {
		return Detail{}, err
	}
	events, err := s.repo.ListEvents(ctx, order.ID)
	if err != nil {
		return Detail{}, err
	}

	return Detail{
		Order:      order,
		Milestones: milestones,
		Deliveries: deliveries,
		Events:     events,
	}, nil
}

// GetEscrow returns the ledger record for a participant.
func (s *Service) GetEscrow(ctx context.Context, workOrderID, callerID string) (escrow.Record, error) {
	order, err := s.repo.GetByID(ctx, workOrderID)
	if err != nil {
		return escrow.Record{}, err
	}
	if !order.Participant(callerID) {
		return escrow.Record{}, ErrForbidden
	}
	return s.escrows.Get(ctx, workOrderID)
}

// ListMine returns the caller's work orders.
func (s *Service) ListMine(ctx context.Context, callerID string, filters ListFilters) ([]Order, int, error) {
	return s.repo.ListForParticipant(ctx, callerID, filters)
}

func (s *Service) notifyCounterpart(ctx context.Context, tx pgx.Tx, order Order, actorID string, typ notify.Type, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	err := s.outbox.Enqueue(ctx, tx, notify.Event{
		Type:        typ,
		RecipientID: order.Counterpart(actorID),
		ActorID:     actorID,
		Payload:     payload,
	})
	if err != nil {
		return fmt.Errorf("workorder: enqueue notification: %w", err)
	}
	return nil
}
