package workorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigflow/escrow"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when the order, milestone, or delivery is missing.
	ErrNotFound = errors.New("workorder: not found")
	// ErrPendingDeliveryExists signals an open review cycle already exists for
	// the milestone (or for the whole order).
	ErrPendingDeliveryExists = errors.New("workorder: delivery already pending review")
)

// AcceptanceParams carries everything needed to materialise an order and its
// escrow inside the caller's acceptance transaction.
type AcceptanceParams struct {
	ProjectID        string
	ClientID         string
	CreativeID       string
	AgreedRate       int64
	AgreedBudgetType string
	EscrowTotal      int64
	Deadline         *time.Time
	ActorID          string
}

// Repository is the data access surface for work orders.
type Repository interface {
	CreateFromAcceptance(ctx context.Context, tx pgx.Tx, params AcceptanceParams) (Order, error)
	GetByID(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	UpdateStatusInTx(ctx context.Context, tx pgx.Tx, id string, status Status) (Order, error)
	ListForParticipant(ctx context.Context, userID string, filters ListFilters) ([]Order, int, error)

	InsertMilestone(ctx context.Context, tx pgx.Tx, workOrderID, title string, amount int64) (Milestone, error)
	UpdateMilestoneFields(ctx context.Context, tx pgx.Tx, id string, title *string, amount *int64) (Milestone, error)
	UpdateMilestoneStatusInTx(ctx context.Context, tx pgx.Tx, id string, status MilestoneStatus) (Milestone, error)
	ReorderMilestonesInTx(ctx context.Context, tx pgx.Tx, workOrderID string, ids []string) ([]Milestone, error)
	ListMilestonesForUpdate(ctx context.Context, tx pgx.Tx, workOrderID string) ([]Milestone, error)
	ListMilestones(ctx context.Context, workOrderID string) ([]Milestone, error)

	InsertDelivery(ctx context.Context, tx pgx.Tx, d Delivery) (Delivery, error)
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	GetDeliveryForUpdate(ctx context.Context, tx pgx.Tx, id string) (Delivery, error)
	UpdateDeliveryStatusInTx(ctx context.Context, tx pgx.Tx, id string, status DeliveryStatus, revisionNote *string) (Delivery, error)
	ListDeliveries(ctx context.Context, workOrderID string) ([]Delivery, error)

	AppendEvent(ctx context.Context, tx pgx.Tx, workOrderID, eventType, actorID string, payload map[string]any) error
	ListEvents(ctx context.Context, workOrderID string) ([]Event, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id, project_id, client_id, creative_id, agreed_rate, agreed_budget_type::text, status::text, start_date, completed_at, deadline, created_at, updated_at`

// CreateFromAcceptance inserts the work order and its escrow row. It runs
// inside the acceptance transaction so the surrounding locks guarantee at
// most one order per project.
func (r *PGRepository) CreateFromAcceptance(ctx context.Context, tx pgx.Tx, params AcceptanceParams) (Order, error) {
	if params.ProjectID == "" {
		return Order{}, fmt.Errorf("workorder: acceptance missing project id")
	}
	if params.ClientID == "" || params.CreativeID == "" {
		return Order{}, fmt.Errorf("workorder: acceptance missing participants")
	}

	const insertSQL = `
		INSERT INTO work_orders (project_id, client_id, creative_id, agreed_rate, agreed_budget_type, deadline, status)
		VALUES ($1, $2, $3, $4, $5::budget_type, $6, 'awaiting_funding')
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, insertSQL,
		params.ProjectID,
		params.ClientID,
		params.CreativeID,
		params.AgreedRate,
		params.AgreedBudgetType,
		params.Deadline,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, fmt.Errorf("workorder: project already has a work order")
		}
		return Order{}, fmt.Errorf("workorder: insert from acceptance: %w", err)
	}

	if _, err := escrow.CreateInTx(ctx, tx, order.ID, params.EscrowTotal); err != nil {
		return Order{}, fmt.Errorf("workorder: create escrow: %w", err)
	}

	payload := map[string]any{
		"project_id":  order.ProjectID,
		"agreed_rate": order.AgreedRate,
	}
	if err := r.AppendEvent(ctx, tx, order.ID, "WORK_ORDER_CREATED", params.ActorID, payload); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM work_orders WHERE id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("workorder: get by id: %w", err)
	}
	return order, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	const query = `SELECT ` + orderColumns + ` FROM work_orders WHERE id = $1 FOR UPDATE`

	order, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("workorder: get for update: %w", err)
	}
	return order, nil
}

func (r *PGRepository) UpdateStatusInTx(ctx context.Context, tx pgx.Tx, id string, status Status) (Order, error) {
	const query = `
		UPDATE work_orders
		SET status = $2::work_order_status,
		    start_date = CASE WHEN $2 = 'in_progress' AND start_date IS NULL THEN get_tx_timestamp() ELSE start_date END,
		    completed_at = CASE WHEN $2 = 'completed' THEN get_tx_timestamp() ELSE completed_at END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + orderColumns

	order, err := scanOrder(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Order{}, fmt.Errorf("workorder: update status: %w", err)
	}
	return order, nil
}

func (r *PGRepository) ListForParticipant(ctx context.Context, userID string, filters ListFilters) ([]Order, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + orderColumns + ` FROM work_orders`
	where := []string{"(client_id = $1 OR creative_id = $1)"}
	args := []any{userID}

	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d::work_order_status", len(args)+1))
		args = append(args, filters.Status)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")
	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("workorder: list: %w", err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("workorder: scan list: %w", err)
		}
		out = append(out, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("workorder: iterate list: %w", err)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM work_orders" + whereClause
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("workorder: count list: %w", err)
	}

	return out, total, nil
}

const milestoneColumns = `id, work_order_id, title, amount, position, status::text, created_at, updated_at`

// InsertMilestone appends a milestone at position = current count. The caller
// holds the order row lock, so the count cannot race.
func (r *PGRepository) InsertMilestone(ctx context.Context, tx pgx.Tx, workOrderID, title string, amount int64) (Milestone, error) {
	const query = `
		INSERT INTO milestones (work_order_id, title, amount, position)
		VALUES ($1, $2, $3, (SELECT COUNT(*) FROM milestones WHERE work_order_id = $1))
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(tx.QueryRow(ctx, query, workOrderID, title, amount))
	if err != nil {
		return Milestone{}, fmt.Errorf("workorder: insert milestone: %w", err)
	}
	return m, nil
}

func (r *PGRepository) UpdateMilestoneFields(ctx context.Context, tx pgx.Tx, id string, title *string, amount *int64) (Milestone, error) {
	const query = `
		UPDATE milestones
		SET title = COALESCE($2, title),
		    amount = COALESCE($3, amount),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(tx.QueryRow(ctx, query, id, title, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("workorder: update milestone: %w", err)
	}
	return m, nil
}

func (r *PGRepository) UpdateMilestoneStatusInTx(ctx context.Context, tx pgx.Tx, id string, status MilestoneStatus) (Milestone, error) {
	const query = `
		UPDATE milestones
		SET status = $2::milestone_status,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("workorder: update milestone status: %w", err)
	}
	return m, nil
}

// ReorderMilestonesInTx rewrites positions to match the supplied id order,
// zero-indexed by position in the slice.
func (r *PGRepository) ReorderMilestonesInTx(ctx context.Context, tx pgx.Tx, workOrderID string, ids []string) ([]Milestone, error) {
	for i, id := range ids {
		tag, err := tx.Exec(ctx, `
			UPDATE milestones
			SET position = $3,
			    updated_at = get_tx_timestamp()
			WHERE id = $1 AND work_order_id = $2
		`, id, workOrderID, i)
		if err != nil {
			return nil, fmt.Errorf("workorder: reorder milestone %s: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("workorder: reorder milestone %s: %w", id, ErrNotFound)
		}
	}
	return r.listMilestones(ctx, tx, workOrderID, false)
}

func (r *PGRepository) ListMilestonesForUpdate(ctx context.Context, tx pgx.Tx, workOrderID string) ([]Milestone, error) {
	return r.listMilestones(ctx, tx, workOrderID, true)
}

func (r *PGRepository) ListMilestones(ctx context.Context, workOrderID string) ([]Milestone, error) {
	return r.listMilestones(ctx, r.pool, workOrderID, false)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PGRepository) listMilestones(ctx context.Context, q querier, workOrderID string, lock bool) ([]Milestone, error) {
	query := `
		SELECT ` + milestoneColumns + `
		FROM milestones
		WHERE work_order_id = $1
		ORDER BY position, created_at
	`
	if lock {
		query += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, query, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("workorder: list milestones: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("workorder: scan milestone: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workorder: iterate milestones: %w", err)
	}
	return out, nil
}

const deliveryColumns = `id, work_order_id, milestone_id, message, attachments, status::text, revision_note, created_at, updated_at`

func (r *PGRepository) InsertDelivery(ctx context.Context, tx pgx.Tx, d Delivery) (Delivery, error) {
	const query = `
		INSERT INTO deliveries (work_order_id, milestone_id, message, attachments, status)
		VALUES ($1, $2, $3, $4, 'pending_review')
		RETURNING ` + deliveryColumns

	attachments := d.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	created, err := scanDelivery(tx.QueryRow(ctx, query, d.WorkOrderID, d.MilestoneID, d.Message, attachments))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Delivery{}, ErrPendingDeliveryExists
		}
		return Delivery{}, fmt.Errorf("workorder: insert delivery: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetDelivery(ctx context.Context, id string) (Delivery, error) {
	const query = `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, fmt.Errorf("workorder: get delivery: %w", err)
	}
	return d, nil
}

func (r *PGRepository) GetDeliveryForUpdate(ctx context.Context, tx pgx.Tx, id string) (Delivery, error) {
	const query = `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1 FOR UPDATE`

	d, err := scanDelivery(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, fmt.Errorf("workorder: get delivery for update: %w", err)
	}
	return d, nil
}

func (r *PGRepository) UpdateDeliveryStatusInTx(ctx context.Context, tx pgx.Tx, id string, status DeliveryStatus, revisionNote *string) (Delivery, error) {
	const query = `
		UPDATE deliveries
		SET status = $2::delivery_status,
		    revision_note = COALESCE($3, revision_note),
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + deliveryColumns

	d, err := scanDelivery(tx.QueryRow(ctx, query, id, status, revisionNote))
	if err != nil {
		return Delivery{}, fmt.Errorf("workorder: update delivery status: %w", err)
	}
	return d, nil
}

func (r *PGRepository) ListDeliveries(ctx context.Context, workOrderID string) ([]Delivery, error) {
	const query = `
		SELECT ` + deliveryColumns + `
		FROM deliveries
		WHERE work_order_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("workorder: list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]Delivery, 0, 8)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("workorder: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workorder: iterate deliveries: %w", err)
	}
	return out, nil
}

// AppendEvent records an immutable timeline entry for the order.
func (r *PGRepository) AppendEvent(ctx context.Context, tx pgx.Tx, workOrderID, eventType, actorID string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workorder: marshal event payload: %w", err)
	}

	var actor any
	if actorID != "" {
		actor = actorID
	}

	const query = `
		INSERT INTO work_order_events (work_order_id, type, actor_id, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := tx.Exec(ctx, query, workOrderID, eventType, actor, body); err != nil {
		return fmt.Errorf("workorder: append event: %w", err)
	}
	return nil
}

func (r *PGRepository) ListEvents(ctx context.Context, workOrderID string) ([]Event, error) {
	const query = `
		SELECT id, work_order_id, type, actor_id, payload, created_at
		FROM work_order_events
		WHERE work_order_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("workorder: list events: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, 16)
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.WorkOrderID, &ev.Type, &ev.ActorID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("workorder: scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workorder: iterate events: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	return o, row.Scan(
		&o.ID,
		&o.ProjectID,
		&o.ClientID,
		&o.CreativeID,
		&o.AgreedRate,
		&o.AgreedBudgetType,
		&o.Status,
		&o.StartDate,
		&o.CompletedAt,
		&o.Deadline,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	return m, row.Scan(
		&m.ID,
		&m.WorkOrderID,
		&m.Title,
		&m.Amount,
		&m.Position,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
}

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	return d, row.Scan(
		&d.ID,
		&d.WorkOrderID,
		&d.MilestoneID,
		&d.Message,
		&d.Attachments,
		&d.Status,
		&d.RevisionNote,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
}
