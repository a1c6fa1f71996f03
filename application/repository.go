package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no application row exists.
	ErrNotFound = errors.New("application: not found")
	// ErrDuplicate signals the creative already applied to this project.
	ErrDuplicate = errors.New("application: already applied")
)

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, app Application) (Application, error)
	GetByID(ctx context.Context, id string) (Application, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error)
	UpdateStatusInTx(ctx context.Context, tx pgx.Tx, id string, status Status) (Application, error)
	DeclineSiblingsInTx(ctx context.Context, tx pgx.Tx, projectID, acceptedID string) ([]Application, error)
	ListForProject(ctx context.Context, projectID string) ([]Application, error)
	ListForCreative(ctx context.Context, creativeID, cursor string, limit int) (Page, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const scanColumns = `id, project_id, creative_id, cover_letter, proposed_rate, timeline, status::text, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, app Application) (Application, error) {
	const query = `
		INSERT INTO applications (id, project_id, creative_id, cover_letter, proposed_rate, timeline, status)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, 'pending')
		RETURNING ` + scanColumns

	created, err := scanApplication(tx.QueryRow(ctx, query,
		app.ID,
		app.ProjectID,
		app.CreativeID,
		app.CoverLetter,
		app.ProposedRate,
		app.Timeline,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Application{}, ErrDuplicate
		}
		return Application{}, fmt.Errorf("application: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Application, error) {
	const query = `SELECT ` + scanColumns + ` FROM applications WHERE id = $1`

	app, err := scanApplication(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get by id: %w", err)
	}
	return app, nil
}

// GetForUpdate locks the application row so a concurrent accept on any
// sibling observes this transaction's outcome.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Application, error) {
	const query = `SELECT ` + scanColumns + ` FROM applications WHERE id = $1 FOR UPDATE`

	app, err := scanApplication(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Application{}, ErrNotFound
		}
		return Application{}, fmt.Errorf("application: get for update: %w", err)
	}
	return app, nil
}

func (r *PGRepository) UpdateStatusInTx(ctx context.Context, tx pgx.Tx, id string, status Status) (Application, error) {
	const query = `
		UPDATE applications
		SET status = $2::application_status,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + scanColumns

	app, err := scanApplication(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Application{}, fmt.Errorf("application: update status: %w", err)
	}
	return app, nil
}

// DeclineSiblingsInTx force-declines every still-open application for the
// project except the accepted one, returning the declined rows so callers can
// notify the passed-over creatives.
func (r *PGRepository) DeclineSiblingsInTx(ctx context.Context, tx pgx.Tx, projectID, acceptedID string) ([]Application, error) {
	const query = `
		UPDATE applications
		SET status = 'declined',
		    updated_at = get_tx_timestamp()
		WHERE project_id = $1
		  AND id <> $2
		  AND status IN ('pending', 'viewed', 'shortlisted')
		RETURNING ` + scanColumns + `
	`
	rows, err := tx.Query(ctx, query, projectID, acceptedID)
	if err != nil {
		return nil, fmt.Errorf("application: decline siblings: %w", err)
	}
	defer rows.Close()

	declined := make([]Application, 0, 4)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("application: scan declined: %w", err)
		}
		declined = append(declined, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate declined: %w", err)
	}
	return declined, nil
}

func (r *PGRepository) ListForProject(ctx context.Context, projectID string) ([]Application, error) {
	const query = `
		SELECT ` + scanColumns + `
		FROM applications
		WHERE project_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("application: list for project: %w", err)
	}
	defer rows.Close()

	out := make([]Application, 0, 8)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("application: scan: %w", err)
		}
		out = append(out, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("application: iterate: %w", err)
	}
	return out, nil
}

// ListForCreative returns a keyset-paginated page of the creative's
// applications, newest first. cursor is the last application id of the
// previous page.
func (r *PGRepository) ListForCreative(ctx context.Context, creativeID, cursor string, limit int) (Page, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT ` + scanColumns + `
		FROM applications
		WHERE creative_id = $1
	`
	args := []any{creativeID}
	if cursor != "" {
		query += `
		AND (created_at, id) < (SELECT created_at, id FROM applications WHERE id = $2)
		`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("application: list for creative: %w", err)
	}
	defer rows.Close()

	items := make([]Application, 0, limit+1)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return Page{}, fmt.Errorf("application: scan page: %w", err)
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("application: iterate page: %w", err)
	}

	page := Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = items[limit-1].ID
	}
	return page, nil
}

func scanApplication(row pgx.Row) (Application, error) {
	var app Application
	return app, row.Scan(
		&app.ID,
		&app.ProjectID,
		&app.CreativeID,
		&app.CoverLetter,
		&app.ProposedRate,
		&app.Timeline,
		&app.Status,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
}
