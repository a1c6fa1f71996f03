package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("project: not found")

type Repository interface {
	Create(ctx context.Context, tx pgx.Tx, p Project) (Project, error)
	GetByID(ctx context.Context, id string) (Project, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Project, error)
	List(ctx context.Context, filters Filters) ([]Project, int, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const scanColumns = `id, client_id, title, budget_type::text, budget_min, budget_max, status::text, is_direct, target_creative_id, deadline, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, p Project) (Project, error) {
	const query = `
		INSERT INTO projects (id, client_id, title, budget_type, budget_min, budget_max, status, is_direct, target_creative_id, deadline)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4::budget_type, $5, $6, $7::project_status, $8, $9, $10)
		RETURNING ` + scanColumns

	row := tx.QueryRow(ctx, query,
		p.ID,
		p.ClientID,
		p.Title,
		p.BudgetType,
		p.BudgetMin,
		p.BudgetMax,
		p.Status,
		p.IsDirect,
		p.TargetCreativeID,
		p.Deadline,
	)
	return scanProject(row)
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Project, error) {
	const query = `SELECT ` + scanColumns + ` FROM projects WHERE id = $1`

	p, err := scanProject(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: get by id: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Project, error) {
	const query = `SELECT ` + scanColumns + ` FROM projects WHERE id = $1 FOR UPDATE`

	p, err := scanProject(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("project: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status) (Project, error) {
	const query = `
		UPDATE projects
		SET status = $2::project_status,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + scanColumns

	p, err := scanProject(tx.QueryRow(ctx, query, id, status))
	if err != nil {
		return Project{}, fmt.Errorf("project: update status: %w", err)
	}
	return p, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Project, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	base := `SELECT ` + scanColumns + ` FROM projects`
	where := []string{"1=1"}
	args := []any{}

	if filters.ClientID != "" {
		where = append(where, fmt.Sprintf("client_id=$%d", len(args)+1))
		args = append(args, filters.ClientID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d::project_status", len(args)+1))
		args = append(args, filters.Status)
	}
	if filters.BudgetType != "" {
		where = append(where, fmt.Sprintf("budget_type=$%d::budget_type", len(args)+1))
		args = append(args, filters.BudgetType)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`%s%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		base, whereClause, filters.PageSize, (filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("project: list: %w", err)
	}
	defer rows.Close()

	list := []Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("project: scan list: %w", err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("project: iterate list: %w", err)
	}

	countQuery := "SELECT COUNT(*) FROM projects" + whereClause
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("project: count list: %w", err)
	}

	return list, total, nil
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	return p, row.Scan(
		&p.ID,
		&p.ClientID,
		&p.Title,
		&p.BudgetType,
		&p.BudgetMin,
		&p.BudgetMax,
		&p.Status,
		&p.IsDirect,
		&p.TargetCreativeID,
		&p.Deadline,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}
