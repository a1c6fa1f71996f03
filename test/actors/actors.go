package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func isSerializationNoise(err error) bool {
	var pgErr *pgconn.PgError
	// 23505 is the expected loser of a unique-index race; 40001/40P01 are
	// retryable under contention and chaos.
	return errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// Accepter races to accept one of the project's applications, mirroring the
// acceptance transaction: lock application and project, flip the winner,
// force-decline siblings, assign the project, create the order and escrow.
func Accepter(ctx context.Context, pool *pgxpool.Pool, projectID, clientID string, applicationIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		appID := applicationIDs[rand.Intn(len(applicationIDs))]
		if err := tryAccept(ctx, pool, projectID, clientID, appID); err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("accepter: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

func tryAccept(ctx context.Context, pool *pgxpool.Pool, projectID, clientID, appID string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var appStatus, creativeID string
	err = tx.QueryRow(ctx, `SELECT status::text, creative_id FROM applications WHERE id=$1 FOR UPDATE`, appID).Scan(&appStatus, &creativeID)
	if err != nil {
		return err
	}
	var projStatus string
	var budgetMax int64
	if err := tx.QueryRow(ctx, `SELECT status::text, COALESCE(budget_max, 0) FROM projects WHERE id=$1 FOR UPDATE`, projectID).Scan(&projStatus, &budgetMax); err != nil {
		return err
	}
	if projStatus != "open" || (appStatus != "pending" && appStatus != "viewed" && appStatus != "shortlisted") {
		// lost the race, roll back silently
		return nil
	}

	if _, err := tx.Exec(ctx, `UPDATE applications SET status='accepted', updated_at=now() WHERE id=$1`, appID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE applications SET status='declined', updated_at=now()
	                            WHERE project_id=$1 AND id<>$2 AND status IN ('pending','viewed','shortlisted')`, projectID, appID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE projects SET status='assigned', updated_at=now() WHERE id=$1`, projectID); err != nil {
		return err
	}

	var orderID string
	err = tx.QueryRow(ctx, `INSERT INTO work_orders (project_id, client_id, creative_id, agreed_rate)
	                         VALUES ($1,$2,$3,500) RETURNING id`, projectID, clientID, creativeID).Scan(&orderID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO escrows (work_order_id, total_amount) VALUES ($1,$2)`, orderID, max(budgetMax, 500)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO notifications (type, recipient_id, actor_id, payload)
	                            VALUES ('work_order_update', $1, $2, jsonb_build_object('work_order_id', $3))`, creativeID, clientID, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Funder moves pending escrows to funded, full amount only.
func Funder(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := tryFund(ctx, pool); err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("funder: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	}
}

func tryFund(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Locking both rows keeps a concurrent cancel from seeing the escrow
	// half-funded.
	var escrowID string
	err = tx.QueryRow(ctx, `SELECT e.id FROM escrows e
	                         JOIN work_orders wo ON wo.id = e.work_order_id
	                         WHERE e.status='pending' AND wo.status='awaiting_funding'
	                         ORDER BY random() LIMIT 1
	                         FOR UPDATE OF e, wo SKIP LOCKED`).Scan(&escrowID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status='funded', funded_amount=total_amount, updated_at=now() WHERE id=$1`, escrowID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Starter begins work on funded orders.
func Starter(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := pool.Exec(ctx, `
			UPDATE work_orders SET status='in_progress', start_date=now(), updated_at=now()
			WHERE id IN (
				SELECT wo.id FROM work_orders wo
				JOIN escrows e ON e.work_order_id = wo.id
				WHERE wo.status='awaiting_funding' AND e.status='funded'
				ORDER BY random() LIMIT 1
				FOR UPDATE OF wo SKIP LOCKED
			)`)
		if err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("starter: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	}
}

// Deliverer submits whole-order deliveries for orders that are in progress or
// in revision. Duplicate pending submissions are expected to bounce off the
// partial unique index.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := tryDeliver(ctx, pool); err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("deliverer: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

func tryDeliver(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var orderID string
	err = tx.QueryRow(ctx, `SELECT id FROM work_orders WHERE status IN ('in_progress','in_revision')
	                         ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&orderID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO deliveries (work_order_id, message) VALUES ($1, 'stress delivery')`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE work_orders SET status='delivered', updated_at=now() WHERE id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Reviewer approves or bounces pending deliveries. Approval of a whole-order
// delivery completes the order and releases the full escrow in the same
// transaction; a bounce moves the order into revision.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := tryReview(ctx, pool); err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reviewer: %w", err)
		}
		time.Sleep(time.Duration(25+rand.Intn(40)) * time.Millisecond)
	}
}

func tryReview(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var deliveryID, orderID string
	err = tx.QueryRow(ctx, `SELECT d.id, d.work_order_id FROM deliveries d
	                         JOIN work_orders wo ON wo.id = d.work_order_id
	                         WHERE d.status='pending_review' AND wo.status='delivered'
	                         ORDER BY random() LIMIT 1
	                         FOR UPDATE OF d, wo SKIP LOCKED`).Scan(&deliveryID, &orderID)
	if err != nil {
		return err
	}

	if rand.Intn(4) == 0 {
		// request a revision
		if _, err := tx.Exec(ctx, `UPDATE deliveries SET status='revision_requested', revision_note='try again', updated_at=now() WHERE id=$1`, deliveryID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE work_orders SET status='in_revision', updated_at=now() WHERE id=$1`, orderID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE deliveries SET status='approved', updated_at=now() WHERE id=$1`, deliveryID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE work_orders SET status='completed', completed_at=now(), updated_at=now() WHERE id=$1`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status='released', released_amount=funded_amount, updated_at=now()
	                            WHERE work_order_id=$1 AND status='funded'`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Canceller occasionally aborts a non-terminal order and refunds held funds.
func Canceller(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if rand.Intn(6) == 0 {
			if err := tryCancel(ctx, pool); err != nil && !isSerializationNoise(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("canceller: %w", err)
			}
		}
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

func tryCancel(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var orderID string
	err = tx.QueryRow(ctx, `SELECT id FROM work_orders WHERE status NOT IN ('completed','cancelled')
	                         ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&orderID)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE work_orders SET status='cancelled', updated_at=now() WHERE id=$1`, orderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `UPDATE escrows SET status='refunded', updated_at=now()
	                            WHERE work_order_id=$1 AND status IN ('funded','partially_released')`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// OutboxWorker drains pending notifications with SKIP LOCKED, simulating an
// occasionally failing broker.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM notifications WHERE status='pending' ORDER BY id LIMIT 10 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE notifications SET attempts=attempts+1,
				                      status=CASE WHEN attempts+1 >= 5 THEN 'failed' ELSE 'pending' END
				                      WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE notifications SET status='sent', sent_at=now() WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
