package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotFound is returned when no escrow row exists for the work order.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidTransition signals an illegal ledger move.
	ErrInvalidTransition = errors.New("escrow: invalid transition")
)

const scanColumns = `id, work_order_id, total_amount, funded_amount, released_amount, status::text, created_at, updated_at`

// CreateInTx inserts the escrow row for a freshly created work order. It is
// always invoked inside the transaction that created the work order.
func CreateInTx(ctx context.Context, tx pgx.Tx, workOrderID string, totalAmount int64) (Record, error) {
	if workOrderID == "" {
		return Record{}, fmt.Errorf("escrow: missing work order id")
	}
	if totalAmount < 0 {
		return Record{}, fmt.Errorf("escrow: negative total amount")
	}

	const insertSQL = `
		INSERT INTO escrows (work_order_id, total_amount, status)
		VALUES ($1, $2, 'pending')
		RETURNING ` + scanColumns

	return scanRecord(tx.QueryRow(ctx, insertSQL, workOrderID, totalAmount))
}

// GetForUpdate locks the escrow row for the work order within the caller's
// transaction.
func GetForUpdate(ctx context.Context, tx pgx.Tx, workOrderID string) (Record, error) {
	const query = `
		SELECT ` + scanColumns + `
		FROM escrows
		WHERE work_order_id = $1
		FOR UPDATE
	`
	rec, err := scanRecord(tx.QueryRow(ctx, query, workOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("escrow: get for update: %w", err)
	}
	return rec, nil
}

// FundInTx moves a pending escrow to funded. Only full funding is supported;
// fundedAmount always lands on totalAmount.
func FundInTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	if !CanTransition(rec.Status, StatusFunded) {
		return Record{}, ErrInvalidTransition
	}

	const updateSQL = `
		UPDATE escrows
		SET status = 'funded',
		    funded_amount = total_amount,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + scanColumns

	updated, err := scanRecord(tx.QueryRow(ctx, updateSQL, rec.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrInvalidTransition
		}
		return Record{}, fmt.Errorf("escrow: fund: %w", err)
	}
	return updated, nil
}

// ReleaseInTx releases the full held amount on work order completion.
func ReleaseInTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	if !CanTransition(rec.Status, StatusReleased) {
		return Record{}, ErrInvalidTransition
	}

	const updateSQL = `
		UPDATE escrows
		SET status = 'released',
		    released_amount = total_amount,
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('funded', 'partially_released')
		RETURNING ` + scanColumns

	updated, err := scanRecord(tx.QueryRow(ctx, updateSQL, rec.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrInvalidTransition
		}
		return Record{}, fmt.Errorf("escrow: release: %w", err)
	}
	return updated, nil
}

// RefundInTx refunds held funds when the owning work order is cancelled.
func RefundInTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	if !CanTransition(rec.Status, StatusRefunded) {
		return Record{}, ErrInvalidTransition
	}

	const updateSQL = `
		UPDATE escrows
		SET status = 'refunded',
		    updated_at = get_tx_timestamp()
		WHERE id = $1 AND status IN ('funded', 'partially_released')
		RETURNING ` + scanColumns

	updated, err := scanRecord(tx.QueryRow(ctx, updateSQL, rec.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrInvalidTransition
		}
		return Record{}, fmt.Errorf("escrow: refund: %w", err)
	}
	return updated, nil
}

// Get fetches the escrow for a work order without locking.
func Get(ctx context.Context, q Querier, workOrderID string) (Record, error) {
	const query = `
		SELECT ` + scanColumns + `
		FROM escrows
		WHERE work_order_id = $1
	`
	rec, err := scanRecord(q.QueryRow(ctx, query, workOrderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("escrow: get: %w", err)
	}
	return rec, nil
}

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.WorkOrderID,
		&rec.TotalAmount,
		&rec.FundedAmount,
		&rec.ReleasedAmount,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
