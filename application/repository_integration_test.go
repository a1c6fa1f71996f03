package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gigflow/notify"
	"gigflow/project"
	"gigflow/workorder"
)

// TestAcceptance_Integration connects to a real PostgreSQL via DATABASE_URL and
// runs the full acceptance transaction: winner accepted, siblings declined,
// project assigned, work order and pending escrow created, notifications
// enqueued, and a replay on a declined sibling rejected.
func TestAcceptance_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "projects", "applications", "work_orders", "escrows", "notifications"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/ to $DATABASE_URL first", table)
		}
	}

	mustQueryRow := func(query string, args ...any) pgx.Row {
		return pool.QueryRow(ctx, query, args...)
	}

	var (
		clientID    string
		creativeIDs []string
		projectID   string
		appIDs      []string
	)

	nonce := time.Now().UnixNano()
	if err := mustQueryRow(`INSERT INTO users (email, full_name, role) VALUES ($1, 'Casey Client', 'client') RETURNING id`,
		fmt.Sprintf("client+%d@example.com", nonce)).Scan(&clientID); err != nil {
		t.Fatalf("seed client: %v", err)
	}
	for i := 0; i < 3; i++ {
		var id string
		if err := mustQueryRow(`INSERT INTO users (email, full_name, role) VALUES ($1, 'Riley Creative', 'creative') RETURNING id`,
			fmt.Sprintf("creative%d+%d@example.com", i, nonce)).Scan(&id); err != nil {
			t.Fatalf("seed creative %d: %v", i, err)
		}
		creativeIDs = append(creativeIDs, id)
	}

	if err := mustQueryRow(`
		INSERT INTO projects (client_id, title, budget_min, budget_max, status)
		VALUES ($1, 'Brand identity pack', 500, 2000, 'open') RETURNING id
	`, clientID).Scan(&projectID); err != nil {
		t.Fatalf("seed project: %v", err)
	}

	for i, creativeID := range creativeIDs {
		var id string
		if err := mustQueryRow(`
			INSERT INTO applications (project_id, creative_id, cover_letter, proposed_rate)
			VALUES ($1, $2, 'portfolio attached', $3) RETURNING id
		`, projectID, creativeID, 600+100*int64(i)).Scan(&id); err != nil {
			t.Fatalf("seed application %d: %v", i, err)
		}
		appIDs = append(appIDs, id)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM notifications WHERE recipient_id = ANY($1) OR recipient_id = $2`, creativeIDs, clientID)
		pool.Exec(ctx2, `DELETE FROM work_order_events WHERE work_order_id IN (SELECT id FROM work_orders WHERE project_id = $1)`, projectID)
		pool.Exec(ctx2, `DELETE FROM escrows WHERE work_order_id IN (SELECT id FROM work_orders WHERE project_id = $1)`, projectID)
		pool.Exec(ctx2, `DELETE FROM work_orders WHERE project_id = $1`, projectID)
		pool.Exec(ctx2, `DELETE FROM applications WHERE project_id = $1`, projectID)
		pool.Exec(ctx2, `DELETE FROM projects WHERE id = $1`, projectID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id = ANY($1) OR id = $2`, creativeIDs, clientID)
	})

	projectRepo := project.NewRepository(pool)
	svc := NewService(pool, NewRepository(pool), projectRepo, workorder.NewRepository(pool), notify.NewWriter())

	winner := appIDs[1]
	res, err := svc.Accept(ctx, winner, clientID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Application.Status != StatusAccepted {
		t.Fatalf("winner status = %s, want accepted", res.Application.Status)
	}
	if len(res.Declined) != 2 {
		t.Fatalf("declined = %d, want 2", len(res.Declined))
	}
	// proposed 700 within 500..2000
	if res.Order.AgreedRate != 700 {
		t.Fatalf("agreed rate = %d, want 700", res.Order.AgreedRate)
	}

	var projStatus string
	if err := mustQueryRow(`SELECT status::text FROM projects WHERE id = $1`, projectID).Scan(&projStatus); err != nil {
		t.Fatalf("verify project: %v", err)
	}
	if projStatus != "assigned" {
		t.Fatalf("project status = %s, want assigned", projStatus)
	}

	var declinedCount int
	if err := mustQueryRow(`SELECT COUNT(*) FROM applications WHERE project_id = $1 AND status = 'declined'`, projectID).Scan(&declinedCount); err != nil {
		t.Fatalf("verify siblings: %v", err)
	}
	if declinedCount != 2 {
		t.Fatalf("declined siblings = %d, want 2", declinedCount)
	}

	var escrowStatus string
	var escrowTotal int64
	if err := mustQueryRow(`
		SELECT e.status::text, e.total_amount FROM escrows e
		JOIN work_orders wo ON wo.id = e.work_order_id
		WHERE wo.project_id = $1
	`, projectID).Scan(&escrowStatus, &escrowTotal); err != nil {
		t.Fatalf("verify escrow: %v", err)
	}
	if escrowStatus != "pending" || escrowTotal != 2000 {
		t.Fatalf("escrow = %s/%d, want pending/2000", escrowStatus, escrowTotal)
	}

	var noteCount int
	if err := mustQueryRow(`SELECT COUNT(*) FROM notifications WHERE recipient_id = ANY($1)`, creativeIDs).Scan(&noteCount); err != nil {
		t.Fatalf("verify notifications: %v", err)
	}
	if noteCount != 3 {
		t.Fatalf("notifications = %d, want 3 (winner + 2 declines)", noteCount)
	}

	// second accept on a now-declined sibling must lose
	if _, err := svc.Accept(ctx, appIDs[0], clientID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("replay accept err = %v, want ErrAlreadyProcessed", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
