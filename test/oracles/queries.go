package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_application",
			SQL: `SELECT project_id, COUNT(*) FROM applications
                  WHERE status = 'accepted'
                  GROUP BY project_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_no_open_siblings_after_assignment",
			SQL: `SELECT a.id FROM applications a
                  JOIN projects p ON p.id = a.project_id
                  WHERE p.status = 'assigned'
                    AND a.status IN ('pending','viewed','shortlisted')`,
		},
		{
			Name: "O3_order_implies_assignment",
			SQL: `SELECT wo.id FROM work_orders wo
                  JOIN projects p ON p.id = wo.project_id
                  WHERE p.status <> 'assigned'`,
		},
		{
			Name: "O4_escrow_amounts_consistent",
			SQL: `SELECT id, status, total_amount, funded_amount, released_amount FROM escrows
                  WHERE funded_amount NOT IN (0, total_amount)
                     OR released_amount NOT IN (0, funded_amount)
                     OR (status = 'pending'  AND (funded_amount <> 0 OR released_amount <> 0))
                     OR (status = 'funded'   AND (funded_amount <> total_amount OR released_amount <> 0))
                     OR (status = 'released' AND (released_amount <> total_amount OR funded_amount <> total_amount))`,
		},
		{
			Name: "O5_completed_order_released_escrow",
			SQL: `SELECT wo.id FROM work_orders wo
                  JOIN escrows e ON e.work_order_id = wo.id
                  WHERE wo.status = 'completed' AND e.status <> 'released'`,
		},
		{
			Name: "O6_cancelled_order_never_released",
			SQL: `SELECT wo.id FROM work_orders wo
                  JOIN escrows e ON e.work_order_id = wo.id
                  WHERE wo.status = 'cancelled' AND e.status IN ('released','partially_released')`,
		},
		{
			Name: "O7_one_pending_review_per_scope",
			SQL: `SELECT work_order_id FROM deliveries
                  WHERE status = 'pending_review' AND milestone_id IS NULL
                  GROUP BY work_order_id HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT work_order_id FROM deliveries
                  WHERE status = 'pending_review' AND milestone_id IS NOT NULL
                  GROUP BY work_order_id, milestone_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O8_no_self_notifications",
			SQL:  `SELECT id FROM notifications WHERE actor_id IS NOT NULL AND actor_id = recipient_id`,
		},
		{
			Name: "O9_completed_milestones_all_approved",
			SQL: `SELECT m.id FROM milestones m
                  JOIN work_orders wo ON wo.id = m.work_order_id
                  WHERE wo.status = 'completed' AND m.status <> 'approved'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
