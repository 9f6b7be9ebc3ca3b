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

// All returns the invariant checks run against the database while actors
// hammer the lifecycle. Any returned row is a violation.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_status_nurse_coupling",
			SQL: `SELECT id, status, assigned_nurse_id FROM care_requests
                  WHERE (status = 'open' AND assigned_nurse_id IS NOT NULL)
                     OR (status IN ('assigned','payment_pending','active','completed') AND assigned_nurse_id IS NULL)`,
		},
		{
			Name: "O2_status_payment_coupling",
			SQL: `SELECT id, status, payment_status FROM care_requests
                  WHERE status IN ('active','completed') AND payment_status <> 'paid'`,
		},
		{
			Name: "O3_journal_coverage",
			SQL: `SELECT cr.id, cr.status FROM care_requests cr
                  WHERE cr.status <> 'open'
                    AND NOT EXISTS (SELECT 1 FROM lifecycle_events e WHERE e.request_id = cr.id)`,
		},
		{
			Name: "O4_no_event_from_terminal",
			SQL: `SELECT id, request_id, previous_status, next_status FROM lifecycle_events
                  WHERE previous_status IN ('completed','cancelled')`,
		},
		{
			Name: "O5_earnings_exactly_once",
			SQL: `SELECT cr.id FROM care_requests cr
                  WHERE cr.status = 'completed'
                    AND NOT EXISTS (SELECT 1 FROM earnings_records er WHERE er.request_id = cr.id)
                  UNION ALL
                  SELECT request_id FROM earnings_records
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_earnings_arithmetic",
			SQL: `SELECT id, gross_amount_cents, platform_fee_cents, referral_fee_cents, net_amount_cents
                  FROM earnings_records
                  WHERE net_amount_cents < 0
                     OR net_amount_cents <> GREATEST(gross_amount_cents - platform_fee_cents - referral_fee_cents, 0)`,
		},
		{
			Name: "O7_outbox_not_stale",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_journal_delete_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname='trg_lifecycle_events_immutable')`,
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
