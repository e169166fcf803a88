package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

type EntitlementRepository struct {
	db *sql.DB
}

func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) Entitlement(ctx context.Context, chatID int64) (*models.Entitlement, error) {
	const query = `
SELECT chat_id, usage_count, last_reset_date, COALESCE(plan_type, ''), plan_expiry, created_at, updated_at
FROM users WHERE chat_id = ?`
	row := r.db.QueryRowContext(ctx, query, chatID)
	var e models.Entitlement
	var planType string
	var expiry sql.NullTime
	if err := row.Scan(&e.ChatID, &e.UsageCount, &e.LastResetDate, &planType, &expiry, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}
	e.PlanType = models.PlanType(planType)
	if expiry.Valid {
		t := expiry.Time
		e.PlanExpiry = &t
	}
	return &e, nil
}

// CreateEntitlement inserts the row with a zero counter. Concurrent inserts
// for the same user are harmless.
func (r *EntitlementRepository) CreateEntitlement(ctx context.Context, chatID int64, day time.Time) error {
	const query = `
INSERT INTO users (chat_id, usage_count, last_reset_date) VALUES (?, 0, ?)
ON DUPLICATE KEY UPDATE chat_id = chat_id`
	if _, err := r.db.ExecContext(ctx, query, chatID, dateOnly(day)); err != nil {
		return fmt.Errorf("insert entitlement: %w", err)
	}
	return nil
}

// ResetUsage zeroes the counter and advances the reset date, but only when
// the stored date differs, so a concurrent double rollover is idempotent.
func (r *EntitlementRepository) ResetUsage(ctx context.Context, chatID int64, day time.Time) error {
	const query = `
UPDATE users SET usage_count = 0, last_reset_date = ?, updated_at = NOW()
WHERE chat_id = ? AND last_reset_date <> ?`
	if _, err := r.db.ExecContext(ctx, query, dateOnly(day), chatID, dateOnly(day)); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

// IncrementUsage adds one use for the given day in a single conditional
// update. If the stored date is stale the counter restarts at 1.
func (r *EntitlementRepository) IncrementUsage(ctx context.Context, chatID int64, day time.Time) error {
	const query = `
INSERT INTO users (chat_id, usage_count, last_reset_date) VALUES (?, 1, ?)
ON DUPLICATE KEY UPDATE
    usage_count = IF(last_reset_date = VALUES(last_reset_date), usage_count + 1, 1),
    last_reset_date = VALUES(last_reset_date)`
	if _, err := r.db.ExecContext(ctx, query, chatID, dateOnly(day)); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

// ApplyPlan writes the granted plan onto the user's row and zeroes the
// counter so the new ceiling applies immediately.
func (r *EntitlementRepository) ApplyPlan(ctx context.Context, chatID int64, plan models.PlanType, expiry time.Time, day time.Time) error {
	const query = `
INSERT INTO users (chat_id, usage_count, last_reset_date, plan_type, plan_expiry)
VALUES (?, 0, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    usage_count = 0,
    last_reset_date = VALUES(last_reset_date),
    plan_type = VALUES(plan_type),
    plan_expiry = VALUES(plan_expiry),
    updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, chatID, dateOnly(day), string(plan), expiry); err != nil {
		return fmt.Errorf("apply plan: %w", err)
	}
	return nil
}

func (r *EntitlementRepository) ListChatIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT chat_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats aggregates entitlement counts for the admin surface.
type Stats struct {
	TotalUsers     int64            `json:"total_users"`
	ActivePlans    map[string]int64 `json:"active_plans"`
	UsedToday      int64            `json:"used_today"`
	GeneratedToday int64            `json:"generated_today"`
}

func (r *EntitlementRepository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{ActivePlans: make(map[string]int64)}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT plan_type, COUNT(*) FROM users
WHERE plan_type IS NOT NULL AND plan_expiry > ?
GROUP BY plan_type`, now)
	if err != nil {
		return nil, fmt.Errorf("count plans: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var plan string
		var count int64
		if err := rows.Scan(&plan, &count); err != nil {
			return nil, fmt.Errorf("scan plan count: %w", err)
		}
		stats.ActivePlans[plan] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(usage_count), 0) FROM users
WHERE last_reset_date = ? AND usage_count > 0`, dateOnly(now)).Scan(&stats.UsedToday, &stats.GeneratedToday); err != nil {
		return nil, fmt.Errorf("count today: %w", err)
	}

	return stats, nil
}

func dateOnly(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
