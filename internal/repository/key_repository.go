package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

type KeyRepository struct {
	db *sql.DB
}

func NewKeyRepository(db *sql.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) Insert(ctx context.Context, key models.RedemptionKey) error {
	const query = `
INSERT INTO redemption_keys (token, plan_type, used) VALUES (?, ?, 0)`
	if _, err := r.db.ExecContext(ctx, query, key.Token, string(key.PlanType)); err != nil {
		return fmt.Errorf("insert key: %w", err)
	}
	return nil
}

func (r *KeyRepository) Get(ctx context.Context, token string) (*models.RedemptionKey, error) {
	const query = `
SELECT token, plan_type, used, used_by, used_at, created_at
FROM redemption_keys WHERE token = ?`
	row := r.db.QueryRowContext(ctx, query, token)
	key, err := scanKey(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan key: %w", err)
	}
	return key, nil
}

// Consume marks the key used. The WHERE used = 0 clause makes it a
// compare-and-set: exactly one caller can ever win.
func (r *KeyRepository) Consume(ctx context.Context, token string, chatID int64, at time.Time) (bool, error) {
	const query = `
UPDATE redemption_keys SET used = 1, used_by = ?, used_at = ?
WHERE token = ? AND used = 0`
	res, err := r.db.ExecContext(ctx, query, chatID, at, token)
	if err != nil {
		return false, fmt.Errorf("consume key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("key rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *KeyRepository) List(ctx context.Context, includeUsed bool) ([]models.RedemptionKey, error) {
	query := `
SELECT token, plan_type, used, used_by, used_at, created_at
FROM redemption_keys`
	if !includeUsed {
		query += ` WHERE used = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []models.RedemptionKey
	for rows.Next() {
		key, err := scanKey(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan key list: %w", err)
		}
		keys = append(keys, *key)
	}
	return keys, rows.Err()
}

func scanKey(scan func(...any) error) (*models.RedemptionKey, error) {
	var key models.RedemptionKey
	var planType string
	var used int
	var usedBy sql.NullInt64
	var usedAt sql.NullTime
	if err := scan(&key.Token, &planType, &used, &usedBy, &usedAt, &key.CreatedAt); err != nil {
		return nil, err
	}
	key.PlanType = models.PlanType(planType)
	key.Used = used != 0
	if usedBy.Valid {
		v := usedBy.Int64
		key.UsedBy = &v
	}
	if usedAt.Valid {
		t := usedAt.Time
		key.UsedAt = &t
	}
	return &key, nil
}
