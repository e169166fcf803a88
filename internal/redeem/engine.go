package redeem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

var (
	ErrInvalidKey  = errors.New("redemption key invalid")
	ErrAlreadyUsed = errors.New("redemption key already used")
)

// KeyStore persists redemption keys. Consume must be atomic with respect to
// the used flag: at most one caller ever gets true for a given token.
type KeyStore interface {
	Insert(ctx context.Context, key models.RedemptionKey) error
	Get(ctx context.Context, token string) (*models.RedemptionKey, error)
	Consume(ctx context.Context, token string, chatID int64, at time.Time) (bool, error)
}

// PlanWriter applies a granted plan to a user's entitlement row.
type PlanWriter interface {
	ApplyPlan(ctx context.Context, chatID int64, plan models.PlanType, expiry time.Time, day time.Time) error
}

type Engine struct {
	keys  KeyStore
	users PlanWriter
	log   *slog.Logger
	now   func() time.Time
}

func NewEngine(keys KeyStore, users PlanWriter, log *slog.Logger) *Engine {
	return &Engine{keys: keys, users: users, log: log, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// IssueKeys generates count fresh one-time tokens bound to the plan.
func (e *Engine) IssueKeys(ctx context.Context, plan models.PlanType, count int) ([]string, error) {
	if _, ok := models.PlanByType(plan); !ok {
		return nil, fmt.Errorf("unknown plan type: %s", plan)
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive")
	}

	tokens := make([]string, 0, count)
	for i := 0; i < count; i++ {
		token := uuid.NewString()
		if err := e.keys.Insert(ctx, models.RedemptionKey{Token: token, PlanType: plan}); err != nil {
			return tokens, fmt.Errorf("issue key: %w", err)
		}
		tokens = append(tokens, token)
	}

	e.log.Info("redemption keys issued", "plan", plan, "count", count)
	return tokens, nil
}

// Redeem consumes the key and grants its plan to the user. Exactly-once: a
// concurrent second attempt on the same key fails with ErrAlreadyUsed.
func (e *Engine) Redeem(ctx context.Context, token string, chatID int64) (models.Plan, error) {
	key, err := e.keys.Get(ctx, token)
	if err != nil {
		return models.Plan{}, fmt.Errorf("load key: %w", err)
	}
	if key == nil {
		return models.Plan{}, ErrInvalidKey
	}
	if key.Used {
		return models.Plan{}, ErrAlreadyUsed
	}

	plan, ok := models.PlanByType(key.PlanType)
	if !ok {
		return models.Plan{}, fmt.Errorf("key %s carries unknown plan %q", token, key.PlanType)
	}

	now := e.now().UTC()
	won, err := e.keys.Consume(ctx, token, chatID, now)
	if err != nil {
		return models.Plan{}, fmt.Errorf("consume key: %w", err)
	}
	if !won {
		return models.Plan{}, ErrAlreadyUsed
	}

	expiry := now.AddDate(0, 0, plan.DurationDays)
	if err := e.users.ApplyPlan(ctx, chatID, plan.Type, expiry, now); err != nil {
		// Key is burned but the grant failed; surface loudly so an operator
		// can re-issue.
		e.log.Error("plan grant failed after key consume", "token", token, "chat_id", chatID, "err", err)
		return models.Plan{}, fmt.Errorf("apply plan: %w", err)
	}

	e.log.Info("plan redeemed", "chat_id", chatID, "plan", plan.Type, "expiry", expiry)
	return plan, nil
}
