package redeem

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

type memKeys struct {
	mu   sync.Mutex
	keys map[string]*models.RedemptionKey
}

func newMemKeys() *memKeys {
	return &memKeys{keys: make(map[string]*models.RedemptionKey)}
}

func (m *memKeys) Insert(_ context.Context, key models.RedemptionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := key
	m.keys[key.Token] = &cp
	return nil
}

func (m *memKeys) Get(_ context.Context, token string) (*models.RedemptionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[token]
	if !ok {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (m *memKeys) Consume(_ context.Context, token string, chatID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[token]
	if !ok || key.Used {
		return false, nil
	}
	key.Used = true
	key.UsedBy = &chatID
	key.UsedAt = &at
	return true, nil
}

type memPlans struct {
	mu     sync.Mutex
	grants map[int64]struct {
		plan   models.PlanType
		expiry time.Time
	}
}

func newMemPlans() *memPlans {
	return &memPlans{grants: make(map[int64]struct {
		plan   models.PlanType
		expiry time.Time
	})}
}

func (m *memPlans) ApplyPlan(_ context.Context, chatID int64, plan models.PlanType, expiry time.Time, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[chatID] = struct {
		plan   models.PlanType
		expiry time.Time
	}{plan, expiry}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var redeemDay = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(keys *memKeys, plans *memPlans) *Engine {
	return NewEngine(keys, plans, testLogger()).WithClock(func() time.Time { return redeemDay })
}

func TestIssueKeysGeneratesUniqueTokens(t *testing.T) {
	keys := newMemKeys()
	e := newTestEngine(keys, newMemPlans())

	tokens, err := e.IssueKeys(context.Background(), models.PlanWeekly, 5)
	require.NoError(t, err)
	require.Len(t, tokens, 5)

	seen := make(map[string]bool)
	for _, tok := range tokens {
		assert.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true
		key, err := keys.Get(context.Background(), tok)
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, models.PlanWeekly, key.PlanType)
		assert.False(t, key.Used)
	}
}

func TestIssueKeysRejectsUnknownPlan(t *testing.T) {
	e := newTestEngine(newMemKeys(), newMemPlans())
	_, err := e.IssueKeys(context.Background(), models.PlanType("gold"), 1)
	assert.Error(t, err)
}

func TestRedeemGrantsPlan(t *testing.T) {
	keys := newMemKeys()
	plans := newMemPlans()
	e := newTestEngine(keys, plans)
	ctx := context.Background()

	tokens, err := e.IssueKeys(ctx, models.PlanWeekly, 1)
	require.NoError(t, err)

	plan, err := e.Redeem(ctx, tokens[0], 100)
	require.NoError(t, err)
	assert.Equal(t, models.PlanWeekly, plan.Type)

	grant := plans.grants[100]
	assert.Equal(t, models.PlanWeekly, grant.plan)
	assert.Equal(t, redeemDay.AddDate(0, 0, 7), grant.expiry)
}

func TestRedeemInvalidKey(t *testing.T) {
	e := newTestEngine(newMemKeys(), newMemPlans())
	_, err := e.Redeem(context.Background(), "no-such-token", 100)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestRedeemAlreadyUsedKey(t *testing.T) {
	keys := newMemKeys()
	e := newTestEngine(keys, newMemPlans())
	ctx := context.Background()

	tokens, err := e.IssueKeys(ctx, models.PlanStarter, 1)
	require.NoError(t, err)

	_, err = e.Redeem(ctx, tokens[0], 100)
	require.NoError(t, err)

	_, err = e.Redeem(ctx, tokens[0], 200)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestRedeemConcurrentExactlyOnce(t *testing.T) {
	keys := newMemKeys()
	plans := newMemPlans()
	e := newTestEngine(keys, plans)
	ctx := context.Background()

	tokens, err := e.IssueKeys(ctx, models.PlanMonthly, 1)
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Redeem(ctx, tokens[0], int64(1000+i))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyUsed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one redeemer must win")

	plans.mu.Lock()
	defer plans.mu.Unlock()
	assert.Len(t, plans.grants, 1)
}
