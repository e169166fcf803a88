package quota

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

type memStore struct {
	rows map[int64]*models.Entitlement
	fail error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]*models.Entitlement)}
}

func (m *memStore) Entitlement(_ context.Context, chatID int64) (*models.Entitlement, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	ent, ok := m.rows[chatID]
	if !ok {
		return nil, nil
	}
	cp := *ent
	return &cp, nil
}

func (m *memStore) CreateEntitlement(_ context.Context, chatID int64, day time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	if _, ok := m.rows[chatID]; !ok {
		m.rows[chatID] = &models.Entitlement{ChatID: chatID, LastResetDate: day}
	}
	return nil
}

func (m *memStore) ResetUsage(_ context.Context, chatID int64, day time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	if ent, ok := m.rows[chatID]; ok && !sameDay(ent.LastResetDate, day) {
		ent.UsageCount = 0
		ent.LastResetDate = day
	}
	return nil
}

func (m *memStore) IncrementUsage(_ context.Context, chatID int64, day time.Time) error {
	if m.fail != nil {
		return m.fail
	}
	ent, ok := m.rows[chatID]
	if !ok {
		ent = &models.Entitlement{ChatID: chatID, LastResetDate: day}
		m.rows[chatID] = ent
	}
	if sameDay(ent.LastResetDate, day) {
		ent.UsageCount++
	} else {
		ent.UsageCount = 1
		ent.LastResetDate = day
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var day1 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func TestAllowCreatesRowOnFirstContact(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))

	dec := e.Allow(context.Background(), 100)
	require.True(t, dec.Allowed)
	assert.Equal(t, 2, dec.Ceiling)
	assert.Equal(t, 0, dec.Used)

	_, ok := store.rows[100]
	assert.True(t, ok, "row should have been created")
}

func TestAllowDeniesAtCeiling(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		dec := e.Allow(ctx, 100)
		require.True(t, dec.Allowed, "attempt %d should be allowed", i)
		e.Record(ctx, 100)
	}

	dec := e.Allow(ctx, 100)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 2, dec.Used)
	assert.Equal(t, 0, dec.Remaining())
}

func TestAllowResetsOnCalendarRollover(t *testing.T) {
	store := newMemStore()
	clock := day1
	e := NewEngine(store, testLogger(), 0, 2, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	e.Allow(ctx, 100)
	e.Record(ctx, 100)
	e.Record(ctx, 100)
	require.False(t, e.Allow(ctx, 100).Allowed)

	// 23:59 same day, still exhausted.
	clock = time.Date(2025, 6, 1, 23, 59, 0, 0, time.UTC)
	assert.False(t, e.Allow(ctx, 100).Allowed)

	// Past midnight UTC the counter starts over.
	clock = time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	dec := e.Allow(ctx, 100)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 0, dec.Used)

	// A second check on the new day must not reset again: the first check
	// already persisted today's date, so the counter stays at zero and the
	// stored row keeps the new date.
	dec = e.Allow(ctx, 100)
	assert.True(t, dec.Allowed)
	assert.Equal(t, 0, dec.Used)

	row, ok := store.rows[100]
	require.True(t, ok)
	assert.Equal(t, 0, row.UsageCount)
	assert.True(t, sameDay(row.LastResetDate, clock), "stored reset date must be the new day")
}

func TestAllowUsesPlanCeiling(t *testing.T) {
	store := newMemStore()
	expiry := day1.AddDate(0, 0, 7)
	store.rows[100] = &models.Entitlement{
		ChatID:        100,
		UsageCount:    5,
		LastResetDate: day1,
		PlanType:      models.PlanWeekly,
		PlanExpiry:    &expiry,
	}
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))

	dec := e.Allow(context.Background(), 100)
	require.True(t, dec.Allowed)
	assert.Equal(t, 50, dec.Ceiling)
	assert.Equal(t, models.PlanWeekly, dec.Plan)
	assert.Equal(t, 45, dec.Remaining())
}

func TestExpiredPlanFallsBackToFreeTier(t *testing.T) {
	store := newMemStore()
	expiry := day1.Add(-time.Hour)
	store.rows[100] = &models.Entitlement{
		ChatID:        100,
		UsageCount:    2,
		LastResetDate: day1,
		PlanType:      models.PlanWeekly,
		PlanExpiry:    &expiry,
	}
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))

	dec := e.Allow(context.Background(), 100)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 2, dec.Ceiling)
	assert.Empty(t, dec.Plan)
}

func TestLifetimePlanIsUnlimited(t *testing.T) {
	store := newMemStore()
	expiry := day1.AddDate(100, 0, 0)
	store.rows[100] = &models.Entitlement{
		ChatID:        100,
		UsageCount:    10000,
		LastResetDate: day1,
		PlanType:      models.PlanLifetime,
		PlanExpiry:    &expiry,
	}
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))

	dec := e.Allow(context.Background(), 100)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Unlimited)
}

func TestStoreOutageFailsOpen(t *testing.T) {
	store := newMemStore()
	store.fail = errors.New("connection refused")

	notified := ""
	e := NewEngine(store, testLogger(), 0, 2,
		WithClock(fixedClock(day1)),
		WithNotifier(func(msg string) { notified = msg }),
	)

	dec := e.Allow(context.Background(), 100)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Unlimited)
	assert.Contains(t, notified, "connection refused")
}

func TestAdminBypassesQuota(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, testLogger(), 42, 2, WithClock(fixedClock(day1)))
	ctx := context.Background()

	dec := e.Allow(ctx, 42)
	assert.True(t, dec.Allowed)
	assert.True(t, dec.Unlimited)

	e.Record(ctx, 42)
	_, ok := store.rows[42]
	assert.False(t, ok, "admin usage must not be recorded")
}

func TestStrictModeBlocksFreeTier(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, testLogger(), 0, 2,
		WithClock(fixedClock(day1)),
		WithStrictMode(true),
	)
	ctx := context.Background()

	dec := e.Allow(ctx, 100)
	assert.False(t, dec.Allowed)
	assert.True(t, dec.Blocked)

	// A plan holder is unaffected.
	expiry := day1.AddDate(0, 0, 7)
	store.rows[200] = &models.Entitlement{
		ChatID:        200,
		LastResetDate: day1,
		PlanType:      models.PlanWeekly,
		PlanExpiry:    &expiry,
	}
	dec = e.Allow(ctx, 200)
	assert.True(t, dec.Allowed)
	assert.False(t, dec.Blocked)
}

func TestRecordCountsTowardToday(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store, testLogger(), 0, 2, WithClock(fixedClock(day1)))
	ctx := context.Background()

	e.Allow(ctx, 100)
	e.Record(ctx, 100)

	dec := e.Status(ctx, 100)
	assert.Equal(t, 1, dec.Used)
	assert.Equal(t, 1, dec.Remaining())
}
