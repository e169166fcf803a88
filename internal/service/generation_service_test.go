package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamwire/TGMediaBot/internal/models"
	"github.com/dreamwire/TGMediaBot/internal/orchestrator"
	"github.com/dreamwire/TGMediaBot/internal/provider"
	"github.com/dreamwire/TGMediaBot/internal/quota"
)

type fakeAdapter struct {
	outcome *provider.Outcome
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Submit(context.Context, provider.Payload) (*provider.Outcome, error) {
	return f.outcome, nil
}

func (f *fakeAdapter) PollOnce(context.Context, *provider.Outcome) (*provider.Outcome, error) {
	return f.outcome, nil
}

type fakeStore struct {
	ents       map[int64]*models.Entitlement
	increments int
}

func newFakeStore() *fakeStore {
	return &fakeStore{ents: make(map[int64]*models.Entitlement)}
}

func (s *fakeStore) Entitlement(_ context.Context, chatID int64) (*models.Entitlement, error) {
	ent, ok := s.ents[chatID]
	if !ok {
		return nil, nil
	}
	cp := *ent
	return &cp, nil
}

func (s *fakeStore) CreateEntitlement(_ context.Context, chatID int64, day time.Time) error {
	if _, ok := s.ents[chatID]; !ok {
		s.ents[chatID] = &models.Entitlement{ChatID: chatID, LastResetDate: day}
	}
	return nil
}

func (s *fakeStore) ResetUsage(context.Context, int64, time.Time) error { return nil }

func (s *fakeStore) IncrementUsage(_ context.Context, chatID int64, day time.Time) error {
	s.increments++
	ent, ok := s.ents[chatID]
	if !ok {
		ent = &models.Entitlement{ChatID: chatID, LastResetDate: day}
		s.ents[chatID] = ent
	}
	ent.UsageCount++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store *fakeStore, outcome *provider.Outcome) *GenerationService {
	logr := testLogger()
	engine := quota.NewEngine(store, logr, 0, 2)
	runner := orchestrator.NewRunner(logr, orchestrator.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	adapters := map[models.Mode]provider.Adapter{
		models.ModeSora: &fakeAdapter{outcome: outcome},
	}
	return NewGenerationService(adapters, nil, engine, runner, logr)
}

func TestGenerateRecordsUsageOnSuccess(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &provider.Outcome{
		Status:    provider.StatusCompleted,
		JobID:     "j1",
		ResultURL: "https://cdn.example.com/a.mp4",
	})

	res, err := svc.Generate(context.Background(), 100, models.ModeSora, provider.Payload{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, res.Status)
	assert.Equal(t, 1, store.increments)
}

func TestGenerateRejectionCostsNothing(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &provider.Outcome{
		Status: provider.StatusRejected,
		Detail: "nsfw",
	})

	res, err := svc.Generate(context.Background(), 100, models.ModeSora, provider.Payload{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusRejected, res.Status)
	assert.Zero(t, store.increments)
}

func TestGenerateDeniedWhenQuotaExhausted(t *testing.T) {
	store := newFakeStore()
	store.ents[100] = &models.Entitlement{
		ChatID:        100,
		UsageCount:    2,
		LastResetDate: time.Now().UTC(),
	}
	svc := newTestService(store, &provider.Outcome{
		Status:    provider.StatusCompleted,
		ResultURL: "https://cdn.example.com/a.mp4",
	})

	_, err := svc.Generate(context.Background(), 100, models.ModeSora, provider.Payload{Prompt: "x"})
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 2, quotaErr.Decision.Used)
	assert.Zero(t, store.increments)
}

func TestGenerateUnknownMode(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	_, err := svc.Generate(context.Background(), 100, models.ModeVideo, provider.Payload{})
	assert.ErrorIs(t, err, ErrModeUnavailable)
}

func TestModesListsOnlyConfigured(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)
	modes := svc.Modes()
	assert.Equal(t, []models.Mode{models.ModeSora}, modes)
	assert.True(t, svc.Available(models.ModeSora))
	assert.False(t, svc.Available(models.ModeNano))
}
