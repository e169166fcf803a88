package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dreamwire/TGMediaBot/internal/models"
	"github.com/dreamwire/TGMediaBot/internal/orchestrator"
	"github.com/dreamwire/TGMediaBot/internal/provider"
	"github.com/dreamwire/TGMediaBot/internal/quota"
)

// ErrModeUnavailable means no provider adapter is registered for the
// requested mode, usually because its API key is not configured.
var ErrModeUnavailable = errors.New("no provider configured for this mode")

// QuotaExceededError carries the denial so the chat layer can tell the user
// how much they used and what to do about it.
type QuotaExceededError struct {
	Decision quota.Decision
}

func (e *QuotaExceededError) Error() string {
	if e.Decision.Blocked {
		return "generation requires an active plan"
	}
	return fmt.Sprintf("daily quota exhausted (%d/%d)", e.Decision.Used, e.Decision.Ceiling)
}

// GenerationService runs one generation end to end: quota gate, provider
// submit-poll loop, quota consumption on success.
type GenerationService struct {
	adapters map[models.Mode]provider.Adapter
	policies map[models.Mode]orchestrator.Policy
	quota    *quota.Engine
	runner   *orchestrator.Runner
	log      *slog.Logger
}

func NewGenerationService(adapters map[models.Mode]provider.Adapter, policies map[models.Mode]orchestrator.Policy, q *quota.Engine, runner *orchestrator.Runner, log *slog.Logger) *GenerationService {
	return &GenerationService{
		adapters: adapters,
		policies: policies,
		quota:    q,
		runner:   runner,
		log:      log,
	}
}

// Modes lists the capabilities that actually have a provider behind them.
func (s *GenerationService) Modes() []models.Mode {
	order := []models.Mode{models.ModeSora, models.ModeHailuo, models.ModeVideo, models.ModeNano, models.ModeEdit}
	var out []models.Mode
	for _, m := range order {
		if _, ok := s.adapters[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

func (s *GenerationService) Available(mode models.Mode) bool {
	_, ok := s.adapters[mode]
	return ok
}

// Generate checks quota, runs the job to a terminal state and records usage
// when an artifact came back. Rejection and timeout are returned as Results,
// not errors, and cost the user nothing.
func (s *GenerationService) Generate(ctx context.Context, chatID int64, mode models.Mode, p provider.Payload) (*orchestrator.Result, error) {
	adapter, ok := s.adapters[mode]
	if !ok {
		return nil, ErrModeUnavailable
	}

	dec := s.quota.Allow(ctx, chatID)
	if !dec.Allowed {
		return nil, &QuotaExceededError{Decision: dec}
	}

	policy, ok := s.policies[mode]
	if !ok {
		policy = orchestrator.DefaultPolicy()
	}

	s.log.Info("generation started", "chat_id", chatID, "mode", mode, "provider", adapter.Name())
	res, err := s.runner.Run(ctx, adapter, p, policy)
	if err != nil {
		return nil, err
	}

	if res.Status == orchestrator.StatusCompleted {
		s.quota.Record(ctx, chatID)
	}
	s.log.Info("generation finished", "chat_id", chatID, "mode", mode, "status", res.Status, "job_id", res.JobID)
	return res, nil
}

// Quota reports the user's current standing.
func (s *GenerationService) Quota(ctx context.Context, chatID int64) quota.Decision {
	return s.quota.Status(ctx, chatID)
}

// CheckStatus makes a single best-effort poll for a previously submitted
// job. Only adapters that key polls off a job id can serve it.
func (s *GenerationService) CheckStatus(ctx context.Context, mode models.Mode, jobID string) (*provider.Outcome, error) {
	adapter, ok := s.adapters[mode]
	if !ok {
		return nil, ErrModeUnavailable
	}
	return adapter.PollOnce(ctx, &provider.Outcome{Status: provider.StatusProcessing, JobID: jobID})
}
