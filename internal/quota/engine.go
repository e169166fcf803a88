package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/dreamwire/TGMediaBot/internal/models"
)

// Store is the persistence surface the engine needs. Implemented by
// repository.EntitlementRepository.
type Store interface {
	Entitlement(ctx context.Context, chatID int64) (*models.Entitlement, error)
	CreateEntitlement(ctx context.Context, chatID int64, day time.Time) error
	ResetUsage(ctx context.Context, chatID int64, day time.Time) error
	IncrementUsage(ctx context.Context, chatID int64, day time.Time) error
}

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Used      int
	Ceiling   int
	Plan      models.PlanType // empty on the free tier
	Blocked   bool            // denied by strict non-premium blocking, not by the counter
}

func (d Decision) Remaining() int {
	if d.Unlimited {
		return 0
	}
	if d.Used >= d.Ceiling {
		return 0
	}
	return d.Ceiling - d.Used
}

type Engine struct {
	store     Store
	log       *slog.Logger
	adminID   int64
	freeDaily int
	blockFree bool
	now       func() time.Time
	notify    func(msg string)
}

type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifier sets a best-effort callback invoked on store failures so an
// operator hears about outages.
func WithNotifier(fn func(msg string)) Option {
	return func(e *Engine) { e.notify = fn }
}

// WithStrictMode blocks free-tier users entirely when enabled.
func WithStrictMode(enabled bool) Option {
	return func(e *Engine) { e.blockFree = enabled }
}

func NewEngine(store Store, log *slog.Logger, adminID int64, freeDaily int, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		log:       log,
		adminID:   adminID,
		freeDaily: freeDaily,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Allow decides whether the user may start a generation right now. It must
// be called immediately before every submission: plans expire and days roll
// over between conversational steps.
//
// On store errors the engine fails open: availability is preferred over
// quota accuracy, so the user is allowed and the admin is notified.
func (e *Engine) Allow(ctx context.Context, chatID int64) Decision {
	if e.isAdmin(chatID) {
		return Decision{Allowed: true, Unlimited: true}
	}

	now := e.now().UTC()
	ent, err := e.store.Entitlement(ctx, chatID)
	if err != nil {
		e.storeError("load entitlement", err)
		return Decision{Allowed: true, Unlimited: true}
	}

	if ent == nil {
		if err := e.store.CreateEntitlement(ctx, chatID, now); err != nil {
			e.storeError("create entitlement", err)
		}
		if e.blockFree {
			return Decision{Allowed: false, Blocked: true, Ceiling: e.freeDaily}
		}
		return Decision{Allowed: true, Ceiling: e.freeDaily}
	}

	// Calendar rollover: zero the counter before the ceiling check. The
	// store update is conditional on the stale date, so two concurrent
	// rollovers cannot double-reset.
	if !sameDay(ent.LastResetDate, now) {
		if err := e.store.ResetUsage(ctx, chatID, now); err != nil {
			e.storeError("reset usage", err)
		}
		ent.UsageCount = 0
		ent.LastResetDate = now
	}

	plan, active := ent.ActivePlan(now)

	if e.blockFree && !active {
		return Decision{Allowed: false, Blocked: true, Ceiling: e.freeDaily}
	}

	if active && plan.Unlimited() {
		return Decision{Allowed: true, Unlimited: true, Plan: plan.Type}
	}

	ceiling := e.freeDaily
	var planType models.PlanType
	if active {
		ceiling = plan.DailyLimit
		planType = plan.Type
	}

	return Decision{
		Allowed: ent.UsageCount < ceiling,
		Used:    ent.UsageCount,
		Ceiling: ceiling,
		Plan:    planType,
	}
}

// Record consumes one quota unit for today. Call it only after a job has
// produced an artifact: a failed generation costs the user nothing.
func (e *Engine) Record(ctx context.Context, chatID int64) {
	if e.isAdmin(chatID) {
		return
	}
	if err := e.store.IncrementUsage(ctx, chatID, e.now().UTC()); err != nil {
		e.storeError("increment usage", err)
	}
}

// Status returns the user's current standing for display purposes.
func (e *Engine) Status(ctx context.Context, chatID int64) Decision {
	return e.Allow(ctx, chatID)
}

func (e *Engine) isAdmin(chatID int64) bool {
	return e.adminID != 0 && chatID == e.adminID
}

func (e *Engine) storeError(op string, err error) {
	e.log.Error("quota store failure, allowing request", "op", op, "err", err)
	if e.notify != nil {
		e.notify("quota store failure (" + op + "): " + err.Error())
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
