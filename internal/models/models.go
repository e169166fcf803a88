package models

import "time"

type PlanType string

const (
	PlanStarter  PlanType = "starter"
	PlanWeekly   PlanType = "weekly"
	PlanMonthly  PlanType = "monthly"
	PlanLifetime PlanType = "lifetime"
)

// Plan is one entry of the static subscription catalog. DailyLimit == 0
// means unlimited.
type Plan struct {
	Type         PlanType
	Name         string
	DurationDays int
	DailyLimit   int
	PriceUSD     int
}

func (p Plan) Unlimited() bool {
	return p.DailyLimit == 0
}

// Plans is the purchasable catalog, ordered cheapest first.
var Plans = []Plan{
	{Type: PlanStarter, Name: "Starter (1 day)", DurationDays: 1, DailyLimit: 10, PriceUSD: 2},
	{Type: PlanWeekly, Name: "Weekly (7 days)", DurationDays: 7, DailyLimit: 50, PriceUSD: 10},
	{Type: PlanMonthly, Name: "Monthly (30 days)", DurationDays: 30, DailyLimit: 150, PriceUSD: 25},
	{Type: PlanLifetime, Name: "Lifetime", DurationDays: 999999, DailyLimit: 0, PriceUSD: 50},
}

func PlanByType(t PlanType) (Plan, bool) {
	for _, p := range Plans {
		if p.Type == t {
			return p, true
		}
	}
	return Plan{}, false
}

// Entitlement is the per-user quota/plan row. UsageCount counts successful
// generations on LastResetDate (UTC calendar date).
type Entitlement struct {
	ChatID        int64
	UsageCount    int
	LastResetDate time.Time
	PlanType      PlanType
	PlanExpiry    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActivePlan returns the user's plan if its expiry is still in the future.
// An expired or absent plan means the user is on the free tier.
func (e *Entitlement) ActivePlan(now time.Time) (Plan, bool) {
	if e == nil || e.PlanType == "" || e.PlanExpiry == nil {
		return Plan{}, false
	}
	if !now.Before(*e.PlanExpiry) {
		return Plan{}, false
	}
	return PlanByType(e.PlanType)
}

// RedemptionKey is a one-time token that grants a plan. Once Used is set the
// key is permanently consumed.
type RedemptionKey struct {
	Token     string
	PlanType  PlanType
	Used      bool
	UsedBy    *int64
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Mode identifies a generation capability offered by the bot.
type Mode string

const (
	ModeSora   Mode = "sora"   // ModelsLab text-to-video
	ModeHailuo Mode = "hailuo" // ModelsLab text-to-video
	ModeNano   Mode = "nano"   // KIE text-to-image
	ModeEdit   Mode = "edit"   // ModelsLab image-to-image
	ModeVideo  Mode = "video"  // Higgsfield image-to-video
)

// RequiresImage reports whether the mode needs an uploaded reference image
// before a prompt can be accepted.
func (m Mode) RequiresImage() bool {
	return m == ModeEdit || m == ModeVideo
}

// ProducesVideo reports whether the artifact is a video (as opposed to an
// image), which decides how the bot delivers it.
func (m Mode) ProducesVideo() bool {
	return m == ModeSora || m == ModeHailuo || m == ModeVideo
}

func (m Mode) Title() string {
	switch m {
	case ModeSora:
		return "Sora 2 (text → video)"
	case ModeHailuo:
		return "Hailuo (text → video)"
	case ModeNano:
		return "Nano Banana Pro (text → image)"
	case ModeEdit:
		return "Nano Banana Edit (image → image)"
	case ModeVideo:
		return "Higgsfield DoP (image → video)"
	default:
		return string(m)
	}
}
