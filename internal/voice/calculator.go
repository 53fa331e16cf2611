package voice

import (
	"math"
	"time"

	"voicexp/internal/models"
)

// floatSlack absorbs float64 rounding so 5*1.2 floors to 6, not 5.
const floatSlack = 1e-9

// AccrualInput carries every quantity the XP formula depends on
type AccrualInput struct {
	BaseXPPerMinute       float64
	ElapsedSeconds        float64
	ActivityMultiplier    float64
	ParticipantMultiplier float64
	TimeMultiplier        float64
	TrackMultiplier       float64
	GlobalMultiplier      float64
	MaxXPPerHour          int
}

// Accrual is the breakdown of one calculation step
type Accrual struct {
	AccrualInput
	BaseXP   int
	Uncapped int
	XP       int
	Capped   bool
	Skipped  bool
}

// ComputeXP applies the multiplier chain and the prorated hourly cap. It is
// a pure function of its input.
func ComputeXP(in AccrualInput) Accrual {
	out := Accrual{AccrualInput: in}
	if in.ElapsedSeconds <= 0 {
		return out
	}

	out.BaseXP = floorXP(in.BaseXPPerMinute * in.ElapsedSeconds / 60)
	product := in.ActivityMultiplier * in.ParticipantMultiplier * in.TimeMultiplier *
		in.TrackMultiplier * in.GlobalMultiplier
	out.Uncapped = floorXP(float64(out.BaseXP) * product)

	limit := floorXP(float64(in.MaxXPPerHour) * in.ElapsedSeconds / 3600)
	out.XP = out.Uncapped
	if out.XP > limit {
		out.XP = limit
		out.Capped = true
	}
	if out.XP < 0 {
		out.XP = 0
	}
	return out
}

func floorXP(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(v + floatSlack))
}

// Calculator turns elapsed session time into XP under a guild policy
type Calculator struct {
	loc *time.Location
}

// NewCalculator creates a calculator that buckets time of day in loc
func NewCalculator(loc *time.Location) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{loc: loc}
}

// Location returns the time zone used for time-of-day buckets
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// Input resolves the multiplier inputs for s at now without touching s
func (c *Calculator) Input(s *models.ActiveSession, cfg *models.VoiceConfig, now time.Time) AccrualInput {
	ch := cfg.Channel(s.ChannelID)

	in := AccrualInput{
		BaseXPPerMinute:       ch.BaseXPPerMinute,
		ElapsedSeconds:        now.Sub(s.LastXPCalculationTime).Seconds(),
		ActivityMultiplier:    activityMultiplier(ch, s.CurrentActivity),
		ParticipantMultiplier: lookup(ch.ParticipantBonus, models.ParticipantTier(s.CurrentParticipants), 1.0),
		TimeMultiplier:        lookup(ch.TimeMultipliers, models.TimeBucket(now.In(c.loc).Hour()), 1.0),
		TrackMultiplier:       1.0,
		GlobalMultiplier:      cfg.GlobalMultiplier,
		MaxXPPerHour:          ch.MaxXPPerHour,
	}
	if tc, ok := cfg.Track(ch.TrackType); ok {
		in.TrackMultiplier = tc.GlobalMultiplier
	}
	return in
}

// Apply runs one accrual step on s. Nothing happens until at least the
// guild's calculation interval has elapsed since the previous step; after
// that the calculation watermark always advances to now, even when the
// step yields no XP.
func (c *Calculator) Apply(s *models.ActiveSession, cfg *models.VoiceConfig, now time.Time) Accrual {
	in := c.Input(s, cfg, now)
	if in.ElapsedSeconds < float64(cfg.XPCalculationIntervalSeconds) {
		return Accrual{AccrualInput: in, Skipped: true}
	}

	out := ComputeXP(in)
	if out.XP > 0 {
		s.PendingXP += out.XP
	}
	s.LastXPCalculationTime = now
	return out
}

// Settle accrues the time up to now without the interval gate. It runs when
// a rating input of s changed at a known instant, so the time before it is
// rated under the inputs that were in effect.
func (c *Calculator) Settle(s *models.ActiveSession, cfg *models.VoiceConfig, now time.Time) Accrual {
	in := c.Input(s, cfg, now)
	if in.ElapsedSeconds <= 0 {
		return Accrual{AccrualInput: in, Skipped: true}
	}

	out := ComputeXP(in)
	if out.XP > 0 {
		s.PendingXP += out.XP
	}
	s.LastXPCalculationTime = now
	return out
}

func activityMultiplier(ch models.ChannelConfig, a models.ActivityType) float64 {
	if v, ok := ch.ActivityMultipliers[a]; ok {
		return v
	}
	if a == models.ActivityListening {
		return 1.0
	}
	return 0.5
}

func lookup(m map[string]float64, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
