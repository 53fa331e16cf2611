package models

import (
	"math"
	"slices"
)

// Documented value ranges. Normalize clamps every config into these bounds.
const (
	MinMultiplier = 0.0
	MaxMultiplier = 10.0

	MaxBaseXPPerMinute = 1000.0
	MaxXPPerHourLimit  = 100000
	MaxDailyXPLimit    = 1000000

	MinCalculationIntervalSeconds = 10
	MaxCalculationIntervalSeconds = 3600
	MinAFKDetectionMinutes        = 1
	MaxAFKDetectionMinutes        = 1440
	MaxMinSessionSeconds          = 86400
)

// Participant tier keys used in ChannelConfig.ParticipantBonus
const (
	TierSolo   = "solo"
	TierSmall  = "small"
	TierMedium = "medium"
	TierLarge  = "large"
	TierHuge   = "huge"
)

// Time-of-day bucket keys used in ChannelConfig.TimeMultipliers
const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

// ChannelConfig holds the XP policy for a single voice channel
type ChannelConfig struct {
	TrackType           TrackType                `json:"track_type"`
	BaseXPPerMinute     float64                  `json:"base_xp_per_minute"`
	ActivityMultipliers map[ActivityType]float64 `json:"activity_multipliers"`
	TimeMultipliers     map[string]float64       `json:"time_multipliers"`
	ParticipantBonus    map[string]float64       `json:"participant_bonus"`
	MinDurationSeconds  int                      `json:"min_duration_seconds"`
	MaxXPPerHour        int                      `json:"max_xp_per_hour"`
	Enabled             bool                     `json:"enabled"`
}

// TrackConfig holds the settings shared by every channel of a track
type TrackConfig struct {
	Name             string  `json:"name"`
	Description      string  `json:"description,omitempty"`
	GlobalMultiplier float64 `json:"global_multiplier"`
	Enabled          bool    `json:"enabled"`
}

// VoiceConfig is the per-guild voice XP policy
type VoiceConfig struct {
	Enabled          bool                      `json:"enabled"`
	GlobalMultiplier float64                   `json:"global_multiplier"`
	Channels         map[string]ChannelConfig  `json:"channels"`
	Tracks           map[TrackType]TrackConfig `json:"tracks"`

	DailyXPLimit                 int `json:"daily_xp_limit"`
	AFKDetectionMinutes          int `json:"afk_detection_minutes"`
	XPCalculationIntervalSeconds int `json:"xp_calculation_interval_seconds"`
	MinSessionSeconds            int `json:"min_session_seconds"`

	ExcludedChannelIDs []string `json:"excluded_channel_ids"`
	ExcludedUserIDs    []string `json:"excluded_user_ids"`
}

// DefaultChannelConfig returns the channel policy used for unconfigured channels
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		TrackType:       TrackGeneral,
		BaseXPPerMinute: 5,
		ActivityMultipliers: map[ActivityType]float64{
			ActivitySpeaking:  1.5,
			ActivityListening: 1.0,
			ActivityMuted:     0.5,
			ActivityDeafened:  0.1,
			ActivityAFK:       0.0,
		},
		TimeMultipliers: map[string]float64{
			TimeMorning:   1.0,
			TimeAfternoon: 1.2,
			TimeEvening:   1.1,
			TimeNight:     0.8,
		},
		ParticipantBonus: map[string]float64{
			TierSolo:   0.5,
			TierSmall:  1.0,
			TierMedium: 1.1,
			TierLarge:  1.2,
			TierHuge:   1.3,
		},
		MinDurationSeconds: 60,
		MaxXPPerHour:       600,
		Enabled:            true,
	}
}

// DefaultTrackConfig returns the seeded settings for a track
func DefaultTrackConfig(t TrackType) TrackConfig {
	tc := TrackConfig{Name: string(t), GlobalMultiplier: 1.0, Enabled: true}
	switch t {
	case TrackGeneral:
		tc.Description = "General hangout channels"
	case TrackStudy:
		tc.Description = "Focused study and co-working"
		tc.GlobalMultiplier = 1.2
	case TrackGaming:
		tc.Description = "Gaming sessions"
	case TrackMusic:
		tc.Description = "Music listening parties"
		tc.GlobalMultiplier = 0.8
	case TrackEvent:
		tc.Description = "Community events and stages"
		tc.GlobalMultiplier = 1.5
	}
	return tc
}

// DefaultVoiceConfig returns the built-in "balanced" policy
func DefaultVoiceConfig() *VoiceConfig {
	cfg := &VoiceConfig{
		Enabled:                      true,
		GlobalMultiplier:             1.0,
		Channels:                     make(map[string]ChannelConfig),
		Tracks:                       make(map[TrackType]TrackConfig),
		DailyXPLimit:                 2000,
		AFKDetectionMinutes:          10,
		XPCalculationIntervalSeconds: 60,
		MinSessionSeconds:            60,
	}
	for _, t := range DefaultTracks {
		cfg.Tracks[t] = DefaultTrackConfig(t)
	}
	return cfg
}

// PresetNames lists the presets accepted by Preset
var PresetNames = []string{"casual", "balanced", "competitive"}

// Preset returns a normalized config for the named preset. Unknown names
// yield the balanced preset and ok=false.
func Preset(name string) (cfg *VoiceConfig, ok bool) {
	cfg = DefaultVoiceConfig()
	ok = true
	switch name {
	case "balanced":
	case "casual":
		cfg.GlobalMultiplier = 1.2
		cfg.DailyXPLimit = 0
		cfg.MinSessionSeconds = 30
		cfg.AFKDetectionMinutes = 20
	case "competitive":
		cfg.GlobalMultiplier = 0.8
		cfg.DailyXPLimit = 1000
		cfg.MinSessionSeconds = 300
		cfg.AFKDetectionMinutes = 5
		cfg.XPCalculationIntervalSeconds = 120
	default:
		ok = false
	}
	cfg.Normalize()
	return cfg, ok
}

// Channel returns the policy for channelID, materializing a default entry
// the first time an unconfigured channel is referenced.
func (c *VoiceConfig) Channel(channelID string) ChannelConfig {
	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
	ch, ok := c.Channels[channelID]
	if !ok {
		ch = DefaultChannelConfig()
		c.Channels[channelID] = ch
	}
	return ch
}

// Track returns the settings of track t, if registered
func (c *VoiceConfig) Track(t TrackType) (TrackConfig, bool) {
	tc, ok := c.Tracks[t]
	return tc, ok
}

// IsChannelExcluded reports whether channelID is on the exclusion list
func (c *VoiceConfig) IsChannelExcluded(channelID string) bool {
	return slices.Contains(c.ExcludedChannelIDs, channelID)
}

// IsUserExcluded reports whether userID is on the exclusion list
func (c *VoiceConfig) IsUserExcluded(userID string) bool {
	return slices.Contains(c.ExcludedUserIDs, userID)
}

// ExcludeChannel adds channelID to the exclusion list
func (c *VoiceConfig) ExcludeChannel(channelID string) {
	if !c.IsChannelExcluded(channelID) {
		c.ExcludedChannelIDs = append(c.ExcludedChannelIDs, channelID)
	}
}

// IncludeChannel removes channelID from the exclusion list
func (c *VoiceConfig) IncludeChannel(channelID string) {
	c.ExcludedChannelIDs = slices.DeleteFunc(c.ExcludedChannelIDs, func(id string) bool {
		return id == channelID
	})
}

// Normalize clamps every value into its documented range, fills missing
// maps and re-seeds missing default tracks. It is idempotent.
func (c *VoiceConfig) Normalize() {
	c.GlobalMultiplier = clampFloat(c.GlobalMultiplier, MinMultiplier, MaxMultiplier)
	c.DailyXPLimit = clampInt(c.DailyXPLimit, 0, MaxDailyXPLimit)
	c.AFKDetectionMinutes = clampInt(c.AFKDetectionMinutes, MinAFKDetectionMinutes, MaxAFKDetectionMinutes)
	c.XPCalculationIntervalSeconds = clampInt(c.XPCalculationIntervalSeconds, MinCalculationIntervalSeconds, MaxCalculationIntervalSeconds)
	c.MinSessionSeconds = clampInt(c.MinSessionSeconds, 0, MaxMinSessionSeconds)

	if c.Tracks == nil {
		c.Tracks = make(map[TrackType]TrackConfig)
	}
	for _, t := range DefaultTracks {
		if _, ok := c.Tracks[t]; !ok {
			c.Tracks[t] = DefaultTrackConfig(t)
		}
	}
	for t, tc := range c.Tracks {
		tc.GlobalMultiplier = clampFloat(tc.GlobalMultiplier, MinMultiplier, MaxMultiplier)
		if tc.Name == "" {
			tc.Name = string(t)
		}
		c.Tracks[t] = tc
	}

	if c.Channels == nil {
		c.Channels = make(map[string]ChannelConfig)
	}
	for id, ch := range c.Channels {
		ch.normalize()
		c.Channels[id] = ch
	}

	c.ExcludedChannelIDs = dedupe(c.ExcludedChannelIDs)
	c.ExcludedUserIDs = dedupe(c.ExcludedUserIDs)
}

func (ch *ChannelConfig) normalize() {
	if ch.TrackType == "" {
		ch.TrackType = TrackGeneral
	}
	ch.BaseXPPerMinute = clampFloat(ch.BaseXPPerMinute, 0, MaxBaseXPPerMinute)
	ch.MinDurationSeconds = clampInt(ch.MinDurationSeconds, 0, MaxMinSessionSeconds)
	ch.MaxXPPerHour = clampInt(ch.MaxXPPerHour, 0, MaxXPPerHourLimit)

	if ch.ActivityMultipliers == nil {
		ch.ActivityMultipliers = make(map[ActivityType]float64)
	}
	for k, v := range ch.ActivityMultipliers {
		ch.ActivityMultipliers[k] = clampFloat(v, MinMultiplier, MaxMultiplier)
	}
	if ch.TimeMultipliers == nil {
		ch.TimeMultipliers = make(map[string]float64)
	}
	for k, v := range ch.TimeMultipliers {
		ch.TimeMultipliers[k] = clampFloat(v, MinMultiplier, MaxMultiplier)
	}
	if ch.ParticipantBonus == nil {
		ch.ParticipantBonus = make(map[string]float64)
	}
	for k, v := range ch.ParticipantBonus {
		ch.ParticipantBonus[k] = clampFloat(v, MinMultiplier, MaxMultiplier)
	}
}

// ParticipantTier maps a live occupant count to its bonus tier key
func ParticipantTier(participants int) string {
	switch {
	case participants <= 1:
		return TierSolo
	case participants <= 4:
		return TierSmall
	case participants <= 8:
		return TierMedium
	case participants <= 15:
		return TierLarge
	default:
		return TierHuge
	}
}

// TimeBucket maps a local hour (0-23) to its time-of-day key
func TimeBucket(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return TimeMorning
	case hour >= 12 && hour < 18:
		return TimeAfternoon
	case hour >= 18 && hour < 22:
		return TimeEvening
	default:
		return TimeNight
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	out = slices.Compact(out)
	return slices.DeleteFunc(out, func(id string) bool { return id == "" })
}
