package models

import "time"

// ActivityType classifies what a user is currently doing in a voice channel
type ActivityType string

const (
	ActivitySpeaking  ActivityType = "speaking"
	ActivityListening ActivityType = "listening"
	ActivityAFK       ActivityType = "afk"
	ActivityMuted     ActivityType = "muted"
	ActivityDeafened  ActivityType = "deafened"
)

// Valid reports whether a is one of the known activity types
func (a ActivityType) Valid() bool {
	switch a {
	case ActivitySpeaking, ActivityListening, ActivityAFK, ActivityMuted, ActivityDeafened:
		return true
	}
	return false
}

// TrackType is a logical category of voice channel
type TrackType string

const (
	TrackGeneral TrackType = "general"
	TrackStudy   TrackType = "study"
	TrackGaming  TrackType = "gaming"
	TrackMusic   TrackType = "music"
	TrackEvent   TrackType = "event"
)

// DefaultTracks lists the tracks every VoiceConfig is seeded with
var DefaultTracks = []TrackType{TrackGeneral, TrackStudy, TrackGaming, TrackMusic, TrackEvent}

// ActiveSession represents a user's live presence in a voice channel
type ActiveSession struct {
	SessionID string
	GuildID   string
	UserID    string
	ChannelID string

	StartTime             time.Time
	LastActivityTime      time.Time
	LastXPCalculationTime time.Time

	SpeakingSeconds  int64
	ListeningSeconds int64
	AFKSeconds       int64

	CurrentActivity     ActivityType
	CurrentParticipants int
	PeakParticipants    int
	TrackType           TrackType

	PendingXP int
}

// BucketedSeconds returns the sum of the speaking, listening and AFK buckets
func (s *ActiveSession) BucketedSeconds() int64 {
	return s.SpeakingSeconds + s.ListeningSeconds + s.AFKSeconds
}

// CompletedSession is the immutable record of a finished session
type CompletedSession struct {
	SessionID string
	GuildID   string
	UserID    string
	ChannelID string

	StartTime time.Time
	EndTime   time.Time

	DurationSeconds  int64
	SpeakingSeconds  int64
	ListeningSeconds int64
	AFKSeconds       int64

	TotalXPEarned    int
	PeakParticipants int
	TrackType        TrackType
	IsCompleted      bool
}

// GrantResult is what the leveling ledger reports back after an XP grant
type GrantResult struct {
	Granted   int
	LeveledUp bool
	NewLevel  int
}

// VoiceXPEntry represents a row of the voice XP ledger
type VoiceXPEntry struct {
	UserID  string
	GuildID string
	TotalXP int64
	Level   int
}
