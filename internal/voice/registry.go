package voice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voicexp/internal/models"
)

// Options tunes a Registry. Zero values pick production defaults.
type Options struct {
	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
	// NewSessionID mints session tokens. Defaults to random UUIDs.
	NewSessionID func() string
	// Location is the time zone of the time-of-day multipliers.
	Location *time.Location
	// TickInterval overrides every guild's calculation interval as the loop
	// period. The accrual gate still uses the guild config.
	TickInterval time.Duration
	// Checkpoint writes pending XP of live sessions on every productive tick.
	Checkpoint bool
	Logger     zerolog.Logger
	Metrics    *Metrics
}

// Registry is the authoritative table of live voice sessions, at most one
// per (guild, user). Each guild's session set is guarded by its own mutex;
// each user's operations are serialized end to end, bridge I/O included.
type Registry struct {
	policy       PolicyProvider
	bridge       *Bridge
	calc         *Calculator
	clock        func() time.Time
	newID        func() string
	tickInterval time.Duration
	checkpoint   bool
	log          zerolog.Logger
	metrics      *Metrics

	users *keyedMutex

	lifecycle sync.RWMutex
	closed    bool

	mu     sync.Mutex
	guilds map[string]*guildState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type guildState struct {
	mu       sync.Mutex
	sessions map[string]*models.ActiveSession // key: userID
	channels map[string]map[string]struct{}   // key: channelID -> userIDs
	loop     *guildLoop
}

// NewRegistry creates a session registry
func NewRegistry(policy PolicyProvider, bridge *Bridge, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = uuid.NewString
	}
	if bridge == nil {
		bridge = NewBridge(nil, nil, nil, opts.Logger, opts.Metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		policy:       policy,
		bridge:       bridge,
		calc:         NewCalculator(opts.Location),
		clock:        opts.Clock,
		newID:        opts.NewSessionID,
		tickInterval: opts.TickInterval,
		checkpoint:   opts.Checkpoint,
		log:          opts.Logger.With().Str("component", "registry").Logger(),
		metrics:      opts.Metrics,
		users:        newKeyedMutex(),
		guilds:       make(map[string]*guildState),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// StartSession opens a session for userID in channelID. It declines, returning
// ok=false, when voice XP is off for the guild or the user or channel is
// excluded. An existing session of the user is force-ended first.
func (r *Registry) StartSession(ctx context.Context, guildID, userID, channelID string, activity models.ActivityType) (sessionID string, ok bool) {
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()
	if r.closed {
		return "", false
	}

	unlock := r.users.Lock(userKey(guildID, userID))
	defer unlock()

	cfg := r.policy.GetGuildVoiceConfig(ctx, guildID)

	if _, live := r.Session(guildID, userID); live {
		r.endSession(ctx, guildID, userID, true, cfg)
	}

	if reason := declineReason(cfg, userID, channelID); reason != "" {
		r.log.Debug().
			Str("guild_id", guildID).
			Str("user_id", userID).
			Str("channel_id", channelID).
			Str("reason", reason).
			Msg("voice session not started")
		return "", false
	}
	if !activity.Valid() {
		activity = models.ActivityListening
	}

	now := r.clock()
	s := &models.ActiveSession{
		SessionID:             r.newID(),
		GuildID:               guildID,
		UserID:                userID,
		ChannelID:             channelID,
		StartTime:             now,
		LastActivityTime:      now,
		LastXPCalculationTime: now,
		CurrentActivity:       activity,
		TrackType:             cfg.Channel(channelID).TrackType,
	}

	g := r.guild(guildID)
	g.mu.Lock()
	g.sessions[userID] = s
	members, exists := g.channels[channelID]
	if !exists {
		members = make(map[string]struct{})
		g.channels[channelID] = members
	}
	members[userID] = struct{}{}
	settled := r.recount(g, channelID, cfg, now)
	snapshot := *s
	r.ensureLoopLocked(guildID, g, cfg)
	g.mu.Unlock()

	r.metrics.sessionStarted()
	r.metrics.accrued(settled)
	r.log.Info().
		Str("session_id", snapshot.SessionID).
		Str("guild_id", guildID).
		Str("user_id", userID).
		Str("channel_id", channelID).
		Str("activity", string(activity)).
		Int("participants", snapshot.CurrentParticipants).
		Msg("voice session started")

	r.bridge.SessionStarted(ctx, snapshot)
	return snapshot.SessionID, true
}

// EndSession closes the user's session. It returns nil when there is no
// session, or when a non-forced session is shorter than the minimum
// duration; such sessions leave no record and grant no XP.
func (r *Registry) EndSession(ctx context.Context, guildID, userID string, force bool) *models.CompletedSession {
	unlock := r.users.Lock(userKey(guildID, userID))
	defer unlock()

	if _, live := r.Session(guildID, userID); !live {
		return nil
	}
	cfg := r.policy.GetGuildVoiceConfig(ctx, guildID)
	return r.endSession(ctx, guildID, userID, force, cfg)
}

// endSession expects the caller to hold the user's lock
func (r *Registry) endSession(ctx context.Context, guildID, userID string, force bool, cfg *models.VoiceConfig) *models.CompletedSession {
	g := r.lookupGuild(guildID)
	if g == nil {
		return nil
	}

	now := r.clock()
	g.mu.Lock()
	s, ok := g.sessions[userID]
	if !ok {
		g.mu.Unlock()
		return nil
	}
	FlushActivity(s, now)
	acc := r.calc.Apply(s, cfg, now)
	settled := 0
	delete(g.sessions, userID)
	if members := g.channels[s.ChannelID]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(g.channels, s.ChannelID)
		} else {
			settled = r.recount(g, s.ChannelID, cfg, now)
		}
	}
	if len(g.sessions) == 0 {
		g.stopLoop()
	}
	g.mu.Unlock()

	r.metrics.accrued(acc.XP + settled)

	log := r.log.With().
		Str("session_id", s.SessionID).
		Str("guild_id", guildID).
		Str("user_id", userID).
		Logger()

	duration := int64(now.Sub(s.StartTime) / time.Second)
	minimum := int64(max(cfg.MinSessionSeconds, cfg.Channel(s.ChannelID).MinDurationSeconds))
	if !force && duration < minimum {
		r.metrics.sessionEnded(false)
		log.Debug().Int64("duration_seconds", duration).Int64("min_seconds", minimum).Msg("voice session too short, discarded")
		r.bridge.SessionDiscarded(ctx, s.SessionID)
		return nil
	}

	completed := &models.CompletedSession{
		SessionID:        s.SessionID,
		GuildID:          s.GuildID,
		UserID:           s.UserID,
		ChannelID:        s.ChannelID,
		StartTime:        s.StartTime,
		EndTime:          now,
		DurationSeconds:  duration,
		SpeakingSeconds:  s.SpeakingSeconds,
		ListeningSeconds: s.ListeningSeconds,
		AFKSeconds:       s.AFKSeconds,
		TotalXPEarned:    s.PendingXP,
		PeakParticipants: s.PeakParticipants,
		TrackType:        s.TrackType,
		IsCompleted:      true,
	}

	r.metrics.sessionEnded(true)
	log.Info().
		Int64("duration_seconds", duration).
		Int("xp", completed.TotalXPEarned).
		Bool("forced", force).
		Msg("voice session completed")

	r.bridge.SessionCompleted(ctx, *completed, cfg.DailyXPLimit, now)
	return completed
}

// UpdateActivity credits the time spent in the previous activity to its
// bucket and switches the session to activity. Unknown users are ignored.
func (r *Registry) UpdateActivity(guildID, userID string, activity models.ActivityType) bool {
	if !activity.Valid() {
		return false
	}

	unlock := r.users.Lock(userKey(guildID, userID))
	defer unlock()

	g := r.lookupGuild(guildID)
	if g == nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[userID]
	if !ok {
		return false
	}
	previous := s.CurrentActivity
	if !TransitionActivity(s, activity, r.clock()) {
		return false
	}

	r.log.Debug().
		Str("session_id", s.SessionID).
		Str("from", string(previous)).
		Str("to", string(activity)).
		Msg("voice activity changed")
	return true
}

// Session returns a snapshot of the user's live session with its buckets
// brought up to date.
func (r *Registry) Session(guildID, userID string) (models.ActiveSession, bool) {
	g := r.lookupGuild(guildID)
	if g == nil {
		return models.ActiveSession{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[userID]
	if !ok {
		return models.ActiveSession{}, false
	}
	snapshot := *s
	FlushActivity(&snapshot, r.clock())
	return snapshot, true
}

// Sessions returns snapshots of every live session in a guild, oldest first
func (r *Registry) Sessions(guildID string) []models.ActiveSession {
	g := r.lookupGuild(guildID)
	if g == nil {
		return nil
	}

	now := r.clock()
	g.mu.Lock()
	out := make([]models.ActiveSession, 0, len(g.sessions))
	for _, s := range g.sessions {
		snapshot := *s
		FlushActivity(&snapshot, now)
		out = append(out, snapshot)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ActiveCount returns the number of live sessions across all guilds
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	states := make([]*guildState, 0, len(r.guilds))
	for _, g := range r.guilds {
		states = append(states, g)
	}
	r.mu.Unlock()

	total := 0
	for _, g := range states {
		g.mu.Lock()
		total += len(g.sessions)
		g.mu.Unlock()
	}
	return total
}

// Shutdown stops accepting sessions, force-ends every live one and waits
// for the guild loops to exit.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return nil
	}
	r.closed = true
	r.lifecycle.Unlock()

	drained := 0
	for _, key := range r.liveKeys() {
		if r.EndSession(ctx, key.guildID, key.userID, true) != nil {
			drained++
		}
	}
	r.log.Info().Int("sessions", drained).Msg("voice sessions drained")

	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sessionKey struct {
	guildID string
	userID  string
}

func (r *Registry) liveKeys() []sessionKey {
	r.mu.Lock()
	ids := make([]string, 0, len(r.guilds))
	for id := range r.guilds {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var keys []sessionKey
	for _, guildID := range ids {
		g := r.lookupGuild(guildID)
		g.mu.Lock()
		for userID := range g.sessions {
			keys = append(keys, sessionKey{guildID: guildID, userID: userID})
		}
		g.mu.Unlock()
	}
	return keys
}

func (r *Registry) guild(guildID string) *guildState {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guilds[guildID]
	if !ok {
		g = &guildState{
			sessions: make(map[string]*models.ActiveSession),
			channels: make(map[string]map[string]struct{}),
		}
		r.guilds[guildID] = g
	}
	return g
}

func (r *Registry) lookupGuild(guildID string) *guildState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guilds[guildID]
}

// recount refreshes the participant snapshot of every session in channelID.
// Sessions whose participant tier changes run an accrual step first so time
// already spent is rated at the old tier. The step keeps the interval gate,
// so join and leave churn cannot reset the watermark. It returns the XP
// accrued. Callers hold g.mu.
func (r *Registry) recount(g *guildState, channelID string, cfg *models.VoiceConfig, now time.Time) int {
	members := g.channels[channelID]
	n := len(members)
	settled := 0
	for userID := range members {
		s, ok := g.sessions[userID]
		if !ok || s.ChannelID != channelID {
			continue
		}
		if s.CurrentParticipants > 0 && models.ParticipantTier(s.CurrentParticipants) != models.ParticipantTier(n) {
			settled += r.calc.Apply(s, cfg, now).XP
		}
		s.CurrentParticipants = n
		if n > s.PeakParticipants {
			s.PeakParticipants = n
		}
	}
	return settled
}

func declineReason(cfg *models.VoiceConfig, userID, channelID string) string {
	switch {
	case !cfg.Enabled:
		return "disabled"
	case cfg.IsUserExcluded(userID):
		return "user_excluded"
	case cfg.IsChannelExcluded(channelID):
		return "channel_excluded"
	}
	ch := cfg.Channel(channelID)
	if !ch.Enabled {
		return "channel_disabled"
	}
	if tc, ok := cfg.Track(ch.TrackType); ok && !tc.Enabled {
		return "track_disabled"
	}
	return ""
}

func userKey(guildID, userID string) string {
	return guildID + ":" + userID
}
