package voice

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"voicexp/internal/models"
)

// SessionStore persists session rows
type SessionStore interface {
	CreateSessionRecord(ctx context.Context, s models.ActiveSession) error
	CheckpointSessionRecord(ctx context.Context, s models.ActiveSession) error
	CompleteSessionRecord(ctx context.Context, c models.CompletedSession) error
	DiscardSessionRecord(ctx context.Context, sessionID string) error
}

// Ledger is the leveling ledger that ultimately records XP
type Ledger interface {
	GrantXP(ctx context.Context, guildID, userID string, amount int) (leveledUp bool, newLevel int, err error)
}

// GrantHook is called after a completed session's XP reached the ledger
type GrantHook func(ctx context.Context, c models.CompletedSession, r models.GrantResult)

// Bridge moves session state out of the engine into durable storage and the
// ledger. Failures are logged and counted, never returned: accrual goes on
// in memory regardless.
type Bridge struct {
	store   SessionStore
	ledger  Ledger
	limiter DailyLimiter
	onGrant GrantHook
	log     zerolog.Logger
	metrics *Metrics
}

// NewBridge creates a bridge. limiter may be nil to disable daily limits.
func NewBridge(store SessionStore, ledger Ledger, limiter DailyLimiter, log zerolog.Logger, metrics *Metrics) *Bridge {
	return &Bridge{
		store:   store,
		ledger:  ledger,
		limiter: limiter,
		log:     log.With().Str("component", "bridge").Logger(),
		metrics: metrics,
	}
}

// OnGrant registers a hook fired after every successful ledger grant
func (b *Bridge) OnGrant(hook GrantHook) {
	b.onGrant = hook
}

// SessionStarted writes the initial, incomplete row for s
func (b *Bridge) SessionStarted(ctx context.Context, s models.ActiveSession) {
	if b.store == nil {
		return
	}
	if err := b.store.CreateSessionRecord(ctx, s); err != nil {
		b.metrics.persistenceError("create")
		b.log.Error().Err(err).
			Str("session_id", s.SessionID).
			Str("guild_id", s.GuildID).
			Str("user_id", s.UserID).
			Msg("failed to create session record")
	}
}

// SessionCheckpoint records the pending XP and buckets of a live session.
// It never grants XP.
func (b *Bridge) SessionCheckpoint(ctx context.Context, s models.ActiveSession) {
	if b.store == nil {
		return
	}
	if err := b.store.CheckpointSessionRecord(ctx, s); err != nil {
		b.metrics.persistenceError("checkpoint")
		b.log.Warn().Err(err).Str("session_id", s.SessionID).Msg("failed to checkpoint session record")
	}
}

// SessionDiscarded removes the row of a session dropped by the minimum
// duration filter.
func (b *Bridge) SessionDiscarded(ctx context.Context, sessionID string) {
	if b.store == nil {
		return
	}
	if err := b.store.DiscardSessionRecord(ctx, sessionID); err != nil {
		b.metrics.persistenceError("discard")
		b.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to discard session record")
	}
}

// SessionCompleted finalizes the row of c and hands its XP to the ledger,
// trimmed to what is left of the user's daily allowance.
func (b *Bridge) SessionCompleted(ctx context.Context, c models.CompletedSession, dailyLimit int, now time.Time) models.GrantResult {
	log := b.log.With().
		Str("session_id", c.SessionID).
		Str("guild_id", c.GuildID).
		Str("user_id", c.UserID).
		Logger()

	if b.store != nil {
		if err := b.store.CompleteSessionRecord(ctx, c); err != nil {
			b.metrics.persistenceError("complete")
			log.Error().Err(err).Msg("failed to complete session record")
		}
	}

	var result models.GrantResult
	amount := c.TotalXPEarned
	if amount <= 0 || b.ledger == nil {
		return result
	}

	if b.limiter != nil {
		reserved, err := b.limiter.Reserve(ctx, c.GuildID, c.UserID, amount, dailyLimit, now)
		if err != nil {
			// Limiter errors fail open.
			log.Warn().Err(err).Msg("failed to reserve daily allowance, granting in full")
		} else {
			if reserved < amount {
				log.Info().Int("earned", amount).Int("granted", reserved).Int("daily_limit", dailyLimit).Msg("daily xp limit reached")
			}
			amount = reserved
		}
	}
	if amount <= 0 {
		return result
	}

	leveledUp, level, err := b.ledger.GrantXP(ctx, c.GuildID, c.UserID, amount)
	if err != nil {
		b.metrics.persistenceError("grant")
		log.Error().Err(err).Int("xp", amount).Msg("failed to grant session xp")
		return result
	}

	result = models.GrantResult{Granted: amount, LeveledUp: leveledUp, NewLevel: level}
	b.metrics.granted(amount)
	log.Info().Int("xp", amount).Bool("leveled_up", leveledUp).Int("level", level).Msg("session xp granted")

	if b.onGrant != nil {
		b.onGrant(ctx, c, result)
	}
	return result
}
