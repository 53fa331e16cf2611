package voice

import (
	"context"
	"time"

	"voicexp/internal/models"
)

type guildLoop struct {
	cancel context.CancelFunc
}

// ensureLoopLocked starts the guild's recalculation loop unless one is
// already running. Callers hold g.mu.
func (r *Registry) ensureLoopLocked(guildID string, g *guildState, cfg *models.VoiceConfig) {
	if g.loop != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	loop := &guildLoop{cancel: cancel}
	g.loop = loop

	r.wg.Add(1)
	r.metrics.loopStarted()
	go r.runLoop(ctx, guildID, g, loop, r.intervalFor(cfg))
}

// stopLoop cancels the running loop, if any. Callers hold g.mu.
func (g *guildState) stopLoop() {
	if g.loop == nil {
		return
	}
	g.loop.cancel()
	g.loop = nil
}

// LoopRunning reports whether a recalculation loop is active for the guild
func (r *Registry) LoopRunning(guildID string) bool {
	g := r.lookupGuild(guildID)
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loop != nil
}

func (r *Registry) runLoop(ctx context.Context, guildID string, g *guildState, loop *guildLoop, interval time.Duration) {
	defer r.wg.Done()
	defer r.metrics.loopStopped()
	defer loop.cancel()

	log := r.log.With().Str("guild_id", guildID).Logger()
	log.Debug().Dur("interval", interval).Msg("guild recalculation loop started")
	defer log.Debug().Msg("guild recalculation loop stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		remaining, next := r.safeRecalculate(ctx, guildID)
		if remaining == 0 {
			g.mu.Lock()
			idle := len(g.sessions) == 0
			if g.loop != loop {
				g.mu.Unlock()
				return
			}
			if idle {
				g.loop = nil
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
		}
		if next > 0 && next != interval {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (r *Registry) safeRecalculate(ctx context.Context, guildID string) (remaining int, next time.Duration) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("guild_id", guildID).Interface("panic", p).Msg("recalculation tick panicked")
			remaining, next = 1, 0
		}
	}()
	return r.recalculate(ctx, guildID)
}

// Recalculate runs one accrual pass over every live session of a guild and
// returns how many sessions it saw.
func (r *Registry) Recalculate(ctx context.Context, guildID string) int {
	n, _ := r.recalculate(ctx, guildID)
	return n
}

func (r *Registry) recalculate(ctx context.Context, guildID string) (int, time.Duration) {
	started := time.Now()
	cfg := r.policy.GetGuildVoiceConfig(ctx, guildID)
	interval := r.intervalFor(cfg)

	g := r.lookupGuild(guildID)
	if g == nil {
		return 0, interval
	}

	now := r.clock()
	afkAfter := time.Duration(cfg.AFKDetectionMinutes) * time.Minute

	var checkpoints []models.ActiveSession
	accrued := 0

	g.mu.Lock()
	for _, s := range g.sessions {
		if s.CurrentActivity == models.ActivityDeafened && now.Sub(s.LastActivityTime) >= afkAfter {
			// The session went AFK at the threshold, not at this tick
			at := s.LastActivityTime.Add(afkAfter)
			if at.Before(s.LastXPCalculationTime) {
				at = s.LastXPCalculationTime
			}
			accrued += r.calc.Settle(s, cfg, at).XP
			TransitionActivity(s, models.ActivityAFK, at)
		}
		acc := r.calc.Apply(s, cfg, now)
		accrued += acc.XP
		if r.checkpoint && acc.XP > 0 {
			snapshot := *s
			FlushActivity(&snapshot, now)
			checkpoints = append(checkpoints, snapshot)
		}
	}
	n := len(g.sessions)
	g.mu.Unlock()

	r.metrics.accrued(accrued)
	for _, snapshot := range checkpoints {
		r.bridge.SessionCheckpoint(ctx, snapshot)
	}
	r.metrics.observeTick(time.Since(started))
	return n, interval
}

func (r *Registry) intervalFor(cfg *models.VoiceConfig) time.Duration {
	if r.tickInterval > 0 {
		return r.tickInterval
	}
	return time.Duration(cfg.XPCalculationIntervalSeconds) * time.Second
}
