package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"voicexp/internal/models"
)

// ErrConfigNotFound is returned by a ConfigRepository when a guild has no
// stored voice config.
var ErrConfigNotFound = errors.New("voice config not found")

// minCacheBytes is the smallest cache freecache accepts
const minCacheBytes = 512 * 1024

// ConfigRepository is the durable home of guild voice configs
type ConfigRepository interface {
	LoadVoiceConfig(ctx context.Context, guildID string) (*models.VoiceConfig, error)
	SaveVoiceConfig(ctx context.Context, guildID string, cfg *models.VoiceConfig) error
}

// PolicyProvider resolves the effective voice config of a guild
type PolicyProvider interface {
	GetGuildVoiceConfig(ctx context.Context, guildID string) *models.VoiceConfig
}

// PolicyStore resolves guild configs through a TTL cache in front of the
// repository. Reads never fail: any problem yields the balanced preset.
type PolicyStore struct {
	repo    ConfigRepository
	cache   *freecache.Cache
	ttl     int
	log     zerolog.Logger
	metrics *Metrics
}

// NewPolicyStore creates a policy store. repo may be nil, in which case every
// guild runs on the default preset.
func NewPolicyStore(repo ConfigRepository, cacheSizeMB int, ttl time.Duration, log zerolog.Logger, metrics *Metrics) *PolicyStore {
	size := max(cacheSizeMB*1024*1024, minCacheBytes)
	return &PolicyStore{
		repo:    repo,
		cache:   freecache.NewCache(size),
		ttl:     max(int(ttl.Seconds()), 1),
		log:     log.With().Str("component", "policy").Logger(),
		metrics: metrics,
	}
}

// GetGuildVoiceConfig returns a private, normalized copy of the guild's
// config. Callers may mutate it freely. A failed load yields the balanced
// default.
func (p *PolicyStore) GetGuildVoiceConfig(ctx context.Context, guildID string) *models.VoiceConfig {
	cfg, err := p.LoadGuildVoiceConfig(ctx, guildID)
	if err != nil {
		p.log.Warn().Err(err).Str("guild_id", guildID).Msg("failed to load voice config, using default preset")
		return models.DefaultVoiceConfig()
	}
	return cfg
}

// LoadGuildVoiceConfig is GetGuildVoiceConfig without the fallback. A guild
// with no stored config gets the default; repository failures are returned
// so read-modify-write callers never save over a config they could not read.
func (p *PolicyStore) LoadGuildVoiceConfig(ctx context.Context, guildID string) (*models.VoiceConfig, error) {
	if raw, err := p.cache.Get([]byte(guildID)); err == nil {
		var cfg models.VoiceConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			p.metrics.policyLookup("hit")
			cfg.Normalize()
			return &cfg, nil
		}
		p.cache.Del([]byte(guildID))
	}
	p.metrics.policyLookup("miss")

	if p.repo == nil {
		return models.DefaultVoiceConfig(), nil
	}

	cfg, err := p.repo.LoadVoiceConfig(ctx, guildID)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		cfg = models.DefaultVoiceConfig()
	case err != nil:
		return nil, fmt.Errorf("failed to load voice config: %w", err)
	case cfg == nil:
		cfg = models.DefaultVoiceConfig()
	}

	cfg.Normalize()
	p.store(guildID, cfg)
	return cfg, nil
}

// SaveGuildVoiceConfig clamps cfg, persists it and refreshes the cache
func (p *PolicyStore) SaveGuildVoiceConfig(ctx context.Context, guildID string, cfg *models.VoiceConfig) error {
	if cfg == nil {
		return fmt.Errorf("failed to save voice config: nil config")
	}
	cfg.Normalize()

	if p.repo != nil {
		if err := p.repo.SaveVoiceConfig(ctx, guildID, cfg); err != nil {
			p.metrics.persistenceError("save_config")
			return fmt.Errorf("failed to save voice config: %w", err)
		}
	}
	p.store(guildID, cfg)
	return nil
}

// Invalidate drops the cached config of a guild
func (p *PolicyStore) Invalidate(guildID string) {
	p.cache.Del([]byte(guildID))
}

func (p *PolicyStore) store(guildID string, cfg *models.VoiceConfig) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		p.log.Warn().Err(err).Str("guild_id", guildID).Msg("failed to encode voice config for cache")
		return
	}
	if err := p.cache.Set([]byte(guildID), raw, p.ttl); err != nil {
		p.log.Debug().Err(err).Str("guild_id", guildID).Msg("voice config not cached")
	}
}
