package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicexp/internal/models"
)

type fakeConfigRepo struct {
	mu      sync.Mutex
	configs map[string]*models.VoiceConfig
	loads   int
	loadErr error
	saveErr error
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: make(map[string]*models.VoiceConfig)}
}

func (f *fakeConfigRepo) LoadVoiceConfig(_ context.Context, guildID string) (*models.VoiceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	cfg, ok := f.configs[guildID]
	if !ok {
		return nil, ErrConfigNotFound
	}
	return cfg, nil
}

func (f *fakeConfigRepo) SaveVoiceConfig(_ context.Context, guildID string, cfg *models.VoiceConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.configs[guildID] = cfg
	return nil
}

func (f *fakeConfigRepo) Loads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func newTestPolicyStore(repo ConfigRepository) *PolicyStore {
	return NewPolicyStore(repo, 1, time.Minute, zerolog.Nop(), nil)
}

func TestPolicyStoreWithoutRepository(t *testing.T) {
	store := newTestPolicyStore(nil)

	cfg := store.GetGuildVoiceConfig(context.Background(), guild)
	assert.Equal(t, models.DefaultVoiceConfig().DailyXPLimit, cfg.DailyXPLimit)
	assert.True(t, cfg.Enabled)
}

func TestPolicyStoreCachesMissingConfig(t *testing.T) {
	repo := newFakeConfigRepo()
	store := newTestPolicyStore(repo)
	ctx := context.Background()

	first := store.GetGuildVoiceConfig(ctx, guild)
	second := store.GetGuildVoiceConfig(ctx, guild)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, repo.Loads())
}

func TestPolicyStoreDoesNotCacheErrors(t *testing.T) {
	repo := newFakeConfigRepo()
	repo.loadErr = errors.New("connection reset by peer")
	store := newTestPolicyStore(repo)
	ctx := context.Background()

	cfg := store.GetGuildVoiceConfig(ctx, guild)
	assert.Equal(t, 1.0, cfg.GlobalMultiplier)
	store.GetGuildVoiceConfig(ctx, guild)
	assert.Equal(t, 2, repo.Loads())
}

func TestPolicyStoreLoadReportsErrors(t *testing.T) {
	repo := newFakeConfigRepo()
	repo.loadErr = errors.New("connection reset by peer")
	store := newTestPolicyStore(repo)
	ctx := context.Background()

	cfg, err := store.LoadGuildVoiceConfig(ctx, guild)
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.loadErr)
	assert.Nil(t, cfg)

	repo.loadErr = nil
	stored := models.DefaultVoiceConfig()
	stored.GlobalMultiplier = 3
	repo.configs[guild] = stored

	cfg, err = store.LoadGuildVoiceConfig(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, 3.0, cfg.GlobalMultiplier)
	assert.Equal(t, 2, repo.Loads())
}

func TestPolicyStoreLoadMissingConfigIsDefault(t *testing.T) {
	store := newTestPolicyStore(newFakeConfigRepo())

	cfg, err := store.LoadGuildVoiceConfig(context.Background(), "unknown-guild")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultVoiceConfig().GlobalMultiplier, cfg.GlobalMultiplier)
	assert.True(t, cfg.Enabled)
}

func TestPolicyStoreReturnsPrivateCopies(t *testing.T) {
	store := newTestPolicyStore(newFakeConfigRepo())
	ctx := context.Background()

	cfg := store.GetGuildVoiceConfig(ctx, guild)
	cfg.Enabled = false
	cfg.ExcludeChannel("lounge")

	fresh := store.GetGuildVoiceConfig(ctx, guild)
	assert.True(t, fresh.Enabled)
	assert.Empty(t, fresh.ExcludedChannelIDs)
}

func TestPolicyStoreSaveNormalizesAndRefreshes(t *testing.T) {
	repo := newFakeConfigRepo()
	store := newTestPolicyStore(repo)
	ctx := context.Background()

	store.GetGuildVoiceConfig(ctx, guild)

	cfg := models.DefaultVoiceConfig()
	cfg.GlobalMultiplier = 50
	cfg.XPCalculationIntervalSeconds = 1
	require.NoError(t, store.SaveGuildVoiceConfig(ctx, guild, cfg))

	saved := repo.configs[guild]
	require.NotNil(t, saved)
	assert.Equal(t, models.MaxMultiplier, saved.GlobalMultiplier)
	assert.Equal(t, models.MinCalculationIntervalSeconds, saved.XPCalculationIntervalSeconds)

	got := store.GetGuildVoiceConfig(ctx, guild)
	assert.Equal(t, models.MaxMultiplier, got.GlobalMultiplier)
	assert.Equal(t, 1, repo.Loads())
}

func TestPolicyStoreSaveFailure(t *testing.T) {
	repo := newFakeConfigRepo()
	repo.saveErr = errors.New("disk full")
	store := newTestPolicyStore(repo)

	err := store.SaveGuildVoiceConfig(context.Background(), guild, models.DefaultVoiceConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, repo.saveErr)
	assert.Error(t, store.SaveGuildVoiceConfig(context.Background(), guild, nil))
}

func TestPolicyStoreInvalidate(t *testing.T) {
	repo := newFakeConfigRepo()
	store := newTestPolicyStore(repo)
	ctx := context.Background()

	store.GetGuildVoiceConfig(ctx, guild)
	stored := models.DefaultVoiceConfig()
	stored.Enabled = false
	repo.configs[guild] = stored

	assert.True(t, store.GetGuildVoiceConfig(ctx, guild).Enabled)
	store.Invalidate(guild)
	assert.False(t, store.GetGuildVoiceConfig(ctx, guild).Enabled)
	assert.Equal(t, 2, repo.Loads())
}
