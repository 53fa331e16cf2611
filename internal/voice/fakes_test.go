package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"voicexp/internal/models"
)

// afternoon in UTC, so the default time multiplier is 1.2
var testStart = time.Date(2024, 3, 5, 13, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(t time.Time) *manualClock {
	return &manualClock{now: t}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// staticPolicy hands every guild a fresh copy of the same config
type staticPolicy struct {
	mu  sync.Mutex
	cfg *models.VoiceConfig
}

func newStaticPolicy(cfg *models.VoiceConfig) *staticPolicy {
	if cfg == nil {
		cfg = models.DefaultVoiceConfig()
	}
	cfg.Normalize()
	return &staticPolicy{cfg: cfg}
}

func (p *staticPolicy) GetGuildVoiceConfig(_ context.Context, _ string) *models.VoiceConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	raw, err := json.Marshal(p.cfg)
	if err != nil {
		panic(err)
	}
	var out models.VoiceConfig
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return &out
}

func (p *staticPolicy) Update(fn func(cfg *models.VoiceConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.cfg)
	p.cfg.Normalize()
}

type recordingStore struct {
	mu          sync.Mutex
	created     []models.ActiveSession
	checkpoints []models.ActiveSession
	completed   []models.CompletedSession
	discarded   []string
	failCreate  bool
}

func (s *recordingStore) CreateSessionRecord(_ context.Context, a models.ActiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errors.New("connection refused")
	}
	s.created = append(s.created, a)
	return nil
}

func (s *recordingStore) CheckpointSessionRecord(_ context.Context, a models.ActiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints = append(s.checkpoints, a)
	return nil
}

func (s *recordingStore) CompleteSessionRecord(_ context.Context, c models.CompletedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, c)
	return nil
}

func (s *recordingStore) DiscardSessionRecord(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discarded = append(s.discarded, sessionID)
	return nil
}

func (s *recordingStore) Completed() []models.CompletedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.CompletedSession(nil), s.completed...)
}

func (s *recordingStore) Created() []models.ActiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActiveSession(nil), s.created...)
}

func (s *recordingStore) Discarded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.discarded...)
}

func (s *recordingStore) Checkpoints() []models.ActiveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActiveSession(nil), s.checkpoints...)
}

type grant struct {
	guildID string
	userID  string
	amount  int
}

type recordingLedger struct {
	mu     sync.Mutex
	grants []grant
	err    error
}

func (l *recordingLedger) GrantXP(_ context.Context, guildID, userID string, amount int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, 0, l.err
	}
	l.grants = append(l.grants, grant{guildID: guildID, userID: userID, amount: amount})
	return amount >= 100, 1, nil
}

func (l *recordingLedger) Grants() []grant {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]grant(nil), l.grants...)
}

type testEnv struct {
	clock    *manualClock
	policy   *staticPolicy
	store    *recordingStore
	ledger   *recordingLedger
	registry *Registry
}

func newTestEnv(t *testing.T, cfg *models.VoiceConfig, opts Options) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:  newManualClock(testStart),
		policy: newStaticPolicy(cfg),
		store:  &recordingStore{},
		ledger: &recordingLedger{},
	}

	seq := 0
	var seqMu sync.Mutex
	if opts.Clock == nil {
		opts.Clock = env.clock.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("session-%d", seq)
		}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TickInterval == 0 {
		// Keep background loops quiet; tests drive Recalculate by hand.
		opts.TickInterval = time.Hour
	}
	opts.Logger = zerolog.Nop()

	bridge := NewBridge(env.store, env.ledger, nil, zerolog.Nop(), nil)
	env.registry = NewRegistry(env.policy, bridge, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, env.registry.Shutdown(ctx))
	})
	return env
}
