package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicexp/internal/models"
)

func TestRegistryConcurrentGuildTraffic(t *testing.T) {
	env := newTestEnv(t, nil, Options{TickInterval: time.Millisecond})
	ctx := context.Background()

	users := []string{"alice", "bob", "carol", "dave"}
	channels := []string{"lounge", "gaming"}
	activities := []models.ActivityType{
		models.ActivitySpeaking,
		models.ActivityListening,
		models.ActivityMuted,
		models.ActivityDeafened,
	}

	stop := make(chan struct{})
	var clockWG sync.WaitGroup
	clockWG.Add(1)
	go func() {
		defer clockWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			env.clock.Advance(time.Second)
			time.Sleep(100 * time.Microsecond)
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			user := users[w%len(users)]
			for i := 0; i < 200; i++ {
				switch (w + i) % 5 {
				case 0, 1:
					env.registry.StartSession(ctx, guild, user, channels[(w+i)%len(channels)], models.ActivityListening)
				case 2:
					env.registry.UpdateActivity(guild, user, activities[i%len(activities)])
				case 3:
					env.registry.Recalculate(ctx, guild)
				case 4:
					env.registry.EndSession(ctx, guild, user, i%2 == 0)
				}

				seen := make(map[string]bool)
				for _, s := range env.registry.Sessions(guild) {
					assert.False(t, seen[s.UserID], "two live sessions for %s", s.UserID)
					seen[s.UserID] = true
					wall := int64(env.clock.Now().Sub(s.StartTime) / time.Second)
					assert.LessOrEqual(t, s.BucketedSeconds(), wall, s.SessionID)
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	clockWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.registry.Shutdown(shutdownCtx))

	completed := env.store.Completed()
	ids := make(map[string]bool)
	for _, c := range completed {
		assert.False(t, ids[c.SessionID], "session %s completed twice", c.SessionID)
		ids[c.SessionID] = true
		assert.LessOrEqual(t, c.SpeakingSeconds+c.ListeningSeconds+c.AFKSeconds, c.DurationSeconds, c.SessionID)
	}
	for _, id := range env.store.Discarded() {
		assert.False(t, ids[id], "session %s both completed and discarded", id)
		ids[id] = true
	}
	assert.Len(t, ids, len(env.store.Created()))
	assert.Zero(t, env.registry.ActiveCount())
	assert.False(t, env.registry.LoopRunning(guild))
}
