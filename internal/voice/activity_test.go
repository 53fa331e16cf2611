package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"voicexp/internal/models"
)

func TestFlushActivityCarriesFractions(t *testing.T) {
	s := &models.ActiveSession{CurrentActivity: models.ActivitySpeaking, LastActivityTime: testStart}

	assert.Equal(t, int64(1), FlushActivity(s, testStart.Add(1500*time.Millisecond)))
	assert.Equal(t, int64(1), s.SpeakingSeconds)
	assert.Equal(t, testStart.Add(time.Second), s.LastActivityTime)

	// the leftover half second completes a second here
	assert.Equal(t, int64(1), FlushActivity(s, testStart.Add(2*time.Second)))
	assert.Equal(t, int64(2), s.SpeakingSeconds)
}

func TestFlushActivitySkipsMutedAndDeafened(t *testing.T) {
	for _, a := range []models.ActivityType{models.ActivityMuted, models.ActivityDeafened} {
		s := &models.ActiveSession{CurrentActivity: a, LastActivityTime: testStart}
		FlushActivity(s, testStart.Add(time.Minute))
		assert.Zero(t, s.BucketedSeconds(), a)
	}
}

func TestTransitionActivity(t *testing.T) {
	s := &models.ActiveSession{CurrentActivity: models.ActivityListening, LastActivityTime: testStart}

	assert.False(t, TransitionActivity(s, models.ActivityListening, testStart.Add(time.Minute)))
	assert.Zero(t, s.ListeningSeconds)
	assert.Equal(t, testStart, s.LastActivityTime)

	now := testStart.Add(90 * time.Second)
	assert.True(t, TransitionActivity(s, models.ActivitySpeaking, now))
	assert.Equal(t, int64(90), s.ListeningSeconds)
	assert.Equal(t, models.ActivitySpeaking, s.CurrentActivity)
	assert.Equal(t, now, s.LastActivityTime)
}
