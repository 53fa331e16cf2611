package voice

import (
	"time"

	"voicexp/internal/models"
)

// FlushActivity moves the whole seconds elapsed since LastActivityTime into
// the bucket of the current activity. Muted and deafened time is not
// bucketed. The watermark advances only by the seconds counted, so
// fractions carry over and buckets never exceed wall time.
func FlushActivity(s *models.ActiveSession, now time.Time) int64 {
	elapsed := int64(now.Sub(s.LastActivityTime) / time.Second)
	if elapsed <= 0 {
		return 0
	}

	switch s.CurrentActivity {
	case models.ActivitySpeaking:
		s.SpeakingSeconds += elapsed
	case models.ActivityListening:
		s.ListeningSeconds += elapsed
	case models.ActivityAFK:
		s.AFKSeconds += elapsed
	}
	s.LastActivityTime = s.LastActivityTime.Add(time.Duration(elapsed) * time.Second)
	return elapsed
}

// TransitionActivity credits elapsed time to the previous activity, then
// switches s to next. Re-entering the current activity is a no-op so the
// idle clock used for AFK detection keeps running.
func TransitionActivity(s *models.ActiveSession, next models.ActivityType, now time.Time) bool {
	if s.CurrentActivity == next {
		return false
	}
	FlushActivity(s, now)
	s.CurrentActivity = next
	s.LastActivityTime = now
	return true
}
