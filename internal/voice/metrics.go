package voice

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	activeSessions     prometheus.Gauge
	guildLoops         prometheus.Gauge
	sessionsStarted    prometheus.Counter
	sessionsCompleted  prometheus.Counter
	sessionsDiscarded  prometheus.Counter
	xpAccrued          prometheus.Counter
	xpGranted          prometheus.Counter
	persistenceErrors  *prometheus.CounterVec
	policyCacheResults *prometheus.CounterVec
	tickDuration       prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicexp",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of live voice sessions.",
		}),
		guildLoops: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voicexp",
			Subsystem: "scheduler",
			Name:      "guild_loops",
			Help:      "Number of running per-guild recalculation loops.",
		}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions started.",
		}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "sessions",
			Name:      "completed_total",
			Help:      "Sessions finalized into a completed record.",
		}),
		sessionsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "sessions",
			Name:      "discarded_total",
			Help:      "Sessions dropped by the minimum duration filter.",
		}),
		xpAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "xp",
			Name:      "accrued_total",
			Help:      "XP accrued into live sessions.",
		}),
		xpGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "xp",
			Name:      "granted_total",
			Help:      "XP delivered to the leveling ledger.",
		}),
		persistenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "persistence",
			Name:      "errors_total",
			Help:      "Failed writes to the session store or ledger.",
		}, []string{"op"}),
		policyCacheResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voicexp",
			Subsystem: "policy",
			Name:      "cache_lookups_total",
			Help:      "Policy cache lookups by result.",
		}, []string{"result"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "voicexp",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one guild recalculation tick.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeSessions,
			m.guildLoops,
			m.sessionsStarted,
			m.sessionsCompleted,
			m.sessionsDiscarded,
			m.xpAccrued,
			m.xpGranted,
			m.persistenceErrors,
			m.policyCacheResults,
			m.tickDuration,
		)
	}
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded(completed bool) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	if completed {
		m.sessionsCompleted.Inc()
	} else {
		m.sessionsDiscarded.Inc()
	}
}

func (m *Metrics) loopStarted() {
	if m != nil {
		m.guildLoops.Inc()
	}
}

func (m *Metrics) loopStopped() {
	if m != nil {
		m.guildLoops.Dec()
	}
}

func (m *Metrics) accrued(xp int) {
	if m != nil && xp > 0 {
		m.xpAccrued.Add(float64(xp))
	}
}

func (m *Metrics) granted(xp int) {
	if m != nil && xp > 0 {
		m.xpGranted.Add(float64(xp))
	}
}

func (m *Metrics) persistenceError(op string) {
	if m != nil {
		m.persistenceErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) policyLookup(result string) {
	if m != nil {
		m.policyCacheResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) observeTick(d time.Duration) {
	if m != nil {
		m.tickDuration.Observe(d.Seconds())
	}
}
