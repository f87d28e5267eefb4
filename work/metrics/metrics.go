package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package metrics holds every Prometheus collector the hub exports. All
// collectors register through promauto on the default registry, which the
// /metrics handler in main serves via promhttp.

var (
	// ingestion

	PlaylistImports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "ingest",
		Name:      "playlist_imports_total",
		Help:      "Playlist import operations by outcome.",
	}, []string{"result"})

	ChannelsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livetv",
		Subsystem: "ingest",
		Name:      "channels_active",
		Help:      "Channels currently in the store.",
	})

	ParseSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "ingest",
		Name:      "parse_skips_total",
		Help:      "Malformed playlist or guide entries skipped during parsing.",
	}, []string{"kind"})

	// guide

	GuideRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "guide",
		Name:      "refreshes_total",
		Help:      "Guide refresh runs by outcome.",
	}, []string{"result"})

	GuideRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "livetv",
		Subsystem: "guide",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of a full guide refresh.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	GuideMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "guide",
		Name:      "channel_matches_total",
		Help:      "Guide-to-channel matches by kind (exact, fuzzy, synthetic, none).",
	}, []string{"kind"})

	// playback

	SessionStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "session_state_transitions_total",
		Help:      "Playback session state transitions by target state.",
	}, []string{"state"})

	PlaybackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "failures_total",
		Help:      "Classified playback failures.",
	}, []string{"class"})

	StrategyEscalations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "strategy_escalations_total",
		Help:      "Escalations to the next connection strategy on the ladder.",
	})

	StrategyWriteBacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "strategy_write_backs_total",
		Help:      "Connection modes persisted back onto channels after a working escalation.",
	}, []string{"mode"})

	BufferedAhead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "buffered_ahead_seconds",
		Help:      "Buffered media ahead of the playhead for the active session.",
	})

	BytesTransferred = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livetv",
		Subsystem: "playback",
		Name:      "bytes_transferred_total",
		Help:      "Stream bytes fetched per channel.",
	}, []string{"channel"})
)
