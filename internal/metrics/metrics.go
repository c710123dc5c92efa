package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionStatsProvider exposes live call session counts.
type SessionStatsProvider interface {
	Stats() (active, completed int)
}

// MediaCounter returns the number of synthesized audio files on disk.
type MediaCounter interface {
	Count() (int, error)
}

// OutcomeProvider exposes cumulative outcome counts for an upstream API.
type OutcomeProvider interface {
	Outcomes() (succeeded, failed, skipped uint64)
}

// Collector is a prometheus.Collector that gathers call intake metrics at
// scrape time.
type Collector struct {
	sessions  SessionStatsProvider
	media     MediaCounter
	tts       OutcomeProvider
	llm       OutcomeProvider
	startTime time.Time

	sessionsActiveDesc    *prometheus.Desc
	sessionsCompletedDesc *prometheus.Desc
	mediaFilesDesc        *prometheus.Desc
	ttsRequestsDesc       *prometheus.Desc
	llmRequestsDesc       *prometheus.Desc
	uptimeDesc            *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionStatsProvider,
	media MediaCounter,
	tts OutcomeProvider,
	llm OutcomeProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		media:     media,
		tts:       tts,
		llm:       llm,
		startTime: startTime,

		sessionsActiveDesc: prometheus.NewDesc(
			"callintake_sessions_active",
			"Number of call sessions held in memory",
			nil, nil,
		),
		sessionsCompletedDesc: prometheus.NewDesc(
			"callintake_sessions_completed",
			"Number of in-memory sessions that answered every question",
			nil, nil,
		),
		mediaFilesDesc: prometheus.NewDesc(
			"callintake_media_files",
			"Number of synthesized audio files on disk",
			nil, nil,
		),
		ttsRequestsDesc: prometheus.NewDesc(
			"callintake_tts_requests_total",
			"Speech synthesis attempts by outcome",
			[]string{"outcome"}, nil,
		),
		llmRequestsDesc: prometheus.NewDesc(
			"callintake_llm_requests_total",
			"Reply generation attempts by outcome",
			[]string{"outcome"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callintake_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionsActiveDesc
	ch <- c.sessionsCompletedDesc
	ch <- c.mediaFilesDesc
	ch <- c.ttsRequestsDesc
	ch <- c.llmRequestsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessions != nil {
		active, completed := c.sessions.Stats()
		ch <- prometheus.MustNewConstMetric(
			c.sessionsActiveDesc, prometheus.GaugeValue,
			float64(active),
		)
		ch <- prometheus.MustNewConstMetric(
			c.sessionsCompletedDesc, prometheus.GaugeValue,
			float64(completed),
		)
	}

	if c.media != nil {
		count, err := c.media.Count()
		if err != nil {
			slog.Error("metrics: failed to count media files", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.mediaFilesDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	collectOutcomes(ch, c.ttsRequestsDesc, c.tts)
	collectOutcomes(ch, c.llmRequestsDesc, c.llm)

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

func collectOutcomes(ch chan<- prometheus.Metric, desc *prometheus.Desc, p OutcomeProvider) {
	if p == nil {
		return
	}
	succeeded, failed, skipped := p.Outcomes()
	for _, o := range []struct {
		label string
		n     uint64
	}{
		{"success", succeeded},
		{"failure", failed},
		{"skipped", skipped},
	} {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(o.n), o.label)
	}
}
