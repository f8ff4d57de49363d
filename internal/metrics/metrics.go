// Package metrics exposes transcription counters and histograms to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaz8081/gostt-whisper/internal/transcribe"
)

// Metrics holds the collectors for one registry. It implements
// transcribe.Observer so a Worker can report into it directly.
type Metrics struct {
	reg prometheus.Gatherer

	Transcriptions  *prometheus.CounterVec
	Failures        *prometheus.CounterVec
	GeneratedTokens prometheus.Histogram
	Duration        prometheus.Histogram
	QueueSize       prometheus.Gauge
}

var _ transcribe.Observer = (*Metrics)(nil)

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		Transcriptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_transcriptions_total",
			Help: "Completed transcriptions by stop reason",
		}, []string{"stop"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gostt_transcription_failures_total",
			Help: "Failed transcriptions by error kind",
		}, []string{"kind"}),
		GeneratedTokens: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_generated_tokens",
			Help:    "Tokens generated per transcription",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9), // 1 to 256
		}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gostt_transcription_duration_seconds",
			Help:    "Wall time from features to text",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		QueueSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "gostt_worker_queue_size",
			Help: "Requests waiting for the transcription worker",
		}),
	}
}

// QueueDepth records the worker's current backlog.
func (m *Metrics) QueueDepth(n int) {
	m.QueueSize.Set(float64(n))
}

// Observe records the outcome of one transcription.
func (m *Metrics) Observe(res transcribe.Result, err error) {
	if err != nil {
		m.Failures.WithLabelValues(transcribe.ErrorKind(err)).Inc()
		return
	}
	m.Transcriptions.WithLabelValues(string(res.Stop)).Inc()
	m.GeneratedTokens.Observe(float64(res.Generated))
	m.Duration.Observe(res.Elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
