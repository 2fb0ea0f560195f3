package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus instruments for the streaming pipeline.
type Metrics struct {
	// Audio transport
	FramesSent     prometheus.Counter
	FramesDropped  prometheus.Counter
	Reconnects     prometheus.Counter
	TransportFails prometheus.Counter

	// Transcript flow
	FinalSegments   prometheus.Counter
	InterimSegments prometheus.Counter

	// Analysis
	AnalysisDispatches prometheus.Counter
	AnalysisFailures   prometheus.Counter
	AnalysisDuration   prometheus.Histogram
	InsightEvents      *prometheus.CounterVec

	// Sessions
	ActiveSessions prometheus.Gauge
	SessionsEnded  prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec
}

// New creates and registers all pipeline metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_audio_frames_sent_total",
			Help: "Total number of PCM frames sent to the transcription endpoint",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_audio_frames_dropped_total",
			Help: "Total number of PCM frames dropped while not connected",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_transport_reconnects_total",
			Help: "Total number of reconnect attempts scheduled",
		}),
		TransportFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_transport_failures_total",
			Help: "Total number of transports that exhausted reconnect attempts",
		}),
		FinalSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_transcript_final_segments_total",
			Help: "Total number of final transcript segments received",
		}),
		InterimSegments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_transcript_interim_segments_total",
			Help: "Total number of interim transcript segments received",
		}),
		AnalysisDispatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_analysis_dispatches_total",
			Help: "Total number of annotation service dispatches",
		}),
		AnalysisFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_analysis_failures_total",
			Help: "Total number of failed annotation service calls",
		}),
		AnalysisDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "medscribe_analysis_duration_seconds",
			Help:    "Duration of annotation service calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		InsightEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medscribe_insight_events_total",
			Help: "Total number of insight events ingested, by kind",
		}, []string{"kind"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "medscribe_active_sessions",
			Help: "Current number of live consultation sessions",
		}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medscribe_sessions_ended_total",
			Help: "Total number of consultation sessions ended",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medscribe_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
	}
}
