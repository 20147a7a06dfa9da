// Package metrics provides Prometheus metrics for the assistant.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_voice"

// Metrics holds all Prometheus metrics for the process. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsFailed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	StatusTransition *prometheus.CounterVec

	// Capture metrics
	FramesCaptured   prometheus.Counter
	FramesForwarded  prometheus.Counter
	FramesSuppressed prometheus.Counter
	FramesDropped    *prometheus.CounterVec

	// Playback metrics
	ChunksScheduled prometheus.Counter
	ChunksFailed    *prometheus.CounterVec
	Interruptions   prometheus.Counter

	// Utterance metrics
	UtterancesFinalized *prometheus.CounterVec
	UtterancesDeferred  prometheus.Counter

	// Tool / chat metrics
	ToolCalls   *prometheus.CounterVec
	ToolLatency *prometheus.HistogramVec
	ChatLatency *prometheus.HistogramVec
	ChatErrors  *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide instance registered on the default
// Prometheus registry.
func Default() *Metrics {
	defaultOnce.Do(func() { defaultMetrics = New(prometheus.DefaultRegisterer) })
	return defaultMetrics
}

// New creates and registers all metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of voice sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active voice sessions",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of voice sessions ending in error",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of voice sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StatusTransition: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Engine status transitions by target status",
		}, []string{"status"}),

		FramesCaptured: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total microphone frames captured",
		}),
		FramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Total microphone frames sent to the remote endpoint",
		}),
		FramesSuppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_suppressed_total",
			Help:      "Total microphone frames withheld while suppressed",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total microphone frames dropped before or during send",
		}, []string{"reason"}),

		ChunksScheduled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_scheduled_total",
			Help:      "Total assistant audio chunks scheduled for playback",
		}),
		ChunksFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_failed_total",
			Help:      "Total assistant audio chunks that could not be played",
		}, []string{"reason"}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total barge-in interruptions",
		}),

		UtterancesFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Total utterances finalized by trigger",
		}, []string{"trigger"}),
		UtterancesDeferred: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_deferred_total",
			Help:      "Utterances held back until the previous one was acknowledged",
		}),

		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total tool invocations",
		}, []string{"tool", "outcome"}),
		ToolLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Tool invocation latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}, []string{"tool"}),
		ChatLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_latency_seconds",
			Help:      "Text chat round-trip latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend"}),
		ChatErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_errors_total",
			Help:      "Total text chat errors",
		}, []string{"backend", "kind"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a new voice session.
func (m *Metrics) RecordSessionStart() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending; reason is empty on a clean stop.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if reason != "" {
		m.SessionsFailed.WithLabelValues(reason).Inc()
	}
}

// RecordStatus records an engine status transition.
func (m *Metrics) RecordStatus(status string) {
	if m == nil {
		return
	}
	m.StatusTransition.WithLabelValues(status).Inc()
}

// RecordFrame records one captured frame and what happened to it:
// "forwarded", "suppressed", or a drop reason.
func (m *Metrics) RecordFrame(outcome string) {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
	switch outcome {
	case "forwarded":
		m.FramesForwarded.Inc()
	case "suppressed":
		m.FramesSuppressed.Inc()
	default:
		m.FramesDropped.WithLabelValues(outcome).Inc()
	}
}

// RecordSendFailure records a frame lost after it was queued.
func (m *Metrics) RecordSendFailure() {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues("send_failed").Inc()
}

// RecordChunk records a playback chunk; reason is empty when it was scheduled.
func (m *Metrics) RecordChunk(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		m.ChunksScheduled.Inc()
		return
	}
	m.ChunksFailed.WithLabelValues(reason).Inc()
}

// RecordInterruption records a barge-in.
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordUtterance records an utterance finalized by trigger.
func (m *Metrics) RecordUtterance(trigger string) {
	if m == nil {
		return
	}
	m.UtterancesFinalized.WithLabelValues(trigger).Inc()
}

// RecordUtteranceDeferred records an utterance waiting on acknowledgment.
func (m *Metrics) RecordUtteranceDeferred() {
	if m == nil {
		return
	}
	m.UtterancesDeferred.Inc()
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(tool string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	m.ToolLatency.WithLabelValues(tool).Observe(latencySeconds)
}

// RecordChat records one chat round trip.
func (m *Metrics) RecordChat(backend string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.ChatLatency.WithLabelValues(backend).Observe(latencySeconds)
	if err != nil {
		m.ChatErrors.WithLabelValues(backend, "request").Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	if m == nil {
		return
	}
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
