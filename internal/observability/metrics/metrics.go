// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_turn_ingress"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Audio stream metrics (one stream per interaction)
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// gRPC health traffic
	RPCTotal *prometheus.CounterVec

	// Segment metrics
	SegmentsCreated   prometheus.Counter
	SegmentsCompleted prometheus.Counter
	SegmentsDropped   *prometheus.CounterVec

	// Transcript metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsEager   prometheus.Counter
	TranscriptsFinal   prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors         *prometheus.CounterVec
	STTUtteranceCount prometheus.Counter

	// Flux session metrics
	FluxConnects       *prometheus.CounterVec
	FluxSessionsActive prometheus.Gauge
	FluxConnectLatency prometheus.Histogram
	FluxTurnEvents     *prometheus.CounterVec
	FluxTurnsDropped   prometheus.Counter
	FluxSilenceFrames  prometheus.Counter
	FluxAudioBytesSent prometheus.Counter
	FluxDecodeErrors   prometheus.Counter
	FluxCallbackPanics *prometheus.CounterVec
	FluxStuckTasks     *prometheus.CounterVec
	FluxDisconnects    *prometheus.CounterVec

	// Backpressure metrics
	SegmentLimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of audio streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active audio streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of audio streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls served",
		}, []string{"method", "code"}),

		SegmentsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_created_total",
			Help:      "Total number of segments created",
		}),
		SegmentsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_completed_total",
			Help:      "Total number of segments completed with final transcript",
		}),
		SegmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_dropped_total",
			Help:      "Total number of segments dropped",
		}, []string{"reason"}),

		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of partial transcripts received",
		}),
		TranscriptsEager: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_eager_total",
			Help:      "Total number of eager end-of-turn transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),

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

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of utterances detected",
		}),

		FluxConnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_connects_total",
			Help:      "Flux connection attempts by result",
		}, []string{"result"}),
		FluxSessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flux_sessions_active",
			Help:      "Number of Flux sessions currently open",
		}),
		FluxConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flux_connect_latency_seconds",
			Help:      "Time from dial to the server's Connected message",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		FluxTurnEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_turn_events_total",
			Help:      "TurnInfo events received by event type",
		}, []string{"event"}),
		FluxTurnsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_turns_dropped_total",
			Help:      "EndOfTurn events dropped below the minimum confidence",
		}),
		FluxSilenceFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_silence_frames_total",
			Help:      "Synthetic silence frames injected by the idle watchdog",
		}),
		FluxAudioBytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_audio_bytes_sent_total",
			Help:      "Audio bytes written to Flux, including synthetic silence",
		}),
		FluxDecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_decode_errors_total",
			Help:      "Inbound frames that could not be decoded",
		}),
		FluxCallbackPanics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_callback_panics_total",
			Help:      "Panics recovered from caller-supplied callbacks",
		}, []string{"callback"}),
		FluxStuckTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_stuck_tasks_total",
			Help:      "Background tasks abandoned after the stop timeout",
		}, []string{"task"}),
		FluxDisconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flux_disconnects_total",
			Help:      "Flux disconnects by cause",
		}, []string{"cause"}),

		SegmentLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_limit_exceeded_total",
			Help:      "Total number of times segment limits were exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordRPC records a served gRPC call.
func (m *Metrics) RecordRPC(method, code string) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
}

// RecordSegmentCreated records a new segment being created.
func (m *Metrics) RecordSegmentCreated() {
	m.SegmentsCreated.Inc()
}

// RecordSegmentCompleted records a segment completed with final transcript.
func (m *Metrics) RecordSegmentCompleted() {
	m.SegmentsCompleted.Inc()
}

// RecordSegmentDropped records a segment being dropped.
func (m *Metrics) RecordSegmentDropped(reason string) {
	m.SegmentsDropped.WithLabelValues(reason).Inc()
}

// RecordPartialTranscript records a partial transcript received.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordEagerTranscript records an eager end-of-turn transcript received.
func (m *Metrics) RecordEagerTranscript() {
	m.TranscriptsEager.Inc()
}

// RecordFinalTranscript records a final transcript received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordLimitExceeded records when a segment limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.SegmentLimitExceeded.WithLabelValues(limitType).Inc()
}

// RecordFluxConnect records the outcome of a Flux connect attempt.
// Latency is only observed for successful attempts.
func (m *Metrics) RecordFluxConnect(result string, latencySeconds float64) {
	m.FluxConnects.WithLabelValues(result).Inc()
	if result == "ok" {
		m.FluxSessionsActive.Inc()
		m.FluxConnectLatency.Observe(latencySeconds)
	}
}

// RecordFluxDisconnect records a Flux session closing.
func (m *Metrics) RecordFluxDisconnect(cause string, wasOpen bool) {
	m.FluxDisconnects.WithLabelValues(cause).Inc()
	if wasOpen {
		m.FluxSessionsActive.Dec()
	}
}

// RecordTurnEvent records a decoded TurnInfo event.
func (m *Metrics) RecordTurnEvent(event string) {
	m.FluxTurnEvents.WithLabelValues(event).Inc()
}

// RecordTurnDropped records an EndOfTurn suppressed by the confidence filter.
func (m *Metrics) RecordTurnDropped() {
	m.FluxTurnsDropped.Inc()
}

// RecordSilenceFrame records a synthetic silence frame sent by the watchdog.
func (m *Metrics) RecordSilenceFrame(bytes int) {
	m.FluxSilenceFrames.Inc()
	m.FluxAudioBytesSent.Add(float64(bytes))
}

// RecordAudioSent records caller audio written to Flux.
func (m *Metrics) RecordAudioSent(bytes int) {
	m.FluxAudioBytesSent.Add(float64(bytes))
}

// RecordDecodeError records an inbound frame that failed to decode.
func (m *Metrics) RecordDecodeError() {
	m.FluxDecodeErrors.Inc()
}

// RecordCallbackPanic records a recovered panic from a named callback.
func (m *Metrics) RecordCallbackPanic(callback string) {
	m.FluxCallbackPanics.WithLabelValues(callback).Inc()
}

// RecordStuckTask records a background task abandoned during stop.
func (m *Metrics) RecordStuckTask(task string) {
	m.FluxStuckTasks.WithLabelValues(task).Inc()
}
