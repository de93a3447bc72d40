// Package audio provides the audio stream handler that coordinates
// between the STT adapter and the event publisher.
package audio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-turn-ingress/internal/events"
	"voice-turn-ingress/internal/models"
	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/observability/metrics"
	"voice-turn-ingress/internal/schema"
	"voice-turn-ingress/internal/service/segment"
	"voice-turn-ingress/internal/service/stt"
)

// SegmentLimits defines safety guardrails for segment processing.
// These prevent unbounded resource usage and ensure backpressure.
type SegmentLimits struct {
	MaxAudioBytes int64         // Max buffered audio per segment
	MaxDuration   time.Duration // Max segment duration
	MaxPartials   int           // Max partial transcripts per segment
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() SegmentLimits {
	return SegmentLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // 5MB (~160 seconds at 16kHz 16-bit mono)
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// ErrSegmentLimit is returned by SendAudio when the current segment exceeded a
// limit and was dropped. The session itself is still usable.
var ErrSegmentLimit = errors.New("segment limit exceeded")

// SegmentTransitionCallback is called when a turn ends and a new segment begins.
// The callback receives the new segmentId.
type SegmentTransitionCallback func(newSegmentId string)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMetrics sets the metrics sink. Defaults to metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// WithValidator sets the event validator. Defaults to schema.New().
func WithValidator(v *schema.Validator) HandlerOption {
	return func(h *Handler) {
		if v != nil {
			h.validator = v
		}
	}
}

// WithProvider labels STT error metrics with the provider name.
func WithProvider(name string) HandlerOption {
	return func(h *Handler) { h.provider = name }
}

// Handler manages an audio transcription session.
// It implements stt.Callback to receive transcripts and publish events.
// Uses an explicit segment state machine to enforce lifecycle rules: one
// segment per turn, at most one final per segment, eager finals withdrawn on resume.
type Handler struct {
	adapter       stt.Adapter
	publisher     *events.Publisher
	validator     *schema.Validator
	metrics       *metrics.Metrics
	logger        zerolog.Logger
	segmentGen    *segment.Generator
	interactionId string
	tenantId      string
	provider      string

	lifecycle *segment.Lifecycle
	limits    SegmentLimits

	mu                  sync.RWMutex
	lastAudioOffsetMs   int64
	segmentStartTime    time.Time
	audioBytes          int64
	partialCount        int
	onSegmentTransition SegmentTransitionCallback
	utteranceCount      int
	turnSignal          chan struct{} // closed and replaced at each end of utterance
}

// NewHandler creates a new audio handler for a transcription session.
func NewHandler(
	adapter stt.Adapter,
	publisher *events.Publisher,
	segmentGen *segment.Generator,
	interactionId, tenantId, segmentId string,
	opts ...HandlerOption,
) *Handler {
	return NewHandlerWithLimits(adapter, publisher, segmentGen, interactionId, tenantId, segmentId, DefaultLimits(), opts...)
}

// NewHandlerWithLimits creates a new audio handler with custom segment limits.
func NewHandlerWithLimits(
	adapter stt.Adapter,
	publisher *events.Publisher,
	segmentGen *segment.Generator,
	interactionId, tenantId, segmentId string,
	limits SegmentLimits,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		adapter:          adapter,
		publisher:        publisher,
		validator:        schema.New(),
		metrics:          metrics.DefaultMetrics,
		logger:           logging.WithInteraction(interactionId, tenantId),
		segmentGen:       segmentGen,
		interactionId:    interactionId,
		tenantId:         tenantId,
		provider:         "unknown",
		lifecycle:        segment.NewLifecycle(segmentId),
		limits:           limits,
		segmentStartTime: time.Now(),
		turnSignal:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics.RecordSegmentCreated()
	return h
}

// SetSegmentTransitionCallback sets a callback for when turn boundaries are detected.
func (h *Handler) SetSegmentTransitionCallback(cb SegmentTransitionCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSegmentTransition = cb
}

// Start begins the STT session with this handler as the callback receiver.
func (h *Handler) Start(ctx context.Context) error {
	return h.adapter.Start(ctx, h)
}

// SendAudio forwards audio bytes to the STT adapter.
// Returns error if segment limits are exceeded (segment is dropped).
func (h *Handler) SendAudio(ctx context.Context, audio []byte, audioOffsetMs int64) error {
	h.mu.Lock()
	h.lastAudioOffsetMs = audioOffsetMs
	h.audioBytes += int64(len(audio))
	currentBytes := h.audioBytes
	startTime := h.segmentStartTime
	h.mu.Unlock()

	h.metrics.RecordAudioReceived(len(audio))

	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		reason := fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes)
		h.metrics.RecordLimitExceeded("audio_bytes")
		h.dropSegment("limit_audio_bytes", reason)
		return fmt.Errorf("%w: %s", ErrSegmentLimit, reason)
	}

	if elapsed := time.Since(startTime); h.limits.MaxDuration > 0 && elapsed > h.limits.MaxDuration {
		reason := fmt.Sprintf("max duration exceeded: %v > %v", elapsed, h.limits.MaxDuration)
		h.metrics.RecordLimitExceeded("duration")
		h.dropSegment("limit_duration", reason)
		return fmt.Errorf("%w: %s", ErrSegmentLimit, reason)
	}

	return h.adapter.SendAudio(ctx, audio)
}

// Close ends the STT session and then closes the current segment. Results
// the provider flushes while closing are still published.
func (h *Handler) Close() error {
	err := h.adapter.Close()
	h.lifecycle.Close()
	return err
}

// GetSegmentId returns the current segment ID.
func (h *Handler) GetSegmentId() string {
	return h.lifecycle.SegmentId()
}

// GetSegmentState returns the current segment lifecycle state.
func (h *Handler) GetSegmentState() segment.State {
	return h.lifecycle.State()
}

// GetUtteranceCount returns the number of completed turns.
func (h *Handler) GetUtteranceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.utteranceCount
}

// WaitForUtterances blocks until at least n turns have completed or ctx is done.
func (h *Handler) WaitForUtterances(ctx context.Context, n int) error {
	for {
		h.mu.RLock()
		count, signal := h.utteranceCount, h.turnSignal
		h.mu.RUnlock()
		if count >= n {
			return nil
		}
		select {
		case <-signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// --- stt.Callback implementation ---

// OnPartial is called when an interim transcript is received.
// Only emits if segment is in OPEN state and within limits.
func (h *Handler) OnPartial(text string) {
	if err := h.lifecycle.EmitPartial(); err != nil {
		h.logger.Debug().
			Err(err).
			Str("segmentId", h.lifecycle.SegmentId()).
			Stringer("state", h.lifecycle.State()).
			Msg("Partial ignored")
		return
	}

	h.mu.Lock()
	h.partialCount++
	count := h.partialCount
	h.mu.Unlock()

	if h.limits.MaxPartials > 0 && count > h.limits.MaxPartials {
		h.metrics.RecordLimitExceeded("partials")
		h.dropSegment("limit_partials", fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials))
		return
	}

	h.metrics.RecordPartialTranscript()
	ev := models.TranscriptPartial{
		EventType:     models.EventTypePartial,
		InteractionID: h.interactionId,
		TenantID:      h.tenantId,
		SegmentID:     h.lifecycle.SegmentId(),
		Text:          text,
		Timestamp:     time.Now().UnixMilli(),
	}
	h.publish(ev.SegmentID, ev, h.publisher.PublishPartial)
}

// OnEagerFinal is called when the provider speculatively ends the turn.
func (h *Handler) OnEagerFinal(text string, confidence float64) {
	if err := h.lifecycle.EmitEager(); err != nil {
		h.logger.Debug().
			Err(err).
			Str("segmentId", h.lifecycle.SegmentId()).
			Stringer("state", h.lifecycle.State()).
			Msg("Eager final ignored")
		return
	}

	h.metrics.RecordEagerTranscript()
	ev := models.TranscriptEager{
		EventType:     models.EventTypeEager,
		InteractionID: h.interactionId,
		TenantID:      h.tenantId,
		SegmentID:     h.lifecycle.SegmentId(),
		Text:          text,
		Confidence:    confidence,
		AudioOffsetMs: h.audioOffset(),
		Timestamp:     time.Now().UnixMilli(),
	}
	h.publish(ev.SegmentID, ev, h.publisher.PublishEager)
}

// OnTurnResumed withdraws an eager final. Consumers are told only when one was published.
func (h *Handler) OnTurnResumed() {
	wasEager := h.lifecycle.State() == segment.StateEagerEmitted
	if err := h.lifecycle.Resume(); err != nil {
		h.logger.Debug().
			Err(err).
			Str("segmentId", h.lifecycle.SegmentId()).
			Msg("Resume ignored")
		return
	}
	if !wasEager {
		return
	}

	ev := models.TurnResumed{
		EventType:     models.EventTypeTurnResumed,
		InteractionID: h.interactionId,
		TenantID:      h.tenantId,
		SegmentID:     h.lifecycle.SegmentId(),
		Timestamp:     time.Now().UnixMilli(),
	}
	h.publish(ev.SegmentID, ev, h.publisher.PublishTurnResumed)
}

// OnFinal is called when a final transcript is received.
// Only emits once per segment, transitions to FINAL_EMITTED state.
func (h *Handler) OnFinal(text string, confidence float64) {
	if err := h.lifecycle.EmitFinal(); err != nil {
		h.logger.Warn().
			Err(err).
			Str("segmentId", h.lifecycle.SegmentId()).
			Stringer("state", h.lifecycle.State()).
			Msg("Final ignored")
		return
	}

	h.metrics.RecordFinalTranscript()
	h.metrics.RecordSegmentCompleted()
	ev := models.TranscriptFinal{
		EventType:     models.EventTypeFinal,
		InteractionID: h.interactionId,
		TenantID:      h.tenantId,
		SegmentID:     h.lifecycle.SegmentId(),
		Text:          text,
		Confidence:    confidence,
		AudioOffsetMs: h.audioOffset(),
		Timestamp:     time.Now().UnixMilli(),
	}
	h.publish(ev.SegmentID, ev, h.publisher.PublishFinal)
}

// OnEndOfUtterance is called when the provider detects the end of a turn.
// The handler closes the current segment and opens the next one.
func (h *Handler) OnEndOfUtterance() {
	oldSegmentId := h.lifecycle.SegmentId()
	oldState := h.lifecycle.State()

	h.lifecycle.Close()

	h.mu.Lock()
	h.utteranceCount++
	count := h.utteranceCount
	oldAudioBytes := h.audioBytes
	oldPartialCount := h.partialCount
	oldDuration := time.Since(h.segmentStartTime)

	h.audioBytes = 0
	h.partialCount = 0
	h.segmentStartTime = time.Now()

	var newSegmentId string
	if h.segmentGen != nil {
		newSegmentId = h.segmentGen.Next(h.interactionId)
	} else {
		newSegmentId = oldSegmentId + "-next"
	}
	cb := h.onSegmentTransition

	h.lifecycle.Reset(newSegmentId)
	close(h.turnSignal)
	h.turnSignal = make(chan struct{})
	h.mu.Unlock()

	h.metrics.RecordUtterance()
	h.metrics.RecordSegmentCreated()

	h.logger.Info().
		Str("oldSegmentId", oldSegmentId).
		Stringer("oldState", oldState).
		Str("newSegmentId", newSegmentId).
		Int("turn", count).
		Int64("audioBytes", oldAudioBytes).
		Int("partials", oldPartialCount).
		Dur("duration", oldDuration.Round(time.Millisecond)).
		Msg("End of turn")

	if cb != nil {
		cb(newSegmentId)
	}
}

// OnError is called when an STT error occurs.
// The current segment is DROPPED - no final will be emitted.
// "Silence > bad data" - it's better to emit nothing than incorrect/incomplete data.
func (h *Handler) OnError(err error) {
	h.metrics.RecordSTTError(h.provider, errorKind(err))
	h.dropSegment("stt_error", err.Error())
}

// OnTurnDropped drops the current segment when the provider discarded the
// turn. The following OnEndOfUtterance rolls to the next segment.
func (h *Handler) OnTurnDropped(reason string) {
	h.dropSegment("low_confidence", reason)
}

// DropSegment explicitly drops the current segment without emitting a final.
// Use when the segment should be abandoned due to external factors
// (e.g., caller hang-up, timeout, validation failure).
//
// Returns true if the segment was dropped, false if already in a terminal state.
func (h *Handler) DropSegment(reason string) bool {
	return h.dropSegment("external", reason)
}

func (h *Handler) dropSegment(kind, reason string) bool {
	segmentId := h.lifecycle.SegmentId()
	oldState := h.lifecycle.State()

	dropped := h.lifecycle.Drop()
	if dropped {
		h.metrics.RecordSegmentDropped(kind)
	}

	h.logger.Warn().
		Str("segmentId", segmentId).
		Stringer("previousState", oldState).
		Str("reason", reason).
		Bool("dropped", dropped).
		Msg("Segment dropped")

	return dropped
}

// IsSegmentDropped returns true if the current segment was dropped.
func (h *Handler) IsSegmentDropped() bool {
	return h.lifecycle.IsDropped()
}

// SegmentMetrics holds current segment usage metrics.
type SegmentMetrics struct {
	AudioBytes   int64
	PartialCount int
	Duration     time.Duration
}

// GetSegmentMetrics returns current segment metrics for observability.
func (h *Handler) GetSegmentMetrics() SegmentMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return SegmentMetrics{
		AudioBytes:   h.audioBytes,
		PartialCount: h.partialCount,
		Duration:     time.Since(h.segmentStartTime),
	}
}

func (h *Handler) audioOffset() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastAudioOffsetMs
}

type publishFunc func(ctx context.Context, key string, event any) error

// publish validates ev and hands it to fn keyed by interaction.
func (h *Handler) publish(segmentId string, ev any, fn publishFunc) {
	if err := h.validator.Validate(ev); err != nil {
		h.logger.Warn().Err(err).Str("segmentId", segmentId).Msg("Event failed validation, not published")
		return
	}
	if err := fn(context.Background(), h.interactionId, ev); err != nil {
		h.logger.Error().Err(err).Str("segmentId", segmentId).Msg("Failed to publish event")
	}
}

// errorKind buckets provider errors for metrics.
func errorKind(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "stream"
	}
}
