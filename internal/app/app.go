// Package app holds process-wide state and wires the STT provider, publisher
// and readiness together.
package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voice-turn-ingress/internal/config"
	"voice-turn-ingress/internal/events"
	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/observability/metrics"
	"voice-turn-ingress/internal/service/audio"
	"voice-turn-ingress/internal/service/stt"
	"voice-turn-ingress/internal/service/stt/flux"
	"voice-turn-ingress/internal/service/stt/google"
	"voice-turn-ingress/internal/service/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config
	Metrics     *metrics.Metrics
	Publisher   *events.Publisher

	ready     atomic.Bool
	mu        sync.Mutex
	listeners []func(ready bool)
}

// New constructs a new Application from the provided configuration and
// initialises the global logger.
func New(cfg *config.Config) *Application {
	logging.Init(logging.Config{
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
		TimeFormat: time.RFC3339,
	})

	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
		Logger:  logging.WithComponent("application"),
	}

	a.Logger.Info().
		Str("sttProvider", cfg.STT.Provider).
		Str("logLevel", cfg.Observability.LogLevel).
		Msg("Voice turn ingress application created")
	return a
}

// Start creates the transcript publisher.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Publisher = events.New(&events.Config{
		Enabled:      a.Cfg.Kafka.Enabled,
		Brokers:      a.Cfg.Kafka.Brokers,
		TopicPartial: a.Cfg.Kafka.TopicPartial,
		TopicFinal:   a.Cfg.Kafka.TopicFinal,
		Principal:    a.Cfg.Kafka.Principal,
		Metrics:      a.Metrics,
	})

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Bool("kafkaEnabled", a.Publisher.Enabled()).
		Msg("Voice turn ingress starting")
	return nil
}

// Shutdown releases the publisher and marks the service not ready.
func (a *Application) Shutdown() {
	a.SetReady(false)
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Publisher close failed")
		}
	}
	a.Logger.Info().
		Dur("uptime", time.Since(a.StartupTime).Round(time.Second)).
		Msg("Voice turn ingress shutting down")
}

// Ready reports whether the STT session is open.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// SetReady records STT connectivity and notifies listeners on change.
func (a *Application) SetReady(ready bool) {
	if a.ready.Swap(ready) == ready {
		return
	}
	a.Logger.Info().Bool("ready", ready).Msg("Readiness changed")

	a.mu.Lock()
	listeners := append(([]func(bool))(nil), a.listeners...)
	a.mu.Unlock()
	for _, fn := range listeners {
		fn(ready)
	}
}

// OnReadyChange registers fn to be called whenever readiness flips.
func (a *Application) OnReadyChange(fn func(ready bool)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// NewAdapter builds the STT adapter selected by STT_PROVIDER.
func (a *Application) NewAdapter(ctx context.Context) (stt.Adapter, error) {
	switch p := a.Cfg.STT.Provider; p {
	case "flux":
		fa := flux.NewAdapter(a.Cfg.FluxSession(), flux.WithMetrics(a.Metrics))
		fa.NotifyConnection(a.SetReady)
		return fa, nil
	case "google":
		ga, err := google.New(ctx, google.Config{
			LanguageCode:   a.Cfg.STT.LanguageCode,
			SampleRateHz:   int32(a.Cfg.STT.SampleRateHz),
			InterimResults: a.Cfg.STT.InterimResults,
			AudioEncoding:  a.Cfg.STT.AudioEncoding,
		})
		if err != nil {
			return nil, fmt.Errorf("google speech client: %w", err)
		}
		return ga, nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", p)
	}
}

// SegmentLimits converts the configured limits for the audio handler.
func (a *Application) SegmentLimits() audio.SegmentLimits {
	return audio.SegmentLimits{
		MaxAudioBytes: a.Cfg.SegmentLimits.MaxAudioBytes,
		MaxDuration:   a.Cfg.SegmentLimits.MaxDuration,
		MaxPartials:   a.Cfg.SegmentLimits.MaxPartials,
	}
}
