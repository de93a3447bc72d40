// Command voice-turn-ingress streams call audio through a turn-detecting STT
// provider and publishes per-turn transcript events.
//
// Audio comes from a WAV file (-audio) or raw 16-bit mono PCM on stdin at
// STT_SAMPLE_RATE_HZ. The process exits when the input ends and the trailing
// turn has been transcribed, or on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	grpcapi "voice-turn-ingress/internal/api/grpc"
	"voice-turn-ingress/internal/app"
	"voice-turn-ingress/internal/config"
	apphttp "voice-turn-ingress/internal/http"
	"voice-turn-ingress/internal/observability"
	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/service/audio"
	"voice-turn-ingress/internal/service/segment"
	"voice-turn-ingress/internal/service/stt/flux"
)

func main() {
	audioFile := flag.String("audio", "", "Path to a 16-bit PCM WAV file (default: raw PCM on stdin)")
	interactionId := flag.String("interaction", "interaction-"+time.Now().Format("150405"), "Interaction ID")
	tenantId := flag.String("tenant", "tenant-demo", "Tenant ID")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "Audio frame duration")
	realtime := flag.Bool("realtime", true, "Pace audio at real-time speed")
	trailingWait := flag.Duration("wait", 5*time.Second, "How long to wait for the trailing turn after input ends")
	flag.Parse()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs := observability.NewServer(cfg.Service.HTTPAddr, apphttp.NewRouter(application))
	if err := obs.Start(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Service.HTTPAddr).Msg("Observability server failed to bind")
	}

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	health := grpcapi.New(application.Metrics)
	application.OnReadyChange(health.SetServing)
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()

	code := run(ctx, application, source(*audioFile, cfg.STT.SampleRateHz), streamOptions{
		interactionId: *interactionId,
		tenantId:      *tenantId,
		chunk:         *chunk,
		realtime:      *realtime,
		trailingWait:  *trailingWait,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health.Stop()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Observability server shutdown failed")
	}
	application.Shutdown()
	os.Exit(code)
}

type streamOptions struct {
	interactionId string
	tenantId      string
	chunk         time.Duration
	realtime      bool
	trailingWait  time.Duration
}

func source(path string, sampleRate int) func() (*audio.Source, error) {
	return func() (*audio.Source, error) {
		if path == "" {
			return audio.NewRawSource(os.Stdin, sampleRate), nil
		}
		return audio.OpenWAV(path)
	}
}

// run streams one interaction and returns the process exit code.
func run(ctx context.Context, application *app.Application, open func() (*audio.Source, error), opts streamOptions) int {
	logger := logging.WithStream(opts.interactionId, opts.tenantId, application.Cfg.STT.Provider)
	m := application.Metrics
	start := time.Now()

	src, err := open()
	if err != nil {
		logger.Error().Err(err).Msg("Cannot open audio source")
		return 1
	}
	defer src.Close()

	format := src.Format()
	if format.SampleRate != application.Cfg.STT.SampleRateHz || format.Channels != 1 {
		logger.Warn().
			Int("sampleRate", format.SampleRate).
			Int("channels", format.Channels).
			Int("expectedSampleRate", application.Cfg.STT.SampleRateHz).
			Msg("Audio format differs from STT configuration")
	}

	adapter, err := application.NewAdapter(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot create STT adapter")
		return 1
	}

	segments := segment.New()
	handler := audio.NewHandlerWithLimits(
		adapter,
		application.Publisher,
		segments,
		opts.interactionId,
		opts.tenantId,
		segments.Next(opts.interactionId),
		application.SegmentLimits(),
		audio.WithMetrics(m),
		audio.WithProvider(application.Cfg.STT.Provider),
	)
	handler.SetSegmentTransitionCallback(func(newSegmentId string) {
		logger.Debug().Str("segmentId", newSegmentId).Msg("Next segment")
	})

	m.RecordStreamStart()
	if err := handler.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("STT session failed to start")
		m.RecordStreamEnd(false, time.Since(start).Seconds())
		return 1
	}
	application.SetReady(true)
	if fa, ok := adapter.(*flux.Adapter); ok {
		if s := fa.Session(); s != nil {
			u, _ := s.URL()
			logger.Info().Str("url", u).Int("sampleRate", s.SampleRate()).Msg("Flux session open")
		}
	}

	streamErr := src.Stream(ctx, opts.chunk, opts.realtime, func(frame []byte, offsetMs int64) error {
		err := handler.SendAudio(ctx, frame, offsetMs)
		if errors.Is(err, audio.ErrSegmentLimit) {
			return nil
		}
		return err
	})

	switch {
	case streamErr == nil && turnInProgress(handler):
		// Let the provider close out the turn in progress.
		want := handler.GetUtteranceCount() + 1
		waitCtx, cancel := context.WithTimeout(ctx, opts.trailingWait)
		if err := handler.WaitForUtterances(waitCtx, want); err != nil {
			logger.Info().Dur("waited", opts.trailingWait).Msg("No trailing turn")
		}
		cancel()
	case streamErr == nil:
	case errors.Is(streamErr, context.Canceled):
		logger.Info().Msg("Interrupted")
	default:
		logger.Error().Err(streamErr).Msg("Audio streaming failed")
	}

	application.SetReady(false)
	if err := handler.Close(); err != nil {
		logger.Warn().Err(err).Msg("STT close failed")
	}

	success := streamErr == nil || errors.Is(streamErr, context.Canceled)
	m.RecordStreamEnd(success, time.Since(start).Seconds())

	logger.Info().
		Int("turns", handler.GetUtteranceCount()).
		Dur("duration", time.Since(start).Round(time.Millisecond)).
		Bool("success", success).
		Msg("Interaction finished")

	if !success {
		return 1
	}
	return 0
}

func turnInProgress(h *audio.Handler) bool {
	return h.GetSegmentState() == segment.StateEagerEmitted || h.GetSegmentMetrics().PartialCount > 0
}
