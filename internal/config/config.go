// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"voice-turn-ingress/internal/service/stt/flux"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Flux          FluxConfig
	Kafka         KafkaConfig
	SegmentLimits SegmentLimitsConfig
	Observability ObservabilityConfig
}

// ServiceConfig identifies the service and its listeners.
type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPAddr  string
}

// STTConfig selects and tunes the speech provider.
type STTConfig struct {
	Provider       string // flux, google, mock
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
}

// FluxConfig holds the Deepgram Flux settings. Optional tuning values stay
// nil when their variable is unset so they are left out of the connection URL.
type FluxConfig struct {
	APIKey            string
	URL               string
	Model             string
	EagerEOTThreshold *float64
	EOTThreshold      *float64
	EOTTimeoutMs      *int
	MIPOptOut         *bool
	Keyterms          []string
	Tags              []string
	MinConfidence     float64
	ConnectTimeout    time.Duration
	WatchdogInterval  time.Duration
	SilenceThreshold  time.Duration
	SilenceDuration   time.Duration
}

// KafkaConfig configures the transcript publisher.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// SegmentLimitsConfig bounds resource use per segment.
type SegmentLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

// ObservabilityConfig configures logging.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
// Unparseable values fall back to their defaults.
func Load() *Config {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-turn-ingress")

	return &Config{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "flux"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", flux.DefaultSampleRate),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
		},
		Flux: FluxConfig{
			APIKey:            os.Getenv("DEEPGRAM_API_KEY"),
			URL:               envOrDefault("FLUX_URL", flux.DefaultURL),
			Model:             envOrDefault("FLUX_MODEL", flux.DefaultModel),
			EagerEOTThreshold: envFloatPtr("FLUX_EAGER_EOT_THRESHOLD"),
			EOTThreshold:      envFloatPtr("FLUX_EOT_THRESHOLD"),
			EOTTimeoutMs:      envIntPtr("FLUX_EOT_TIMEOUT_MS"),
			MIPOptOut:         envBoolPtr("FLUX_MIP_OPT_OUT"),
			Keyterms:          envList("FLUX_KEYTERMS"),
			Tags:              envList("FLUX_TAGS"),
			MinConfidence:     envOrDefaultFloat("FLUX_MIN_CONFIDENCE", 0),
			ConnectTimeout:    envOrDefaultDuration("FLUX_CONNECT_TIMEOUT", flux.DefaultConnectTimeout),
			WatchdogInterval:  envOrDefaultDuration("FLUX_WATCHDOG_INTERVAL", flux.DefaultWatchdogInterval),
			SilenceThreshold:  envOrDefaultDuration("FLUX_SILENCE_THRESHOLD", flux.DefaultSilenceThreshold),
			SilenceDuration:   envOrDefaultDuration("FLUX_SILENCE_DURATION", flux.DefaultSilenceDuration),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envList("KAFKA_BROKERS"),
			TopicPartial: envOrDefault("KAFKA_TOPIC_PARTIAL", "interaction.transcript.partial"),
			TopicFinal:   envOrDefault("KAFKA_TOPIC_FINAL", "interaction.transcript.final"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: envOrDefaultInt64("SEGMENT_MAX_AUDIO_BYTES", 5*1024*1024),
			MaxDuration:   envOrDefaultDuration("SEGMENT_MAX_DURATION", 5*time.Minute),
			MaxPartials:   envOrDefaultInt("SEGMENT_MAX_PARTIALS", 500),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

// FluxSession builds the session config for the Flux client. The sample rate
// comes from the STT section so every provider sees the same audio format.
func (c *Config) FluxSession() flux.Config {
	cfg := flux.DefaultConfig()
	cfg.URL = c.Flux.URL
	cfg.APIKey = c.Flux.APIKey
	cfg.Model = c.Flux.Model
	cfg.SampleRate = c.STT.SampleRateHz
	cfg.ConnectTimeout = c.Flux.ConnectTimeout
	cfg.Watchdog = flux.WatchdogConfig{
		Interval:         c.Flux.WatchdogInterval,
		SilenceThreshold: c.Flux.SilenceThreshold,
		SilenceDuration:  c.Flux.SilenceDuration,
	}
	cfg.Params = flux.Params{
		EagerEOTThreshold: c.Flux.EagerEOTThreshold,
		EOTThreshold:      c.Flux.EOTThreshold,
		EOTTimeoutMs:      c.Flux.EOTTimeoutMs,
		MIPOptOut:         c.Flux.MIPOptOut,
		Keyterms:          c.Flux.Keyterms,
		Tags:              c.Flux.Tags,
		MinConfidence:     c.Flux.MinConfidence,
	}
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envFloatPtr(key string) *float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return &f
		}
	}
	return nil
}

func envIntPtr(key string) *int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return &i
		}
	}
	return nil
}

func envBoolPtr(key string) *bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return &b
		}
	}
	return nil
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
