package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"voice-turn-ingress/internal/service/stt/flux"
)

var allKeys = []string{
	"SERVICE_PRINCIPAL", "HTTP_ADDR", "GRPC_PORT", "LOG_LEVEL", "LOG_FORMAT",
	"STT_PROVIDER", "STT_LANGUAGE_CODE", "STT_SAMPLE_RATE_HZ", "STT_INTERIM_RESULTS", "STT_AUDIO_ENCODING",
	"DEEPGRAM_API_KEY", "FLUX_URL", "FLUX_MODEL", "FLUX_EAGER_EOT_THRESHOLD", "FLUX_EOT_THRESHOLD",
	"FLUX_EOT_TIMEOUT_MS", "FLUX_MIP_OPT_OUT", "FLUX_KEYTERMS", "FLUX_TAGS", "FLUX_MIN_CONFIDENCE",
	"FLUX_CONNECT_TIMEOUT", "FLUX_WATCHDOG_INTERVAL", "FLUX_SILENCE_THRESHOLD", "FLUX_SILENCE_DURATION",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_PARTIAL", "KAFKA_TOPIC_FINAL", "KAFKA_PRINCIPAL",
	"SEGMENT_MAX_AUDIO_BYTES", "SEGMENT_MAX_DURATION", "SEGMENT_MAX_PARTIALS",
}

// clearEnv blanks every key Load reads. Blank values count as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

type field struct {
	name string
	got  any
	want any
}

func checkFields(t *testing.T, fields []field) {
	t.Helper()
	for _, f := range fields {
		if fmt.Sprint(f.got) != fmt.Sprint(f.want) {
			t.Errorf("%s = %v, want %v", f.name, f.got, f.want)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	checkFields(t, []field{
		{"Service.Principal", cfg.Service.Principal, "svc-voice-turn-ingress"},
		{"Service.GRPCPort", cfg.Service.GRPCPort, "50051"},
		{"Service.HTTPAddr", cfg.Service.HTTPAddr, ":8080"},
		{"STT.Provider", cfg.STT.Provider, "flux"},
		{"STT.LanguageCode", cfg.STT.LanguageCode, "en-US"},
		{"STT.SampleRateHz", cfg.STT.SampleRateHz, flux.DefaultSampleRate},
		{"STT.InterimResults", cfg.STT.InterimResults, true},
		{"STT.AudioEncoding", cfg.STT.AudioEncoding, "LINEAR16"},
		{"Kafka.Enabled", cfg.Kafka.Enabled, false},
		{"Kafka.TopicPartial", cfg.Kafka.TopicPartial, "interaction.transcript.partial"},
		{"Kafka.TopicFinal", cfg.Kafka.TopicFinal, "interaction.transcript.final"},
		{"SegmentLimits.MaxAudioBytes", cfg.SegmentLimits.MaxAudioBytes, 5 * 1024 * 1024},
		{"SegmentLimits.MaxDuration", cfg.SegmentLimits.MaxDuration, 5 * time.Minute},
		{"SegmentLimits.MaxPartials", cfg.SegmentLimits.MaxPartials, 500},
		{"Observability.LogLevel", cfg.Observability.LogLevel, "info"},
		{"Observability.LogFormat", cfg.Observability.LogFormat, "json"},
	})
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "svc-billing-line")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9100")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("STT_PROVIDER", "google")
	t.Setenv("STT_LANGUAGE_CODE", "es-ES")
	t.Setenv("STT_SAMPLE_RATE_HZ", "8000")
	t.Setenv("STT_INTERIM_RESULTS", "false")
	t.Setenv("STT_AUDIO_ENCODING", "MULAW")
	t.Setenv("SEGMENT_MAX_AUDIO_BYTES", "10485760")
	t.Setenv("SEGMENT_MAX_DURATION", "10m")
	t.Setenv("SEGMENT_MAX_PARTIALS", "1000")

	cfg := Load()

	checkFields(t, []field{
		{"Service.Principal", cfg.Service.Principal, "svc-billing-line"},
		{"Service.GRPCPort", cfg.Service.GRPCPort, "9999"},
		{"Service.HTTPAddr", cfg.Service.HTTPAddr, "127.0.0.1:9100"},
		{"STT.Provider", cfg.STT.Provider, "google"},
		{"STT.LanguageCode", cfg.STT.LanguageCode, "es-ES"},
		{"STT.SampleRateHz", cfg.STT.SampleRateHz, 8000},
		{"STT.InterimResults", cfg.STT.InterimResults, false},
		{"STT.AudioEncoding", cfg.STT.AudioEncoding, "MULAW"},
		{"SegmentLimits.MaxAudioBytes", cfg.SegmentLimits.MaxAudioBytes, 10485760},
		{"SegmentLimits.MaxDuration", cfg.SegmentLimits.MaxDuration, 10 * time.Minute},
		{"SegmentLimits.MaxPartials", cfg.SegmentLimits.MaxPartials, 1000},
		{"Observability.LogLevel", cfg.Observability.LogLevel, "debug"},
		{"Observability.LogFormat", cfg.Observability.LogFormat, "console"},
	})
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STT_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("STT_INTERIM_RESULTS", "sometimes")
	t.Setenv("SEGMENT_MAX_AUDIO_BYTES", "lots")
	t.Setenv("SEGMENT_MAX_DURATION", "forever")
	t.Setenv("SEGMENT_MAX_PARTIALS", "-")
	t.Setenv("FLUX_EOT_THRESHOLD", "high")
	t.Setenv("FLUX_CONNECT_TIMEOUT", "10")

	cfg := Load()

	checkFields(t, []field{
		{"STT.SampleRateHz", cfg.STT.SampleRateHz, flux.DefaultSampleRate},
		{"STT.InterimResults", cfg.STT.InterimResults, true},
		{"SegmentLimits.MaxAudioBytes", cfg.SegmentLimits.MaxAudioBytes, 5 * 1024 * 1024},
		{"SegmentLimits.MaxDuration", cfg.SegmentLimits.MaxDuration, 5 * time.Minute},
		{"SegmentLimits.MaxPartials", cfg.SegmentLimits.MaxPartials, 500},
		{"Flux.ConnectTimeout", cfg.Flux.ConnectTimeout, flux.DefaultConnectTimeout},
	})
	if cfg.Flux.EOTThreshold != nil {
		t.Errorf("expected unparseable threshold to stay unset, got %v", *cfg.Flux.EOTThreshold)
	}
}

func TestLoad_KafkaPrincipalFallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	if got := Load().Kafka.Principal; got != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", got)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			t.Setenv(key, tt.envValue)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}

func TestLoad_FluxDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Flux.URL != flux.DefaultURL || cfg.Flux.Model != flux.DefaultModel {
		t.Errorf("unexpected flux endpoint %s model %s", cfg.Flux.URL, cfg.Flux.Model)
	}
	if cfg.Flux.EagerEOTThreshold != nil || cfg.Flux.EOTThreshold != nil ||
		cfg.Flux.EOTTimeoutMs != nil || cfg.Flux.MIPOptOut != nil {
		t.Error("expected optional flux params to stay unset")
	}
	if cfg.Flux.Keyterms != nil || cfg.Flux.Tags != nil {
		t.Error("expected no keyterms or tags")
	}
	if cfg.Flux.MinConfidence != 0 {
		t.Errorf("expected confidence filter disabled, got %v", cfg.Flux.MinConfidence)
	}

	fc := cfg.FluxSession()
	u, err := fc.BuildURL()
	if err != nil {
		t.Fatalf("BuildURL failed: %v", err)
	}
	if !strings.Contains(u, "sample_rate=16000") {
		t.Errorf("expected STT sample rate in URL, got %s", u)
	}
}

func TestLoad_FluxCustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("FLUX_URL", "ws://localhost:9000/v2/listen")
	t.Setenv("FLUX_EAGER_EOT_THRESHOLD", "0.4")
	t.Setenv("FLUX_EOT_THRESHOLD", "0.8")
	t.Setenv("FLUX_EOT_TIMEOUT_MS", "3000")
	t.Setenv("FLUX_MIP_OPT_OUT", "true")
	t.Setenv("FLUX_KEYTERMS", "refund, order number ,,")
	t.Setenv("FLUX_TAGS", "billing")
	t.Setenv("FLUX_MIN_CONFIDENCE", "0.6")
	t.Setenv("FLUX_CONNECT_TIMEOUT", "3s")
	t.Setenv("FLUX_SILENCE_THRESHOLD", "750ms")
	t.Setenv("STT_SAMPLE_RATE_HZ", "8000")

	cfg := Load()
	fc := cfg.FluxSession()

	if fc.APIKey != "dg-key" || fc.URL != "ws://localhost:9000/v2/listen" {
		t.Errorf("unexpected key/url %q %q", fc.APIKey, fc.URL)
	}
	if fc.SampleRate != 8000 {
		t.Errorf("expected sample rate 8000, got %d", fc.SampleRate)
	}
	if fc.Params.EagerEOTThreshold == nil || *fc.Params.EagerEOTThreshold != 0.4 {
		t.Errorf("unexpected eager threshold %v", fc.Params.EagerEOTThreshold)
	}
	if fc.Params.EOTTimeoutMs == nil || *fc.Params.EOTTimeoutMs != 3000 {
		t.Errorf("unexpected eot timeout %v", fc.Params.EOTTimeoutMs)
	}
	if fc.Params.MIPOptOut == nil || !*fc.Params.MIPOptOut {
		t.Error("expected mip opt-out set")
	}
	if len(fc.Params.Keyterms) != 2 || fc.Params.Keyterms[1] != "order number" {
		t.Errorf("unexpected keyterms %q", fc.Params.Keyterms)
	}
	if fc.Params.MinConfidence != 0.6 {
		t.Errorf("expected min confidence 0.6, got %v", fc.Params.MinConfidence)
	}
	if fc.ConnectTimeout != 3*time.Second || fc.Watchdog.SilenceThreshold != 750*time.Millisecond {
		t.Errorf("unexpected timings %v %v", fc.ConnectTimeout, fc.Watchdog.SilenceThreshold)
	}
	if err := fc.Validate(); err != nil {
		t.Errorf("expected valid flux config, got %v", err)
	}
}

func TestLoad_KafkaBrokers(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_ENABLED", "1")
	t.Setenv("KAFKA_BROKERS", "kafka-0:9092,kafka-1:9092")

	cfg := Load()

	if !cfg.Kafka.Enabled {
		t.Error("expected kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-1:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
}
