package flux

import (
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultURL is the Flux streaming endpoint.
	DefaultURL = "wss://api.deepgram.com/v2/listen"
	// DefaultModel is the Flux general English model.
	DefaultModel = "flux-general-en"
	// EncodingLinear16 is the only encoding Flux accepts: signed 16-bit little-endian mono PCM.
	EncodingLinear16 = "linear16"
	// DefaultSampleRate is the sample rate used when none is configured.
	DefaultSampleRate = 16000

	DefaultConnectTimeout = 10 * time.Second
	DefaultStopTimeout    = 2 * time.Second
	DefaultWriteTimeout   = 5 * time.Second

	DefaultWatchdogInterval = 100 * time.Millisecond
	DefaultSilenceThreshold = 500 * time.Millisecond
	DefaultSilenceDuration  = 500 * time.Millisecond

	bytesPerSample = 2
	channels       = 1
)

// Params are the optional Flux tuning parameters sent as query parameters.
// Nil pointers and empty slices are omitted from the connection URL.
type Params struct {
	// EagerEOTThreshold enables EagerEndOfTurn events. Lower fires sooner.
	EagerEOTThreshold *float64
	// EOTThreshold is the end-of-turn confidence threshold.
	EOTThreshold *float64
	// EOTTimeoutMs forces an end of turn after this much silence.
	EOTTimeoutMs *int
	// MIPOptOut opts out of the model improvement program.
	MIPOptOut *bool
	// Keyterms boost recognition of the given terms. Each is sent as its own keyterm parameter.
	Keyterms []string
	// Tags label usage for reporting. Each is sent as its own tag parameter.
	Tags []string
	// MinConfidence drops EndOfTurn events whose mean word confidence is below it.
	// Zero disables the filter. Never sent to the server.
	MinConfidence float64
}

// WatchdogConfig tunes the idle watchdog that keeps turn detection moving
// when the caller stops sending audio mid-turn.
type WatchdogConfig struct {
	Interval         time.Duration // how often to check
	SilenceThreshold time.Duration // idle time mid-turn before injecting silence
	SilenceDuration  time.Duration // length of each injected silence block
}

// Config describes one Flux session. It is copied by New and never mutated afterwards.
type Config struct {
	URL        string
	APIKey     string
	SampleRate int
	Encoding   string
	Model      string
	Params     Params
	Watchdog   WatchdogConfig

	ConnectTimeout time.Duration // wait for the server's Connected message
	StopTimeout    time.Duration // bounded join of background tasks on stop
	WriteTimeout   time.Duration // per-frame write deadline
}

// DefaultConfig returns a Config with every default applied and no API key.
func DefaultConfig() Config {
	return Config{
		URL:        DefaultURL,
		SampleRate: DefaultSampleRate,
		Encoding:   EncodingLinear16,
		Model:      DefaultModel,
		Watchdog: WatchdogConfig{
			Interval:         DefaultWatchdogInterval,
			SilenceThreshold: DefaultSilenceThreshold,
			SilenceDuration:  DefaultSilenceDuration,
		},
		ConnectTimeout: DefaultConnectTimeout,
		StopTimeout:    DefaultStopTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// withDefaults fills zero values. Negative values are left for Validate to reject.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Encoding == "" {
		c.Encoding = d.Encoding
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Watchdog.Interval == 0 {
		c.Watchdog.Interval = d.Watchdog.Interval
	}
	if c.Watchdog.SilenceThreshold == 0 {
		c.Watchdog.SilenceThreshold = d.Watchdog.SilenceThreshold
	}
	if c.Watchdog.SilenceDuration == 0 {
		c.Watchdog.SilenceDuration = d.Watchdog.SilenceDuration
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	c.Params.Keyterms = append([]string(nil), c.Params.Keyterms...)
	c.Params.Tags = append([]string(nil), c.Params.Tags...)
	return c
}

// Validate checks the configuration before any connection is attempted.
func (c Config) Validate() error {
	if c.URL == "" {
		return NewConfigError("URL", "", "cannot be empty")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return NewConfigError("URL", c.URL, "invalid URL format")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return NewConfigError("URL", c.URL, "scheme must be ws or wss")
	}
	if c.APIKey == "" {
		return NewConfigError("APIKey", "", "cannot be empty")
	}
	if c.SampleRate <= 0 {
		return NewConfigError("SampleRate", strconv.Itoa(c.SampleRate), "must be positive")
	}
	if c.Encoding != EncodingLinear16 {
		return NewConfigError("Encoding", c.Encoding, "only linear16 is supported")
	}
	if c.Model == "" {
		return NewConfigError("Model", "", "cannot be empty")
	}

	p := c.Params
	if p.EagerEOTThreshold != nil && !inUnitRange(*p.EagerEOTThreshold) {
		return NewConfigError("Params.EagerEOTThreshold", formatFloat(*p.EagerEOTThreshold), "must be within [0, 1]")
	}
	if p.EOTThreshold != nil && !inUnitRange(*p.EOTThreshold) {
		return NewConfigError("Params.EOTThreshold", formatFloat(*p.EOTThreshold), "must be within [0, 1]")
	}
	if p.EagerEOTThreshold != nil && p.EOTThreshold != nil && *p.EagerEOTThreshold > *p.EOTThreshold {
		return NewConfigError("Params.EagerEOTThreshold", formatFloat(*p.EagerEOTThreshold), "cannot exceed EOTThreshold")
	}
	if p.EOTTimeoutMs != nil && *p.EOTTimeoutMs <= 0 {
		return NewConfigError("Params.EOTTimeoutMs", strconv.Itoa(*p.EOTTimeoutMs), "must be positive")
	}
	if !inUnitRange(p.MinConfidence) {
		return NewConfigError("Params.MinConfidence", formatFloat(p.MinConfidence), "must be within [0, 1]")
	}

	for field, d := range map[string]time.Duration{
		"Watchdog.Interval":         c.Watchdog.Interval,
		"Watchdog.SilenceThreshold": c.Watchdog.SilenceThreshold,
		"Watchdog.SilenceDuration":  c.Watchdog.SilenceDuration,
		"ConnectTimeout":            c.ConnectTimeout,
		"StopTimeout":               c.StopTimeout,
		"WriteTimeout":              c.WriteTimeout,
	} {
		if d < 0 {
			return NewConfigError(field, d.String(), "cannot be negative")
		}
	}
	return nil
}

// BuildURL returns the connection URL with the session parameters encoded as query values.
// Repeated parameters (keyterm, tag) are emitted once per value.
func (c Config) BuildURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", NewConfigError("URL", c.URL, "invalid URL format")
	}

	q := u.Query()
	q.Set("model", c.Model)
	q.Set("sample_rate", strconv.Itoa(c.SampleRate))
	q.Set("encoding", c.Encoding)

	p := c.Params
	if p.EagerEOTThreshold != nil {
		q.Set("eager_eot_threshold", formatFloat(*p.EagerEOTThreshold))
	}
	if p.EOTThreshold != nil {
		q.Set("eot_threshold", formatFloat(*p.EOTThreshold))
	}
	if p.EOTTimeoutMs != nil {
		q.Set("eot_timeout_ms", strconv.Itoa(*p.EOTTimeoutMs))
	}
	if p.MIPOptOut != nil {
		q.Set("mip_opt_out", strconv.FormatBool(*p.MIPOptOut))
	}
	for _, term := range p.Keyterms {
		q.Add("keyterm", term)
	}
	for _, tag := range p.Tags {
		q.Add("tag", tag)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// silenceFrame returns d worth of zeroed linear16 mono samples.
func (c Config) silenceFrame(d time.Duration) []byte {
	samples := int(int64(c.SampleRate) * int64(d) / int64(time.Second))
	return make([]byte, samples*bytesPerSample*channels)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
