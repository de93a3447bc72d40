// Package flux is a streaming client for the Deepgram Flux turn-based
// speech-to-text WebSocket API.
//
// A Session owns one connection at a time. Start dials and waits for the
// server's Connected message, SendAudio forwards linear16 PCM, and Stop closes
// the stream. Server turn events are delivered through Handlers.
package flux

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voice-turn-ingress/internal/observability/logging"
	"voice-turn-ingress/internal/observability/metrics"
)

// ConnState is the lifecycle state of a Session.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Open
	Closing
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return fmt.Sprintf("ConnState(%d)", int32(s))
	}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) {
		if d != nil {
			s.dialer = d
		}
	}
}

// Session is a single Flux streaming session. It may be started again after Stop.
// All methods are safe for concurrent use.
type Session struct {
	cfg      Config
	handlers Handlers
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	dialer   *websocket.Dialer
	epoch    time.Time

	// lifecycleMu serializes the dial phase of Start with Stop.
	lifecycleMu sync.Mutex

	mu         sync.Mutex
	state      ConnState
	generation uint64
	conn       *websocket.Conn
	cancel     context.CancelFunc
	recvDone   chan struct{}
	watchDone  chan struct{}
	dispatch   *dispatcher
	drained    <-chan struct{} // Done of the most recent dispatcher
	dialedAt   time.Time

	writeMu sync.Mutex

	speaking  atomic.Bool
	lastAudio atomic.Int64 // nanoseconds since epoch, 0 when nothing was sent
}

// New creates a disconnected Session. cfg is copied with defaults applied;
// it is validated by Start.
func New(cfg Config, handlers Handlers, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:      cfg,
		handlers: handlers,
		logger:   logging.WithSession("flux", cfg.Model),
		metrics:  metrics.DefaultMetrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		epoch: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports whether the session is open.
func (s *Session) IsConnected() bool {
	return s.State() == Open
}

// SampleRate returns the configured audio sample rate in Hz.
func (s *Session) SampleRate() int {
	return s.cfg.SampleRate
}

// URL returns the connection URL including query parameters.
func (s *Session) URL() (string, error) {
	return s.cfg.BuildURL()
}

// Start connects to Flux and blocks until the server acknowledges the
// connection, ctx is done, or ConnectTimeout elapses. Calling Start on an open
// session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()

	s.mu.Lock()
	switch s.state {
	case Open:
		s.mu.Unlock()
		s.lifecycleMu.Unlock()
		s.logger.Debug().Msg("Start called on open session")
		return nil
	case Connecting:
		s.mu.Unlock()
		s.lifecycleMu.Unlock()
		return ErrConnectInProgress
	}
	s.state = Connecting
	s.generation++
	gen := s.generation
	d := newDispatcher(s.logger, s.metrics, s.drained)
	s.dispatch = d
	s.drained = d.Done()
	s.mu.Unlock()

	if err := s.cfg.Validate(); err != nil {
		s.logger.Error().Err(err).Msg("Invalid Flux configuration")
		s.abortStart(d, err, "config")
		s.lifecycleMu.Unlock()
		return err
	}

	wsURL, err := s.cfg.BuildURL()
	if err != nil {
		s.abortStart(d, err, "config")
		s.lifecycleMu.Unlock()
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+s.cfg.APIKey)

	s.logger.Info().Str("url", wsURL).Msg("Connecting to Flux")
	dialedAt := time.Now()
	dialCtx, cancelDial := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	conn, resp, err := s.dialer.DialContext(dialCtx, wsURL, header)
	cancelDial()
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		sockErr := NewSocketError("dial", err)
		s.logger.Error().Err(sockErr).Msg("Failed to connect to Flux")
		s.abortStart(d, sockErr, "dial_error")
		s.lifecycleMu.Unlock()
		return sockErr
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	connected := make(chan struct{})
	recvDone := make(chan struct{})
	watchDone := make(chan struct{})

	s.speaking.Store(false)
	s.lastAudio.Store(0)

	s.mu.Lock()
	s.conn = conn
	s.cancel = cancel
	s.recvDone = recvDone
	s.watchDone = watchDone
	s.dialedAt = dialedAt
	s.mu.Unlock()

	go s.receiveLoop(loopCtx, gen, conn, d, connected, recvDone)
	go s.watchdog(loopCtx, conn, d, watchDone)

	s.lifecycleMu.Unlock()

	timer := time.NewTimer(s.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-connected:
		return nil

	case <-recvDone:
		if isClosed(connected) {
			return nil
		}
		// The receive loop has already reported why the socket went away.
		s.metrics.RecordFluxConnect("closed", 0)
		s.teardown(gen, "handshake_closed")
		return ErrConnectionClosed

	case <-timer.C:
		if isClosed(connected) {
			return nil
		}
		s.logger.Error().Dur("timeout", s.cfg.ConnectTimeout).Msg("Timed out waiting for Connected")
		s.reportError(d, ErrConnectTimeout)
		s.metrics.RecordFluxConnect("timeout", 0)
		s.teardown(gen, "connect_timeout")
		return ErrConnectTimeout

	case <-ctx.Done():
		if isClosed(connected) {
			return nil
		}
		err := ctx.Err()
		s.logger.Warn().Err(err).Msg("Connect cancelled")
		s.reportError(d, err)
		s.metrics.RecordFluxConnect("cancelled", 0)
		s.teardown(gen, "connect_cancelled")
		return err
	}
}

// abortStart reports a failure that happened before any background task started.
func (s *Session) abortStart(d *dispatcher, err error, result string) {
	s.mu.Lock()
	s.state = Disconnected
	s.dispatch = nil
	s.mu.Unlock()

	s.metrics.RecordFluxConnect(result, 0)
	s.reportError(d, err)
	d.close()
}

// Stop closes the session. It is idempotent and safe to call from a handler.
// OnDisconnected fires once per successful Stop of a started session.
func (s *Session) Stop() error {
	s.teardown(0, "stop")
	return nil
}

// Close implements io.Closer.
func (s *Session) Close() error {
	return s.Stop()
}

// teardown stops the given connection generation, or whichever is current when gen is 0.
func (s *Session) teardown(gen uint64, cause string) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.state == Disconnected || (gen != 0 && gen != s.generation) {
		s.mu.Unlock()
		return
	}
	wasOpen := s.state == Open
	s.state = Closing
	conn, cancel := s.conn, s.cancel
	recvDone, watchDone := s.recvDone, s.watchDone
	d := s.dispatch
	s.mu.Unlock()

	s.logger.Info().Str("cause", cause).Msg("Stopping Flux session")
	s.speaking.Store(false)

	cancel()
	// Reads have no context; an expired deadline unblocks the receive loop.
	_ = conn.SetReadDeadline(time.Now())

	s.join("receive", recvDone)
	s.join("watchdog", watchDone)

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
		s.logger.Debug().Err(err).Msg("Could not send CloseStream")
	} else {
		s.logger.Debug().Msg("Sent CloseStream")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	if err := conn.Close(); err != nil {
		s.logger.Debug().Err(err).Msg("Error closing socket")
	}

	s.mu.Lock()
	s.state = Disconnected
	s.conn = nil
	s.cancel = nil
	s.recvDone = nil
	s.watchDone = nil
	s.dispatch = nil
	s.mu.Unlock()

	s.speaking.Store(false)
	s.lastAudio.Store(0)

	s.metrics.RecordFluxDisconnect(cause, wasOpen)
	s.logger.Info().Msg("Disconnected from Flux")

	d.enqueue("disconnected", s.handlers.OnDisconnected)
	d.close()
}

func (s *Session) join(task string, done <-chan struct{}) {
	if done == nil {
		return
	}
	t := time.NewTimer(s.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn().Str("task", task).Dur("timeout", s.cfg.StopTimeout).Msg("Background task did not exit, abandoning it")
		s.metrics.RecordStuckTask(task)
	}
}

// SendAudio writes one binary frame of linear16 PCM. It returns ErrNotConnected
// unless the session is open, including when Stop wins a race with the write.
// Any other write failure is returned and also reported to OnError; the session
// stays open.
func (s *Session) SendAudio(ctx context.Context, audio []byte) error {
	s.mu.Lock()
	state, conn, d, gen := s.state, s.conn, s.dispatch, s.generation
	s.mu.Unlock()

	if state != Open || conn == nil {
		s.logger.Warn().Str("state", state.String()).Msg("Cannot send audio: not connected")
		return ErrNotConnected
	}

	if err := s.writeBinary(ctx, conn, audio); err != nil {
		if !s.stillOpen(gen) {
			return ErrNotConnected
		}
		sockErr := NewSocketError("write", err)
		s.logger.Error().Err(sockErr).Int("bytes", len(audio)).Msg("Failed to send audio")
		s.reportError(d, sockErr)
		return sockErr
	}
	s.touchAudio()
	s.metrics.RecordAudioSent(len(audio))
	return nil
}

// stillOpen reports whether connection generation gen is the current one and open.
func (s *Session) stillOpen(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen && s.state == Open
}

func (s *Session) writeBinary(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// touchAudio records that audio was just written successfully.
func (s *Session) touchAudio() {
	s.lastAudio.Store(max(int64(time.Since(s.epoch)), 1))
}

// sinceLastAudio reports how long ago audio was last written.
func (s *Session) sinceLastAudio() (time.Duration, bool) {
	last := s.lastAudio.Load()
	if last == 0 {
		return 0, false
	}
	return time.Since(s.epoch) - time.Duration(last), true
}

func (s *Session) receiveLoop(ctx context.Context, gen uint64, conn *websocket.Conn, d *dispatcher, connected chan struct{}, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("flux: receive loop panic: %v", r)
			s.logger.Error().Err(err).Msg("Receive loop crashed")
			s.reportError(d, err)
			go s.teardown(gen, "panic")
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(ctx, gen, d, err)
			return
		}
		if mt != websocket.TextMessage {
			s.logger.Warn().Int("messageType", mt).Int("bytes", len(data)).Msg("Ignoring non-text frame")
			continue
		}

		ev, err := Decode(data)
		if err != nil {
			s.metrics.RecordDecodeError()
			s.logger.Error().Err(err).Msg("Failed to decode message")
			continue
		}

		switch e := ev.(type) {
		case ConnectedEvent:
			s.handleConnected(gen, e, d, connected)
		case FatalErrorEvent:
			fatal := &FatalServerError{Message: e.Message}
			s.logger.Error().Err(fatal).Str("code", e.Code).Msg("Flux reported a fatal error")
			s.reportError(d, fatal)
			go s.teardown(gen, "server_error")
			return
		case TurnEvent:
			s.handleTurn(e.Info, d)
		default:
			s.logger.Debug().Bytes("raw", data).Msg("Ignoring unhandled message")
		}
	}
}

func (s *Session) handleConnected(gen uint64, e ConnectedEvent, d *dispatcher, connected chan struct{}) {
	s.mu.Lock()
	if s.generation != gen || s.state != Connecting {
		s.mu.Unlock()
		s.logger.Debug().Msg("Ignoring unexpected Connected message")
		return
	}
	s.state = Open
	latency := time.Since(s.dialedAt)
	s.mu.Unlock()

	close(connected)
	s.metrics.RecordFluxConnect("ok", latency.Seconds())
	s.logger.Info().Str("requestId", e.RequestID).Dur("latency", latency).Msg("Connected to Flux")
	d.enqueue("connected", s.handlers.OnConnected)
}

func (s *Session) handleReadError(ctx context.Context, gen uint64, d *dispatcher, err error) {
	if ctx.Err() != nil {
		s.logger.Debug().Msg("Receive loop stopped")
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) && s.State() == Open {
		s.logger.Info().Msg("Flux closed the stream")
		go s.teardown(gen, "server_closed")
		return
	}

	sockErr := NewSocketError("read", err)
	s.logger.Error().Err(sockErr).Msg("Flux connection lost")
	s.reportError(d, sockErr)
	go s.teardown(gen, "read_error")
}

func (s *Session) reportError(d *dispatcher, err error) {
	if h := s.handlers.OnError; h != nil {
		d.enqueue("error", func() { h(err) })
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
