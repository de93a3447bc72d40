package flux

import (
	"sync"

	"github.com/rs/zerolog"

	"voice-turn-ingress/internal/observability/metrics"
)

// Handlers are the optional event sinks of a Session. A nil handler means the
// event is dropped. Handlers run one at a time on a dedicated goroutine, in the
// order the underlying frames arrived, so they may block briefly and may call
// Stop or SendAudio on the same session.
type Handlers struct {
	OnConnected      func()
	OnDisconnected   func()
	OnStartOfTurn    func(transcript string)
	OnTurnResumed    func()
	OnEndOfTurn      func(transcript string, info TurnInfo)
	OnEagerEndOfTurn func(transcript string, info TurnInfo)
	OnUpdate         func(transcript string)
	OnError          func(err error)

	// OnTurnDropped receives an EndOfTurn suppressed by Params.MinConfidence.
	// OnEndOfTurn is not called for it.
	OnTurnDropped func(info TurnInfo)
}

type delivery struct {
	name string
	fn   func()
}

// dispatcher delivers callbacks for one connection attempt. Enqueue never
// blocks, so the receive loop is never held up by a slow or reentrant handler.
// A dispatcher chained after a previous one runs nothing until the previous
// one has drained, so callbacks of consecutive connections never overlap.
type dispatcher struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
	after   <-chan struct{}

	mu     sync.Mutex
	queue  []delivery
	closed bool

	wake chan struct{}
	done chan struct{}
}

// newDispatcher starts a dispatcher. When after is non-nil, delivery waits
// until it is closed.
func newDispatcher(logger zerolog.Logger, m *metrics.Metrics, after <-chan struct{}) *dispatcher {
	d := &dispatcher{
		logger:  logger,
		metrics: m,
		after:   after,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue schedules fn. It reports false when the dispatcher is already closed.
func (d *dispatcher) enqueue(name string, fn func()) bool {
	if d == nil || fn == nil {
		return false
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Debug().Str("callback", name).Msg("Dropping callback after disconnect")
		return false
	}
	d.queue = append(d.queue, delivery{name: name, fn: fn})
	d.mu.Unlock()
	d.signal()
	return true
}

// close stops accepting work. Already queued callbacks are still delivered.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

// Done is closed once every queued callback has run after close.
func (d *dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	if d.after != nil {
		<-d.after
	}
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.mu.Unlock()
			<-d.wake
			d.mu.Lock()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.invoke(next)
	}
}

func (d *dispatcher) invoke(dl delivery) {
	defer func() {
		if r := recover(); r != nil {
			err := &CallbackError{Callback: dl.name, Value: r}
			d.logger.Error().Err(err).Str("callback", dl.name).Msg("Callback panicked")
			d.metrics.RecordCallbackPanic(dl.name)
		}
	}()
	dl.fn()
}
