package notifier

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/elispeigel/invoker/internal/container/group"
	"github.com/elispeigel/invoker/pkg/log"
	"golang.org/x/time/rate"
)

// Sink receives framed events for one endpoint. Publish errors are logged
// by the FanOut that owns the sink, never returned to the supervision
// loop: per §4.6, one misbehaving sink must never affect another, or the
// group it is observing.
type Sink interface {
	Publish(group.Event) error
	Close() error
}

// SocketSink writes length-prefixed frames to a dialed connection,
// reconnecting lazily on the next Publish after a write failure.
type SocketSink struct {
	network string
	address string
	dialer  net.Dialer

	mu   sync.Mutex
	conn net.Conn
}

// NewSocketSink returns a Sink that dials network/address on first use.
// network is anything net.Dial accepts ("unix", "tcp"); the control-plane
// wiring names unix-domain sockets as the common case.
func NewSocketSink(network, address string) *SocketSink {
	return &SocketSink{network: network, address: address}
}

func (s *SocketSink) Publish(e group.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, err := s.dialer.DialContext(context.Background(), s.network, s.address)
		if err != nil {
			return fmt.Errorf("dial %s %s: %w", s.network, s.address, err)
		}
		s.conn = conn
	}

	if err := WriteFrame(s.conn, e); err != nil {
		s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *SocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// RateLimited wraps a Sink so a slow or misbehaving endpoint cannot be
// hammered by a busy group: events beyond the configured rate are dropped
// rather than queued, since the supervision loop must never block on a
// sink per §5.
type RateLimited struct {
	Sink
	limiter *rate.Limiter
	logger  log.Logger
}

// NewRateLimited wraps sink with a token-bucket limiter allowing eventsPerSecond
// sustained with the given burst.
func NewRateLimited(sink Sink, eventsPerSecond float64, burst int, logger log.Logger) *RateLimited {
	if logger == nil {
		logger = log.Nop()
	}
	return &RateLimited{Sink: sink, limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst), logger: logger}
}

func (r *RateLimited) Publish(e group.Event) error {
	if !r.limiter.Allow() {
		r.logger.Warn("dropped event: sink rate limit exceeded")
		return nil
	}
	return r.Sink.Publish(e)
}

// fanOutQueueDepth bounds how many undelivered events a single slow sink
// can accumulate before FanOut starts dropping its events rather than
// blocking the supervision loop.
const fanOutQueueDepth = 256

// sinkWorker serializes delivery to one sink on a single goroutine draining
// a queue, so §4.5's ordering guarantee (ProcessStart(id) before
// ProcessTermination(id); every ProcessTermination before GroupTermination)
// survives past FanOut: two events racing for the same sink's sole
// goroutine cannot be reordered the way two independently scheduled
// goroutines calling the same sink's Publish concurrently could.
type sinkWorker struct {
	sink   Sink
	logger log.Logger
	events chan group.Event
	done   chan struct{}
}

func newSinkWorker(sink Sink, logger log.Logger) *sinkWorker {
	w := &sinkWorker{
		sink:   sink,
		logger: logger,
		events: make(chan group.Event, fanOutQueueDepth),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for e := range w.events {
		if err := w.sink.Publish(e); err != nil {
			w.logger.Warn("sink publish failed", logErrField(err))
		}
	}
}

// publish enqueues e for this sink's worker. A full queue means the sink is
// falling behind the group's event rate; the event is dropped rather than
// blocking the caller, matching §5's "never block the supervision loop".
func (w *sinkWorker) publish(e group.Event) {
	select {
	case w.events <- e:
	default:
		w.logger.Warn("dropped event: sink queue full")
	}
}

// close stops accepting new events and waits for the worker to drain
// whatever is already queued.
func (w *sinkWorker) close() {
	close(w.events)
	<-w.done
}

// FanOut implements group.Publisher by publishing every event to every
// registered sink. Each sink gets its own worker goroutine so one slow
// sink's queue filling up cannot delay another sink's delivery or the
// caller's return, but within a single sink delivery is strictly ordered.
type FanOut struct {
	logger  log.Logger
	sinks   []Sink
	workers []*sinkWorker
}

// NewFanOut returns a FanOut publishing to sinks. A nil or empty sinks list
// is valid and equivalent to group.NopPublisher.
func NewFanOut(sinks []Sink, logger log.Logger) *FanOut {
	if logger == nil {
		logger = log.Nop()
	}
	workers := make([]*sinkWorker, len(sinks))
	for i, sink := range sinks {
		workers[i] = newSinkWorker(sink, logger)
	}
	return &FanOut{logger: logger, sinks: sinks, workers: workers}
}

// Publish enqueues e for every sink's worker. It returns once every sink's
// queue has accepted or dropped e, not once delivery completes:
// group.Publisher's contract only requires not blocking the supervision
// loop for long.
func (f *FanOut) Publish(e group.Event) {
	for _, w := range f.workers {
		w.publish(e)
	}
}

// Close stops every sink's worker once its queue has drained, then closes
// every sink, continuing past individual close failures.
func (f *FanOut) Close() error {
	done := make(chan struct{})
	go func() {
		for _, w := range f.workers {
			w.close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		f.logger.Warn("timed out waiting for in-flight sink publishes")
	}

	var firstErr error
	for _, w := range f.workers {
		if err := w.sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
