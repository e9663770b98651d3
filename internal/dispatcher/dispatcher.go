package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetconsole/tracker/pkg/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fleetconsole/tracker/internal/dispatcher"

// TopicUpdate carries every display update produced by the active engine.
const TopicUpdate = "update"

// Event is one published display update.
type Event struct {
	Topic     string
	Update    core.Update
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

type subscriber struct {
	name    string
	handler HandlerFunc
}

// Dispatcher fans events out to the subscribers of a topic, in
// subscription order.
type Dispatcher struct {
	logger Logger

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter

	mu          sync.RWMutex
	subscribers map[string][]subscriber
	buffers     map[string]chan Event
	closed      bool
	wg          sync.WaitGroup
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		subscribers: make(map[string][]subscriber),
		buffers:     make(map[string]chan Event),
		logger:      logger,
	}

	m := otel.Meter(instrumentationName)

	var err error

	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			d.mu.RLock()
			defer d.mu.RUnlock()
			for name, buf := range d.buffers {
				o.ObserveInt64(d.queueSize, int64(len(buf)),
					metric.WithAttributes(attribute.String("subscriber", name)))
			}
			return nil
		},
		d.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	d.processed, err = m.Int64Counter(
		"dispatcher.events.processed",
		metric.WithDescription("Total events processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	d.dropped, err = m.Int64Counter(
		"dispatcher.events.dropped",
		metric.WithDescription("Total events dropped due to full queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	return d, nil
}

// Subscribe adds a named handler for the topic with optional configuration.
// Names must be unique per dispatcher when the handler is buffered.
func (d *Dispatcher) Subscribe(topic, name string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.bufferSize > 0 {
		handler = d.withBuffer(name, cfg.bufferSize, cfg.blocking, handler)
	}

	if cfg.logged {
		handler = d.withLogging(name, handler)
	}

	d.mu.Lock()
	d.subscribers[topic] = append(d.subscribers[topic], subscriber{name: name, handler: handler})
	d.mu.Unlock()
}

// Dispatch delivers an event to every subscriber of its topic. Subscriber
// errors are joined; one failing subscriber does not stop the others.
// Handlers must not subscribe or close from inside Dispatch.
func (d *Dispatcher) Dispatch(e Event) error {
	// Held for the whole delivery so Close cannot close a buffer mid-send.
	d.mu.RLock()
	defer d.mu.RUnlock()
	subs := d.subscribers[e.Topic]

	if d.closed {
		return fmt.Errorf("dispatcher closed: %s", e.Topic)
	}
	if len(subs) == 0 {
		return fmt.Errorf("no subscribers: %s", e.Topic)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var errs []error
	for _, s := range subs {
		if err := s.handler(e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// HasSubscribers returns true if at least one handler listens on the topic.
func (d *Dispatcher) HasSubscribers(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[topic]) > 0
}

// Publisher returns a core.Publisher that dispatches on topic. Dispatch
// errors are logged.
func (d *Dispatcher) Publisher(topic string) core.Publisher {
	return core.PublisherFunc(func(u core.Update) {
		if err := d.Dispatch(Event{Topic: topic, Update: u}); err != nil {
			d.logger.Error("dispatch failed", "topic", topic, "error", err)
		}
	})
}

// Close stops accepting events and waits for buffered handlers to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		close(buf)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) withBuffer(name string, size int, blocking bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)

	d.mu.Lock()
	d.buffers[name] = buffer
	d.mu.Unlock()

	subAttr := attribute.String("subscriber", name)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range buffer {
			if err := h(e); err != nil {
				d.logger.Error("buffered handler failed", "subscriber", name, "error", err)
			}
			d.processed.Add(context.Background(), 1, metric.WithAttributes(subAttr))
		}
	}()

	if blocking {
		return func(e Event) error {
			buffer <- e
			return nil
		}
	}

	return func(e Event) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(subAttr))
			return fmt.Errorf("queue full: %s", name)
		}
	}
}

func (d *Dispatcher) withLogging(name string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "subscriber", name, "topic", e.Topic, "mode", e.Update.Mode.String())

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "subscriber", name, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "subscriber", name, "duration", time.Since(start))
		}

		return err
	}
}
