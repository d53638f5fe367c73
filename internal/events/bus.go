package events

import (
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/Jakers471/risk-manager-v34-sub006/pkg/metrics"
)

// Handler consumes one event. Handlers run outside the publisher's
// goroutine; a panicking handler is recovered and does not disturb the
// bus or other subscribers.
type Handler func(*Event)

// Bus fans events out to subscribers by type. Each subscriber owns an
// ordered mailbox drained by its own goroutine, so a slow handler delays
// only itself and Publish never blocks on delivery.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[Type][]*subscriber
	closed bool

	wg sync.WaitGroup
}

type subscriber struct {
	name    string
	evtType Type
	handler Handler
	logger  *zap.Logger

	mu    sync.Mutex
	queue []*Event
	wake  chan struct{}
	stop  chan struct{}
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger.With(zap.String("component", "bus")),
		subs:   make(map[Type][]*subscriber),
	}
}

// Subscribe registers handler for events of type t. name identifies the
// subscriber in logs and metrics. Subscribing after Close is a no-op.
func (b *Bus) Subscribe(t Type, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("Subscribe on closed bus ignored", zap.String("subscriber", name))
		return
	}

	sub := &subscriber{
		name:    name,
		evtType: t,
		handler: handler,
		logger:  b.logger,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	b.subs[t] = append(b.subs[t], sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run()
	}()

	b.logger.Info("Registered subscriber",
		zap.String("type", string(t)),
		zap.String("subscriber", name))
}

// Publish enqueues event for every current subscriber of its type and
// returns without waiting for delivery. Events from one publishing
// goroutine reach each subscriber in publish order.
func (b *Bus) Publish(event *Event) {
	metrics.EventsReceived.WithLabelValues(string(event.Type)).Inc()

	b.mu.RLock()
	subs := b.subs[event.Type]
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}
	for _, sub := range subs {
		sub.enqueue(event)
	}
}

// Close stops delivery and waits for subscriber goroutines to drain
// their mailboxes and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, sub := range all {
		close(sub.stop)
	}
	b.wg.Wait()
	b.logger.Info("Bus stopped")
}

func (s *subscriber) enqueue(event *Event) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run drains the mailbox until stopped. On stop it finishes whatever is
// already queued before exiting.
func (s *subscriber) run() {
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-s.stop:
			s.drain()
			return
		}
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, event := range batch {
			s.deliver(event)
		}
	}
}

func (s *subscriber) deliver(event *Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HandlerPanics.WithLabelValues(string(event.Type)).Inc()
			s.logger.Error("Subscriber panicked",
				zap.String("subscriber", s.name),
				zap.String("type", string(event.Type)),
				zap.String("account_id", event.AccountID),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()
	s.handler(event)
}
