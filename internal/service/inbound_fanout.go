package service

import (
	"log/slog"
	"sync"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/chat"
)

// InboundListener receives inbound messages from every tenant.
type InboundListener func(msg chat.InboundMessage)

// InboundFanout delivers inbound messages to registered listeners. Each
// listener has its own bounded queue and dispatch goroutine, so a slow
// listener delays only its own deliveries. Messages published from one
// goroutine reach every listener in publish order. Publish blocks while a
// listener's queue is full instead of dropping messages.
type InboundFanout struct {
	mu        sync.RWMutex
	subs      map[uint64]*inboundSubscription
	nextID    uint64
	queueSize int
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
	logger    *slog.Logger
}

type inboundSubscription struct {
	queue    chan chat.InboundMessage
	stop     chan struct{}
	stopOnce sync.Once
	listener InboundListener
}

// DefaultInboundQueueSize is the per-listener queue capacity.
const DefaultInboundQueueSize = 256

// NewInboundFanout creates a fan-out with the given per-listener queue size.
func NewInboundFanout(queueSize int, logger *slog.Logger) *InboundFanout {
	if queueSize <= 0 {
		queueSize = DefaultInboundQueueSize
	}
	return &InboundFanout{
		subs:      make(map[uint64]*inboundSubscription),
		queueSize: queueSize,
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Subscribe registers listener and returns a function that removes it.
// Messages still queued for the listener when it is removed are discarded.
func (f *InboundFanout) Subscribe(listener InboundListener) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return func() {}
	}

	id := f.nextID
	f.nextID++
	sub := &inboundSubscription{
		queue:    make(chan chat.InboundMessage, f.queueSize),
		stop:     make(chan struct{}),
		listener: listener,
	}
	f.subs[id] = sub

	f.wg.Add(1)
	go f.dispatch(sub)

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.stopOnce.Do(func() { close(sub.stop) })
	}
}

// Publish queues msg for every current listener.
func (f *InboundFanout) Publish(msg chat.InboundMessage) {
	f.mu.RLock()
	subs := make([]*inboundSubscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- msg:
		case <-sub.stop:
		case <-f.done:
			return
		}
	}
}

// Len returns the number of listeners.
func (f *InboundFanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close removes every listener and waits for their dispatch goroutines.
func (f *InboundFanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	subs := f.subs
	f.subs = make(map[uint64]*inboundSubscription)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.stopOnce.Do(func() { close(sub.stop) })
	}
	f.wg.Wait()
}

func (f *InboundFanout) dispatch(sub *inboundSubscription) {
	defer f.wg.Done()
	for {
		// Stop takes priority over queued messages.
		select {
		case <-sub.stop:
			return
		default:
		}
		select {
		case msg := <-sub.queue:
			f.deliver(sub, msg)
		case <-sub.stop:
			return
		}
	}
}

func (f *InboundFanout) deliver(sub *inboundSubscription, msg chat.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("inbound listener panicked", "tenant", msg.Tenant, "message_id", msg.ID, "panic", r)
		}
	}()
	sub.listener(msg)
}
