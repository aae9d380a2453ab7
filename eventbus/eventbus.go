// Package eventbus implements the Live Event Bus (C10): an in-process
// publish/subscribe fan-out of spool-level occupation events to
// long-lived streaming subscribers (dashboard SSE clients).
package eventbus

import (
	"sync"
	"time"
)

// Kind is one of the event kinds the bus carries.
type Kind string

const (
	KindTomar                   Kind = "TOMAR"
	KindPausar                  Kind = "PAUSAR"
	KindCompletar               Kind = "COMPLETAR"
	KindIniciar                 Kind = "INICIAR"
	KindFinalizar               Kind = "FINALIZAR"
	KindCancelado               Kind = "CANCELADO"
	KindStateChange             Kind = "STATE_CHANGE"
	KindMetrologiaAutoTriggered Kind = "METROLOGIA_AUTO_TRIGGERED"
)

// Event is one occupation event fanned out to subscribers.
type Event struct {
	Kind          Kind
	TagSpool      string
	Worker        string
	EstadoDetalle string
	Timestamp     time.Time
}

// subscriberBuffer is the bounded per-subscriber channel size. A slow
// subscriber drops events past this; it reconciles on reconnect via a
// dashboard snapshot endpoint, per spec §4.10/§9 — the bus is not a
// log.
const subscriberBuffer = 64

// heartbeatInterval is how often idle subscribers receive a keepalive
// so intermediaries (proxies, load balancers) don't close the stream.
const heartbeatInterval = 15 * time.Second

// Bus is the single-process publisher. Zero value is not usable; use
// New.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int64]chan Event
	nextID      int64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subscribers: make(map[int64]chan Event)}
}

// Subscription is a handle to one subscriber's channel and its
// unsubscribe function.
type Subscription struct {
	Events <-chan Event
	id     int64
	bus    *Bus
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subscribers[s.id]; ok {
		close(ch)
		delete(s.bus.subscribers, s.id)
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subscribers[id] = ch

	return &Subscription{Events: ch, id: id, bus: b}
}

// Publish fans evt out to every subscriber with a non-blocking send.
// A subscriber whose buffer is full has the event dropped — delivery
// is best-effort at-most-once, never blocking the publisher.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Buffer full: drop. We do not remove the subscriber here —
			// only a write to a closed/gone stream (detected by the
			// handler) triggers Unsubscribe.
			_ = id
		}
	}
}

// SubscriberCount returns the number of currently registered
// subscribers, for observability.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// HeartbeatInterval exposes the keepalive cadence to the SSE handler.
func HeartbeatInterval() time.Duration { return heartbeatInterval }
