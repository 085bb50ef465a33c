package nfc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Publisher receives presence events from pollers. Publish must not block.
type Publisher interface {
	Publish(ev PresenceEvent)
}

// topicMask selects which event types a subscription receives.
type topicMask uint8

const (
	maskDetected topicMask = 1 << iota
	maskRemoved
)

func maskFor(topic string) (topicMask, bool) {
	switch topic {
	case TopicPresence:
		return maskDetected | maskRemoved, true
	case TopicTargetAdd:
		return maskDetected, true
	case TopicTargetRemove:
		return maskRemoved, true
	default:
		return 0, false
	}
}

func (m topicMask) accepts(t EventType) bool {
	switch t {
	case EventDetected:
		return m&maskDetected != 0
	case EventRemoved:
		return m&maskRemoved != 0
	default:
		return false
	}
}

// Subscription is one subscriber's ordered event stream. Events are queued
// without bound and handed to Events() by a dedicated goroutine, so a slow
// subscriber never blocks a poller and never loses an event.
type Subscription struct {
	ID    string
	Topic string

	mask   topicMask
	out    chan PresenceEvent
	signal chan struct{}
	done   chan struct{} // no more events will be queued
	abort  chan struct{} // queued events are dropped

	mu      sync.Mutex
	queue   []PresenceEvent
	closed  bool
	aborted bool
}

func newSubscription(topic string, mask topicMask) *Subscription {
	s := &Subscription{
		ID:     uuid.New().String(),
		Topic:  topic,
		mask:   mask,
		out:    make(chan PresenceEvent),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
		abort:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events returns the subscriber's stream. It is closed right after
// Unsubscribe, or once the queued events are delivered after the broker
// closes.
func (s *Subscription) Events() <-chan PresenceEvent {
	return s.out
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(ev PresenceEvent) {
	if !s.mask.accepts(ev.Type) {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) next() (PresenceEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return PresenceEvent{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// flush delivers queued events until the queue is empty or the
// subscription is aborted.
func (s *Subscription) flush() bool {
	for {
		ev, ok := s.next()
		if !ok {
			return true
		}
		select {
		case s.out <- ev:
		case <-s.abort:
			return false
		}
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case <-s.abort:
			return
		case <-s.done:
			s.flush()
			return
		case <-s.signal:
		}
		if !s.flush() {
			return
		}
	}
}

// close stops queueing. With drop set, undelivered events are discarded and
// the stream closes at once; otherwise the pump delivers them first. A
// dropping close also ends a flush already in progress.
func (s *Subscription) close(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	if drop && !s.aborted {
		s.aborted = true
		s.queue = nil
		close(s.abort)
	}
}

// Broker fans presence events out to subscriptions.
type Broker struct {
	subs     map[string]*Subscription
	draining map[string]*Subscription // closed by Close, still flushing
	closed   bool
	mu       sync.RWMutex
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[string]*Subscription),
		draining: make(map[string]*Subscription),
	}
}

// Subscribe registers a subscription for topic. Only events published after
// this call are delivered.
func (b *Broker) Subscribe(topic string) (*Subscription, error) {
	mask, ok := maskFor(topic)
	if !ok {
		return nil, fmt.Errorf("unknown event topic %q", topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}
	sub := newSubscription(topic, mask)
	b.subs[sub.ID] = sub
	log.WithFields(log.Fields{"subscription": sub.ID, "topic": topic}).Debug("subscribed")
	return sub, nil
}

// Unsubscribe removes a subscription and closes its stream, dropping
// undelivered events. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	} else {
		sub, ok = b.draining[id]
		delete(b.draining, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close(true)
		log.WithField("subscription", id).Debug("unsubscribed")
	}
}

// Publish queues ev on every matching subscription.
func (b *Broker) Publish(ev PresenceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// Count returns the number of live subscriptions.
func (b *Broker) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close rejects further subscriptions and ends every stream once the events
// already queued on it are delivered. Unsubscribe still drops what a
// subscriber no longer wants to read.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	for id, sub := range subs {
		b.draining[id] = sub
	}
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		sub.close(false)
	}
}
