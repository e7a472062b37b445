// Package pubsub fans service events out to in-process subscribers.
// Delivery is best effort: a subscriber whose buffer is full misses the event.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Topics published by the service.
const (
	TopicStructure = "structure"
	TopicRecalc    = "recalc"
	TopicLock      = "lock"
)

// ErrShutdown is returned by Subscribe after Shutdown.
var ErrShutdown = errors.New("pubsub is shut down")

// Event describes one completed service operation.
type Event struct {
	Topic     string
	Operation string
	Actor     string
	// Semantics are the nodes written or recalculated.
	Semantics []string
	At        time.Time
}

// PubSub provides publish/subscribe functionality for service events
type PubSub struct {
	subscribers map[string]map[*Subscription]bool
	mu          sync.RWMutex
	shutdown    chan struct{}
	shutdownMu  sync.Mutex
	isShutdown  bool
	buffer      int
	dropped     atomic.Int64
}

// Subscription represents a subscription to a topic
type Subscription struct {
	topic     string
	channel   chan Event
	ps        *PubSub
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPubSub creates a PubSub whose subscriptions buffer up to buffer events.
func NewPubSub(buffer int) *PubSub {
	if buffer <= 0 {
		buffer = 100
	}
	return &PubSub{
		subscribers: make(map[string]map[*Subscription]bool),
		shutdown:    make(chan struct{}),
		buffer:      buffer,
	}
}

// Subscribe creates a subscription that ends when ctx is done.
func (ps *PubSub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	ps.shutdownMu.Lock()
	defer ps.shutdownMu.Unlock()
	if ps.isShutdown {
		return nil, ErrShutdown
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		topic:   topic,
		channel: make(chan Event, ps.buffer),
		ps:      ps,
		cancel:  cancel,
	}

	ps.mu.Lock()
	if ps.subscribers[topic] == nil {
		ps.subscribers[topic] = make(map[*Subscription]bool)
	}
	ps.subscribers[topic][sub] = true
	ps.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-ps.shutdown:
			sub.close()
		}
	}()

	return sub, nil
}

// Publish sends ev to all subscribers of ev.Topic without blocking.
func (ps *PubSub) Publish(ev Event) {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.shutdownMu.Unlock()

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	ps.mu.RLock()
	subs := make([]*Subscription, 0, len(ps.subscribers[ev.Topic]))
	for sub := range ps.subscribers[ev.Topic] {
		subs = append(subs, sub)
	}
	ps.mu.RUnlock()

	for _, sub := range subs {
		sub.send(ev)
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (ps *PubSub) Dropped() int64 {
	return ps.dropped.Load()
}

// GetSubscriberCount returns the number of subscribers for a topic
func (ps *PubSub) GetSubscriberCount(topic string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subscribers[topic])
}

// Shutdown closes all subscriptions and shuts down the PubSub
func (ps *PubSub) Shutdown() {
	ps.shutdownMu.Lock()
	if ps.isShutdown {
		ps.shutdownMu.Unlock()
		return
	}
	ps.isShutdown = true
	ps.shutdownMu.Unlock()

	close(ps.shutdown)

	ps.mu.Lock()
	for topic, subs := range ps.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(ps.subscribers, topic)
	}
	ps.mu.Unlock()
}

// Channel returns the subscription's event channel
func (s *Subscription) Channel() <-chan Event {
	return s.channel
}

// Unsubscribe removes the subscription
func (s *Subscription) Unsubscribe() {
	s.cancel()

	s.ps.mu.Lock()
	if s.ps.subscribers[s.topic] != nil {
		delete(s.ps.subscribers[s.topic], s)
		if len(s.ps.subscribers[s.topic]) == 0 {
			delete(s.ps.subscribers, s.topic)
		}
	}
	s.close()
	s.ps.mu.Unlock()
}

// send and close both run under ps.mu so a send never races a close.
func (s *Subscription) send(ev Event) {
	s.ps.mu.RLock()
	defer s.ps.mu.RUnlock()
	if !s.ps.subscribers[s.topic][s] {
		return
	}
	select {
	case s.channel <- ev:
	default:
		s.ps.dropped.Add(1)
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
