// Package audit keeps a bounded journal of the edits a service published:
// who changed which nodes, through which operation, and when.
package audit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

// Entry is one journaled event.
type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	At        time.Time `json:"at" yaml:"at"`
	Topic     string    `json:"topic" yaml:"topic"`
	Operation string    `json:"operation" yaml:"operation"`
	Actor     string    `json:"actor,omitempty" yaml:"actor,omitempty"`
	Semantics []string  `json:"semantics,omitempty" yaml:"semantics,omitempty"`
}

// String returns a human-readable representation of an entry
func (e *Entry) String() string {
	return fmt.Sprintf("[%s] %s %s by %s: %s",
		e.At.Format(time.RFC3339), e.Topic, e.Operation, e.Actor, strings.Join(e.Semantics, " "))
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Topic     string
	Operation string
	Actor     string
	// Semantic matches entries that touched this node.
	Semantic  string
	StartTime *time.Time
	EndTime   *time.Time
}

func (f *Filter) match(e *Entry) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Topic != "" && e.Topic != f.Topic:
	case f.Operation != "" && e.Operation != f.Operation:
	case f.Actor != "" && e.Actor != f.Actor:
	case f.Semantic != "" && !slices.Contains(e.Semantics, f.Semantic):
	case f.StartTime != nil && e.At.Before(*f.StartTime):
	case f.EndTime != nil && e.At.After(*f.EndTime):
	default:
		return true
	}
	return false
}

// Journal holds the most recent entries in a circular buffer.
type Journal struct {
	entries    []*Entry
	bufferSize int
	index      int
	count      int
	total      int64
	mu         sync.RWMutex
}

// NewJournal creates a journal keeping up to bufferSize entries.
func NewJournal(bufferSize int) *Journal {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Journal{
		entries:    make([]*Entry, bufferSize),
		bufferSize: bufferSize,
	}
}

// Record stores ev, evicting the oldest entry when full.
func (j *Journal) Record(ev pubsub.Event) *Entry {
	e := &Entry{
		ID:        uuid.NewString(),
		At:        ev.At,
		Topic:     ev.Topic,
		Operation: ev.Operation,
		Actor:     ev.Actor,
		Semantics: slices.Clone(ev.Semantics),
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.index] = e
	j.index = (j.index + 1) % j.bufferSize
	if j.count < j.bufferSize {
		j.count++
	}
	j.total++
	return e
}

// Entries returns the stored entries matching filter, oldest first.
func (j *Journal) Entries(filter *Filter) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	result := make([]*Entry, 0, j.count)
	for i := 0; i < j.count; i++ {
		idx := (j.index - j.count + i + j.bufferSize) % j.bufferSize
		if e := j.entries[idx]; e != nil && filter.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// Recent returns the n most recent entries, newest first.
func (j *Journal) Recent(n int) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n = min(n, j.count)
	result := make([]*Entry, 0, n)
	for i := 0; i < n; i++ {
		idx := (j.index - 1 - i + j.bufferSize) % j.bufferSize
		result = append(result, j.entries[idx])
	}
	return result
}

// Len returns the number of entries currently stored.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.count
}

// Total returns the number of entries ever recorded, evicted ones included.
func (j *Journal) Total() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.total
}

// Clear drops every entry.
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make([]*Entry, j.bufferSize)
	j.index = 0
	j.count = 0
}

// Follow records every event published on topics until ctx is done or the
// bus shuts down. It subscribes before returning, so no event published
// after Follow returns is missed.
func (j *Journal) Follow(ctx context.Context, bus *pubsub.PubSub, topics ...string) error {
	subs := make([]*pubsub.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := bus.Subscribe(ctx, topic)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("follow %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		go func(sub *pubsub.Subscription) {
			for ev := range sub.Channel() {
				j.Record(ev)
			}
		}(sub)
	}
	return nil
}
