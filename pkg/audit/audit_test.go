package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

func event(op, actor string, semantics ...string) pubsub.Event {
	return pubsub.Event{Topic: pubsub.TopicStructure, Operation: op, Actor: actor, Semantics: semantics}
}

// TestJournal_Record tests basic recording
func TestJournal_Record(t *testing.T) {
	j := NewJournal(10)

	e := j.Record(event("renameElement", "alice", "motor"))
	if e.ID == "" {
		t.Error("Expected entry ID to be set")
	}
	if e.At.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if j.Len() != 1 || j.Total() != 1 {
		t.Errorf("Len/Total = %d/%d, want 1/1", j.Len(), j.Total())
	}
}

// TestJournal_CircularBuffer tests eviction once the buffer is full
func TestJournal_CircularBuffer(t *testing.T) {
	j := NewJournal(5)
	for i := 0; i < 8; i++ {
		j.Record(event(fmt.Sprintf("op%d", i), "alice"))
	}

	if j.Len() != 5 {
		t.Errorf("Expected 5 stored entries, got %d", j.Len())
	}
	if j.Total() != 8 {
		t.Errorf("Expected total 8, got %d", j.Total())
	}

	entries := j.Entries(nil)
	if entries[0].Operation != "op3" || entries[4].Operation != "op7" {
		t.Errorf("Expected op3..op7, got %s..%s", entries[0].Operation, entries[4].Operation)
	}

	recent := j.Recent(2)
	if len(recent) != 2 || recent[0].Operation != "op7" || recent[1].Operation != "op6" {
		t.Errorf("Recent(2) = %v", recent)
	}
	if len(j.Recent(50)) != 5 {
		t.Error("Recent should cap at the stored count")
	}
}

// TestJournal_Filter tests filtering
func TestJournal_Filter(t *testing.T) {
	j := NewJournal(100)
	j.Record(event("renameElement", "alice", "motor"))
	j.Record(event("moveElements", "bob", "seal", "housing"))
	j.Record(pubsub.Event{Topic: pubsub.TopicLock, Operation: "lockNode", Actor: "alice", Semantics: []string{"aux"}})

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		filter *Filter
		want   int
	}{
		{"nil filter", nil, 3},
		{"by actor", &Filter{Actor: "alice"}, 2},
		{"by topic", &Filter{Topic: pubsub.TopicLock}, 1},
		{"by operation", &Filter{Operation: "moveElements"}, 1},
		{"by semantic", &Filter{Semantic: "housing"}, 1},
		{"actor and topic", &Filter{Actor: "alice", Topic: pubsub.TopicStructure}, 1},
		{"time window", &Filter{StartTime: &past, EndTime: &future}, 3},
		{"ended before", &Filter{EndTime: &past}, 0},
		{"no match", &Filter{Actor: "carol"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(j.Entries(tt.filter)); got != tt.want {
				t.Errorf("Entries = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestJournal_Clear tests clearing
func TestJournal_Clear(t *testing.T) {
	j := NewJournal(4)
	j.Record(event("a", "alice"))
	j.Record(event("b", "alice"))
	j.Clear()

	if j.Len() != 0 || len(j.Entries(nil)) != 0 {
		t.Error("Expected empty journal after Clear")
	}
	j.Record(event("c", "alice"))
	if got := j.Entries(nil); len(got) != 1 || got[0].Operation != "c" {
		t.Errorf("Entries after Clear = %v", got)
	}
}

// TestJournal_Follow tests recording from a bus
func TestJournal_Follow(t *testing.T) {
	bus := pubsub.NewPubSub(16)
	defer bus.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := NewJournal(16)
	if err := j.Follow(ctx, bus, pubsub.TopicStructure, pubsub.TopicLock); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	bus.Publish(event("renameElement", "alice", "motor"))
	bus.Publish(pubsub.Event{Topic: pubsub.TopicRecalc, Operation: "recalculateProduct"})
	bus.Publish(pubsub.Event{Topic: pubsub.TopicLock, Operation: "lockNode", Actor: "bob"})

	deadline := time.Now().Add(time.Second)
	for j.Len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if j.Len() != 2 {
		t.Fatalf("Expected 2 journaled entries, got %d", j.Len())
	}
	if len(j.Entries(&Filter{Topic: pubsub.TopicRecalc})) != 0 {
		t.Error("Recalc topic was not followed")
	}

	bus.Shutdown()
	if err := j.Follow(ctx, bus, pubsub.TopicStructure); err == nil {
		t.Error("Expected Follow to fail on a shut down bus")
	}
}
