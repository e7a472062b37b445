package pdm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dd0wney/cluso-reliability/pkg/audit"
	"github.com/dd0wney/cluso-reliability/pkg/config"
	"github.com/dd0wney/cluso-reliability/pkg/fixture"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/metrics"
	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Options{Config: config.Default()})
	require.Error(t, err)
}

func TestOpenDefaults(t *testing.T) {
	ctx := context.Background()
	svc, err := Open(ctx, config.Default(), nil, metrics.NewRegistry())
	require.NoError(t, err)
	defer svc.Close()

	f, err := fixture.Parse(pumpFixture)
	require.NoError(t, err)
	require.NoError(t, f.Apply(ctx, svc.Store()))
	require.NotNil(t, svc.Events())
	require.NotNil(t, svc.Journal())
	assert.Equal(t, 8760.0, svc.Config().MissionTime)

	pm, err := svc.GetRbdModel(ctx, alice, SemanticQuery{Semantic: "rbd"})
	require.NoError(t, err)
	assert.Equal(t, "[b-motor ([b1]|[b2])]", pm.String())
}

func TestOperationTimeout(t *testing.T) {
	h := newHarness(t, "", func(o *Options) { o.Config.MethodTimeout = 50 * time.Millisecond })

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.svc.rbd.Run(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := h.svc.UnlinkRbdElements(context.Background(), alice, RbdLink{Source: "spare-start", Target: "spare-end"})
	close(release)
	requireKind(t, err, KindTimeout)
	assert.True(t, errors.Is(err, ErrTimeout))

	// The queued edit was abandoned, not applied late.
	h.svc.rbd.Close()
	assert.Equal(t, []string{"spare-end"}, h.node(t, "spare-start").Outputs)
}

// slowResolver answers after delay without watching its context.
type slowResolver struct {
	delay time.Duration
}

func (r slowResolver) ResolveStatus(_ context.Context, id string) (string, error) {
	time.Sleep(r.delay)
	return id, nil
}

func (r slowResolver) ResolveActorName(_ context.Context, id string) (string, error) {
	time.Sleep(r.delay)
	return id, nil
}

func TestInlineOperationTimeout(t *testing.T) {
	h := newHarness(t, "", func(o *Options) {
		o.Config.MethodTimeout = 50 * time.Millisecond
		o.Statuses = slowResolver{delay: 100 * time.Millisecond}
	})
	ctx := context.Background()

	require.NoError(t, h.svc.UpdateNode(ctx, alice, UpdateNodeQuery{Semantic: "motor", Status: ptr("st-draft")}))

	_, err := h.svc.FetchNodesView(ctx, alice, SemanticsQuery{Semantics: []string{"motor"}})
	requireKind(t, err, KindTimeout)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestLockNodePastDeadline(t *testing.T) {
	h := newHarness(t, "")

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	requireKind(t, h.svc.LockNode(ctx, alice, LockQuery{Semantic: "motor"}), KindTimeout)
	assert.Empty(t, h.svc.Locks())

	require.NoError(t, h.svc.LockNode(context.Background(), alice, LockQuery{Semantic: "motor"}))
	requireKind(t, h.svc.UnlockNode(ctx, alice, SemanticQuery{Semantic: "motor"}), KindTimeout)
	assert.Len(t, h.svc.Locks(), 1)
}

func TestWriteConflict(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.FetchNodesView(ctx, alice, SemanticsQuery{Semantics: []string{"motor"}})
	require.NoError(t, err)

	// Another writer bumps the version without going through the cache.
	motor := h.node(t, "motor")
	motor.Name = "elsewhere"
	require.NoError(t, h.store.Write(ctx, graph.Put(motor)))

	err = h.svc.RenameElement(ctx, alice, RenameQuery{Semantic: "motor", Name: "Drive"})
	requireKind(t, err, KindConflict)
	assert.Equal(t, "elsewhere", h.node(t, "motor").Name)

	// The failed write dropped the stale entry, so a retry goes through.
	require.NoError(t, h.svc.RenameElement(ctx, alice, RenameQuery{Semantic: "motor", Name: "Drive"}))
	assert.Equal(t, "Drive", h.node(t, "motor").Name)
}

func TestOperationSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	h := newHarness(t, "", func(o *Options) { o.Tracer = tp.Tracer("pdm-test") })
	ctx := context.Background()

	_, err := h.svc.GetRbdModel(ctx, alice, SemanticQuery{Semantic: "rbd"})
	require.NoError(t, err)
	err = h.svc.UpdateNode(ctx, bob, UpdateNodeQuery{Semantic: "housing", FailureRate: ptr(1e-3)})
	requireKind(t, err, KindValidationFailed)

	spans := make(map[string]sdktrace.ReadOnlySpan)
	for _, s := range sr.Ended() {
		spans[s.Name()] = s
	}

	ok := spans["getRbdModel"]
	require.NotNil(t, ok)
	assert.NotEqual(t, codes.Error, ok.Status().Code)
	assert.Contains(t, ok.Attributes(), attribute.String("pdm.actor", "alice"))
	assert.Contains(t, ok.Attributes(), attribute.String("pdm.domain", "rbd"))

	failed := spans["updateNode"]
	require.NotNil(t, failed)
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "ValidationFailed", failed.Status().Description)
	assert.Contains(t, failed.Attributes(), attribute.String("pdm.domain", "container"))
	assert.Contains(t, failed.Attributes(), attribute.String("pdm.error_kind", "ValidationFailed"))
}

func TestEventsPublished(t *testing.T) {
	bus := pubsub.NewPubSub(0)
	defer bus.Shutdown()
	h := newHarness(t, "", func(o *Options) { o.Events = bus })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	structure, err := bus.Subscribe(ctx, pubsub.TopicStructure)
	require.NoError(t, err)
	locks, err := bus.Subscribe(ctx, pubsub.TopicLock)
	require.NoError(t, err)

	next := func(sub *pubsub.Subscription) pubsub.Event {
		t.Helper()
		select {
		case ev := <-sub.Channel():
			return ev
		case <-time.After(time.Second):
			t.Fatal("no event")
			return pubsub.Event{}
		}
	}

	require.NoError(t, h.svc.RenameElement(ctx, bob, RenameQuery{Semantic: "seal", Name: "Lip seal"}))
	ev := next(structure)
	assert.Equal(t, "renameElement", ev.Operation)
	assert.Equal(t, "bob", ev.Actor)
	assert.Contains(t, ev.Semantics, "seal")

	// The rename recalculated already, subscribe after it.
	recalcs, err := bus.Subscribe(ctx, pubsub.TopicRecalc)
	require.NoError(t, err)
	_, err = h.svc.RecalculateProductFull(ctx, alice, RecalcQuery{Semantic: "pump", Timespan: 100})
	require.NoError(t, err)
	ev = next(recalcs)
	assert.Equal(t, "recalculateProductFull", ev.Operation)
	assert.Contains(t, ev.Semantics, "rbd")

	require.NoError(t, h.svc.LockNode(ctx, alice, LockQuery{Semantic: "aux"}))
	ev = next(locks)
	assert.Equal(t, "lockNode", ev.Operation)
	assert.Equal(t, []string{"aux"}, ev.Semantics)
}

func TestJournalRecordsEdits(t *testing.T) {
	journal := audit.NewJournal(8)
	h := newHarness(t, "", func(o *Options) { o.Journal = journal })
	ctx := context.Background()

	require.NoError(t, h.svc.RenameElement(ctx, bob, RenameQuery{Semantic: "seal", Name: "Lip seal"}))
	require.NoError(t, h.svc.LockNode(ctx, alice, LockQuery{Semantic: "aux"}))
	_, err := h.svc.AddNode(ctx, bob, NewNode{Parent: "pump", Role: "Component", Name: "bad", FailureRate: -1})
	requireKind(t, err, KindValidationFailed)

	edits := journal.Entries(&audit.Filter{Topic: pubsub.TopicStructure})
	require.Len(t, edits, 1)
	assert.Equal(t, "renameElement", edits[0].Operation)
	assert.Equal(t, "bob", edits[0].Actor)
	assert.Contains(t, edits[0].Semantics, "seal")

	touched := journal.Entries(&audit.Filter{Semantic: "aux", Actor: "alice"})
	require.Len(t, touched, 1)
	assert.Equal(t, "lockNode", touched[0].Operation)
}
