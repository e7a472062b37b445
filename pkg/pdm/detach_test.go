package pdm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-reliability/pkg/model"
)

func TestDetachRbdChainPassthrough(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DetachRbdChain(ctx, alice, DetachQuery{
		Chain:       RbdChain{Source: "b-motor", Target: "b-motor"},
		Passthrough: true,
	}))

	want := model.New()
	root := want.Linear("rbd", want.Reserved("gs",
		want.Linear("", want.Leaf("b1", 0)),
		want.Linear("", want.Leaf("b2", 0)),
	))
	got, err := h.svc.GetRbdModel(ctx, alice, SemanticQuery{Semantic: "rbd"})
	require.NoError(t, err)
	assert.True(t, model.Equal(want, root, got.Model, got.Root), "got %s", got)

	motor := h.node(t, "b-motor")
	assert.Empty(t, motor.Inputs)
	assert.Empty(t, motor.Outputs)
	assert.Equal(t, "rbd", motor.Parent)
	assert.Equal(t, []string{"gs"}, h.node(t, "rbd-start").Outputs)
}

func TestDetachRbdChainLeavesGap(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DetachRbdChain(ctx, alice, DetachQuery{Chain: RbdChain{Source: "b-motor", Target: "b-motor"}}))
	pm, err := h.svc.GetRbdModel(ctx, alice, SemanticQuery{Semantic: "rbd"})
	require.NoError(t, err)
	assert.True(t, pm.Model.HasOpen(pm.Root))
	assert.Equal(t, "[?]", pm.String())
}

func TestDetachGroupChain(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.svc.DetachRbdChain(context.Background(), alice, DetachQuery{
		Chain:       RbdChain{Source: "gs", Target: "ge"},
		Passthrough: true,
	}))
	assert.Equal(t, "[b-motor]", h.model(t, "rbd"))
	assert.Equal(t, []string{"b1", "b2"}, h.node(t, "gs").Outputs)
	assert.Empty(t, h.node(t, "gs").Inputs)
}

func TestDetachGroupPath(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	detach := func(b string) {
		require.NoError(t, h.svc.DetachRbdChain(ctx, alice, DetachQuery{Chain: RbdChain{Source: b, Target: b}, Passthrough: true}))
	}

	// The path vanishes rather than becoming a bypass.
	detach("b1")
	assert.Equal(t, []string{"b2"}, h.node(t, "gs").Outputs)
	assert.Equal(t, []string{"b2"}, h.node(t, "ge").Inputs)
	assert.Equal(t, "[b-motor b2]", h.model(t, "rbd"))

	// The last path turns into a bypass.
	detach("b2")
	assert.Equal(t, []string{"ge"}, h.node(t, "gs").Outputs)
	assert.Equal(t, "[b-motor]", h.model(t, "rbd"))
	require.NoError(t, h.svc.ValidateRbdGroup(ctx, alice, SemanticQuery{Semantic: "gs"}))
}

func TestDetachRejectsBrokenChain(t *testing.T) {
	h := newHarness(t, "")
	err := h.svc.DetachRbdChain(context.Background(), alice, DetachQuery{Chain: RbdChain{Source: "b1", Target: "b2"}})
	requireKind(t, err, KindInvalidTopology)
}

func TestUngroupSubRbd(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain, err := h.svc.UngroupSubRbd(ctx, alice, SemanticQuery{Semantic: "s-aux"})
	require.NoError(t, err)
	assert.Equal(t, RbdChain{Source: "n1", Target: "n1"}, chain)
	assert.Equal(t, "[n1 b-x]", h.model(t, "sys"))

	h.gone(t, "s-aux")
	assert.Empty(t, h.node(t, "aux").BoundBy)
	assert.ElementsMatch(t, []string{"b-seal", "n1"}, h.node(t, "seal").BoundBy)
	assert.Equal(t, "seal", h.node(t, "n1").Ref)
	assert.NotContains(t, h.node(t, "sys").Children, "s-aux")
	h.requireDense(t, "sys")
	// The embedded diagram is untouched.
	assert.Equal(t, "[b-seal]", h.model(t, "aux"))
}

func TestUngroupEmptySubRbd(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain, err := h.svc.AddSubRbd(ctx, alice, NewSubRbd{Rbd: "sys", Ref: "spare", Semantic: "s-spare"})
	require.NoError(t, err)
	require.NoError(t, h.svc.InsertRbdBeside(ctx, alice, InsertBesideQuery{Anchor: "b-x", Side: SideRight, Chain: chain}))
	assert.Equal(t, "[[b-seal] b-x []]", h.model(t, "sys"))

	got, err := h.svc.UngroupSubRbd(ctx, alice, SemanticQuery{Semantic: "s-spare"})
	require.NoError(t, err)
	assert.Equal(t, RbdChain{}, got)
	assert.Equal(t, "[[b-seal] b-x]", h.model(t, "sys"))
	assert.Equal(t, []string{"sys-end"}, h.node(t, "b-x").Outputs)
	assert.Empty(t, h.node(t, "spare").BoundBy)
}

func TestUngroupSubRbdRejects(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.UngroupSubRbd(ctx, alice, SemanticQuery{Semantic: "b-x"})
	requireKind(t, err, KindValidationFailed)

	require.NoError(t, h.svc.UnbindRbdFromSubRbd(ctx, alice, BindQuery{Ref: "aux", Part: "s-aux"}))
	_, err = h.svc.UngroupSubRbd(ctx, alice, SemanticQuery{Semantic: "s-aux"})
	requireKind(t, err, KindValidationFailed)
}
