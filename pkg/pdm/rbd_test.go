package pdm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/validation"
)

func TestAddRbd(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	sem, err := h.svc.AddRbd(ctx, alice, NewRbd{Product: "pump", Name: "backup"})
	require.NoError(t, err)
	assert.Equal(t, "n1", sem)

	rbd := h.node(t, "n1")
	assert.Equal(t, graph.RoleRbd, rbd.Role)
	assert.Equal(t, "pump", rbd.Parent)
	assert.Equal(t, 4, rbd.Positional)
	assert.Equal(t, []string{"n1-end"}, h.node(t, "n1-start").Outputs)
	assert.Equal(t, []string{"n1-start"}, h.node(t, "n1-end").Inputs)
	assert.Equal(t, "[]", h.model(t, "n1"))
	h.requireDense(t, "pump")

	_, err = h.svc.AddRbd(ctx, alice, NewRbd{Product: "pump", Name: "main"})
	requireKind(t, err, KindValidationFailed)
	_, err = h.svc.AddRbd(ctx, alice, NewRbd{Product: "motor", Name: "other"})
	requireKind(t, err, KindValidationFailed)
	_, err = h.svc.AddRbd(ctx, alice, NewRbd{Product: "ghost", Name: "other"})
	requireKind(t, err, KindNodeNotFound)
}

func TestAddRbdTerminalSemanticLength(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	long := strings.Repeat("d", validation.MaxSemanticLength-len("-start")+1)
	_, err := h.svc.AddRbd(ctx, alice, NewRbd{Product: "pump", Name: "long", Semantic: long})
	requireKind(t, err, KindValidationFailed)
	h.gone(t, long)

	fits := strings.Repeat("d", validation.MaxSemanticLength-len("-start"))
	sem, err := h.svc.AddRbd(ctx, alice, NewRbd{Product: "pump", Name: "long", Semantic: fits})
	require.NoError(t, err)
	assert.Equal(t, []string{fits + "-end"}, h.node(t, fits+"-start").Outputs)
	assert.Equal(t, fits, sem)
}

func TestBindComponentWithBlock(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.BindComponentWithBlock(ctx, alice, BindQuery{Ref: "seal", Part: "b-free"}))
	assert.Equal(t, "seal", h.node(t, "b-free").Ref)
	assert.ElementsMatch(t, []string{"b-seal", "b-free"}, h.node(t, "seal").BoundBy)

	// Rebinding releases the previous element.
	require.NoError(t, h.svc.BindComponentWithBlock(ctx, alice, BindQuery{Ref: "motor", Part: "b-free"}))
	assert.Equal(t, []string{"b-seal"}, h.node(t, "seal").BoundBy)
	assert.ElementsMatch(t, []string{"b-motor", "b-free"}, h.node(t, "motor").BoundBy)

	err := h.svc.UnbindComponentFromBlock(ctx, alice, BindQuery{Ref: "seal", Part: "b-free"})
	requireKind(t, err, KindValidationFailed)

	require.NoError(t, h.svc.UnbindComponentFromBlock(ctx, alice, BindQuery{Ref: "motor", Part: "b-free"}))
	assert.Empty(t, h.node(t, "b-free").Ref)
	assert.Equal(t, []string{"b-motor"}, h.node(t, "motor").BoundBy)

	tests := []struct {
		name string
		q    BindQuery
	}{
		{"diagram is not an element", BindQuery{Ref: "aux", Part: "b-free"}},
		{"sub-diagram is not a block", BindQuery{Ref: "motor", Part: "s-aux"}},
		{"same semantic", BindQuery{Ref: "b-free", Part: "b-free"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.BindComponentWithBlock(ctx, alice, tt.q)
			requireKind(t, err, KindValidationFailed)
		})
	}
}

func TestBindRbdWithSubRbd(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.BindRbdWithSubRbd(ctx, alice, BindQuery{Ref: "spare", Part: "s-aux"}))
	assert.Equal(t, "spare", h.node(t, "s-aux").Ref)
	assert.Empty(t, h.node(t, "aux").BoundBy)
	assert.Equal(t, []string{"s-aux"}, h.node(t, "spare").BoundBy)
	assert.Equal(t, "[[] b-x]", h.model(t, "sys"))

	err := h.svc.BindRbdWithSubRbd(ctx, alice, BindQuery{Ref: "sys", Part: "s-aux"})
	requireKind(t, err, KindInvalidTopology)
	assert.Equal(t, "spare", h.node(t, "s-aux").Ref)

	err = h.svc.BindRbdWithSubRbd(ctx, alice, BindQuery{Ref: "motor", Part: "s-aux"})
	requireKind(t, err, KindValidationFailed)
}

func TestAddRbdBlockGroup(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain, err := h.svc.AddRbdBlockGroup(ctx, alice, NewRbdBlocks{
		Rbd: "spare",
		Blocks: []NewBlock{
			{Semantic: "p1", FailureRate: 1e-4},
			{Semantic: "p2", Component: "motor"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, RbdChain{Source: "n1", Target: "n2"}, chain)

	gs, ge := h.node(t, "n1"), h.node(t, "n2")
	assert.Equal(t, graph.RoleRbdGroupStart, gs.Role)
	assert.Equal(t, "n2", gs.Ref)
	assert.Equal(t, "n1", ge.Ref)
	assert.Equal(t, []string{"p1", "p2"}, gs.Outputs)
	assert.Equal(t, []string{"p1", "p2"}, ge.Inputs)
	assert.Empty(t, gs.Inputs)
	assert.Empty(t, ge.Outputs)
	assert.Equal(t, "motor", h.node(t, "p2").Ref)
	assert.Equal(t, "[]", h.model(t, "spare"))

	require.NoError(t, h.svc.InsertRbdBetween(ctx, alice, InsertBetweenQuery{
		Link:  RbdLink{Source: "spare-start", Target: "spare-end"},
		Chain: chain,
	}))
	assert.Equal(t, "[([p1]|[p2])]", h.model(t, "spare"))
	h.requireDense(t, "spare")

	_, err = h.svc.AddRbdBlockGroup(ctx, alice, NewRbdBlocks{Rbd: "spare", Blocks: []NewBlock{{Semantic: "p3", Component: "aux"}}})
	requireKind(t, err, KindValidationFailed)
	h.gone(t, "p3")
	_, err = h.svc.AddRbdBlockGroup(ctx, alice, NewRbdBlocks{Rbd: "motor", Blocks: []NewBlock{{Semantic: "p3"}}})
	requireKind(t, err, KindValidationFailed)
}

func TestAddSubRbdGroup(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain, err := h.svc.AddSubRbdGroup(ctx, alice, NewSubRbdGroup{Rbd: "sys", Refs: []string{"aux", "spare"}})
	require.NoError(t, err)
	assert.Equal(t, RbdChain{Source: "n1", Target: "n2"}, chain)
	assert.Equal(t, "aux", h.node(t, "n3").Ref)
	assert.Equal(t, "spare", h.node(t, "n4").Ref)
	assert.ElementsMatch(t, []string{"s-aux", "n3"}, h.node(t, "aux").BoundBy)

	require.NoError(t, h.svc.InsertRbdBeside(ctx, alice, InsertBesideQuery{Anchor: "b-x", Side: SideRight, Chain: chain}))
	assert.Equal(t, "[[b-seal] b-x ([[b-seal]]|[[]])]", h.model(t, "sys"))

	// aux would end up embedding itself through sys.
	_, err = h.svc.AddSubRbdGroup(ctx, alice, NewSubRbdGroup{Rbd: "aux", Refs: []string{"spare", "sys"}})
	requireKind(t, err, KindInvalidTopology)
	assert.Equal(t, "[b-seal]", h.model(t, "aux"))
	assert.Empty(t, h.node(t, "sys").BoundBy)

	_, err = h.svc.AddSubRbdGroup(ctx, alice, NewSubRbdGroup{Rbd: "sys", Refs: []string{"motor"}})
	requireKind(t, err, KindValidationFailed)
}
