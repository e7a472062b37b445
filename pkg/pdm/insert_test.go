package pdm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addBlock creates a detached block b in diagram rbd.
func (h *harness) addBlock(t *testing.T, rbd, b string) RbdChain {
	t.Helper()
	chain, err := h.svc.AddRbdBlocks(context.Background(), alice, NewRbdBlocks{
		Rbd:    rbd,
		Blocks: []NewBlock{{Semantic: b, FailureRate: 1e-4}},
	})
	require.NoError(t, err)
	return chain
}

func TestInsertRbdBetween(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	// A chain from another diagram is copied in.
	err := h.svc.InsertRbdBetween(ctx, alice, InsertBetweenQuery{
		Link:  RbdLink{Source: "b-x", Target: "sys-end"},
		Chain: RbdChain{Source: "b-free", Target: "b-free"},
	})
	require.NoError(t, err)
	assert.Equal(t, "[[b-seal] b-x n1]", h.model(t, "sys"))

	cp := h.node(t, "n1")
	assert.Equal(t, "sys", cp.Parent)
	assert.Equal(t, 1e-3, cp.FailureRate)
	assert.Equal(t, "spare", h.node(t, "b-free").Parent)
	assert.Empty(t, h.node(t, "b-free").Inputs)

	err = h.svc.InsertRbdBetween(ctx, alice, InsertBetweenQuery{
		Link:  RbdLink{Source: "b1", Target: "b2"},
		Chain: RbdChain{Source: "b-free", Target: "b-free"},
	})
	requireKind(t, err, KindLinkNotFound)

	// A chain of the same diagram must be detached first.
	err = h.svc.InsertRbdBetween(ctx, alice, InsertBetweenQuery{
		Link:  RbdLink{Source: "b1", Target: "ge"},
		Chain: RbdChain{Source: "b-motor", Target: "b-motor"},
	})
	requireKind(t, err, KindValidationFailed)
	assert.Equal(t, "[b-motor ([b1]|[b2])]", h.model(t, "rbd"))
}

func TestInsertRbdBeside(t *testing.T) {
	tests := []struct {
		name   string
		anchor string
		side   Side
		want   string
	}{
		{"right of block", "b-motor", SideRight, "[b-motor b3 ([b1]|[b2])]"},
		{"left of block", "b-motor", SideLeft, "[b3 b-motor ([b1]|[b2])]"},
		{"right of start", "rbd-start", SideRight, "[b3 b-motor ([b1]|[b2])]"},
		{"left of end", "rbd-end", SideLeft, "[b-motor ([b1]|[b2]) b3]"},
		{"right of group end", "ge", SideRight, "[b-motor ([b1]|[b2]) b3]"},
		{"left of group start", "gs", SideLeft, "[b-motor b3 ([b1]|[b2])]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "")
			chain := h.addBlock(t, "rbd", "b3")
			err := h.svc.InsertRbdBeside(context.Background(), alice, InsertBesideQuery{Anchor: tt.anchor, Side: tt.side, Chain: chain})
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.model(t, "rbd"))
		})
	}
}

func TestInsertRbdBesideRejects(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	chain := h.addBlock(t, "rbd", "b3")

	tests := []struct {
		name   string
		anchor string
		side   Side
		chain  RbdChain
	}{
		{"left of start", "rbd-start", SideLeft, chain},
		{"right of end", "rbd-end", SideRight, chain},
		{"right of group start", "gs", SideRight, chain},
		{"left of group end", "ge", SideLeft, chain},
		{"inside a group", "b1", SideRight, chain},
		{"anchor in chain", "b3", SideRight, chain},
		{"not a part", "motor", SideRight, chain},
		{"bad side", "b-motor", Side("up"), chain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.svc.InsertRbdBeside(ctx, alice, InsertBesideQuery{Anchor: tt.anchor, Side: tt.side, Chain: tt.chain})
			requireKind(t, err, KindValidationFailed)
		})
	}
	assert.Equal(t, "[b-motor ([b1]|[b2])]", h.model(t, "rbd"))
}

func TestInsertRbdBesideInsideGroupAllowed(t *testing.T) {
	h := newHarness(t, "", func(o *Options) { o.Config.AllowBesideInsideGroup = true })
	chain := h.addBlock(t, "rbd", "b3")

	err := h.svc.InsertRbdBeside(context.Background(), alice, InsertBesideQuery{Anchor: "b1", Side: SideRight, Chain: chain})
	require.NoError(t, err)
	assert.Equal(t, "[b-motor ([b1 b3]|[b2])]", h.model(t, "rbd"))
	require.NoError(t, h.svc.ValidateRbdGroup(context.Background(), alice, SemanticQuery{Semantic: "gs"}))
}

func TestInsertRbdInParallel(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	res, err := h.svc.InsertRbdInParallel(ctx, alice, InsertInParallelQuery{
		Anchor: RbdChain{Source: "b-x", Target: "b-x"},
		Chain:  RbdChain{Source: "b-free", Target: "b-free"},
	})
	require.NoError(t, err)
	assert.Equal(t, GroupResult{Start: "n2", End: "n3"}, res)
	assert.Equal(t, "[[b-seal] ([b-x]|[n1])]", h.model(t, "sys"))

	gs, ge := h.node(t, res.Start), h.node(t, res.End)
	assert.Equal(t, res.End, gs.Ref)
	assert.Equal(t, res.Start, ge.Ref)
	assert.Equal(t, []string{"s-aux"}, gs.Inputs)
	assert.Equal(t, []string{"sys-end"}, ge.Outputs)
	assert.Equal(t, []string{res.Start}, h.node(t, "s-aux").Outputs)
	h.requireDense(t, "sys")
}

func TestInsertRbdInParallelRejects(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.InsertRbdInParallel(ctx, alice, InsertInParallelQuery{
		Anchor: RbdChain{Source: "b-x", Target: "b-x"},
		Chain:  RbdChain{Source: "b-x", Target: "b-x"},
	})
	requireKind(t, err, KindValidationFailed)

	// A detached anchor has nothing to wrap.
	_, err = h.svc.InsertRbdInParallel(ctx, alice, InsertInParallelQuery{
		Anchor: RbdChain{Source: "b-free", Target: "b-free"},
		Chain:  RbdChain{Source: "b-x", Target: "b-x"},
	})
	requireKind(t, err, KindInvalidTopology)
}

func TestInsertRbdIntoParallel(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	chain := h.addBlock(t, "rbd", "b3")

	require.NoError(t, h.svc.InsertRbdIntoParallel(ctx, alice, InsertIntoParallelQuery{Group: "gs", Chain: chain}))
	assert.Equal(t, "[b-motor ([b1]|[b2]|[b3])]", h.model(t, "rbd"))
	assert.Equal(t, []string{"b1", "b2", "b3"}, h.node(t, "ge").Inputs)

	err := h.svc.InsertRbdIntoParallel(ctx, alice, InsertIntoParallelQuery{Group: "b1", Chain: chain})
	requireKind(t, err, KindValidationFailed)
}

func TestInsertRbdIntoGroup(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain := h.addBlock(t, "rbd", "b3")
	require.NoError(t, h.svc.InsertRbdIntoGroup(ctx, alice, InsertIntoGroupQuery{Group: "gs", Path: 0, Chain: chain}))
	assert.Equal(t, "[b-motor ([b1 b3]|[b2])]", h.model(t, "rbd"))

	err := h.svc.InsertRbdIntoGroup(ctx, alice, InsertIntoGroupQuery{Group: "gs", Path: 2, Chain: h.addBlock(t, "rbd", "b4")})
	requireKind(t, err, KindValidationFailed)

	// A bypass path ends at the group start.
	require.NoError(t, h.svc.AppendRbdLinkSourceOutputs(ctx, alice, RbdLinkFan{Semantic: "gs", Links: []string{"ge"}}))
	assert.Equal(t, "[b-motor ([b1 b3]|[b2]|[])]", h.model(t, "rbd"))
	require.NoError(t, h.svc.InsertRbdIntoGroup(ctx, alice, InsertIntoGroupQuery{Group: "gs", Path: 2, Chain: RbdChain{Source: "b4", Target: "b4"}}))
	assert.Equal(t, "[b-motor ([b1 b3]|[b2]|[b4])]", h.model(t, "rbd"))
	assert.Equal(t, []string{"b1", "b2", "b4"}, h.node(t, "gs").Outputs)
}

func TestCopyRbdChain(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	chain, err := h.svc.CopyRbdChain(ctx, alice, CopyChainQuery{Chain: RbdChain{Source: "b-motor", Target: "ge"}, Rbd: "spare"})
	require.NoError(t, err)
	// b-motor, gs, b1, b2, ge map to n1..n5.
	assert.Equal(t, RbdChain{Source: "n1", Target: "n5"}, chain)
	assert.Equal(t, "n5", h.node(t, "n2").Ref)
	assert.Equal(t, "n2", h.node(t, "n5").Ref)
	assert.Equal(t, "motor", h.node(t, "n1").Ref)
	assert.ElementsMatch(t, []string{"b-motor", "n1"}, h.node(t, "motor").BoundBy)

	require.NoError(t, h.svc.InsertRbdBetween(ctx, alice, InsertBetweenQuery{
		Link:  RbdLink{Source: "spare-start", Target: "spare-end"},
		Chain: chain,
	}))
	assert.Equal(t, "[n1 ([n3]|[n4])]", h.model(t, "spare"))
	h.requireDense(t, "spare")
}
