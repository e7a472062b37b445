package pdm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

func TestDeleteWithDescendantsSoftPart(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.svc.DeleteWithDescendants(context.Background(), alice, DeleteQuery{Semantic: "b1"}))

	b1 := h.node(t, "b1")
	assert.Equal(t, graph.BinDeleted, b1.Bin)
	assert.Empty(t, b1.Inputs)
	assert.Empty(t, b1.Outputs)
	assert.Equal(t, "[b-motor b2]", h.model(t, "rbd"))
	h.requireDense(t, "rbd")
}

func TestDeleteWithDescendantsGroup(t *testing.T) {
	for _, sem := range []string{"gs", "ge"} {
		t.Run(sem, func(t *testing.T) {
			h := newHarness(t, "")
			require.NoError(t, h.svc.DeleteWithDescendants(context.Background(), alice, DeleteQuery{Semantic: sem, Hard: true}))

			for _, gone := range []string{"gs", "b1", "b2", "ge"} {
				h.gone(t, gone)
			}
			assert.Equal(t, "[b-motor]", h.model(t, "rbd"))
			assert.Equal(t, []string{"rbd-end"}, h.node(t, "b-motor").Outputs)
			assert.NotContains(t, h.node(t, "rbd").Children, "gs")
			h.requireDense(t, "rbd")
		})
	}
}

func TestDeleteWithDescendantsRejects(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	for _, sem := range []string{"prj", "prj-composition", "rbd-start", "rbd-end"} {
		err := h.svc.DeleteWithDescendants(ctx, alice, DeleteQuery{Semantic: sem, Hard: true})
		requireKind(t, err, KindValidationFailed)
	}
	requireKind(t, h.svc.DeleteWithDescendants(ctx, alice, DeleteQuery{Semantic: "ghost"}), KindNodeNotFound)
}

func TestHardDeleteStripsReferences(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteWithDescendants(ctx, alice, DeleteQuery{Semantic: "motor", Hard: true}))
	h.gone(t, "motor")
	assert.Empty(t, h.node(t, "b-motor").Ref)
	assert.Empty(t, h.node(t, "fu-cool").Members)
	assert.NotContains(t, h.node(t, "pump").Children, "motor")
	assert.Equal(t, 0, h.node(t, "housing").Positional)
	// The block keeps its place with its own rate.
	assert.Equal(t, "[b-motor ([b1]|[b2])]", h.model(t, "rbd"))

	require.NoError(t, h.svc.DeleteWithDescendants(ctx, alice, DeleteQuery{Semantic: "aux", Hard: true}))
	for _, gone := range []string{"aux", "aux-start", "b-seal", "aux-end"} {
		h.gone(t, gone)
	}
	assert.Empty(t, h.node(t, "s-aux").Ref)
	assert.Empty(t, h.node(t, "seal").BoundBy)
	assert.Equal(t, "[? b-x]", h.model(t, "sys"))
	h.requireDense(t, "pump")

	result, err := h.svc.CheckProject(ctx, alice, SemanticQuery{Semantic: "prj"})
	require.NoError(t, err)
	assert.True(t, result.Valid, "%v", result.Violations)
}

func TestSoftDeletedDiagramIsOpen(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.svc.DeleteWithDescendants(context.Background(), alice, DeleteQuery{Semantic: "aux"}))
	assert.Equal(t, "[? b-x]", h.model(t, "sys"))
	assert.Equal(t, []string{"s-aux"}, h.node(t, "aux").BoundBy)
}

func TestElementBin(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"motor", "housing"}}))
	for _, sem := range []string{"motor", "housing", "seal"} {
		assert.Equal(t, graph.BinDeleted, h.node(t, sem).Bin, sem)
	}
	requireKind(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"motor"}}), KindValidationFailed)

	// A child cannot come back while its parent is binned.
	requireKind(t, h.svc.RestoreElementsFromBin(ctx, alice, SemanticsQuery{Semantics: []string{"seal"}}), KindValidationFailed)

	require.NoError(t, h.svc.RestoreElementsFromBin(ctx, alice, SemanticsQuery{Semantics: []string{"housing"}}))
	housing := h.node(t, "housing")
	assert.True(t, housing.Active())
	assert.True(t, h.node(t, "seal").Active())
	assert.Equal(t, 0, housing.Positional)
	assert.False(t, housing.Dirty)
	assert.InDelta(t, 2e-6, housing.Computed.FailureRate, 1e-18)

	require.NoError(t, h.svc.RestoreElementsFromBin(ctx, alice, SemanticsQuery{Semantics: []string{"motor"}}))
	assert.Equal(t, 1, h.node(t, "motor").Positional)
	h.requireDense(t, "pump")

	requireKind(t, h.svc.DeleteElementsFromBin(ctx, alice, SemanticsQuery{Semantics: []string{"motor"}}), KindValidationFailed)
	requireKind(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"b1"}}), KindValidationFailed)
}

func TestDeleteElementsFromBin(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"housing"}}))
	require.NoError(t, h.svc.DeleteElementsFromBin(ctx, alice, SemanticsQuery{Semantics: []string{"housing"}}))
	h.gone(t, "housing")
	h.gone(t, "seal")
	assert.Empty(t, h.node(t, "b-seal").Ref)
}

func TestDeleteAllElementsFromBin(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"seal", "motor"}}))
	removed, err := h.svc.DeleteAllElementsFromBin(ctx, alice, SemanticQuery{Semantic: "pump"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"motor", "seal"}, removed)
	h.gone(t, "motor")
	h.gone(t, "seal")
	assert.Empty(t, h.node(t, "housing").Children)

	removed, err = h.svc.DeleteAllElementsFromBin(ctx, alice, SemanticQuery{Semantic: "pump"})
	require.NoError(t, err)
	assert.Empty(t, removed)
}
