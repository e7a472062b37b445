package pdm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

func TestCopyElements(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	copies, err := h.svc.CopyElements(ctx, alice, CopyElementsQuery{Elements: []string{"motor", "housing"}, Target: "pump", Index: ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, copies)

	motor := h.node(t, "n1")
	assert.Equal(t, graph.RoleComponent, motor.Role)
	assert.Equal(t, 1e-5, motor.FailureRate)
	assert.Equal(t, 0, motor.Positional)
	assert.Empty(t, motor.BoundBy)
	assert.False(t, motor.Dirty)
	assert.Equal(t, []string{"fu-cool"}, motor.FunctionalUnits)
	assert.Equal(t, []string{"motor", "n1"}, h.node(t, "fu-cool").Members)

	housing := h.node(t, "n2")
	assert.Equal(t, graph.RoleContainer, housing.Role)
	assert.Equal(t, 1, housing.Positional)
	assert.Equal(t, []string{"n3"}, housing.Children)
	assert.Equal(t, "n2", h.node(t, "n3").Parent)
	assert.Equal(t, 2e-6, h.node(t, "n3").FailureRate)

	assert.Equal(t, 2, h.node(t, "motor").Positional)
	assert.Equal(t, 3, h.node(t, "housing").Positional)
	assert.Equal(t, []string{"seal"}, h.node(t, "housing").Children)
	assert.InDelta(t, 2.4e-5, h.node(t, "pump").Computed.FailureRate, 1e-18)
	h.requireDense(t, "pump")
}

func TestAddContainerCopyIntoItself(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	sem, err := h.svc.AddContainerCopyToProject(ctx, alice, CopyElementQuery{Source: "housing", Target: "housing"})
	require.NoError(t, err)
	assert.Equal(t, "n1", sem)

	assert.Equal(t, []string{"seal", "n1"}, h.node(t, "housing").Children)
	cp := h.node(t, "n1")
	assert.Equal(t, "housing", cp.Parent)
	assert.Equal(t, 1, cp.Positional)
	assert.Equal(t, []string{"n2"}, cp.Children)
	assert.Empty(t, h.node(t, "n2").Children)
	h.requireDense(t, "pump")
}

func TestAddComponentCopyToOtherProduct(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	fan, err := h.svc.AddNode(ctx, alice, NewNode{Parent: "prj-composition", Role: "Product", Name: "Fan", Semantic: "fan"})
	require.NoError(t, err)

	sem, err := h.svc.AddComponentCopyToProject(ctx, alice, CopyElementQuery{Source: "motor", Target: fan})
	require.NoError(t, err)
	cp := h.node(t, sem)
	assert.Equal(t, "fan", cp.Parent)
	assert.Equal(t, 0, cp.Positional)
	// Functional units belong to one product and stay behind.
	assert.Empty(t, cp.FunctionalUnits)
	assert.Equal(t, []string{"motor"}, h.node(t, "fu-cool").Members)
	assert.InDelta(t, 1e-5, h.node(t, "fan").Computed.FailureRate, 1e-18)
}

func TestCopyElementsSkipsBin(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	require.NoError(t, h.svc.DeleteElementsToBin(ctx, alice, SemanticsQuery{Semantics: []string{"seal"}}))

	sem, err := h.svc.AddContainerCopyToProject(ctx, alice, CopyElementQuery{Source: "housing", Target: "pump"})
	require.NoError(t, err)
	assert.Empty(t, h.node(t, sem).Children)

	_, err = h.svc.AddComponentCopyToProject(ctx, alice, CopyElementQuery{Source: "seal", Target: "pump"})
	requireKind(t, err, KindValidationFailed)
}

func TestCopyElementsRejects(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		kind Kind
	}{
		{"container copy of a component", func() error {
			_, err := h.svc.AddContainerCopyToProject(ctx, alice, CopyElementQuery{Source: "motor", Target: "pump"})
			return err
		}, KindValidationFailed},
		{"component copy of a container", func() error {
			_, err := h.svc.AddComponentCopyToProject(ctx, alice, CopyElementQuery{Source: "housing", Target: "pump"})
			return err
		}, KindValidationFailed},
		{"component target", func() error {
			_, err := h.svc.AddComponentCopyToProject(ctx, alice, CopyElementQuery{Source: "seal", Target: "motor"})
			return err
		}, KindValidationFailed},
		{"diagram part", func() error {
			_, err := h.svc.CopyElements(ctx, alice, CopyElementsQuery{Elements: []string{"b1"}, Target: "pump"})
			return err
		}, KindValidationFailed},
		{"duplicate", func() error {
			_, err := h.svc.CopyElements(ctx, alice, CopyElementsQuery{Elements: []string{"motor", "motor"}, Target: "pump"})
			return err
		}, KindValidationFailed},
		{"missing", func() error {
			_, err := h.svc.CopyElements(ctx, alice, CopyElementsQuery{Elements: []string{"ghost"}, Target: "pump"})
			return err
		}, KindNodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireKind(t, tt.run(), tt.kind)
		})
	}
	h.gone(t, "n1")
}
