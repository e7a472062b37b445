package fixture

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/dd0wney/cluso-reliability/pkg/constraints"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

const pump = `
project: prj
products:
  - semantic: pump
    name: Pump
    functional_units:
      - {semantic: fu-cool, name: Cooling}
    elements:
      - semantic: motor
        failure_rate: 1.0e-5
        functional_units: [fu-cool]
      - semantic: housing
        children:
          - {semantic: seal, failure_rate: 2.0e-6}
    diagrams:
      - semantic: rbd
        name: main
        parts:
          - {semantic: b-motor, component: motor}
          - {semantic: gs, role: RbdGroupStart, pair: ge}
          - {semantic: b1, failure_rate: 1.0e-4}
          - {semantic: b2, failure_rate: 1.0e-4}
          - {semantic: ge, role: RbdGroupEnd, pair: gs}
        links:
          - rbd-start -> b-motor
          - b-motor -> gs
          - gs -> b1
          - gs -> b2
          - b1 -> ge
          - b2 -> ge
          - ge -> rbd-end
`

func TestApplyBuildsConsistentGraph(t *testing.T) {
	f, err := Parse(pump)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := graph.NewMemoryStore(nil)
	ctx := context.Background()
	if err := f.Apply(ctx, s); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	result, err := constraints.Default().Validate(ctx, s, "prj")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("fixture graph violates constraints: %+v", result.Violations)
	}

	housing, _ := s.Fetch(ctx, "housing")
	if housing.Role != graph.RoleContainer {
		t.Errorf("housing role = %s, want Container", housing.Role)
	}
	gs, _ := s.Fetch(ctx, "gs")
	if !slices.Equal(gs.Outputs, []string{"b1", "b2"}) || gs.Ref != "ge" {
		t.Errorf("group start = %+v", gs)
	}
	motor, _ := s.Fetch(ctx, "motor")
	if !slices.Equal(motor.BoundBy, []string{"b-motor"}) || !slices.Equal(motor.FunctionalUnits, []string{"fu-cool"}) {
		t.Errorf("motor = %+v", motor)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing project", "products: []"},
		{"unknown field", "project: p\nbogus: 1"},
		{"duplicate semantic", `
project: p
products:
  - semantic: x
    elements: [{semantic: x}]
`},
		{"bad link", `
project: p
products:
  - semantic: prod
    diagrams:
      - semantic: rbd
        links: ["rbd-start rbd-end"]
`},
		{"unknown component", `
project: p
products:
  - semantic: prod
    diagrams:
      - semantic: rbd
        parts: [{semantic: b, component: nope}]
`},
		{"element with diagram role", `
project: p
products:
  - semantic: prod
    elements: [{semantic: e, role: RbdBlock}]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(tt.doc)
			if err == nil {
				_, err = f.Nodes()
			}
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pump.yaml")
	if err := os.WriteFile(path, []byte(pump), 0o600); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if f.Composition != "prj-composition" || len(f.Products) != 1 {
		t.Errorf("unexpected fixture %+v", f)
	}
}
