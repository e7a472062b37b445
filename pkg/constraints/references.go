package constraints

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// ReferenceSymmetry requires every cross reference to be mirrored on the
// other side: link outputs and inputs, functional units and their members,
// Ref and BoundBy, and the pairing of group start and end nodes.
type ReferenceSymmetry struct{}

func (ReferenceSymmetry) Name() string { return "ReferenceSymmetry" }

type refRule struct {
	label   string
	forward func(*graph.Node) []string
	reverse func(*graph.Node) []string
}

func one(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

var refRules = []refRule{
	{"output", func(n *graph.Node) []string { return n.Outputs }, func(n *graph.Node) []string { return n.Inputs }},
	{"input", func(n *graph.Node) []string { return n.Inputs }, func(n *graph.Node) []string { return n.Outputs }},
	{"functional unit", func(n *graph.Node) []string { return n.FunctionalUnits }, func(n *graph.Node) []string { return n.Members }},
	{"member", func(n *graph.Node) []string { return n.Members }, func(n *graph.Node) []string { return n.FunctionalUnits }},
	{"ref", func(n *graph.Node) []string {
		if n.Role == graph.RoleRbdGroupStart || n.Role == graph.RoleRbdGroupEnd {
			return nil
		}
		return one(n.Ref)
	}, func(n *graph.Node) []string { return n.BoundBy }},
	{"bound by", func(n *graph.Node) []string { return n.BoundBy }, func(n *graph.Node) []string { return one(n.Ref) }},
	{"group pair", func(n *graph.Node) []string {
		if n.Role != graph.RoleRbdGroupStart && n.Role != graph.RoleRbdGroupEnd {
			return nil
		}
		return one(n.Ref)
	}, func(n *graph.Node) []string { return one(n.Ref) }},
}

// Validate checks every reference held by a loaded node.
func (rs ReferenceSymmetry) Validate(s *Snapshot) ([]Violation, error) {
	var violations []Violation

	s.Each(func(n *graph.Node) {
		for _, rule := range refRules {
			for _, target := range rule.forward(n) {
				other, ok := s.Nodes[target]
				if !ok {
					violations = append(violations, Violation{
						Type:       DanglingReference,
						Severity:   Error,
						Semantic:   n.Semantic,
						Constraint: rs.Name(),
						Message:    fmt.Sprintf("%s %s of %s does not exist", rule.label, target, n.Semantic),
					})
					continue
				}
				if !slices.Contains(rule.reverse(other), n.Semantic) {
					violations = append(violations, Violation{
						Type:       AsymmetricReference,
						Severity:   Error,
						Semantic:   n.Semantic,
						Constraint: rs.Name(),
						Message:    fmt.Sprintf("%s %s of %s does not point back", rule.label, target, n.Semantic),
					})
				}
			}
		}
	})

	return violations, nil
}
