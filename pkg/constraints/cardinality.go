package constraints

import (
	"fmt"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// RoleCardinality bounds how many active children of one role a parent of
// another role may hold.
type RoleCardinality struct {
	Parent graph.Role
	Child  graph.Role
	Min    int // 0 = optional
	Max    int // 0 = unlimited
}

// Name returns the constraint name
func (rc *RoleCardinality) Name() string {
	return fmt.Sprintf("RoleCardinality(%s>%s,[%d,%d])", rc.Parent, rc.Child, rc.Min, rc.Max)
}

// Validate counts matching children under every parent of the target role.
func (rc *RoleCardinality) Validate(s *Snapshot) ([]Violation, error) {
	var violations []Violation

	s.Each(func(n *graph.Node) {
		if n.Role != rc.Parent || !n.Active() {
			return
		}
		count := 0
		for _, c := range s.Children(n) {
			if c.Role == rc.Child && c.Active() {
				count++
			}
		}

		var msg string
		switch {
		case rc.Min > 0 && count < rc.Min:
			msg = fmt.Sprintf("%s %s has %d %s child(ren), minimum is %d", n.Role, n.Semantic, count, rc.Child, rc.Min)
		case rc.Max > 0 && count > rc.Max:
			msg = fmt.Sprintf("%s %s has %d %s child(ren), maximum is %d", n.Role, n.Semantic, count, rc.Child, rc.Max)
		default:
			return
		}
		violations = append(violations, Violation{
			Type:       CardinalityViolation,
			Severity:   Error,
			Semantic:   n.Semantic,
			Constraint: rc.Name(),
			Message:    msg,
			Details: map[string]any{
				"child_role": rc.Child.String(),
				"count":      count,
				"min":        rc.Min,
				"max":        rc.Max,
			},
		})
	})

	return violations, nil
}
