package constraints

import (
	"fmt"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// UniqueChildName requires active siblings of one partition to carry
// distinct names. Unnamed nodes are ignored.
type UniqueChildName struct {
	Partition graph.Partition
}

// Name returns the constraint name
func (uc *UniqueChildName) Name() string {
	return fmt.Sprintf("UniqueChildName(partition=%d)", uc.Partition)
}

// Validate checks every sibling group in the snapshot.
func (uc *UniqueChildName) Validate(s *Snapshot) ([]Violation, error) {
	var violations []Violation

	s.Each(func(parent *graph.Node) {
		seen := make(map[string]string)
		for _, c := range s.Children(parent) {
			if c.Role.Partition() != uc.Partition || !c.Active() || c.Name == "" {
				continue
			}
			if first, dup := seen[c.Name]; dup {
				violations = append(violations, Violation{
					Type:       UniquenessViolation,
					Severity:   Error,
					Semantic:   c.Semantic,
					Constraint: uc.Name(),
					Message:    fmt.Sprintf("name %q under %s already used by %s", c.Name, parent.Semantic, first),
					Details: map[string]any{
						"parent":   parent.Semantic,
						"existing": first,
					},
				})
				continue
			}
			seen[c.Name] = c.Semantic
		}
	})

	return violations, nil
}

// PositionalDensity requires positional indices of every sibling partition
// to form 0..n-1 without gaps or duplicates.
type PositionalDensity struct{}

func (PositionalDensity) Name() string { return "PositionalDensity" }

func (pd PositionalDensity) Validate(s *Snapshot) ([]Violation, error) {
	var violations []Violation

	s.Each(func(parent *graph.Node) {
		groups := make(map[graph.Partition][]int)
		for _, c := range s.Children(parent) {
			if !c.Active() {
				continue
			}
			p := c.Role.Partition()
			groups[p] = append(groups[p], c.Positional)
		}
		for p, positions := range groups {
			seen := make([]bool, len(positions))
			ok := true
			for _, pos := range positions {
				if pos < 0 || pos >= len(positions) || seen[pos] {
					ok = false
					break
				}
				seen[pos] = true
			}
			if !ok {
				violations = append(violations, Violation{
					Type:       PositionalGap,
					Severity:   Error,
					Semantic:   parent.Semantic,
					Constraint: pd.Name(),
					Message:    fmt.Sprintf("positionals under %s are not dense: %v", parent.Semantic, positions),
					Details:    map[string]any{"partition": int(p)},
				})
			}
		}
	})

	return violations, nil
}
