package constraints

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// ValidationResult contains the results of validating a subtree against constraints
type ValidationResult struct {
	Valid      bool
	Violations []Violation
	CheckedAt  time.Time
}

// GetViolationsByType returns violations filtered by type
func (vr *ValidationResult) GetViolationsByType(violationType ViolationType) []Violation {
	var filtered []Violation
	for _, v := range vr.Violations {
		if v.Type == violationType {
			filtered = append(filtered, v)
		}
	}
	return filtered
}

// Validator manages a set of constraints and validates subtrees against them
type Validator struct {
	constraints []Constraint
}

// NewValidator creates a new empty validator
func NewValidator(constraints ...Constraint) *Validator {
	return &Validator{constraints: constraints}
}

// Default returns the structural rules every project must satisfy.
func Default() *Validator {
	return NewValidator(
		&RoleCardinality{Parent: graph.RoleProject, Child: graph.RoleProjectComposition, Min: 1, Max: 1},
		&RoleCardinality{Parent: graph.RoleRbd, Child: graph.RoleRbdStart, Min: 1, Max: 1},
		&RoleCardinality{Parent: graph.RoleRbd, Child: graph.RoleRbdEnd, Min: 1, Max: 1},
		&UniqueChildName{Partition: graph.PartitionProducts},
		&UniqueChildName{Partition: graph.PartitionDiagrams},
		&UniqueChildName{Partition: graph.PartitionUnits},
		PositionalDensity{},
		ReferenceSymmetry{},
	)
}

// AddConstraint adds a constraint to the validator
func (v *Validator) AddConstraint(constraint Constraint) {
	v.constraints = append(v.constraints, constraint)
}

// Validate loads the subtree under root and runs every constraint on it.
func (v *Validator) Validate(ctx context.Context, a graph.Accessor, root string) (*ValidationResult, error) {
	snapshot, err := LoadSnapshot(ctx, a, root)
	if err != nil {
		return nil, err
	}
	return v.ValidateSnapshot(snapshot)
}

// ValidateSnapshot runs every constraint on an already loaded snapshot.
func (v *Validator) ValidateSnapshot(s *Snapshot) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true, CheckedAt: time.Now()}

	for _, constraint := range v.constraints {
		violations, err := constraint.Validate(s)
		if err != nil {
			return nil, err
		}
		if len(violations) > 0 {
			result.Valid = false
			result.Violations = append(result.Violations, violations...)
		}
	}

	return result, nil
}

// GetConstraints returns all constraints in the validator
func (v *Validator) GetConstraints() []Constraint {
	return v.constraints
}
