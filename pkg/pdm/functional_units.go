package pdm

import (
	"context"
	"slices"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/validation"
)

func (t *tx) units(ctx context.Context, semantics []string) ([]*graph.Node, error) {
	out := make([]*graph.Node, 0, len(semantics))
	for _, sem := range semantics {
		u, err := t.getRole(ctx, sem, graph.RoleFunctionalUnit)
		if err != nil {
			return nil, err
		}
		if !u.Active() {
			return nil, newError(t.op).Kind(KindValidationFailed).Semantic(sem).Detail("functional unit is in the bin").Err()
		}
		out = append(out, u)
	}
	return out, nil
}

func (t *tx) join(el, u *graph.Node) {
	if !slices.Contains(el.FunctionalUnits, u.Semantic) {
		el.FunctionalUnits = append(el.FunctionalUnits, u.Semantic)
	}
	if !slices.Contains(u.Members, el.Semantic) {
		u.Members = append(u.Members, el.Semantic)
	}
}

func (t *tx) leave(ctx context.Context, el *graph.Node, unit string) error {
	el.FunctionalUnits = without(el.FunctionalUnits, unit)
	u, err := t.optional(ctx, unit)
	if err != nil || u == nil {
		return err
	}
	u.Members = without(u.Members, el.Semantic)
	return nil
}

// setFunctionalUnits replaces the unit set of el and reports whether it
// changed. Both directions of the membership are updated.
func (t *tx) setFunctionalUnits(ctx context.Context, el *graph.Node, units []string) (bool, error) {
	want, err := t.units(ctx, units)
	if err != nil {
		return false, err
	}
	changed := false
	for _, cur := range slices.Clone(el.FunctionalUnits) {
		if !slices.Contains(units, cur) {
			if err := t.leave(ctx, el, cur); err != nil {
				return false, err
			}
			changed = true
		}
	}
	for _, u := range want {
		if !slices.Contains(el.FunctionalUnits, u.Semantic) {
			changed = true
		}
		t.join(el, u)
	}
	return changed, nil
}

// appendFunctionalUnits adds units to el and reports whether any was new.
func (t *tx) appendFunctionalUnits(ctx context.Context, el *graph.Node, units []string) (bool, error) {
	add, err := t.units(ctx, units)
	if err != nil {
		return false, err
	}
	changed := false
	for _, u := range add {
		if !slices.Contains(el.FunctionalUnits, u.Semantic) {
			changed = true
		}
		t.join(el, u)
	}
	return changed, nil
}

// eraseFunctionalUnits removes units from el and reports whether any was
// present.
func (t *tx) eraseFunctionalUnits(ctx context.Context, el *graph.Node, units []string) (bool, error) {
	changed := false
	for _, u := range units {
		if !slices.Contains(el.FunctionalUnits, u) {
			continue
		}
		if err := t.leave(ctx, el, u); err != nil {
			return false, err
		}
		changed = true
	}
	return changed, nil
}

// updateElementSemanticInFunctionalUnits replaces from with to in the member
// list of every unit in units.
func (t *tx) updateElementSemanticInFunctionalUnits(ctx context.Context, from, to string, units []string) error {
	for _, sem := range units {
		u, err := t.get(ctx, sem)
		if err != nil {
			return err
		}
		u.Members = replaced(u.Members, from, to)
	}
	return nil
}

func (t *tx) element(ctx context.Context, sem string) (*graph.Node, error) {
	return t.getRole(ctx, sem, graph.RoleContainer, graph.RoleComponent)
}

// AddFunctionalUnits creates functional units under a product.
func (s *Service) AddFunctionalUnits(ctx context.Context, caller Caller, q NewFunctionalUnits) ([]string, error) {
	const op = "addFunctionalUnits"
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		product, err := t.getRole(ctx, q.Product, graph.RoleProduct)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(q.Units))
		for _, nu := range q.Units {
			if err := t.uniqueName(ctx, product, graph.PartitionUnits, nu.Name, ""); err != nil {
				return nil, err
			}
			u, err := t.newNode(ctx, product, &graph.Node{Semantic: nu.Semantic, Role: graph.RoleFunctionalUnit, Name: nu.Name})
			if err != nil {
				return nil, err
			}
			out = append(out, u.Semantic)
		}
		return out, nil
	})
}

// DeleteFunctionalUnits removes units and their memberships.
func (s *Service) DeleteFunctionalUnits(ctx context.Context, caller Caller, q SemanticsQuery) error {
	const op = "deleteFunctionalUnits"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "semantics", q.Semantics); err != nil {
			return err
		}
		for _, sem := range q.Semantics {
			u, err := t.getRole(ctx, sem, graph.RoleFunctionalUnit)
			if err != nil {
				return err
			}
			if err := t.deleteNode(ctx, u, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetElementFunctionalUnits replaces the unit set of one element.
func (s *Service) SetElementFunctionalUnits(ctx context.Context, caller Caller, q ElementUnitsQuery) (ChangedResult, error) {
	const op = "setElementFunctionalUnits"
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) (ChangedResult, error) {
		if err := validateQuery(op, q); err != nil {
			return ChangedResult{}, err
		}
		if err := validation.ValidateDistinct("units", q.Units); err != nil {
			return ChangedResult{}, validationFailed(op, err)
		}
		el, err := t.element(ctx, q.Element)
		if err != nil {
			return ChangedResult{}, err
		}
		changed, err := t.setFunctionalUnits(ctx, el, q.Units)
		return ChangedResult{Changed: changed}, err
	})
}

func (s *Service) unitsOp(ctx context.Context, op string, caller Caller, q ElementsUnitsQuery,
	apply func(*tx, context.Context, *graph.Node, []string) (bool, error)) (ChangedResult, error) {
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) (ChangedResult, error) {
		if err := validateQuery(op, q); err != nil {
			return ChangedResult{}, err
		}
		if err := validateBatch(op, "elements", q.Elements); err != nil {
			return ChangedResult{}, err
		}
		if err := validateBatch(op, "units", q.Units); err != nil {
			return ChangedResult{}, err
		}
		var res ChangedResult
		for _, sem := range q.Elements {
			el, err := t.element(ctx, sem)
			if err != nil {
				return ChangedResult{}, err
			}
			changed, err := apply(t, ctx, el, q.Units)
			if err != nil {
				return ChangedResult{}, err
			}
			res.Changed = res.Changed || changed
		}
		return res, nil
	})
}

// AppendFunctionalUnitsToElements adds units to several elements.
func (s *Service) AppendFunctionalUnitsToElements(ctx context.Context, caller Caller, q ElementsUnitsQuery) (ChangedResult, error) {
	return s.unitsOp(ctx, "appendFunctionalUnitsToElements", caller, q, (*tx).appendFunctionalUnits)
}

// EraseFunctionalUnitsFromElements removes units from several elements.
func (s *Service) EraseFunctionalUnitsFromElements(ctx context.Context, caller Caller, q ElementsUnitsQuery) (ChangedResult, error) {
	return s.unitsOp(ctx, "eraseFunctionalUnitsFromElements", caller, q, (*tx).eraseFunctionalUnits)
}

// GetFunctionalUnitsOfElement lists the units an element belongs to.
func (s *Service) GetFunctionalUnitsOfElement(ctx context.Context, caller Caller, q SemanticQuery) ([]string, error) {
	const op = "getFunctionalUnitsOfElement"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		el, err := s.begin(op, caller, false).element(ctx, q.Semantic)
		if err != nil {
			return nil, err
		}
		return slices.Clone(el.FunctionalUnits), nil
	})
}

// GetFunctionalUnitRefs lists the elements that belong to a unit.
func (s *Service) GetFunctionalUnitRefs(ctx context.Context, caller Caller, q SemanticQuery) ([]string, error) {
	const op = "getFunctionalUnitRefs"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		u, err := s.begin(op, caller, false).getRole(ctx, q.Semantic, graph.RoleFunctionalUnit)
		if err != nil {
			return nil, err
		}
		return slices.Clone(u.Members), nil
	})
}
