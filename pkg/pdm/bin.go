package pdm

import (
	"context"
	"math"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

func (t *tx) binnedElement(ctx context.Context, sem string, wantBinned bool) (*graph.Node, error) {
	el, err := t.getRole(ctx, sem, graph.RoleContainer, graph.RoleComponent)
	if err != nil {
		return nil, err
	}
	if el.Active() == wantBinned {
		state := "active"
		if wantBinned {
			state = "not in the bin"
		}
		return nil, newError(t.op).Kind(KindValidationFailed).Semantic(sem).Detail("element is %s", state).Err()
	}
	return el, nil
}

// DeleteElementsToBin soft-deletes elements with their subtrees.
func (s *Service) DeleteElementsToBin(ctx context.Context, caller Caller, q SemanticsQuery) error {
	const op = "deleteElementsToBin"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "semantics", q.Semantics); err != nil {
			return err
		}
		for _, sem := range q.Semantics {
			el, err := t.binnedElement(ctx, sem, false)
			if err != nil {
				return err
			}
			if err := t.deleteNode(ctx, el, false); err != nil {
				return err
			}
		}
		return nil
	})
}

// RestoreElementsFromBin brings binned elements back at the end of their
// layer and rebuilds their computed values.
func (s *Service) RestoreElementsFromBin(ctx context.Context, caller Caller, q SemanticsQuery) error {
	const op = "restoreElementsFromBin"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "semantics", q.Semantics); err != nil {
			return err
		}
		for _, sem := range q.Semantics {
			el, err := t.binnedElement(ctx, sem, true)
			if err != nil {
				return err
			}
			parent, err := t.get(ctx, el.Parent)
			if err != nil {
				return err
			}
			if !parent.Active() {
				return newError(op).Kind(KindValidationFailed).Semantic(sem).Detail("parent %s is in the bin", parent.Semantic).Err()
			}
			unit, err := t.subtree(ctx, el)
			if err != nil {
				return err
			}
			for _, u := range unit {
				u.Bin = graph.BinActive
			}
			el.Positional = math.MaxInt32
			if err := t.rearrange(ctx, parent, graph.PartitionElements); err != nil {
				return err
			}
			t.after = append(t.after, recalcScope{
				op:       op,
				mode:     modeRestored,
				semantic: sem,
				timespan: s.cfg.MissionTime,
			})
		}
		return nil
	})
}

// DeleteElementsFromBin removes binned elements for good.
func (s *Service) DeleteElementsFromBin(ctx context.Context, caller Caller, q SemanticsQuery) error {
	const op = "deleteElementsFromBin"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "semantics", q.Semantics); err != nil {
			return err
		}
		for _, sem := range q.Semantics {
			el, err := t.binnedElement(ctx, sem, true)
			if err != nil {
				return err
			}
			if err := t.deleteNode(ctx, el, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAllElementsFromBin empties the bin of a product and returns the
// semantics of the top-most elements it removed.
func (s *Service) DeleteAllElementsFromBin(ctx context.Context, caller Caller, q SemanticQuery) ([]string, error) {
	const op = "deleteAllElementsFromBin"
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		product, err := t.getRole(ctx, q.Semantic, graph.RoleProduct)
		if err != nil {
			return nil, err
		}
		var binned []*graph.Node
		var collect func(n *graph.Node) error
		collect = func(n *graph.Node) error {
			kids, err := t.children(ctx, n)
			if err != nil {
				return err
			}
			for _, k := range kids {
				if !k.Role.IsElement() {
					continue
				}
				if !k.Active() {
					binned = append(binned, k)
					continue
				}
				if err := collect(k); err != nil {
					return err
				}
			}
			return nil
		}
		if err := collect(product); err != nil {
			return nil, err
		}
		for _, el := range binned {
			if err := t.deleteNode(ctx, el, true); err != nil {
				return nil, err
			}
		}
		return semanticsOf(binned), nil
	})
}
