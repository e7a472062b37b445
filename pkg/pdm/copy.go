package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// copyElements copies each element with its active subtree under target
// and returns the copied roots. Copies get fresh semantics, are dirty and
// keep their functional units only inside the source's own product.
func (t *tx) copyElements(ctx context.Context, els []*graph.Node, target *graph.Node) ([]*graph.Node, error) {
	// Subtrees are read before anything is created so a container copied
	// into itself does not copy its own copy.
	trees := make([][]*graph.Node, len(els))
	for i, el := range els {
		sub, err := t.subtree(ctx, el)
		if err != nil {
			return nil, err
		}
		trees[i] = sub
	}
	to, err := t.productOf(ctx, target.Semantic)
	if err != nil {
		return nil, err
	}

	roots := make([]*graph.Node, 0, len(els))
	for i, el := range els {
		from, err := t.productOf(ctx, el.Semantic)
		if err != nil {
			return nil, err
		}
		copies := map[string]*graph.Node{el.Parent: target}
		for _, n := range trees[i] {
			parent, ok := copies[n.Parent]
			if !ok || !n.Active() || (n.Role != graph.RoleContainer && n.Role != graph.RoleComponent) {
				continue
			}
			cp, err := t.newNode(ctx, parent, &graph.Node{
				Role:        n.Role,
				Name:        n.Name,
				FailureRate: n.FailureRate,
				Status:      n.Status,
				Dirty:       true,
			})
			if err != nil {
				return nil, err
			}
			copies[n.Semantic] = cp
			if n == el {
				roots = append(roots, cp)
			}
			if from != to {
				continue
			}
			for _, sem := range n.FunctionalUnits {
				u, err := t.get(ctx, sem)
				if err != nil {
					return nil, err
				}
				if u.Active() {
					t.join(cp, u)
				}
			}
		}
	}
	return roots, nil
}

// CopyElements copies elements with their subtrees under a product or
// container, at Index when given and last otherwise, and returns the
// semantics of the copies in request order.
func (s *Service) CopyElements(ctx context.Context, caller Caller, q CopyElementsQuery) ([]string, error) {
	const op = "copyElements"
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		if err := validateBatch(op, "elements", q.Elements); err != nil {
			return nil, err
		}
		target, err := t.copyTarget(ctx, q.Target)
		if err != nil {
			return nil, err
		}
		els := make([]*graph.Node, 0, len(q.Elements))
		for _, sem := range q.Elements {
			el, err := t.element(ctx, sem)
			if err != nil {
				return nil, err
			}
			if !el.Active() {
				return nil, newError(op).Kind(KindValidationFailed).Semantic(sem).Detail("element is in the bin").Err()
			}
			els = append(els, el)
		}

		roots, err := t.copyElements(ctx, els, target)
		if err != nil {
			return nil, err
		}
		out := make([]string, len(roots))
		for i, cp := range roots {
			if q.Index != nil {
				if err := t.placeAt(ctx, target, cp, *q.Index+i); err != nil {
					return nil, err
				}
			}
			out[i] = cp.Semantic
		}
		return out, nil
	})
}

func (t *tx) copyTarget(ctx context.Context, sem string) (*graph.Node, error) {
	target, err := t.getRole(ctx, sem, graph.RoleProduct, graph.RoleContainer)
	if err != nil {
		return nil, err
	}
	if !target.Active() {
		return nil, newError(t.op).Kind(KindValidationFailed).Semantic(target.Semantic).Detail("target is in the bin").Err()
	}
	return target, nil
}

func (s *Service) copyOne(ctx context.Context, op string, caller Caller, q CopyElementQuery, role graph.Role) (string, error) {
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) (string, error) {
		if err := validateQuery(op, q); err != nil {
			return "", err
		}
		el, err := t.getRole(ctx, q.Source, role)
		if err != nil {
			return "", err
		}
		if !el.Active() {
			return "", newError(op).Kind(KindValidationFailed).Semantic(el.Semantic).Detail("element is in the bin").Err()
		}
		target, err := t.copyTarget(ctx, q.Target)
		if err != nil {
			return "", err
		}
		roots, err := t.copyElements(ctx, []*graph.Node{el}, target)
		if err != nil {
			return "", err
		}
		return roots[0].Semantic, nil
	})
}

// AddContainerCopyToProject copies a container with everything under it.
func (s *Service) AddContainerCopyToProject(ctx context.Context, caller Caller, q CopyElementQuery) (string, error) {
	return s.copyOne(ctx, "addContainerCopyToProject", caller, q, graph.RoleContainer)
}

// AddComponentCopyToProject copies a single component.
func (s *Service) AddComponentCopyToProject(ctx context.Context, caller Caller, q CopyElementQuery) (string, error) {
	return s.copyOne(ctx, "addComponentCopyToProject", caller, q, graph.RoleComponent)
}
