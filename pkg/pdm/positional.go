package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/constraints"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

// rearrange renumbers the active children of parent in partition p as
// 0..n-1, keeping their current order.
func (t *tx) rearrange(ctx context.Context, parent *graph.Node, p graph.Partition) error {
	sibs, err := t.siblings(ctx, parent, p)
	if err != nil {
		return err
	}
	for i, s := range sibs {
		s.Positional = i
	}
	return nil
}

// placeAt moves n to index among its active siblings and renumbers them.
// An index past the end appends.
func (t *tx) placeAt(ctx context.Context, parent, n *graph.Node, index int) error {
	sibs, err := t.siblings(ctx, parent, n.Role.Partition())
	if err != nil {
		return err
	}
	ordered := make([]*graph.Node, 0, len(sibs))
	for _, s := range sibs {
		if s.Semantic != n.Semantic {
			ordered = append(ordered, s)
		}
	}
	index = min(max(index, 0), len(ordered))
	ordered = append(ordered[:index], append([]*graph.Node{n}, ordered[index:]...)...)
	for i, s := range ordered {
		s.Positional = i
	}
	return nil
}

// assignPositionals renumbers every sibling partition under n, depth-first.
func (t *tx) assignPositionals(ctx context.Context, n *graph.Node) error {
	children, err := t.children(ctx, n)
	if err != nil {
		return err
	}
	seen := make(map[graph.Partition]bool)
	for _, c := range children {
		if p := c.Role.Partition(); !seen[p] {
			seen[p] = true
			if err := t.rearrange(ctx, n, p); err != nil {
				return err
			}
		}
	}
	for _, c := range children {
		if err := t.assignPositionals(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// RepairPositionals renumbers every sibling partition under a node and
// returns the nodes whose index changed.
func (s *Service) RepairPositionals(ctx context.Context, caller Caller, q SemanticQuery) ([]string, error) {
	const op = "repairPositionals"
	return call(ctx, s, op, caller, s.container, func(ctx context.Context) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		t := s.begin(op, caller, false)
		root, err := t.get(ctx, q.Semantic)
		if err != nil {
			return nil, err
		}
		if err := t.assignPositionals(ctx, root); err != nil {
			return nil, err
		}
		if err := s.locks.checkAll(ctx, t, t.changes()); err != nil {
			return nil, err
		}
		written, err := t.commit(ctx)
		if err != nil {
			return nil, err
		}
		if len(written) > 0 {
			s.publish(pubsub.TopicStructure, op, caller.Actor, written)
		}
		return written, nil
	})
}

// VerifyPositionals reports every sibling partition under a node whose
// indices are not dense.
func (s *Service) VerifyPositionals(ctx context.Context, caller Caller, q SemanticQuery) ([]constraints.Violation, error) {
	const op = "verifyPositionals"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) ([]constraints.Violation, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		res, err := constraints.NewValidator(constraints.PositionalDensity{}).Validate(ctx, s.reader(), q.Semantic)
		if err != nil {
			return nil, wrap(op, q.Semantic, err)
		}
		return res.Violations, nil
	})
}
