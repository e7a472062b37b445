package pdm

import (
	"context"
	"slices"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// detach cuts the links into head and out of tail. With passthrough every
// former input is linked to every former output unless already linked. A
// group path that loses its only chain disappears instead of turning into a
// bypass, unless it was the group's last path.
func (t *tx) detach(ctx context.Context, head, tail *graph.Node, passthrough bool) error {
	var ins, outs []*graph.Node
	for _, sem := range slices.Clone(head.Inputs) {
		n, err := t.get(ctx, sem)
		if err != nil {
			return err
		}
		disconnect(n, head)
		ins = append(ins, n)
	}
	for _, sem := range slices.Clone(tail.Outputs) {
		n, err := t.get(ctx, sem)
		if err != nil {
			return err
		}
		disconnect(tail, n)
		outs = append(outs, n)
	}
	if !passthrough {
		return nil
	}
	for _, in := range ins {
		for _, out := range outs {
			if linked(in, out) {
				continue
			}
			if in.Role == graph.RoleRbdGroupStart && in.Ref == out.Semantic && len(in.Outputs) > 0 {
				continue
			}
			connect(in, out)
		}
	}
	return nil
}

// DetachRbdChain takes a chain out of its diagram, leaving it in place
// unlinked. With Passthrough the gap is bridged, otherwise it stays open.
func (s *Service) DetachRbdChain(ctx context.Context, caller Caller, q DetachQuery) error {
	const op = "detachRbdChain"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		members, err := newBuilder(t).validateRbdChain(ctx, q.Chain)
		if err != nil {
			return err
		}
		return t.detach(ctx, members[0], members[len(members)-1], q.Passthrough)
	})
}

// UngroupSubRbd replaces a sub-diagram node by a copy of the chain of the
// diagram it embeds. An embedded diagram without parts leaves a plain link.
func (s *Service) UngroupSubRbd(ctx context.Context, caller Caller, q SemanticQuery) (RbdChain, error) {
	const op = "ungroupSubRbd"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		sub, err := t.getRole(ctx, q.Semantic, graph.RoleSubRbd)
		if err != nil {
			return RbdChain{}, err
		}
		if sub.Ref == "" {
			return RbdChain{}, newError(op).Kind(KindValidationFailed).Semantic(sub.Semantic).Detail("sub-diagram is not bound").Err()
		}
		host, err := t.get(ctx, sub.Parent)
		if err != nil {
			return RbdChain{}, err
		}
		inner, err := t.getRole(ctx, sub.Ref, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		b := newBuilder(t)
		start, end, err := b.terminals(ctx, inner)
		if err != nil {
			return RbdChain{}, err
		}

		var chain RbdChain
		if len(start.Outputs) == 1 && start.Outputs[0] != end.Semantic && len(end.Inputs) == 1 {
			if chain, err = t.copyChain(ctx, b, RbdChain{Source: start.Outputs[0], Target: end.Inputs[0]}, host); err != nil {
				return RbdChain{}, err
			}
			head, err := t.get(ctx, chain.Source)
			if err != nil {
				return RbdChain{}, err
			}
			tail, err := t.get(ctx, chain.Target)
			if err != nil {
				return RbdChain{}, err
			}
			for _, in := range slices.Clone(sub.Inputs) {
				n, err := t.get(ctx, in)
				if err != nil {
					return RbdChain{}, err
				}
				n.Outputs = replaced(n.Outputs, sub.Semantic, head.Semantic)
				head.Inputs = append(head.Inputs, n.Semantic)
			}
			for _, out := range slices.Clone(sub.Outputs) {
				n, err := t.get(ctx, out)
				if err != nil {
					return RbdChain{}, err
				}
				n.Inputs = replaced(n.Inputs, sub.Semantic, tail.Semantic)
				tail.Outputs = append(tail.Outputs, n.Semantic)
			}
			sub.Inputs, sub.Outputs = nil, nil
		} else if err := t.detach(ctx, sub, sub, true); err != nil {
			return RbdChain{}, err
		}

		if err := t.unbind(ctx, sub); err != nil {
			return RbdChain{}, err
		}
		t.remove(sub)
		host.Children = without(host.Children, sub.Semantic)
		return chain, t.rearrange(ctx, host, graph.PartitionDiagramParts)
	})
}
