package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// subtree returns n and all its descendants, parents first.
func (t *tx) subtree(ctx context.Context, n *graph.Node) ([]*graph.Node, error) {
	out := []*graph.Node{n}
	children, err := t.children(ctx, n)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		sub, err := t.subtree(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// binUnit returns the nodes deleted together with n: the subtree of a tree
// node, the whole of a group, or a single diagram part.
func (t *tx) binUnit(ctx context.Context, n *graph.Node) ([]*graph.Node, error) {
	switch {
	case n.Role == graph.RoleRbdGroupStart:
		b := newBuilder(t)
		end, err := b.pair(ctx, n)
		if err != nil {
			return nil, err
		}
		inner, err := b.groupParts(ctx, n)
		if err != nil {
			return nil, err
		}
		return append(append([]*graph.Node{n}, inner...), end), nil
	case n.Role.IsRbdPart():
		return []*graph.Node{n}, nil
	default:
		return t.subtree(ctx, n)
	}
}

// deleteNode deletes n with everything that goes with it. Diagram parts
// are detached first and their neighbours bridged.
func (t *tx) deleteNode(ctx context.Context, n *graph.Node, hard bool) error {
	switch n.Role {
	case graph.RoleProject, graph.RoleProjectComposition, graph.RoleRbdStart, graph.RoleRbdEnd:
		return newError(t.op).Kind(KindValidationFailed).Semantic(n.Semantic).Detail("%s cannot be deleted", n.Role).Err()
	case graph.RoleRbdGroupEnd:
		start, err := t.get(ctx, n.Ref)
		if err != nil {
			return err
		}
		n = start
	}

	if n.Role.IsRbdPart() && n.Active() {
		tail := n
		if n.Role == graph.RoleRbdGroupStart {
			end, err := newBuilder(t).pair(ctx, n)
			if err != nil {
				return err
			}
			tail = end
		}
		if err := t.detach(ctx, n, tail, true); err != nil {
			return err
		}
	}

	unit, err := t.binUnit(ctx, n)
	if err != nil {
		return err
	}
	parent, err := t.optional(ctx, n.Parent)
	if err != nil {
		return err
	}

	if !hard {
		for _, u := range unit {
			u.Bin = graph.BinDeleted
		}
	} else {
		if err := t.purge(ctx, unit); err != nil {
			return err
		}
		if parent != nil {
			// A group unit is made of siblings, a subtree only of n.
			for _, u := range unit {
				if u.Parent == parent.Semantic {
					parent.Children = without(parent.Children, u.Semantic)
				}
			}
		}
	}
	if parent == nil {
		return nil
	}
	return t.rearrange(ctx, parent, n.Role.Partition())
}

// purge removes unit from the graph and strips every reference surviving
// nodes hold to it.
func (t *tx) purge(ctx context.Context, unit []*graph.Node) error {
	gone := make(map[string]bool, len(unit))
	for _, u := range unit {
		gone[u.Semantic] = true
	}
	for _, u := range unit {
		t.remove(u)
	}

	other := func(sem string, edit func(*graph.Node)) error {
		if gone[sem] {
			return nil
		}
		n, err := t.optional(ctx, sem)
		if err != nil || n == nil {
			return err
		}
		edit(n)
		return nil
	}
	for _, u := range unit {
		sem := u.Semantic
		steps := []struct {
			list []string
			edit func(*graph.Node)
		}{
			{[]string{u.Ref}, func(n *graph.Node) {
				if n.Ref == sem {
					n.Ref = ""
				}
				n.BoundBy = without(n.BoundBy, sem)
			}},
			{u.BoundBy, func(n *graph.Node) { n.Ref = "" }},
			{u.FunctionalUnits, func(n *graph.Node) { n.Members = without(n.Members, sem) }},
			{u.Members, func(n *graph.Node) { n.FunctionalUnits = without(n.FunctionalUnits, sem) }},
			{u.Inputs, func(n *graph.Node) { n.Outputs = without(n.Outputs, sem) }},
			{u.Outputs, func(n *graph.Node) { n.Inputs = without(n.Inputs, sem) }},
		}
		for _, st := range steps {
			for _, ref := range st.list {
				if ref == "" {
					continue
				}
				if err := other(ref, st.edit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// DeleteWithDescendants deletes a node and its descendants, into the bin
// unless Hard. Diagram parts run on the rbd strand, everything else on the
// container strand.
func (s *Service) DeleteWithDescendants(ctx context.Context, caller Caller, q DeleteQuery) error {
	const op = "deleteWithDescendants"
	return exec(ctx, s, op, caller, s.strandFor(ctx, q.Semantic), func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		n, err := t.get(ctx, q.Semantic)
		if err != nil {
			return err
		}
		return t.deleteNode(ctx, n, q.Hard)
	})
}
