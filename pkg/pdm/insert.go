package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// resolveChain returns the head and tail of a chain ready to be linked into
// diagram. A chain living in another diagram is copied in first; a chain of
// the same diagram must already be detached.
func (t *tx) resolveChain(ctx context.Context, b *builder, chain RbdChain, diagram string) (head, tail *graph.Node, err error) {
	members, err := b.validateRbdChain(ctx, chain)
	if err != nil {
		return nil, nil, err
	}
	if members[0].Parent != diagram {
		d, err := t.getRole(ctx, diagram, graph.RoleRbd)
		if err != nil {
			return nil, nil, err
		}
		if chain, err = t.copyChain(ctx, b, chain, d); err != nil {
			return nil, nil, err
		}
		if head, err = t.get(ctx, chain.Source); err != nil {
			return nil, nil, err
		}
		tail, err = t.get(ctx, chain.Target)
		return head, tail, err
	}

	head, tail = members[0], members[len(members)-1]
	if len(head.Inputs) > 0 || len(tail.Outputs) > 0 {
		return nil, nil, newError(t.op).Kind(KindValidationFailed).Semantic(chain.Source).Detail("chain is still linked into its diagram").Err()
	}
	return head, tail, nil
}

// insertBetween replaces src -> tgt by src -> head ... tail -> tgt, keeping
// the position of the link in both end lists.
func insertBetween(src, tgt, head, tail *graph.Node) {
	src.Outputs = replaced(src.Outputs, tgt.Semantic, head.Semantic)
	tgt.Inputs = replaced(tgt.Inputs, src.Semantic, tail.Semantic)
	head.Inputs = append(head.Inputs, src.Semantic)
	tail.Outputs = append(tail.Outputs, tgt.Semantic)
}

// InsertRbdBetween splices a chain into an existing link.
func (s *Service) InsertRbdBetween(ctx context.Context, caller Caller, q InsertBetweenQuery) error {
	const op = "insertRbdBetween"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		src, err := t.get(ctx, q.Link.Source)
		if err != nil {
			return err
		}
		tgt, err := t.get(ctx, q.Link.Target)
		if err != nil {
			return err
		}
		if !linked(src, tgt) {
			return newError(op).Kind(KindLinkNotFound).Semantic(src.Semantic).Detail("no link to %s", tgt.Semantic).Err()
		}
		head, tail, err := t.resolveChain(ctx, newBuilder(t), q.Chain, src.Parent)
		if err != nil {
			return err
		}
		insertBetween(src, tgt, head, tail)
		return nil
	})
}

// validateInsertRbdBesideQuery rejects anchor and side combinations that
// would put the chain outside the diagram or inside a group boundary.
func validateInsertRbdBesideQuery(op string, q InsertBesideQuery, anchor graph.Role, insideGroup, allowInsideGroup bool) error {
	fail := func(format string, args ...any) error {
		return newError(op).Kind(KindValidationFailed).Semantic(q.Anchor).Detail(format, args...).Err()
	}
	switch {
	case !anchor.IsRbdPart():
		return fail("%s is not a diagram part", anchor)
	case q.Chain.Source == q.Anchor || q.Chain.Target == q.Anchor:
		return fail("chain contains its anchor")
	case q.Side == SideLeft && anchor == graph.RoleRbdStart:
		return fail("nothing goes left of the diagram start")
	case q.Side == SideRight && anchor == graph.RoleRbdEnd:
		return fail("nothing goes right of the diagram end")
	case q.Side == SideRight && anchor == graph.RoleRbdGroupStart:
		return fail("right of a group start is a group path, use insertRbdIntoGroup")
	case q.Side == SideLeft && anchor == graph.RoleRbdGroupEnd:
		return fail("left of a group end is a group path, use insertRbdIntoGroup")
	case insideGroup && !allowInsideGroup:
		return fail("anchor is inside a parallel group")
	}
	return nil
}

// insideGroup reports whether n sits on a path of some group. The walk
// follows inputs back and steps over whole groups.
func (t *tx) insideGroup(ctx context.Context, n *graph.Node) (bool, error) {
	seen := make(map[string]bool)
	for cur := n; ; {
		if seen[cur.Semantic] {
			return false, invalidTopology(t.op, cur.Semantic, "cycle in diagram")
		}
		seen[cur.Semantic] = true
		if cur.Role == graph.RoleRbdGroupEnd && cur.Ref != "" {
			start, err := t.get(ctx, cur.Ref)
			if err != nil {
				return false, err
			}
			cur = start
		}
		if len(cur.Inputs) == 0 {
			return false, nil
		}
		prev, err := t.get(ctx, cur.Inputs[0])
		if err != nil {
			return false, err
		}
		if prev.Role == graph.RoleRbdGroupStart {
			return true, nil
		}
		cur = prev
	}
}

// InsertRbdBeside puts a chain in series directly left or right of an
// anchor.
func (s *Service) InsertRbdBeside(ctx context.Context, caller Caller, q InsertBesideQuery) error {
	const op = "insertRbdBeside"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		anchor, err := t.get(ctx, q.Anchor)
		if err != nil {
			return err
		}
		inside := false
		if anchor.Role.IsRbdPart() {
			if inside, err = t.insideGroup(ctx, anchor); err != nil {
				return err
			}
		}
		if err := validateInsertRbdBesideQuery(op, q, anchor.Role, inside, s.cfg.AllowBesideInsideGroup); err != nil {
			return err
		}
		head, tail, err := t.resolveChain(ctx, newBuilder(t), q.Chain, anchor.Parent)
		if err != nil {
			return err
		}

		if q.Side == SideRight {
			if len(anchor.Outputs) == 0 {
				connect(anchor, head)
				return nil
			}
			next, err := t.get(ctx, anchor.Outputs[0])
			if err != nil {
				return err
			}
			insertBetween(anchor, next, head, tail)
			return nil
		}
		if len(anchor.Inputs) == 0 {
			connect(tail, anchor)
			return nil
		}
		prev, err := t.get(ctx, anchor.Inputs[0])
		if err != nil {
			return err
		}
		insertBetween(prev, anchor, head, tail)
		return nil
	})
}

func validateInsertRbdInParallelQuery(op string, q InsertInParallelQuery) error {
	if q.Chain.Source == q.Anchor.Source || q.Chain.Target == q.Anchor.Target ||
		q.Chain.Source == q.Anchor.Target || q.Chain.Target == q.Anchor.Source {
		return newError(op).Kind(KindValidationFailed).Semantic(q.Chain.Source).Detail("chain overlaps its anchor").Err()
	}
	return nil
}

// InsertRbdInParallel wraps the linked anchor chain into a new group whose
// second path is the inserted chain.
func (s *Service) InsertRbdInParallel(ctx context.Context, caller Caller, q InsertInParallelQuery) (GroupResult, error) {
	const op = "insertRbdInParallel"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (GroupResult, error) {
		if err := validateQuery(op, q); err != nil {
			return GroupResult{}, err
		}
		if err := validateInsertRbdInParallelQuery(op, q); err != nil {
			return GroupResult{}, err
		}
		b := newBuilder(t)
		members, err := b.validateRbdChain(ctx, q.Anchor)
		if err != nil {
			return GroupResult{}, err
		}
		first, last := members[0], members[len(members)-1]
		if len(first.Inputs) != 1 || len(last.Outputs) != 1 {
			return GroupResult{}, invalidTopology(op, first.Semantic, "anchor chain must be linked on both ends")
		}
		head, tail, err := t.resolveChain(ctx, b, q.Chain, first.Parent)
		if err != nil {
			return GroupResult{}, err
		}
		diagram, err := t.get(ctx, first.Parent)
		if err != nil {
			return GroupResult{}, err
		}
		prev, err := t.get(ctx, first.Inputs[0])
		if err != nil {
			return GroupResult{}, err
		}
		next, err := t.get(ctx, last.Outputs[0])
		if err != nil {
			return GroupResult{}, err
		}

		gs, err := t.newNode(ctx, diagram, &graph.Node{Role: graph.RoleRbdGroupStart})
		if err != nil {
			return GroupResult{}, err
		}
		ge, err := t.newNode(ctx, diagram, &graph.Node{Role: graph.RoleRbdGroupEnd})
		if err != nil {
			return GroupResult{}, err
		}
		gs.Ref, ge.Ref = ge.Semantic, gs.Semantic

		prev.Outputs = replaced(prev.Outputs, first.Semantic, gs.Semantic)
		first.Inputs = replaced(first.Inputs, prev.Semantic, gs.Semantic)
		gs.Inputs = []string{prev.Semantic}
		gs.Outputs = []string{first.Semantic}

		next.Inputs = replaced(next.Inputs, last.Semantic, ge.Semantic)
		last.Outputs = replaced(last.Outputs, next.Semantic, ge.Semantic)
		ge.Inputs = []string{last.Semantic}
		ge.Outputs = []string{next.Semantic}

		connect(gs, head)
		connect(tail, ge)
		return GroupResult{Start: gs.Semantic, End: ge.Semantic}, b.validateRbdGroup(ctx, gs)
	})
}

// InsertRbdIntoParallel adds a chain as one more path of a group.
func (s *Service) InsertRbdIntoParallel(ctx context.Context, caller Caller, q InsertIntoParallelQuery) error {
	const op = "insertRbdIntoParallel"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		b := newBuilder(t)
		gs, err := t.getRole(ctx, q.Group, graph.RoleRbdGroupStart)
		if err != nil {
			return err
		}
		ge, err := b.pair(ctx, gs)
		if err != nil {
			return err
		}
		head, tail, err := t.resolveChain(ctx, b, q.Chain, gs.Parent)
		if err != nil {
			return err
		}
		connect(gs, head)
		connect(tail, ge)
		return b.validateRbdGroup(ctx, gs)
	})
}

func validateInsertRbdIntoGroupQuery(op string, q InsertIntoGroupQuery, paths int) error {
	switch {
	case q.Path >= paths:
		return newError(op).Kind(KindValidationFailed).Semantic(q.Group).Detail("path %d out of range, group has %d", q.Path, paths).Err()
	case q.Chain.Source == q.Group || q.Chain.Target == q.Group:
		return newError(op).Kind(KindValidationFailed).Semantic(q.Group).Detail("chain contains the group").Err()
	}
	return nil
}

// InsertRbdIntoGroup appends a chain to the end of one path of a group.
func (s *Service) InsertRbdIntoGroup(ctx context.Context, caller Caller, q InsertIntoGroupQuery) error {
	const op = "insertRbdIntoGroup"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		b := newBuilder(t)
		gs, err := t.getRole(ctx, q.Group, graph.RoleRbdGroupStart)
		if err != nil {
			return err
		}
		if err := validateInsertRbdIntoGroupQuery(op, q, len(gs.Outputs)); err != nil {
			return err
		}
		ge, err := b.pair(ctx, gs)
		if err != nil {
			return err
		}
		head, tail, err := t.resolveChain(ctx, b, q.Chain, gs.Parent)
		if err != nil {
			return err
		}

		last, err := t.pathTail(ctx, gs, q.Path, ge.Semantic)
		if err != nil {
			return err
		}
		insertBetween(last, ge, head, tail)
		return b.validateRbdGroup(ctx, gs)
	})
}

// pathTail returns the last node of path i of a group: the group start
// itself for a bypass path.
func (t *tx) pathTail(ctx context.Context, gs *graph.Node, i int, end string) (*graph.Node, error) {
	seen := make(map[string]bool)
	last := gs
	for sem := gs.Outputs[i]; sem != end; {
		if seen[sem] {
			return nil, invalidTopology(t.op, sem, "cycle in group path")
		}
		seen[sem] = true
		n, err := t.get(ctx, sem)
		if err != nil {
			return nil, err
		}
		if n.Role == graph.RoleRbdGroupStart {
			if n, err = t.get(ctx, n.Ref); err != nil {
				return nil, err
			}
		}
		if len(n.Outputs) != 1 {
			return nil, invalidTopology(t.op, n.Semantic, "group path broken at %s", n.Role)
		}
		last = n
		sem = n.Outputs[0]
	}
	return last, nil
}
