package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/validation"
)

// uniqueName fails when another active child of parent in the same
// partition already carries name. Empty names never clash.
func (t *tx) uniqueName(ctx context.Context, parent *graph.Node, p graph.Partition, name, except string) error {
	if name == "" {
		return nil
	}
	sibs, err := t.siblings(ctx, parent, p)
	if err != nil {
		return err
	}
	for _, s := range sibs {
		if s.Semantic != except && s.Name == name {
			return newError(t.op).Kind(KindValidationFailed).Semantic(s.Semantic).Detail("name %q already used under %s", name, parent.Semantic).Err()
		}
	}
	return nil
}

// checkEmbeddable fails when embedding diagram inner into host would make
// host contain itself.
func (t *tx) checkEmbeddable(ctx context.Context, host, inner string) error {
	seen := make(map[string]bool)
	stack := []string{inner}
	for len(stack) > 0 {
		sem := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if sem == host {
			return invalidTopology(t.op, inner, "diagram %s would embed itself", host)
		}
		if seen[sem] {
			continue
		}
		seen[sem] = true
		d, err := t.get(ctx, sem)
		if err != nil {
			return err
		}
		parts, err := t.children(ctx, d)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.Role == graph.RoleSubRbd && p.Ref != "" && p.Active() {
				stack = append(stack, p.Ref)
			}
		}
	}
	return nil
}

// bind points part at ref, dropping any previous binding. Blocks bind
// elements, sub-diagrams bind diagrams.
func (t *tx) bind(ctx context.Context, ref string, part *graph.Node) error {
	target, err := t.get(ctx, ref)
	if err != nil {
		return err
	}
	switch part.Role {
	case graph.RoleRbdBlock:
		if !target.Role.IsElement() {
			return newError(t.op).Kind(KindValidationFailed).Semantic(ref).Detail("a block binds an element, not a %s", target.Role).Err()
		}
	case graph.RoleSubRbd:
		if target.Role != graph.RoleRbd {
			return newError(t.op).Kind(KindValidationFailed).Semantic(ref).Detail("a sub-diagram binds a diagram, not a %s", target.Role).Err()
		}
		if err := t.checkEmbeddable(ctx, part.Parent, ref); err != nil {
			return err
		}
	default:
		return newError(t.op).Kind(KindValidationFailed).Semantic(part.Semantic).Detail("%s cannot be bound", part.Role).Err()
	}

	if part.Ref == ref {
		return nil
	}
	if part.Ref != "" {
		if err := t.unbind(ctx, part); err != nil {
			return err
		}
	}
	part.Ref = ref
	target.BoundBy = append(target.BoundBy, part.Semantic)
	return nil
}

func (t *tx) unbind(ctx context.Context, part *graph.Node) error {
	old, err := t.optional(ctx, part.Ref)
	if err != nil {
		return err
	}
	if old != nil {
		old.BoundBy = without(old.BoundBy, part.Semantic)
	}
	part.Ref = ""
	return nil
}

// copyChain copies the parts of chain, group interiors included, into
// diagram as a detached chain. Bindings are shared with the originals.
func (t *tx) copyChain(ctx context.Context, b *builder, chain RbdChain, diagram *graph.Node) (RbdChain, error) {
	members, err := b.validateRbdChain(ctx, chain)
	if err != nil {
		return RbdChain{}, err
	}
	parts, err := b.chainParts(ctx, chain)
	if err != nil {
		return RbdChain{}, err
	}

	mapping := make(map[string]string, len(parts))
	for _, p := range parts {
		mapping[p.Semantic] = t.s.newSemantic()
	}
	for _, p := range parts {
		cp := &graph.Node{
			Semantic:    mapping[p.Semantic],
			Role:        p.Role,
			Name:        p.Name,
			FailureRate: p.FailureRate,
			Status:      p.Status,
		}
		for _, o := range p.Outputs {
			if m, ok := mapping[o]; ok {
				cp.Outputs = append(cp.Outputs, m)
			}
		}
		for _, i := range p.Inputs {
			if m, ok := mapping[i]; ok {
				cp.Inputs = append(cp.Inputs, m)
			}
		}
		if _, err := t.newNode(ctx, diagram, cp); err != nil {
			return RbdChain{}, err
		}

		switch p.Role {
		case graph.RoleRbdGroupStart, graph.RoleRbdGroupEnd:
			cp.Ref = mapping[p.Ref]
		case graph.RoleRbdBlock, graph.RoleSubRbd:
			if p.Ref != "" {
				if err := t.bind(ctx, p.Ref, cp); err != nil {
					return RbdChain{}, err
				}
			}
		}
	}
	return RbdChain{
		Source: mapping[members[0].Semantic],
		Target: mapping[members[len(members)-1].Semantic],
	}, nil
}

func terminalSemantics(rbd string) [2]string {
	return [2]string{rbd + "-start", rbd + "-end"}
}

// AddRbd creates a diagram under a product with its start linked to its end.
func (s *Service) AddRbd(ctx context.Context, caller Caller, q NewRbd) (string, error) {
	const op = "addRbd"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (string, error) {
		if err := validateQuery(op, q); err != nil {
			return "", err
		}
		if q.Semantic != "" {
			// Terminals derive their semantics from the diagram's.
			for _, sem := range terminalSemantics(q.Semantic) {
				if err := validation.ValidateSemantic(sem); err != nil {
					return "", validationFailed(op, err)
				}
			}
		}
		product, err := t.getRole(ctx, q.Product, graph.RoleProduct)
		if err != nil {
			return "", err
		}
		if err := t.uniqueName(ctx, product, graph.PartitionDiagrams, q.Name, ""); err != nil {
			return "", err
		}
		rbd, err := t.newNode(ctx, product, &graph.Node{Semantic: q.Semantic, Role: graph.RoleRbd, Name: q.Name, Dirty: true})
		if err != nil {
			return "", err
		}
		terms := terminalSemantics(rbd.Semantic)
		start, err := t.newNode(ctx, rbd, &graph.Node{Semantic: terms[0], Role: graph.RoleRbdStart})
		if err != nil {
			return "", err
		}
		end, err := t.newNode(ctx, rbd, &graph.Node{Semantic: terms[1], Role: graph.RoleRbdEnd})
		if err != nil {
			return "", err
		}
		connect(start, end)
		return rbd.Semantic, nil
	})
}

// AddRbdBlocks creates blocks in a diagram linked in series but not yet
// linked into the diagram.
func (s *Service) AddRbdBlocks(ctx context.Context, caller Caller, q NewRbdBlocks) (RbdChain, error) {
	const op = "addRbdBlocks"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		if err := validation.ValidateBatchSize(len(q.Blocks)); err != nil {
			return RbdChain{}, validationFailed(op, err)
		}
		rbd, err := t.getRole(ctx, q.Rbd, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		var chain RbdChain
		var prev *graph.Node
		for _, nb := range q.Blocks {
			n, err := t.newNode(ctx, rbd, &graph.Node{Semantic: nb.Semantic, Role: graph.RoleRbdBlock, Name: nb.Name, FailureRate: nb.FailureRate})
			if err != nil {
				return RbdChain{}, err
			}
			if nb.Component != "" {
				if err := t.bind(ctx, nb.Component, n); err != nil {
					return RbdChain{}, err
				}
			}
			if prev == nil {
				chain.Source = n.Semantic
			} else {
				connect(prev, n)
			}
			chain.Target = n.Semantic
			prev = n
		}
		return chain, nil
	})
}

// AddSubRbd creates a detached sub-diagram node bound to q.Ref.
func (s *Service) AddSubRbd(ctx context.Context, caller Caller, q NewSubRbd) (RbdChain, error) {
	const op = "addSubRbd"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		rbd, err := t.getRole(ctx, q.Rbd, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		n, err := t.newNode(ctx, rbd, &graph.Node{Semantic: q.Semantic, Role: graph.RoleSubRbd, Name: q.Name})
		if err != nil {
			return RbdChain{}, err
		}
		if err := t.bind(ctx, q.Ref, n); err != nil {
			return RbdChain{}, err
		}
		return RbdChain{Source: n.Semantic, Target: n.Semantic}, nil
	})
}

// newGroup creates a detached, empty group in diagram.
func (t *tx) newGroup(ctx context.Context, diagram *graph.Node) (gs, ge *graph.Node, err error) {
	if gs, err = t.newNode(ctx, diagram, &graph.Node{Role: graph.RoleRbdGroupStart}); err != nil {
		return nil, nil, err
	}
	if ge, err = t.newNode(ctx, diagram, &graph.Node{Role: graph.RoleRbdGroupEnd}); err != nil {
		return nil, nil, err
	}
	gs.Ref, ge.Ref = ge.Semantic, gs.Semantic
	return gs, ge, nil
}

// addRbdBlocksToGroup creates one block per entry of blocks, each on its
// own path between gs and ge.
func (t *tx) addRbdBlocksToGroup(ctx context.Context, gs, ge *graph.Node, blocks []NewBlock) error {
	diagram, err := t.get(ctx, gs.Parent)
	if err != nil {
		return err
	}
	for _, nb := range blocks {
		n, err := t.newNode(ctx, diagram, &graph.Node{Semantic: nb.Semantic, Role: graph.RoleRbdBlock, Name: nb.Name, FailureRate: nb.FailureRate})
		if err != nil {
			return err
		}
		if nb.Component != "" {
			if err := t.bind(ctx, nb.Component, n); err != nil {
				return err
			}
		}
		connect(gs, n)
		connect(n, ge)
	}
	return nil
}

// addSubRbdsToGroup creates one sub-diagram node per ref, each on its own
// path between gs and ge.
func (t *tx) addSubRbdsToGroup(ctx context.Context, gs, ge *graph.Node, refs []string) error {
	diagram, err := t.get(ctx, gs.Parent)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		n, err := t.newNode(ctx, diagram, &graph.Node{Role: graph.RoleSubRbd})
		if err != nil {
			return err
		}
		if err := t.bind(ctx, ref, n); err != nil {
			return err
		}
		connect(gs, n)
		connect(n, ge)
	}
	return nil
}

// AddRbdBlockGroup creates a detached group with one block per path. The
// returned chain runs from the group start to its end and can be inserted
// like any other chain.
func (s *Service) AddRbdBlockGroup(ctx context.Context, caller Caller, q NewRbdBlocks) (RbdChain, error) {
	const op = "addRbdBlockGroup"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		if err := validation.ValidateBatchSize(len(q.Blocks)); err != nil {
			return RbdChain{}, validationFailed(op, err)
		}
		rbd, err := t.getRole(ctx, q.Rbd, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		gs, ge, err := t.newGroup(ctx, rbd)
		if err != nil {
			return RbdChain{}, err
		}
		if err := t.addRbdBlocksToGroup(ctx, gs, ge, q.Blocks); err != nil {
			return RbdChain{}, err
		}
		return RbdChain{Source: gs.Semantic, Target: ge.Semantic}, newBuilder(t).validateRbdGroup(ctx, gs)
	})
}

// AddSubRbdGroup creates a detached group with one sub-diagram node per
// path, bound to the diagrams in q.Refs.
func (s *Service) AddSubRbdGroup(ctx context.Context, caller Caller, q NewSubRbdGroup) (RbdChain, error) {
	const op = "addSubRbdGroup"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		if err := validation.ValidateBatchSize(len(q.Refs)); err != nil {
			return RbdChain{}, validationFailed(op, err)
		}
		rbd, err := t.getRole(ctx, q.Rbd, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		gs, ge, err := t.newGroup(ctx, rbd)
		if err != nil {
			return RbdChain{}, err
		}
		if err := t.addSubRbdsToGroup(ctx, gs, ge, q.Refs); err != nil {
			return RbdChain{}, err
		}
		return RbdChain{Source: gs.Semantic, Target: ge.Semantic}, newBuilder(t).validateRbdGroup(ctx, gs)
	})
}

// CopyRbdChain copies a chain, detached, into another or the same diagram.
func (s *Service) CopyRbdChain(ctx context.Context, caller Caller, q CopyChainQuery) (RbdChain, error) {
	const op = "copyRbdChain"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (RbdChain, error) {
		if err := validateQuery(op, q); err != nil {
			return RbdChain{}, err
		}
		rbd, err := t.getRole(ctx, q.Rbd, graph.RoleRbd)
		if err != nil {
			return RbdChain{}, err
		}
		return t.copyChain(ctx, newBuilder(t), q.Chain, rbd)
	})
}

func (s *Service) bindOp(ctx context.Context, op string, caller Caller, q BindQuery, role graph.Role, bind bool) error {
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		part, err := t.getRole(ctx, q.Part, role)
		if err != nil {
			return err
		}
		if bind {
			return t.bind(ctx, q.Ref, part)
		}
		if part.Ref != q.Ref {
			return newError(op).Kind(KindValidationFailed).Semantic(q.Part).Detail("not bound to %s", q.Ref).Err()
		}
		return t.unbind(ctx, part)
	})
}

// BindComponentWithBlock makes a block take its rate from an element.
func (s *Service) BindComponentWithBlock(ctx context.Context, caller Caller, q BindQuery) error {
	return s.bindOp(ctx, "bindComponentWithBlock", caller, q, graph.RoleRbdBlock, true)
}

// UnbindComponentFromBlock releases a block from its element.
func (s *Service) UnbindComponentFromBlock(ctx context.Context, caller Caller, q BindQuery) error {
	return s.bindOp(ctx, "unbindComponentFromBlock", caller, q, graph.RoleRbdBlock, false)
}

// BindRbdWithSubRbd makes a sub-diagram node embed a diagram.
func (s *Service) BindRbdWithSubRbd(ctx context.Context, caller Caller, q BindQuery) error {
	return s.bindOp(ctx, "bindRbdWithSubRbd", caller, q, graph.RoleSubRbd, true)
}

// UnbindRbdFromSubRbd empties a sub-diagram node.
func (s *Service) UnbindRbdFromSubRbd(ctx context.Context, caller Caller, q BindQuery) error {
	return s.bindOp(ctx, "unbindRbdFromSubRbd", caller, q, graph.RoleSubRbd, false)
}
