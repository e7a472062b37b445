package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/model"
)

// PartModel is a built model together with the part a query asked for.
type PartModel struct {
	Model *model.Model
	Root  model.Handle
}

// Reliability evaluates the root part over timespan t.
func (p PartModel) Reliability(t float64) float64 {
	return p.Model.Reliability(p.Root, t)
}

func (p PartModel) String() string {
	return p.Model.Format(p.Root)
}

// GetRbdModel builds the root chain of a diagram.
func (s *Service) GetRbdModel(ctx context.Context, caller Caller, q SemanticQuery) (PartModel, error) {
	const op = "getRbdModel"
	return call(ctx, s, op, caller, s.rbd, func(ctx context.Context) (PartModel, error) {
		if err := validateQuery(op, q); err != nil {
			return PartModel{}, err
		}
		t := s.begin(op, caller, false)
		rbd, err := t.getRole(ctx, q.Semantic, graph.RoleRbd)
		if err != nil {
			return PartModel{}, err
		}
		b := newBuilder(t)
		h, err := b.diagram(ctx, rbd)
		if err != nil {
			return PartModel{}, err
		}
		return PartModel{Model: b.m, Root: h}, nil
	})
}

// GetRbdChainModel builds a chain as a series part.
func (s *Service) GetRbdChainModel(ctx context.Context, caller Caller, q RbdChain) (PartModel, error) {
	const op = "getRbdChainModel"
	return call(ctx, s, op, caller, s.rbd, func(ctx context.Context) (PartModel, error) {
		if err := validateQuery(op, q); err != nil {
			return PartModel{}, err
		}
		t := s.begin(op, caller, false)
		b := newBuilder(t)
		if _, err := b.validateRbdChain(ctx, q); err != nil {
			return PartModel{}, err
		}
		lin := b.m.Linear("")
		if err := b.series(ctx, lin, q.Source, "", q.Target); err != nil {
			return PartModel{}, err
		}
		return PartModel{Model: b.m, Root: lin}, nil
	})
}

// GetRbdReservedModel builds the group started by q.Semantic as a parallel
// part, even when it has a single path.
func (s *Service) GetRbdReservedModel(ctx context.Context, caller Caller, q SemanticQuery) (PartModel, error) {
	const op = "getRbdReservedModel"
	return call(ctx, s, op, caller, s.rbd, func(ctx context.Context) (PartModel, error) {
		if err := validateQuery(op, q); err != nil {
			return PartModel{}, err
		}
		t := s.begin(op, caller, false)
		start, err := t.getRole(ctx, q.Semantic, graph.RoleRbdGroupStart)
		if err != nil {
			return PartModel{}, err
		}
		b := newBuilder(t)
		wrapper := b.m.Linear("")
		if _, err := b.group(ctx, wrapper, start, true); err != nil {
			return PartModel{}, err
		}
		return PartModel{Model: b.m, Root: b.m.Children(wrapper)[0]}, nil
	})
}

// GetRbdChainSemantics lists every part of a chain, group interiors
// included.
func (s *Service) GetRbdChainSemantics(ctx context.Context, caller Caller, q RbdChain) ([]string, error) {
	const op = "getRbdChainSemantics"
	return call(ctx, s, op, caller, s.rbd, func(ctx context.Context) ([]string, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		b := newBuilder(s.begin(op, caller, false))
		if _, err := b.validateRbdChain(ctx, q); err != nil {
			return nil, err
		}
		parts, err := b.chainParts(ctx, q)
		if err != nil {
			return nil, err
		}
		return semanticsOf(parts), nil
	})
}

// ValidateRbdGroup checks that every path of a group arrives at its end.
func (s *Service) ValidateRbdGroup(ctx context.Context, caller Caller, q SemanticQuery) error {
	const op = "validateRbdGroup"
	_, err := call(ctx, s, op, caller, s.rbd, func(ctx context.Context) (struct{}, error) {
		if err := validateQuery(op, q); err != nil {
			return struct{}{}, err
		}
		t := s.begin(op, caller, false)
		start, err := t.get(ctx, q.Semantic)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, newBuilder(t).validateRbdGroup(ctx, start)
	})
	return err
}

// ProjectComposition returns the single composition root of a project.
func (s *Service) ProjectComposition(ctx context.Context, caller Caller, q SemanticQuery) (string, error) {
	const op = "projectComposition"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) (string, error) {
		if err := validateQuery(op, q); err != nil {
			return "", err
		}
		t := s.begin(op, caller, false)
		project, err := t.getRole(ctx, q.Semantic, graph.RoleProject)
		if err != nil {
			return "", err
		}
		return onlyChild(ctx, t, project, graph.RoleProjectComposition)
	})
}

// onlyChild returns the single active child of parent with role.
func onlyChild(ctx context.Context, t *tx, parent *graph.Node, role graph.Role) (string, error) {
	children, err := t.children(ctx, parent)
	if err != nil {
		return "", err
	}
	found := ""
	for _, c := range children {
		if c.Role != role || !c.Active() {
			continue
		}
		if found != "" {
			return "", newError(t.op).Kind(KindTooManyNodesThisRole).Semantic(parent.Semantic).Detail("more than one %s", role).Err()
		}
		found = c.Semantic
	}
	if found == "" {
		return "", newError(t.op).Kind(KindNodeNotFound).Semantic(parent.Semantic).Detail("no %s", role).Err()
	}
	return found, nil
}

// validateRbdChain checks that a chain is a walkable series path inside one
// diagram and returns its members.
func (b *builder) validateRbdChain(ctx context.Context, chain RbdChain) ([]*graph.Node, error) {
	members, err := b.chainMembers(ctx, chain)
	if err != nil {
		return nil, err
	}
	diagram := members[0].Parent
	for _, m := range members {
		if m.Parent != diagram {
			return nil, invalidTopology(b.t.op, m.Semantic, "chain crosses into diagram %s", m.Parent)
		}
	}
	return members, nil
}

func semanticsOf(nodes []*graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Semantic
	}
	return out
}
