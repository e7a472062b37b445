package pdm

import (
	"context"
	"math"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/parallel"
)

// allowedParents lists where each creatable role may live.
var allowedParents = map[graph.Role][]graph.Role{
	graph.RoleProduct:        {graph.RoleProjectComposition},
	graph.RoleContainer:      {graph.RoleProduct, graph.RoleContainer},
	graph.RoleComponent:      {graph.RoleProduct, graph.RoleContainer},
	graph.RoleFunctionalUnit: {graph.RoleProduct},
}

// strandFor picks the strand that owns edits to semantic: the rbd strand
// for diagrams and their parts, the container strand otherwise.
func (s *Service) strandFor(ctx context.Context, semantic string) *parallel.Strand {
	if err := validateQuery("", SemanticQuery{Semantic: semantic}); err != nil {
		return s.container
	}
	if n, err := s.fetch(ctx, semantic); err == nil && (n.Role == graph.RoleRbd || n.Role.IsRbdPart()) {
		return s.rbd
	}
	return s.container
}

// AddNode creates a product, element or functional unit.
func (s *Service) AddNode(ctx context.Context, caller Caller, q NewNode) (string, error) {
	const op = "addNode"
	return mutate(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) (string, error) {
		if err := validateQuery(op, q); err != nil {
			return "", err
		}
		role, err := parseRole(op, q.Role)
		if err != nil {
			return "", err
		}
		parent, err := t.getRole(ctx, q.Parent, allowedParents[role]...)
		if err != nil {
			return "", err
		}
		if !parent.Active() {
			return "", newError(op).Kind(KindValidationFailed).Semantic(parent.Semantic).Detail("parent is in the bin").Err()
		}
		if role.Partition() != graph.PartitionElements {
			if err := t.uniqueName(ctx, parent, role.Partition(), q.Name, ""); err != nil {
				return "", err
			}
		}
		n := &graph.Node{Semantic: q.Semantic, Role: role, Name: q.Name}
		switch role {
		case graph.RoleComponent:
			n.FailureRate = q.FailureRate
			n.Dirty = true
		case graph.RoleContainer, graph.RoleProduct:
			n.Dirty = true
		}
		if _, err := t.newNode(ctx, parent, n); err != nil {
			return "", err
		}
		return n.Semantic, nil
	})
}

// UpdateNode changes the name, failure rate or status of a node. Only
// components and blocks carry their own failure rate.
func (s *Service) UpdateNode(ctx context.Context, caller Caller, q UpdateNodeQuery) error {
	const op = "updateNode"
	return exec(ctx, s, op, caller, s.strandFor(ctx, q.Semantic), func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		n, err := t.get(ctx, q.Semantic)
		if err != nil {
			return err
		}
		if q.FailureRate != nil {
			if n.Role != graph.RoleComponent && n.Role != graph.RoleRbdBlock {
				return newError(op).Kind(KindValidationFailed).Semantic(n.Semantic).Detail("%s has no own failure rate", n.Role).Err()
			}
			n.FailureRate = *q.FailureRate
		}
		if q.Name != nil && *q.Name != n.Name {
			if p := n.Role.Partition(); p == graph.PartitionProducts || p == graph.PartitionDiagrams || p == graph.PartitionUnits {
				parent, err := t.get(ctx, n.Parent)
				if err != nil {
					return err
				}
				if err := t.uniqueName(ctx, parent, p, *q.Name, n.Semantic); err != nil {
					return err
				}
			}
			n.Name = *q.Name
		}
		if q.Status != nil {
			n.Status = *q.Status
		}
		return nil
	})
}

// MoveElements reparents elements under a product or container, at Index
// when set and appended otherwise.
func (s *Service) MoveElements(ctx context.Context, caller Caller, q MoveQuery) error {
	const op = "moveElements"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "elements", q.Elements); err != nil {
			return err
		}
		target, err := t.getRole(ctx, q.Target, graph.RoleProduct, graph.RoleContainer)
		if err != nil {
			return err
		}
		if !target.Active() {
			return newError(op).Kind(KindValidationFailed).Semantic(target.Semantic).Detail("target is in the bin").Err()
		}

		for i, sem := range q.Elements {
			el, err := t.element(ctx, sem)
			if err != nil {
				return err
			}
			for anc := target.Semantic; anc != ""; {
				if anc == el.Semantic {
					return invalidTopology(op, el.Semantic, "cannot move into its own subtree")
				}
				a, err := t.get(ctx, anc)
				if err != nil {
					return err
				}
				anc = a.Parent
			}

			if el.Parent != target.Semantic {
				old, err := t.get(ctx, el.Parent)
				if err != nil {
					return err
				}
				old.Children = without(old.Children, el.Semantic)
				if err := t.rearrange(ctx, old, graph.PartitionElements); err != nil {
					return err
				}
				el.Parent = target.Semantic
				target.Children = append(target.Children, el.Semantic)
			}

			index := math.MaxInt
			if q.Index != nil {
				index = *q.Index + i
			}
			if err := t.placeAt(ctx, target, el, index); err != nil {
				return err
			}
		}
		return nil
	})
}

// RenameElement changes the display name of an element.
func (s *Service) RenameElement(ctx context.Context, caller Caller, q RenameQuery) error {
	const op = "renameElement"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		el, err := t.element(ctx, q.Semantic)
		if err != nil {
			return err
		}
		el.Name = q.Name
		return nil
	})
}

// ReassignElementSemantic moves an element to a new semantic and rewrites
// every reference to it.
func (s *Service) ReassignElementSemantic(ctx context.Context, caller Caller, q ReassignQuery) error {
	const op = "reassignElementSemantic"
	return exec(ctx, s, op, caller, s.container, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		el, err := t.element(ctx, q.Old)
		if err != nil {
			return err
		}
		if existing, err := t.optional(ctx, q.New); err != nil {
			return err
		} else if existing != nil {
			return newError(op).Kind(KindValidationFailed).Semantic(q.New).Detail("semantic already in use").Err()
		}

		moved := el.Clone()
		moved.Semantic = q.New
		t.create(moved)
		t.remove(el)

		parent, err := t.get(ctx, el.Parent)
		if err != nil {
			return err
		}
		parent.Children = replaced(parent.Children, q.Old, q.New)
		for _, c := range el.Children {
			child, err := t.get(ctx, c)
			if err != nil {
				return err
			}
			child.Parent = q.New
		}
		for _, b := range el.BoundBy {
			part, err := t.optional(ctx, b)
			if err != nil {
				return err
			}
			if part != nil {
				part.Ref = q.New
			}
		}
		return t.updateElementSemanticInFunctionalUnits(ctx, q.Old, q.New, el.FunctionalUnits)
	})
}
