package pdm

import (
	"context"
	"slices"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

func linked(src, tgt *graph.Node) bool {
	return slices.Contains(src.Outputs, tgt.Semantic)
}

func connect(src, tgt *graph.Node) {
	src.Outputs = append(src.Outputs, tgt.Semantic)
	tgt.Inputs = append(tgt.Inputs, src.Semantic)
}

func disconnect(src, tgt *graph.Node) {
	src.Outputs = without(src.Outputs, tgt.Semantic)
	tgt.Inputs = without(tgt.Inputs, src.Semantic)
}

func without(list []string, s string) []string {
	return slices.DeleteFunc(slices.Clone(list), func(x string) bool { return x == s })
}

// replaced swaps old for repl in place, keeping list order.
func replaced(list []string, old, repl string) []string {
	out := slices.Clone(list)
	if i := slices.Index(out, old); i >= 0 {
		out[i] = repl
	}
	return out
}

// validateLinkQuery checks that src -> tgt is a legal edge between parts of
// one diagram.
func validateLinkQuery(op string, src, tgt *graph.Node) error {
	switch {
	case !src.Role.IsRbdPart() || !tgt.Role.IsRbdPart():
		return newError(op).Kind(KindValidationFailed).Semantic(src.Semantic).Detail("link %s -> %s between non-diagram nodes", src.Role, tgt.Role).Err()
	case src.Semantic == tgt.Semantic:
		return newError(op).Kind(KindValidationFailed).Semantic(src.Semantic).Detail("self link").Err()
	case src.Parent != tgt.Parent:
		return invalidTopology(op, src.Semantic, "link into diagram %s from %s", tgt.Parent, src.Parent)
	case src.Role == graph.RoleRbdEnd:
		return invalidTopology(op, src.Semantic, "diagram end has no outputs")
	case tgt.Role == graph.RoleRbdStart:
		return invalidTopology(op, tgt.Semantic, "diagram start has no inputs")
	}
	return nil
}

// checkAcyclic fails when src is reachable from tgt, so that src -> tgt
// would close a cycle.
func (t *tx) checkAcyclic(ctx context.Context, src, tgt *graph.Node) error {
	seen := make(map[string]bool)
	stack := []string{tgt.Semantic}
	for len(stack) > 0 {
		sem := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if sem == src.Semantic {
			return invalidTopology(t.op, src.Semantic, "link to %s closes a cycle", tgt.Semantic)
		}
		if seen[sem] {
			continue
		}
		seen[sem] = true
		n, err := t.get(ctx, sem)
		if err != nil {
			return err
		}
		stack = append(stack, n.Outputs...)
	}
	return nil
}

func (t *tx) link(ctx context.Context, q RbdLink) ([]RbdLink, error) {
	src, err := t.get(ctx, q.Source)
	if err != nil {
		return nil, err
	}
	tgt, err := t.get(ctx, q.Target)
	if err != nil {
		return nil, err
	}
	if err := validateLinkQuery(t.op, src, tgt); err != nil {
		return nil, err
	}
	if linked(src, tgt) {
		if q.Overwrite {
			return nil, nil
		}
		return nil, newError(t.op).Kind(KindLinkAlreadyExists).Semantic(src.Semantic).Detail("already linked to %s", tgt.Semantic).Err()
	}
	if !q.Overwrite && (len(src.Outputs) > 0 || len(tgt.Inputs) > 0) {
		return nil, newError(t.op).Kind(KindLinkAlreadyExists).Semantic(src.Semantic).
			Detail("slot occupied: %s outputs %v, %s inputs %v", src.Semantic, src.Outputs, tgt.Semantic, tgt.Inputs).Err()
	}
	if len(src.Outputs) > 1 || len(tgt.Inputs) > 1 {
		return nil, invalidTopology(t.op, src.Semantic, "overwrite would detach every path of a group, remove single paths with the fan operators")
	}
	if err := t.checkAcyclic(ctx, src, tgt); err != nil {
		return nil, err
	}

	var detached []RbdLink
	for _, o := range slices.Clone(src.Outputs) {
		old, err := t.get(ctx, o)
		if err != nil {
			return nil, err
		}
		disconnect(src, old)
		detached = append(detached, RbdLink{Source: src.Semantic, Target: o})
	}
	for _, i := range slices.Clone(tgt.Inputs) {
		old, err := t.get(ctx, i)
		if err != nil {
			return nil, err
		}
		disconnect(old, tgt)
		detached = append(detached, RbdLink{Source: i, Target: tgt.Semantic})
	}
	connect(src, tgt)
	return detached, nil
}

func (t *tx) unlink(ctx context.Context, source, target string) error {
	src, err := t.get(ctx, source)
	if err != nil {
		return err
	}
	tgt, err := t.get(ctx, target)
	if err != nil {
		return err
	}
	if !linked(src, tgt) {
		return newError(t.op).Kind(KindLinkNotFound).Semantic(source).Detail("no link to %s", target).Err()
	}
	disconnect(src, tgt)
	return nil
}

// fanOut adds outputs to src. Only a group start may have several.
func (t *tx) fanOut(ctx context.Context, fan RbdLinkFan) error {
	src, err := t.get(ctx, fan.Semantic)
	if err != nil {
		return err
	}
	if src.Role != graph.RoleRbdGroupStart && len(src.Outputs)+len(fan.Links) > 1 {
		return invalidTopology(t.op, src.Semantic, "only a group start has several outputs")
	}
	for _, target := range fan.Links {
		tgt, err := t.get(ctx, target)
		if err != nil {
			return err
		}
		if err := validateLinkQuery(t.op, src, tgt); err != nil {
			return err
		}
		if linked(src, tgt) || (tgt.Role != graph.RoleRbdGroupEnd && len(tgt.Inputs) > 0) {
			return newError(t.op).Kind(KindLinkAlreadyExists).Semantic(target).Detail("input occupied").Err()
		}
		if err := t.checkAcyclic(ctx, src, tgt); err != nil {
			return err
		}
		connect(src, tgt)
	}
	return nil
}

// fanIn adds inputs to tgt. Only a group end may have several.
func (t *tx) fanIn(ctx context.Context, fan RbdLinkFan) error {
	tgt, err := t.get(ctx, fan.Semantic)
	if err != nil {
		return err
	}
	if tgt.Role != graph.RoleRbdGroupEnd && len(tgt.Inputs)+len(fan.Links) > 1 {
		return invalidTopology(t.op, tgt.Semantic, "only a group end has several inputs")
	}
	for _, source := range fan.Links {
		src, err := t.get(ctx, source)
		if err != nil {
			return err
		}
		if err := validateLinkQuery(t.op, src, tgt); err != nil {
			return err
		}
		if linked(src, tgt) || (src.Role != graph.RoleRbdGroupStart && len(src.Outputs) > 0) {
			return newError(t.op).Kind(KindLinkAlreadyExists).Semantic(source).Detail("output occupied").Err()
		}
		if err := t.checkAcyclic(ctx, src, tgt); err != nil {
			return err
		}
		connect(src, tgt)
	}
	return nil
}

// LinkRbdElements links source to target. With Overwrite the links that
// occupied either end are removed and returned. Overwrite never replaces
// the paths of a group: a group start with several outputs or a group end
// with several inputs fails with InvalidTopology.
func (s *Service) LinkRbdElements(ctx context.Context, caller Caller, q RbdLink) (LinkResult, error) {
	const op = "linkRbdElements"
	return mutate(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) (LinkResult, error) {
		if err := validateQuery(op, q); err != nil {
			return LinkResult{}, err
		}
		detached, err := t.link(ctx, q)
		return LinkResult{Detached: detached}, err
	})
}

// AddRbdLink is LinkRbdElements without the result.
func (s *Service) AddRbdLink(ctx context.Context, caller Caller, q RbdLink) error {
	_, err := s.LinkRbdElements(ctx, caller, q)
	return err
}

// UnlinkRbdElements removes source -> target.
func (s *Service) UnlinkRbdElements(ctx context.Context, caller Caller, q RbdLink) error {
	const op = "unlinkRbdElements"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		return t.unlink(ctx, q.Source, q.Target)
	})
}

// RemoveRbdLink is UnlinkRbdElements.
func (s *Service) RemoveRbdLink(ctx context.Context, caller Caller, q RbdLink) error {
	return s.UnlinkRbdElements(ctx, caller, q)
}

// AppendRbdLinkSourceOutputs links Semantic to every node in Links.
func (s *Service) AppendRbdLinkSourceOutputs(ctx context.Context, caller Caller, q RbdLinkFan) error {
	const op = "appendRbdLinkSourceOutputs"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "links", q.Links); err != nil {
			return err
		}
		return t.fanOut(ctx, q)
	})
}

// AppendRbdLinkTargetInputs links every node in Links to Semantic.
func (s *Service) AppendRbdLinkTargetInputs(ctx context.Context, caller Caller, q RbdLinkFan) error {
	const op = "appendRbdLinkTargetInputs"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		if err := validateBatch(op, "links", q.Links); err != nil {
			return err
		}
		return t.fanIn(ctx, q)
	})
}

// RemoveRbdLinkSourceOutputs unlinks Semantic from every node in Links.
func (s *Service) RemoveRbdLinkSourceOutputs(ctx context.Context, caller Caller, q RbdLinkFan) error {
	const op = "removeRbdLinkSourceOutputs"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		for _, target := range q.Links {
			if err := t.unlink(ctx, q.Semantic, target); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveRbdLinkTargetInputs unlinks every node in Links from Semantic.
func (s *Service) RemoveRbdLinkTargetInputs(ctx context.Context, caller Caller, q RbdLinkFan) error {
	const op = "removeRbdLinkTargetInputs"
	return exec(ctx, s, op, caller, s.rbd, func(ctx context.Context, t *tx) error {
		if err := validateQuery(op, q); err != nil {
			return err
		}
		for _, source := range q.Links {
			if err := t.unlink(ctx, source, q.Semantic); err != nil {
				return err
			}
		}
		return nil
	})
}
