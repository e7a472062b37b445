package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/model"
)

// builder turns stored diagram topology into a model. Members are resolved
// by their links: a group start with several outputs opens a parallel part,
// one with a single output is inlined in series.
type builder struct {
	t *tx
	m *model.Model
	// expanding holds the diagrams currently being expanded, to catch
	// sub-diagrams that embed themselves.
	expanding map[string]bool
}

func newBuilder(t *tx) *builder {
	return &builder{t: t, m: model.New(), expanding: make(map[string]bool)}
}

// terminals returns the single start and end node of a diagram.
func (b *builder) terminals(ctx context.Context, rbd *graph.Node) (start, end *graph.Node, err error) {
	children, err := b.t.children(ctx, rbd)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range children {
		var slot **graph.Node
		switch c.Role {
		case graph.RoleRbdStart:
			slot = &start
		case graph.RoleRbdEnd:
			slot = &end
		default:
			continue
		}
		if *slot != nil {
			return nil, nil, newError(b.t.op).Kind(KindTooManyNodesThisRole).Semantic(rbd.Semantic).Detail("more than one %s", c.Role).Err()
		}
		*slot = c
	}
	if start == nil || end == nil {
		return nil, nil, newError(b.t.op).Kind(KindNodeNotFound).Semantic(rbd.Semantic).Detail("diagram has no start or end node").Err()
	}
	return start, end, nil
}

// diagram builds the root chain of rbd as a Linear part named after it.
func (b *builder) diagram(ctx context.Context, rbd *graph.Node) (model.Handle, error) {
	if rbd.Role != graph.RoleRbd {
		return model.None, newError(b.t.op).Kind(KindValidationFailed).Semantic(rbd.Semantic).Detail("%s is not a diagram", rbd.Role).Err()
	}
	if b.expanding[rbd.Semantic] {
		return model.None, invalidTopology(b.t.op, rbd.Semantic, "diagram embeds itself")
	}
	b.expanding[rbd.Semantic] = true
	defer delete(b.expanding, rbd.Semantic)

	start, end, err := b.terminals(ctx, rbd)
	if err != nil {
		return model.None, err
	}
	lin := b.m.Linear(rbd.Semantic)
	first, err := b.next(start)
	if err != nil {
		return model.None, err
	}
	if first == "" {
		b.m.Append(lin, b.m.Open(start.Semantic))
		return lin, nil
	}
	if err := b.series(ctx, lin, first, end.Semantic, ""); err != nil {
		return model.None, err
	}
	return lin, nil
}

// next returns the single output of n, "" when it has none.
func (b *builder) next(n *graph.Node) (string, error) {
	switch len(n.Outputs) {
	case 0:
		return "", nil
	case 1:
		return n.Outputs[0], nil
	default:
		return "", invalidTopology(b.t.op, n.Semantic, "%s has %d outputs", n.Role, len(n.Outputs))
	}
}

// series appends the members from first up to stop, excluded, to lin. When
// tail is set the walk also ends after the member ending at tail.
func (b *builder) series(ctx context.Context, lin model.Handle, first, stop, tail string) error {
	seen := make(map[string]bool)
	for sem := first; sem != stop; {
		if seen[sem] {
			return invalidTopology(b.t.op, sem, "cycle in chain")
		}
		seen[sem] = true

		n, err := b.t.get(ctx, sem)
		if err != nil {
			return err
		}
		last, err := b.member(ctx, lin, n)
		if err != nil {
			return err
		}
		if last.Semantic == tail {
			return nil
		}
		if sem, err = b.next(last); err != nil {
			return err
		}
		if sem == "" {
			b.m.Append(lin, b.m.Open(last.Semantic))
			return nil
		}
	}
	if tail != "" {
		return invalidTopology(b.t.op, tail, "chain target not reached")
	}
	return nil
}

// member appends n to lin and returns the node the walk continues from.
func (b *builder) member(ctx context.Context, lin model.Handle, n *graph.Node) (*graph.Node, error) {
	switch n.Role {
	case graph.RoleRbdBlock:
		rate, err := b.blockRate(ctx, n)
		if err != nil {
			return nil, err
		}
		b.m.Append(lin, b.m.Leaf(n.Semantic, rate))
		return n, nil
	case graph.RoleSubRbd:
		h, err := b.subRbd(ctx, n)
		if err != nil {
			return nil, err
		}
		b.m.Append(lin, h)
		return n, nil
	case graph.RoleRbdGroupStart:
		return b.group(ctx, lin, n, false)
	default:
		return nil, invalidTopology(b.t.op, n.Semantic, "unexpected %s in chain", n.Role)
	}
}

// blockRate is the rate of the bound element while it is active, else the
// block's own rate.
func (b *builder) blockRate(ctx context.Context, block *graph.Node) (float64, error) {
	if block.Ref == "" {
		return block.FailureRate, nil
	}
	el, err := b.t.get(ctx, block.Ref)
	if err != nil {
		return 0, err
	}
	switch {
	case !el.Active():
		return block.FailureRate, nil
	case el.Role == graph.RoleContainer:
		return el.Computed.FailureRate, nil
	default:
		return el.FailureRate, nil
	}
}

func (b *builder) subRbd(ctx context.Context, n *graph.Node) (model.Handle, error) {
	if n.Ref == "" {
		return b.m.Open(n.Semantic), nil
	}
	rbd, err := b.t.get(ctx, n.Ref)
	if err != nil {
		return model.None, err
	}
	if !rbd.Active() {
		return b.m.Open(n.Semantic), nil
	}
	return b.diagram(ctx, rbd)
}

// pair returns the group end matching start.
func (b *builder) pair(ctx context.Context, start *graph.Node) (*graph.Node, error) {
	if start.Role != graph.RoleRbdGroupStart {
		return nil, newError(b.t.op).Kind(KindValidationFailed).Semantic(start.Semantic).Detail("%s is not a group start", start.Role).Err()
	}
	if start.Ref == "" {
		return nil, invalidTopology(b.t.op, start.Semantic, "group start without end")
	}
	end, err := b.t.get(ctx, start.Ref)
	if err != nil {
		return nil, err
	}
	if end.Role != graph.RoleRbdGroupEnd || end.Ref != start.Semantic {
		return nil, invalidTopology(b.t.op, start.Semantic, "group end %s does not pair back", end.Semantic)
	}
	return end, nil
}

// group appends the group started by start to lin and returns its end node.
// A single path is inlined unless reserved is set.
func (b *builder) group(ctx context.Context, lin model.Handle, start *graph.Node, reserved bool) (*graph.Node, error) {
	end, err := b.pair(ctx, start)
	if err != nil {
		return nil, err
	}
	switch {
	case len(start.Outputs) == 0:
		b.m.Append(lin, b.m.Open(start.Semantic))
		return end, nil
	case len(start.Outputs) == 1 && !reserved:
		if err := b.series(ctx, lin, start.Outputs[0], end.Semantic, ""); err != nil {
			return nil, err
		}
		return end, nil
	}

	res := b.m.Reserved(start.Semantic)
	for _, out := range start.Outputs {
		path := b.m.Linear("")
		if err := b.series(ctx, path, out, end.Semantic, ""); err != nil {
			return nil, err
		}
		b.m.Append(res, path)
	}
	b.m.Append(lin, res)
	return end, nil
}

// chainMembers returns the top-level members of a chain in order. A group
// contributes its start and end node.
func (b *builder) chainMembers(ctx context.Context, chain RbdChain) ([]*graph.Node, error) {
	src, err := b.t.get(ctx, chain.Source)
	if err != nil {
		return nil, err
	}
	if _, err := b.t.get(ctx, chain.Target); err != nil {
		return nil, err
	}

	var out []*graph.Node
	seen := make(map[string]bool)
	for n := src; ; {
		if seen[n.Semantic] {
			return nil, invalidTopology(b.t.op, n.Semantic, "cycle in chain")
		}
		seen[n.Semantic] = true

		last := n
		switch n.Role {
		case graph.RoleRbdBlock, graph.RoleSubRbd:
			out = append(out, n)
		case graph.RoleRbdGroupStart:
			end, err := b.pair(ctx, n)
			if err != nil {
				return nil, err
			}
			out = append(out, n, end)
			last = end
		default:
			return nil, invalidTopology(b.t.op, n.Semantic, "%s cannot be a chain member", n.Role)
		}
		if last.Semantic == chain.Target {
			return out, nil
		}

		next, err := b.next(last)
		if err != nil {
			return nil, err
		}
		if next == "" {
			return nil, invalidTopology(b.t.op, chain.Target, "chain target not reached from %s", chain.Source)
		}
		if n, err = b.t.get(ctx, next); err != nil {
			return nil, err
		}
	}
}

// groupParts returns every part strictly inside the group started by
// start, nested groups included.
func (b *builder) groupParts(ctx context.Context, start *graph.Node) ([]*graph.Node, error) {
	end, err := b.pair(ctx, start)
	if err != nil {
		return nil, err
	}
	var out []*graph.Node
	seen := make(map[string]bool)
	queue := append([]string(nil), start.Outputs...)
	for len(queue) > 0 {
		sem := queue[0]
		queue = queue[1:]
		if sem == end.Semantic || seen[sem] {
			continue
		}
		seen[sem] = true
		n, err := b.t.get(ctx, sem)
		if err != nil {
			return nil, err
		}
		if n.Role == graph.RoleRbdStart || n.Role == graph.RoleRbdEnd {
			return nil, invalidTopology(b.t.op, start.Semantic, "group leaks into %s", n.Role)
		}
		out = append(out, n)
		queue = append(queue, n.Outputs...)
	}
	return out, nil
}

// chainParts is chainMembers with group interiors expanded.
func (b *builder) chainParts(ctx context.Context, chain RbdChain) ([]*graph.Node, error) {
	members, err := b.chainMembers(ctx, chain)
	if err != nil {
		return nil, err
	}
	var out []*graph.Node
	for _, m := range members {
		out = append(out, m)
		if m.Role == graph.RoleRbdGroupStart {
			inner, err := b.groupParts(ctx, m)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		}
	}
	return out, nil
}

// validateRbdGroup checks that every path leaving start arrives at its
// paired end.
func (b *builder) validateRbdGroup(ctx context.Context, start *graph.Node) error {
	end, err := b.pair(ctx, start)
	if err != nil {
		return err
	}
	for _, out := range start.Outputs {
		if err := b.reaches(ctx, out, end.Semantic); err != nil {
			return err
		}
	}
	for _, in := range end.Inputs {
		n, err := b.t.get(ctx, in)
		if err != nil {
			return err
		}
		if n.Parent != start.Parent {
			return invalidTopology(b.t.op, end.Semantic, "input %s from another diagram", in)
		}
	}
	return nil
}

// reaches walks a path from first and fails unless it arrives at end.
func (b *builder) reaches(ctx context.Context, first, end string) error {
	seen := make(map[string]bool)
	for sem := first; sem != end; {
		if seen[sem] {
			return invalidTopology(b.t.op, sem, "cycle in group path")
		}
		seen[sem] = true
		n, err := b.t.get(ctx, sem)
		if err != nil {
			return err
		}
		last := n
		switch n.Role {
		case graph.RoleRbdBlock, graph.RoleSubRbd:
		case graph.RoleRbdGroupStart:
			if err := b.validateRbdGroup(ctx, n); err != nil {
				return err
			}
			if last, err = b.t.get(ctx, n.Ref); err != nil {
				return err
			}
		default:
			return invalidTopology(b.t.op, sem, "group path runs into %s", n.Role)
		}
		next, err := b.next(last)
		if err != nil {
			return err
		}
		if next == "" {
			return invalidTopology(b.t.op, last.Semantic, "group path ends before %s", end)
		}
		sem = next
	}
	return nil
}
