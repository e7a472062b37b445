package pdm

import (
	"context"
	"math"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/logging"
	"github.com/dd0wney/cluso-reliability/pkg/model"
	"github.com/dd0wney/cluso-reliability/pkg/pubsub"
)

// maxRecalcAttempts bounds the retries after a version conflict.
const maxRecalcAttempts = 3

type recalcMode uint8

const (
	modeProduct recalcMode = iota
	modeProductFull
	modeElement
	modeLayer
	modeRbd
	modeContainer
	modeRestored
	modeRbds
)

func (m recalcMode) String() string {
	switch m {
	case modeProduct:
		return "product"
	case modeProductFull:
		return "product_full"
	case modeElement:
		return "element"
	case modeLayer:
		return "layer"
	case modeRbd:
		return "rbd"
	case modeContainer:
		return "container"
	case modeRestored:
		return "restored"
	case modeRbds:
		return "rbds"
	default:
		return "unknown"
	}
}

// recalcScope says what one pass recomputes. semantics seeds modeRbds,
// semantic every other mode.
type recalcScope struct {
	op        string
	mode      recalcMode
	semantic  string
	semantics []string
	timespan  float64
	reset     bool
}

// recalculateOnStrand runs a recalculation on the product strand from
// another strand's task.
func (s *Service) recalculateOnStrand(ctx context.Context, caller Caller, sc recalcScope) (RecalcReport, error) {
	res := make(chan RecalcReport, 1)
	err := s.product.Run(ctx, func(ctx context.Context) error {
		r, err := s.recalculate(ctx, caller, sc)
		if err != nil {
			return err
		}
		res <- r
		return nil
	})
	if err != nil {
		return RecalcReport{}, wrap(sc.op, sc.semantic, err)
	}
	return <-res, nil
}

func (s *Service) recalculate(ctx context.Context, caller Caller, sc recalcScope) (RecalcReport, error) {
	var err error
	for attempt := 1; attempt <= maxRecalcAttempts; attempt++ {
		var report RecalcReport
		report, err = s.recalculateOnce(ctx, caller, sc)
		if KindOf(err) != KindConflict {
			return report, err
		}
		s.logger.Debug("recalculation conflict, retrying",
			logging.Operation(sc.op), logging.Semantic(sc.semantic), logging.Int("attempt", attempt))
	}
	return RecalcReport{}, err
}

func (s *Service) recalculateOnce(ctx context.Context, caller Caller, sc recalcScope) (RecalcReport, error) {
	t := s.begin(sc.op, caller, false)
	r := &recalc{
		t:        t,
		timespan: sc.timespan,
		full:     sc.mode == modeProductFull,
		computed: make(map[string]bool),
	}
	if err := r.run(ctx, sc); err != nil {
		return RecalcReport{}, err
	}
	written, err := t.commit(ctx)
	if err != nil {
		return RecalcReport{}, err
	}
	if len(written) > 0 {
		s.publish(pubsub.TopicRecalc, sc.op, caller.Actor, written)
	}
	if s.metrics != nil {
		s.metrics.RecordRecalculation(sc.mode.String(), len(r.visited))
	}
	return RecalcReport{Visited: r.visited, Timespan: sc.timespan}, nil
}

// recalc is the state of one recalculation pass. Every node is computed at
// most once per pass.
type recalc struct {
	t        *tx
	timespan float64
	full     bool
	visited  []string
	computed map[string]bool
	elements []*graph.Node
}

func (r *recalc) run(ctx context.Context, sc recalcScope) error {
	t := r.t
	switch sc.mode {
	case modeProduct, modeProductFull:
		product, err := t.getRole(ctx, sc.semantic, graph.RoleProduct)
		if err != nil {
			return err
		}
		if _, err := r.element(ctx, product, r.full); err != nil {
			return err
		}
		return r.dependents(ctx, product)

	case modeElement, modeRestored:
		el, err := t.getRole(ctx, sc.semantic, graph.RoleContainer, graph.RoleComponent)
		if err != nil {
			return err
		}
		force := sc.reset || sc.mode == modeRestored
		changed, err := r.element(ctx, el, force)
		if err != nil {
			return err
		}
		if !changed {
			if err := r.compute(ctx, el); err != nil {
				return err
			}
		}
		if err := r.ancestors(ctx, el); err != nil {
			return err
		}
		return r.dependents(ctx, nil)

	case modeLayer:
		el, err := t.getRole(ctx, sc.semantic, graph.RoleContainer, graph.RoleComponent)
		if err != nil {
			return err
		}
		parent, err := t.get(ctx, el.Parent)
		if err != nil {
			return err
		}
		layer, err := t.siblings(ctx, parent, graph.PartitionElements)
		if err != nil {
			return err
		}
		for _, sib := range layer {
			changed, err := r.element(ctx, sib, false)
			if err != nil {
				return err
			}
			if !changed {
				if err := r.compute(ctx, sib); err != nil {
					return err
				}
			}
		}
		if err := r.ancestors(ctx, el); err != nil {
			return err
		}
		return r.dependents(ctx, nil)

	case modeContainer:
		c, err := t.getRole(ctx, sc.semantic, graph.RoleContainer)
		if err != nil {
			return err
		}
		if err := r.compute(ctx, c); err != nil {
			return err
		}
		if err := t.dirty(ctx, c.Parent); err != nil {
			return err
		}
		return r.markBound(ctx, c)

	case modeRbd:
		d, err := t.getRole(ctx, sc.semantic, graph.RoleRbd)
		if err != nil {
			return err
		}
		if err := r.diagram(ctx, d); err != nil {
			return err
		}
		return r.markBound(ctx, d)

	case modeRbds:
		if err := validateBatch(t.op, "semantics", sc.semantics); err != nil {
			return err
		}
		for _, sem := range sc.semantics {
			if _, err := t.getRole(ctx, sem, graph.RoleRbd); err != nil {
				return err
			}
		}
		return r.diagrams(ctx, sc.semantics)
	}
	return newError(t.op).Kind(KindInternal).Detail("unknown recalculation mode %d", sc.mode).Err()
}

func (r *recalc) mark(n *graph.Node) {
	r.computed[n.Semantic] = true
	r.visited = append(r.visited, n.Semantic)
}

// element brings n and its element subtree up to date, children first. It
// reports whether n was recomputed.
func (r *recalc) element(ctx context.Context, n *graph.Node, force bool) (bool, error) {
	if r.computed[n.Semantic] {
		return true, nil
	}
	childChanged := false
	if n.Role != graph.RoleComponent {
		kids, err := r.t.siblings(ctx, n, graph.PartitionElements)
		if err != nil {
			return false, err
		}
		for _, k := range kids {
			changed, err := r.element(ctx, k, force)
			if err != nil {
				return false, err
			}
			childChanged = childChanged || changed
		}
	}
	if !force && !childChanged && !n.Dirty && n.Computed.Timespan == r.timespan {
		return false, nil
	}
	return true, r.compute(ctx, n)
}

// compute sets n's aggregate from its own rate, for a component, or from
// the current values of its active element children.
func (r *recalc) compute(ctx context.Context, n *graph.Node) error {
	rate := n.FailureRate
	if n.Role != graph.RoleComponent {
		kids, err := r.t.siblings(ctx, n, graph.PartitionElements)
		if err != nil {
			return err
		}
		rate = 0
		for _, k := range kids {
			rate += k.Computed.FailureRate
		}
	}
	n.Computed = graph.Computed{
		FailureRate: rate,
		Reliability: math.Exp(-rate * r.timespan),
		Timespan:    r.timespan,
	}
	n.Dirty = false
	r.mark(n)
	if n.Role.IsElement() {
		r.elements = append(r.elements, n)
	}
	return nil
}

// ancestors recomputes every element above n up to its product.
func (r *recalc) ancestors(ctx context.Context, n *graph.Node) error {
	for sem := n.Parent; sem != ""; {
		p, err := r.t.get(ctx, sem)
		if err != nil {
			return err
		}
		if !p.Role.IsElement() && p.Role != graph.RoleProduct {
			return nil
		}
		if err := r.compute(ctx, p); err != nil {
			return err
		}
		if p.Role == graph.RoleProduct {
			return nil
		}
		sem = p.Parent
	}
	return nil
}

// dependents recomputes the diagrams binding a recomputed element, the
// stale diagrams of product when set, and transitively every diagram that
// embeds a recomputed one.
func (r *recalc) dependents(ctx context.Context, product *graph.Node) error {
	var seeds []string
	for _, el := range r.elements {
		for _, b := range el.BoundBy {
			part, err := r.t.optional(ctx, b)
			if err != nil {
				return err
			}
			if part != nil && part.Active() {
				seeds = append(seeds, part.Parent)
			}
		}
	}
	if product != nil {
		diagrams, err := r.t.siblings(ctx, product, graph.PartitionDiagrams)
		if err != nil {
			return err
		}
		for _, d := range diagrams {
			if r.full || d.Dirty || d.Computed.Timespan != r.timespan {
				seeds = append(seeds, d.Semantic)
			}
		}
	}
	return r.diagrams(ctx, seeds)
}

// diagrams recomputes seeds and the diagrams embedding them, each once and
// always after the diagrams it embeds.
func (r *recalc) diagrams(ctx context.Context, seeds []string) error {
	affected := make(map[string]bool)
	var order []string
	for queue := seeds; len(queue) > 0; {
		sem := queue[0]
		queue = queue[1:]
		if affected[sem] {
			continue
		}
		d, err := r.t.optional(ctx, sem)
		if err != nil {
			return err
		}
		if d == nil || d.Role != graph.RoleRbd || !d.Active() {
			continue
		}
		affected[sem] = true
		order = append(order, sem)
		hosts, err := r.hosts(ctx, d)
		if err != nil {
			return err
		}
		queue = append(queue, hosts...)
	}

	done := make(map[string]bool)
	var visit func(sem string) error
	visit = func(sem string) error {
		if done[sem] {
			return nil
		}
		done[sem] = true
		d, err := r.t.get(ctx, sem)
		if err != nil {
			return err
		}
		parts, err := r.t.children(ctx, d)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.Role == graph.RoleSubRbd && p.Active() && affected[p.Ref] {
				if err := visit(p.Ref); err != nil {
					return err
				}
			}
		}
		return r.diagram(ctx, d)
	}
	for _, sem := range order {
		if err := visit(sem); err != nil {
			return err
		}
	}
	return nil
}

// hosts returns the diagrams whose active sub-diagram nodes embed d.
func (r *recalc) hosts(ctx context.Context, d *graph.Node) ([]string, error) {
	var out []string
	for _, b := range d.BoundBy {
		part, err := r.t.optional(ctx, b)
		if err != nil {
			return nil, err
		}
		if part != nil && part.Role == graph.RoleSubRbd && part.Active() {
			out = append(out, part.Parent)
		}
	}
	return out, nil
}

// diagram evaluates d's model. A diagram whose topology cannot be built is
// left dirty and logged; only internal errors abort the pass.
func (r *recalc) diagram(ctx context.Context, d *graph.Node) error {
	if r.computed[d.Semantic] {
		return nil
	}
	b := newBuilder(r.t)
	h, err := b.diagram(ctx, d)
	if err != nil {
		if KindOf(err) == KindInternal {
			return err
		}
		r.t.s.logger.Warn("diagram left dirty",
			logging.Operation(r.t.op), logging.Semantic(d.Semantic), logging.Error(err))
		d.Dirty = true
		return nil
	}
	rel := b.m.Reliability(h, r.timespan)
	d.Computed = graph.Computed{
		FailureRate: model.EquivalentRate(rel, r.timespan),
		Reliability: rel,
		Timespan:    r.timespan,
	}
	d.Dirty = false
	r.mark(d)
	return nil
}

// markBound flags the diagrams that use n, through blocks or sub-diagram
// nodes, as dirty.
func (r *recalc) markBound(ctx context.Context, n *graph.Node) error {
	for _, b := range n.BoundBy {
		part, err := r.t.optional(ctx, b)
		if err != nil {
			return err
		}
		if part != nil {
			if err := r.t.dirty(ctx, part.Parent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) timespan(t float64) float64 {
	if t <= 0 {
		return s.cfg.MissionTime
	}
	return t
}

func (s *Service) recalcOp(ctx context.Context, caller Caller, q any, sc recalcScope) (RecalcReport, error) {
	return call(ctx, s, sc.op, caller, s.product, func(ctx context.Context) (RecalcReport, error) {
		if err := validateQuery(sc.op, q); err != nil {
			return RecalcReport{}, err
		}
		return s.recalculate(ctx, caller, sc)
	})
}

// RecalculateProduct recomputes what is stale in a product: dirty
// elements, their ancestors and the diagrams depending on them.
func (s *Service) RecalculateProduct(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateProduct", mode: modeProduct, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}

// RecalculateProductFull recomputes every element and diagram of a product.
func (s *Service) RecalculateProductFull(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateProductFull", mode: modeProductFull, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}

// RecalculateProductFullElement recomputes one element and everything
// above and depending on it. With Reset its whole subtree is recomputed
// from raw failure rates.
func (s *Service) RecalculateProductFullElement(ctx context.Context, caller Caller, q ElementRecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateProductFullElement", mode: modeElement, semantic: q.Semantic, timespan: s.timespan(q.Timespan), reset: q.Reset})
}

// RecalculateProductFullLayer recomputes an element and its active element
// siblings.
func (s *Service) RecalculateProductFullLayer(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateProductFullLayer", mode: modeLayer, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}

// RecalculateRbd recomputes one diagram from its current parts and marks
// the diagrams embedding it dirty.
func (s *Service) RecalculateRbd(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateRbd", mode: modeRbd, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}

// RecalculateRbds recomputes several diagrams in one pass together with
// every diagram embedding one of them, embedded diagrams first.
func (s *Service) RecalculateRbds(ctx context.Context, caller Caller, q RbdsRecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateRbds", mode: modeRbds, semantics: q.Semantics, timespan: s.timespan(q.Timespan)})
}

// RecalculateContainer recomputes one container from its children's
// current values and marks its parent and binding diagrams dirty.
func (s *Service) RecalculateContainer(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateContainer", mode: modeContainer, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}

// RecalculateRestoredElement rebuilds an element returned from the bin,
// subtree included, as if it were new.
func (s *Service) RecalculateRestoredElement(ctx context.Context, caller Caller, q RecalcQuery) (RecalcReport, error) {
	return s.recalcOp(ctx, caller, q, recalcScope{op: "recalculateRestoredElement", mode: modeRestored, semantic: q.Semantic, timespan: s.timespan(q.Timespan)})
}
