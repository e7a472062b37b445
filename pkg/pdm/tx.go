package pdm

import (
	"context"
	"errors"
	"slices"

	"github.com/dd0wney/cluso-reliability/pkg/cache"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// tx is the working set of one operation. Nodes are read through the cache
// once, edited in place and written back as a single batch by commit.
type tx struct {
	s          *Service
	op         string
	caller     Caller
	structural bool

	nodes   map[string]*graph.Node
	orig    map[string]*graph.Node
	created map[string]bool
	removed map[string]bool
	order   []string

	// products lists the products a committed structural batch touched.
	products []string
	// after holds recalculations to run once the batch is committed, ahead
	// of the product recalculation.
	after []recalcScope
}

func (s *Service) begin(op string, caller Caller, structural bool) *tx {
	return &tx{
		s:          s,
		op:         op,
		caller:     caller,
		structural: structural,
		nodes:      make(map[string]*graph.Node),
		orig:       make(map[string]*graph.Node),
		created:    make(map[string]bool),
		removed:    make(map[string]bool),
	}
}

func (s *Service) fetch(ctx context.Context, semantic string) (*graph.Node, error) {
	return cache.GetOrPopulate(ctx, s.cache, cache.KindNode, cache.NodeKey(semantic), func(ctx context.Context) (*graph.Node, error) {
		return s.store.Fetch(ctx, semantic)
	})
}

func (s *Service) fetchLayer(ctx context.Context, semantic string) ([]*graph.Node, error) {
	return cache.GetOrPopulate(ctx, s.cache, cache.KindLayer, cache.LayerKey(semantic), func(ctx context.Context) ([]*graph.Node, error) {
		return s.store.FetchLayer(ctx, semantic)
	})
}

// get returns the working copy of semantic. Removed nodes are not found.
func (t *tx) get(ctx context.Context, semantic string) (*graph.Node, error) {
	if t.removed[semantic] {
		return nil, notFound(t.op, semantic)
	}
	if n, ok := t.nodes[semantic]; ok {
		return n, nil
	}
	n, err := t.s.fetch(ctx, semantic)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			return nil, newError(t.op).Kind(KindNodeNotFound).Semantic(semantic).Cause(err).Err()
		}
		return nil, wrap(t.op, semantic, err)
	}
	t.nodes[semantic] = n
	t.orig[semantic] = n.Clone()
	t.order = append(t.order, semantic)
	return n, nil
}

// lookup is get that still sees nodes removed in this transaction.
func (t *tx) lookup(ctx context.Context, semantic string) (*graph.Node, error) {
	if n, ok := t.nodes[semantic]; ok {
		return n, nil
	}
	return t.get(ctx, semantic)
}

// optional is get that maps a missing node to nil.
func (t *tx) optional(ctx context.Context, semantic string) (*graph.Node, error) {
	n, err := t.get(ctx, semantic)
	if errors.Is(err, ErrNodeNotFound) {
		return nil, nil
	}
	return n, err
}

// getRole is get that also requires one of roles.
func (t *tx) getRole(ctx context.Context, semantic string, roles ...graph.Role) (*graph.Node, error) {
	n, err := t.get(ctx, semantic)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(roles, n.Role) {
		return nil, newError(t.op).Kind(KindValidationFailed).Semantic(semantic).
			Detail("role %s not allowed here, want one of %v", n.Role, roles).Err()
	}
	return n, nil
}

// children returns the working copies of n's children in layer order.
func (t *tx) children(ctx context.Context, n *graph.Node) ([]*graph.Node, error) {
	out := make([]*graph.Node, 0, len(n.Children))
	for _, c := range n.Children {
		child, err := t.get(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	graph.SortLayer(out)
	return out, nil
}

// siblings returns the active children of parent in one partition, in
// positional order.
func (t *tx) siblings(ctx context.Context, parent *graph.Node, p graph.Partition) ([]*graph.Node, error) {
	all, err := t.children(ctx, parent)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if c.Role.Partition() == p && c.Active() {
			out = append(out, c)
		}
	}
	return out, nil
}

// create adds a new node to the working set.
func (t *tx) create(n *graph.Node) *graph.Node {
	n.Version = 0
	t.nodes[n.Semantic] = n
	t.created[n.Semantic] = true
	delete(t.removed, n.Semantic)
	t.order = append(t.order, n.Semantic)
	return n
}

// newNode creates a child of parent, appended to its partition.
func (t *tx) newNode(ctx context.Context, parent *graph.Node, n *graph.Node) (*graph.Node, error) {
	if n.Semantic == "" {
		n.Semantic = t.s.newSemantic()
	}
	if _, err := t.optional(ctx, n.Semantic); err != nil {
		return nil, err
	} else if t.nodes[n.Semantic] != nil {
		return nil, newError(t.op).Kind(KindValidationFailed).Semantic(n.Semantic).Detail("semantic already in use").Err()
	}
	sibs, err := t.siblings(ctx, parent, n.Role.Partition())
	if err != nil {
		return nil, err
	}
	n.Parent = parent.Semantic
	n.Positional = len(sibs)
	parent.Children = append(parent.Children, n.Semantic)
	return t.create(n), nil
}

func (t *tx) remove(n *graph.Node) {
	t.removed[n.Semantic] = true
}

// changes lists the semantics whose batch entry differs from what was read.
func (t *tx) changes() []string {
	var out []string
	for _, sem := range t.order {
		switch {
		case t.created[sem] && t.removed[sem]:
		case t.created[sem], t.removed[sem]:
			out = append(out, sem)
		case !nodesEqual(t.nodes[sem], t.orig[sem]):
			out = append(out, sem)
		}
	}
	return out
}

func nodesEqual(a, b *graph.Node) bool {
	return a.Semantic == b.Semantic &&
		a.Role == b.Role &&
		a.Name == b.Name &&
		a.Parent == b.Parent &&
		slices.Equal(a.Children, b.Children) &&
		a.FailureRate == b.FailureRate &&
		a.Positional == b.Positional &&
		a.Bin == b.Bin &&
		slices.Equal(a.Inputs, b.Inputs) &&
		slices.Equal(a.Outputs, b.Outputs) &&
		a.Ref == b.Ref &&
		slices.Equal(a.BoundBy, b.BoundBy) &&
		slices.Equal(a.FunctionalUnits, b.FunctionalUnits) &&
		slices.Equal(a.Members, b.Members) &&
		a.Computed == b.Computed &&
		a.Dirty == b.Dirty &&
		a.Status == b.Status &&
		a.UpdatedBy == b.UpdatedBy
}

// commit writes every change as one batch and invalidates the cache entries
// it made stale. Structural transactions check locks first and mark the
// elements and diagrams they changed dirty. It returns the written
// semantics.
func (t *tx) commit(ctx context.Context) ([]string, error) {
	changed := t.changes()
	if len(changed) == 0 {
		return nil, nil
	}
	if t.structural {
		if err := t.s.locks.checkAll(ctx, t, changed); err != nil {
			return nil, err
		}
		if err := t.markDirty(ctx, changed); err != nil {
			return nil, err
		}
		changed = t.changes()
	}

	products, err := t.productsOf(ctx, changed)
	if err != nil {
		return nil, err
	}

	edits := make([]graph.Edit, 0, len(changed))
	for _, sem := range changed {
		if t.removed[sem] {
			edits = append(edits, graph.Delete(sem, t.orig[sem].Version))
			continue
		}
		n := t.nodes[sem]
		if t.structural {
			n.UpdatedBy = t.caller.Actor
		}
		edits = append(edits, graph.Put(n))
	}

	keys := t.staleKeys(changed)
	if err := t.s.store.Write(ctx, edits...); err != nil {
		// A conflict may come from a stale entry; drop it either way.
		t.s.cache.Invalidate(ctx, keys...)
		return nil, wrap(t.op, "", err)
	}
	t.s.cache.Invalidate(ctx, keys...)
	t.products = products
	return changed, nil
}

func (t *tx) staleKeys(changed []string) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, sem := range changed {
		add(cache.NodeKey(sem))
		add(cache.LayerKey(sem))
		if n := t.nodes[sem]; n.Parent != "" {
			add(cache.LayerKey(n.Parent))
		}
		if o := t.orig[sem]; o != nil && o.Parent != "" {
			add(cache.LayerKey(o.Parent))
		}
	}
	return keys
}

// markDirty flags what a structural change made stale: the diagram of every
// changed part, every element whose rate inputs changed and the diagrams
// binding such elements.
func (t *tx) markDirty(ctx context.Context, changed []string) error {
	for _, sem := range changed {
		n := t.nodes[sem]
		o := t.orig[sem]
		switch {
		case n.Role.IsRbdPart():
			if err := t.dirty(ctx, n.Parent); err != nil {
				return err
			}
		case n.Role.IsElement(), n.Role == graph.RoleProduct:
			if t.removed[sem] {
				continue
			}
			if o != nil && n.FailureRate == o.FailureRate && n.Bin == o.Bin &&
				n.Parent == o.Parent && slices.Equal(n.Children, o.Children) {
				continue
			}
			n.Dirty = true
			for _, b := range n.BoundBy {
				part, err := t.optional(ctx, b)
				if err != nil {
					return err
				}
				if part != nil {
					if err := t.dirty(ctx, part.Parent); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (t *tx) dirty(ctx context.Context, semantic string) error {
	n, err := t.optional(ctx, semantic)
	if err != nil || n == nil {
		return err
	}
	n.Dirty = true
	return nil
}

// productsOf returns the live products owning the given nodes.
func (t *tx) productsOf(ctx context.Context, semantics []string) ([]string, error) {
	var out []string
	for _, sem := range semantics {
		p, err := t.productOf(ctx, sem)
		if err != nil {
			return nil, err
		}
		if p != "" && !t.removed[p] && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) productOf(ctx context.Context, semantic string) (string, error) {
	for semantic != "" {
		n, err := t.lookup(ctx, semantic)
		if err != nil {
			return "", err
		}
		if n.Role == graph.RoleProduct {
			return n.Semantic, nil
		}
		semantic = n.Parent
	}
	return "", nil
}
