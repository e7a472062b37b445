package pdm

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// StatusResolver turns a stored status id into its display value.
type StatusResolver interface {
	ResolveStatus(ctx context.Context, id string) (string, error)
}

// ActorResolver turns an actor id into a display name.
type ActorResolver interface {
	ResolveActorName(ctx context.Context, id string) (string, error)
}

// Resolved carries the display values of one node.
type Resolved struct {
	Status string
	Actor  string
}

// ApplyView builds one view value per node. Status and actor ids are
// resolved once per call; a nil resolver passes ids through unchanged.
func ApplyView[V any](ctx context.Context, statuses StatusResolver, actors ActorResolver, nodes []*graph.Node, build func(*graph.Node, Resolved) V) ([]V, error) {
	statusMemo := make(map[string]string)
	actorMemo := make(map[string]string)
	resolve := func(id string, memo map[string]string, fn func(context.Context, string) (string, error)) (string, error) {
		if id == "" || fn == nil {
			return id, nil
		}
		if v, ok := memo[id]; ok {
			return v, nil
		}
		v, err := fn(ctx, id)
		if err != nil {
			return "", err
		}
		memo[id] = v
		return v, nil
	}

	var statusFn, actorFn func(context.Context, string) (string, error)
	if statuses != nil {
		statusFn = statuses.ResolveStatus
	}
	if actors != nil {
		actorFn = actors.ResolveActorName
	}

	out := make([]V, 0, len(nodes))
	for _, n := range nodes {
		status, err := resolve(n.Status, statusMemo, statusFn)
		if err != nil {
			return nil, err
		}
		actor, err := resolve(n.UpdatedBy, actorMemo, actorFn)
		if err != nil {
			return nil, err
		}
		out = append(out, build(n, Resolved{Status: status, Actor: actor}))
	}
	return out, nil
}

// NodeView is the read model of one node handed to callers.
type NodeView struct {
	Semantic    string         `json:"semantic" yaml:"semantic"`
	Role        string         `json:"role" yaml:"role"`
	Name        string         `json:"name,omitempty" yaml:"name,omitempty"`
	Parent      string         `json:"parent,omitempty" yaml:"parent,omitempty"`
	Positional  int            `json:"positional" yaml:"positional"`
	Deleted     bool           `json:"deleted,omitempty" yaml:"deleted,omitempty"`
	FailureRate float64        `json:"failureRate,omitempty" yaml:"failure_rate,omitempty"`
	Computed    graph.Computed `json:"computed" yaml:"computed"`
	Dirty       bool           `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	Status      string         `json:"status,omitempty" yaml:"status,omitempty"`
	UpdatedBy   string         `json:"updatedBy,omitempty" yaml:"updated_by,omitempty"`
	Locked      bool           `json:"locked,omitempty" yaml:"locked,omitempty"`
}

func (s *Service) nodeView(n *graph.Node, r Resolved) NodeView {
	_, locked := s.locks.get(n.Semantic)
	return NodeView{
		Semantic:    n.Semantic,
		Role:        n.Role.String(),
		Name:        n.Name,
		Parent:      n.Parent,
		Positional:  n.Positional,
		Deleted:     !n.Active(),
		FailureRate: n.FailureRate,
		Computed:    n.Computed,
		Dirty:       n.Dirty,
		Status:      r.Status,
		UpdatedBy:   r.Actor,
		Locked:      locked,
	}
}

// FetchNodesView returns views of the given nodes in query order.
func (s *Service) FetchNodesView(ctx context.Context, caller Caller, q SemanticsQuery) ([]NodeView, error) {
	const op = "fetchNodesView"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) ([]NodeView, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		if err := validateBatch(op, "semantics", q.Semantics); err != nil {
			return nil, err
		}
		t := s.begin(op, caller, false)
		nodes := make([]*graph.Node, 0, len(q.Semantics))
		for _, sem := range q.Semantics {
			n, err := t.get(ctx, sem)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
		return ApplyView(ctx, s.statuses, s.actors, nodes, s.nodeView)
	})
}

// FetchLayerView returns views of the children of a node in layer order.
func (s *Service) FetchLayerView(ctx context.Context, caller Caller, q SemanticQuery) ([]NodeView, error) {
	const op = "fetchLayerView"
	return call(ctx, s, op, caller, nil, func(ctx context.Context) ([]NodeView, error) {
		if err := validateQuery(op, q); err != nil {
			return nil, err
		}
		nodes, err := s.fetchLayer(ctx, q.Semantic)
		if err != nil {
			return nil, wrap(op, q.Semantic, err)
		}
		return ApplyView(ctx, s.statuses, s.actors, nodes, s.nodeView)
	})
}
