package graph

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-reliability/pkg/metrics"
)

// MemoryStore is an in-process Accessor.
type MemoryStore struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	closed  bool
	metrics *metrics.Registry
}

// NewMemoryStore creates an empty store. reg may be nil.
func NewMemoryStore(reg *metrics.Registry) *MemoryStore {
	return &MemoryStore{
		nodes:   make(map[string]*Node),
		metrics: reg,
	}
}

func (s *MemoryStore) record(op string, err error, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStoreOperation("memory", op, err, time.Since(start))
	}
}

// Fetch returns a copy of the node.
func (s *MemoryStore) Fetch(ctx context.Context, semantic string) (n *Node, err error) {
	defer func(start time.Time) { s.record("fetch", err, start) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	stored, ok := s.nodes[semantic]
	if !ok {
		return nil, NotFoundError("fetch", semantic)
	}
	return stored.Clone(), nil
}

// FetchLayer returns copies of the node's children.
func (s *MemoryStore) FetchLayer(ctx context.Context, semantic string) (layer []*Node, err error) {
	defer func(start time.Time) { s.record("fetch_layer", err, start) }(time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	parent, ok := s.nodes[semantic]
	if !ok {
		return nil, NotFoundError("fetch_layer", semantic)
	}
	layer = make([]*Node, 0, len(parent.Children))
	for _, c := range parent.Children {
		child, ok := s.nodes[c]
		if !ok {
			return nil, NewError("fetch_layer").Semantic(c).Context("child of %s", semantic).Cause(ErrNodeNotFound).Err()
		}
		layer = append(layer, child.Clone())
	}
	SortLayer(layer)
	return layer, nil
}

// Write applies the batch atomically, bumping the version of every put node.
func (s *MemoryStore) Write(ctx context.Context, edits ...Edit) (err error) {
	defer func(start time.Time) { s.record("write", err, start) }(time.Now())
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEdits(edits); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	for _, e := range edits {
		var have uint64
		if stored, ok := s.nodes[e.Semantic]; ok {
			have = stored.Version
		} else if e.Op == EditDelete {
			return NotFoundError("write", e.Semantic)
		}
		if have != e.ExpectVersion {
			return ConflictError(e.Semantic, e.ExpectVersion, have)
		}
	}

	for _, e := range edits {
		switch e.Op {
		case EditPut:
			n := e.Node.Clone()
			n.Version = e.ExpectVersion + 1
			s.nodes[e.Semantic] = n
		case EditDelete:
			delete(s.nodes, e.Semantic)
		}
	}
	return nil
}

// Len returns the number of stored nodes.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Close releases the store. Later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.nodes = nil
	return nil
}
