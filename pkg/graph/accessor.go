package graph

import (
	"cmp"
	"context"
	"slices"
)

// Accessor reads and writes raw structure nodes.
type Accessor interface {
	// Fetch returns a copy of the node or ErrNodeNotFound.
	Fetch(ctx context.Context, semantic string) (*Node, error)
	// FetchLayer returns copies of the node's children ordered by partition
	// and positional index.
	FetchLayer(ctx context.Context, semantic string) ([]*Node, error)
	// Write applies every edit or none of them.
	Write(ctx context.Context, edits ...Edit) error
}

// SortLayer orders siblings by partition then positional index, keeping the
// parent's child order for ties.
func SortLayer(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		if c := cmp.Compare(a.Role.Partition(), b.Role.Partition()); c != 0 {
			return c
		}
		return cmp.Compare(a.Positional, b.Positional)
	})
}

func validateEdits(edits []Edit) error {
	seen := make(map[string]struct{}, len(edits))
	for _, e := range edits {
		if e.Semantic == "" {
			return NewError("write").Cause(ErrInvalidEdit).Context("empty semantic").Err()
		}
		if e.Op == EditPut && (e.Node == nil || e.Node.Semantic != e.Semantic) {
			return NewError("write").Semantic(e.Semantic).Cause(ErrInvalidEdit).Context("put without matching node").Err()
		}
		if _, dup := seen[e.Semantic]; dup {
			return NewError("write").Semantic(e.Semantic).Cause(ErrInvalidEdit).Context("semantic written twice").Err()
		}
		seen[e.Semantic] = struct{}{}
	}
	return nil
}
