package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// Traverser loads subtrees level by level, fetching the layers of one
// level concurrently.
type Traverser struct {
	accessor   graph.Accessor
	numWorkers int
}

// NewTraverser creates a traverser over a. numWorkers <= 0 uses NumCPU.
func NewTraverser(a graph.Accessor, numWorkers int) *Traverser {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &Traverser{accessor: a, numWorkers: numWorkers}
}

// Subtree returns root and its descendants breadth first. Within a level
// nodes keep the order of their parents, and siblings keep layer order.
// maxDepth <= 0 means no limit.
func (t *Traverser) Subtree(ctx context.Context, root string, maxDepth int) ([]*graph.Node, error) {
	r, err := t.accessor.Fetch(ctx, root)
	if err != nil {
		return nil, err
	}

	all := []*graph.Node{r}
	seen := map[string]bool{r.Semantic: true}
	level := []*graph.Node{r}

	for depth := 0; len(level) > 0 && (maxDepth <= 0 || depth < maxDepth); depth++ {
		layers, err := t.fetchLevel(ctx, level)
		if err != nil {
			return nil, err
		}

		next := make([]*graph.Node, 0, len(level))
		for _, layer := range layers {
			for _, n := range layer {
				// A corrupt tree may list a node twice; load it once.
				if seen[n.Semantic] {
					continue
				}
				seen[n.Semantic] = true
				next = append(next, n)
			}
		}
		all = append(all, next...)
		level = next
	}
	return all, nil
}

// fetchLevel loads the layers of every node in level, split into one chunk
// per worker. layers[i] belongs to level[i].
func (t *Traverser) fetchLevel(ctx context.Context, level []*graph.Node) ([][]*graph.Node, error) {
	layers := make([][]*graph.Node, len(level))

	chunkSize := int((int64(len(level)) + int64(t.numWorkers) - 1) / int64(t.numWorkers))
	if chunkSize < 1 {
		chunkSize = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < len(level); i += chunkSize {
		lo, hi := i, min(i+chunkSize, len(level))
		g.Go(func() error {
			for j := lo; j < hi; j++ {
				if len(level[j].Children) == 0 {
					continue
				}
				layer, err := t.accessor.FetchLayer(ctx, level[j].Semantic)
				if err != nil {
					return err
				}
				layers[j] = layer
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return layers, nil
}
