package pdm

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-reliability/pkg/config"
	"github.com/dd0wney/cluso-reliability/pkg/fixture"
	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// pumpFixture holds one product with:
//   - rbd:   start -> b-motor -> (b1 | b2) -> end
//   - aux:   start -> b-seal -> end
//   - sys:   start -> s-aux(aux) -> b-x -> end
//   - spare: start -> end, plus the detached block b-free
const pumpFixture = `
project: prj
products:
  - semantic: pump
    name: Pump
    functional_units:
      - {semantic: fu-cool, name: Cooling}
      - {semantic: fu-seal, name: Sealing}
    elements:
      - semantic: motor
        failure_rate: 1.0e-5
        functional_units: [fu-cool]
      - semantic: housing
        children:
          - {semantic: seal, failure_rate: 2.0e-6}
    diagrams:
      - semantic: rbd
        name: main
        parts:
          - {semantic: b-motor, component: motor}
          - {semantic: gs, role: RbdGroupStart, pair: ge}
          - {semantic: b1, failure_rate: 1.0e-4}
          - {semantic: b2, failure_rate: 1.0e-4}
          - {semantic: ge, role: RbdGroupEnd, pair: gs}
        links:
          - rbd-start -> b-motor
          - b-motor -> gs
          - gs -> b1
          - gs -> b2
          - b1 -> ge
          - b2 -> ge
          - ge -> rbd-end
      - semantic: aux
        name: auxiliary
        parts:
          - {semantic: b-seal, component: seal}
        links:
          - aux-start -> b-seal
          - b-seal -> aux-end
      - semantic: sys
        name: system
        parts:
          - {semantic: s-aux, role: SubRbd, rbd: aux}
          - {semantic: b-x, failure_rate: 3.0e-5}
        links:
          - sys-start -> s-aux
          - s-aux -> b-x
          - b-x -> sys-end
      - semantic: spare
        name: spare
        parts:
          - {semantic: b-free, failure_rate: 1.0e-3}
        links:
          - spare-start -> spare-end
`

var (
	alice = Caller{Actor: "alice"}
	bob   = Caller{Actor: "bob"}
)

type harness struct {
	svc   *Service
	store *graph.MemoryStore
}

// newHarness serves doc (pumpFixture when empty) from a memory store.
// Generated semantics are n1, n2, ... in creation order.
func newHarness(t *testing.T, doc string, opts ...func(*Options)) *harness {
	t.Helper()
	if doc == "" {
		doc = pumpFixture
	}
	f, err := fixture.Parse(doc)
	require.NoError(t, err)
	store := graph.NewMemoryStore(nil)
	require.NoError(t, f.Apply(context.Background(), store))

	var seq atomic.Int64
	o := Options{
		Config:      config.Default(),
		Store:       store,
		NewSemantic: func() string { return fmt.Sprintf("n%d", seq.Add(1)) },
	}
	for _, opt := range opts {
		opt(&o)
	}
	svc, err := New(o)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return &harness{svc: svc, store: store}
}

func (h *harness) node(t *testing.T, semantic string) *graph.Node {
	t.Helper()
	n, err := h.store.Fetch(context.Background(), semantic)
	require.NoError(t, err, "fetch %s", semantic)
	return n
}

func (h *harness) gone(t *testing.T, semantic string) {
	t.Helper()
	_, err := h.store.Fetch(context.Background(), semantic)
	require.ErrorIs(t, err, graph.ErrNodeNotFound, "%s still stored", semantic)
}

func (h *harness) model(t *testing.T, rbd string) string {
	t.Helper()
	pm, err := h.svc.GetRbdModel(context.Background(), alice, SemanticQuery{Semantic: rbd})
	require.NoError(t, err, "model of %s", rbd)
	return pm.String()
}

func (h *harness) requireDense(t *testing.T, root string) {
	t.Helper()
	violations, err := h.svc.VerifyPositionals(context.Background(), alice, SemanticQuery{Semantic: root})
	require.NoError(t, err)
	require.Empty(t, violations)
}

func requireKind(t *testing.T, err error, want Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, want, KindOf(err), "err = %v", err)
}
