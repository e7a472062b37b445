package model

import (
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const eps = 1e-12

func approx(a, b float64) bool {
	return math.Abs(a-b) <= eps*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestReliability(t *testing.T) {
	tests := []struct {
		name  string
		build func(m *Model) Handle
		want  float64
	}{
		{"leaf", func(m *Model) Handle { return m.Leaf("a", 0.001) }, math.Exp(-1)},
		{"empty chain is a bypass", func(m *Model) Handle { return m.Linear("") }, 1},
		{"open gap", func(m *Model) Handle { return m.Open("a") }, 0},
		{"series", func(m *Model) Handle {
			return m.Linear("", m.Leaf("a", 0.001), m.Leaf("b", 0.002))
		}, math.Exp(-3)},
		{"parallel", func(m *Model) Handle {
			return m.Reserved("g", m.Linear("", m.Leaf("a", 0.001)), m.Linear("", m.Leaf("b", 0.001)))
		}, 1 - (1-math.Exp(-1))*(1-math.Exp(-1))},
		{"parallel with bypass", func(m *Model) Handle {
			return m.Reserved("g", m.Linear("", m.Leaf("a", 0.5)), m.Linear(""))
		}, 1},
		{"series with gap", func(m *Model) Handle {
			return m.Linear("", m.Leaf("a", 0.001), m.Open("a"))
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			h := tt.build(m)
			if got := m.Reliability(h, 1000); !approx(got, tt.want) {
				t.Errorf("Reliability = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEquivalentRate(t *testing.T) {
	m := New()
	h := m.Linear("", m.Leaf("a", 2e-6), m.Leaf("b", 3e-6))
	if got := EquivalentRate(m.Reliability(h, 8760), 8760); !approx(got, 5e-6) {
		t.Errorf("series equivalent rate = %v, want 5e-6", got)
	}
	if !math.IsInf(EquivalentRate(0, 10), 1) {
		t.Error("zero reliability should map to +Inf")
	}
	if EquivalentRate(0.5, 0) != 0 {
		t.Error("zero timespan should map to 0")
	}
}

func TestSemanticsAndFormat(t *testing.T) {
	m := New()
	g := m.Reserved("gs", m.Linear("", m.Leaf("b", 1)), m.Linear("", m.Leaf("c", 1), m.Leaf("d", 1)))
	root := m.Linear("rbd", m.Leaf("a", 1), g, m.Open("d"))

	if got := fmt.Sprint(m.Semantics(root)); got != "[a b c d]" {
		t.Errorf("Semantics = %s", got)
	}
	if got := m.Format(root); got != "[a ([b]|[c d]) ?]" {
		t.Errorf("Format = %s", got)
	}
	if m.ChainLen(root) != 3 || m.Kind(g) != Reserved || !m.HasOpen(root) {
		t.Error("unexpected shape")
	}
}

func TestEqual(t *testing.T) {
	build := func(rate float64, extra bool) (*Model, Handle) {
		m := New()
		root := m.Linear("rbd", m.Leaf("a", rate))
		if extra {
			m.Append(root, m.Leaf("b", rate))
		}
		return m, root
	}

	a, ah := build(1, false)
	b, bh := build(2, false)
	if !Equal(a, ah, b, bh) {
		t.Error("rates must not affect topology")
	}
	c, ch := build(1, true)
	if Equal(a, ah, c, ch) {
		t.Error("different chains compared equal")
	}
}

func TestReset(t *testing.T) {
	m := New()
	m.Linear("", m.Leaf("a", 1))
	m.Reset()
	if m.Len() != 0 {
		t.Errorf("Len after Reset = %d", m.Len())
	}
	h := m.Leaf("b", 0)
	if h != 0 {
		t.Errorf("first handle after Reset = %d, want 0", h)
	}
}

func TestCompositionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	rates := gen.SliceOf(gen.Float64Range(0, 1e-3))
	mission := gen.Float64Range(1, 10000)

	properties.Property("series chain has N members and multiplies reliabilities", prop.ForAll(
		func(lambdas []float64, t float64) bool {
			m := New()
			root := m.Linear("")
			want := 1.0
			for i, l := range lambdas {
				m.Append(root, m.Leaf(fmt.Sprint(i), l))
				want *= math.Exp(-l * t)
			}
			return m.ChainLen(root) == len(lambdas) && approx(m.Reliability(root, t), want)
		},
		rates, mission,
	))

	properties.Property("parallel failure probability is the product of path failures", prop.ForAll(
		func(lambdas []float64, t float64) bool {
			if len(lambdas) == 0 {
				return true
			}
			m := New()
			root := m.Reserved("g")
			want := 1.0
			for i, l := range lambdas {
				m.Append(root, m.Linear("", m.Leaf(fmt.Sprint(i), l)))
				want *= 1 - math.Exp(-l*t)
			}
			return approx(m.FailureProbability(root, t), want)
		},
		rates, mission,
	))

	properties.Property("adding a parallel path never lowers reliability", prop.ForAll(
		func(lambdas []float64, extra, t float64) bool {
			m := New()
			root := m.Reserved("g")
			for i, l := range lambdas {
				m.Append(root, m.Linear("", m.Leaf(fmt.Sprint(i), l)))
			}
			before := m.Reliability(root, t)
			m.Append(root, m.Linear("", m.Leaf("x", extra)))
			return m.Reliability(root, t) >= before-eps
		},
		rates, gen.Float64Range(0, 1e-3), mission,
	))

	properties.TestingRun(t)
}
