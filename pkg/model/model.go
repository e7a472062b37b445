// Package model is the transient reliability block model built from stored
// diagrams. Parts live in one arena and refer to each other by handle, so a
// model is released in one step by Reset or by dropping it.
package model

import (
	"fmt"
	"math"
	"strings"
)

// Kind tags a part.
type Kind uint8

const (
	// Leaf is a single block with a failure rate.
	Leaf Kind = iota
	// Linear is a series chain.
	Linear
	// Reserved is a set of parallel chains.
	Reserved
	// Open is a gap where a chain stops before its target. It never succeeds.
	Open
)

func (k Kind) String() string {
	switch k {
	case Leaf:
		return "Leaf"
	case Linear:
		return "Linear"
	case Reserved:
		return "Reserved"
	case Open:
		return "Open"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Handle addresses a part in its model.
type Handle int32

// None is the zero value for "no part".
const None Handle = -1

// Part is one arena slot.
type Part struct {
	Kind        Kind
	Semantic    string
	FailureRate float64
	Children    []Handle
}

// Model is an arena of parts.
type Model struct {
	parts []Part
}

// New returns an empty model.
func New() *Model {
	return &Model{}
}

func (m *Model) add(p Part) Handle {
	m.parts = append(m.parts, p)
	return Handle(len(m.parts) - 1)
}

// Leaf adds a block.
func (m *Model) Leaf(semantic string, failureRate float64) Handle {
	return m.add(Part{Kind: Leaf, Semantic: semantic, FailureRate: failureRate})
}

// Linear adds a series chain over children.
func (m *Model) Linear(semantic string, children ...Handle) Handle {
	return m.add(Part{Kind: Linear, Semantic: semantic, Children: children})
}

// Reserved adds a parallel group over children.
func (m *Model) Reserved(semantic string, children ...Handle) Handle {
	return m.add(Part{Kind: Reserved, Semantic: semantic, Children: children})
}

// Open adds a gap after semantic.
func (m *Model) Open(semantic string) Handle {
	return m.add(Part{Kind: Open, Semantic: semantic})
}

// Append adds child to a Linear or Reserved part.
func (m *Model) Append(parent, child Handle) {
	p := &m.parts[parent]
	p.Children = append(p.Children, child)
}

// Part returns the part at h.
func (m *Model) Part(h Handle) Part {
	return m.parts[h]
}

func (m *Model) Kind(h Handle) Kind {
	return m.parts[h].Kind
}

func (m *Model) Children(h Handle) []Handle {
	return m.parts[h].Children
}

// ChainLen is the number of direct members of a composite part.
func (m *Model) ChainLen(h Handle) int {
	return len(m.parts[h].Children)
}

// Len is the number of parts in the arena.
func (m *Model) Len() int {
	return len(m.parts)
}

// Reset empties the arena, keeping its capacity.
func (m *Model) Reset() {
	clear(m.parts)
	m.parts = m.parts[:0]
}

// Reliability is the probability that part h survives a mission of length t.
// Series multiplies member reliabilities, parallel takes the complement of
// the product of member failure probabilities. An empty chain is a bypass.
func (m *Model) Reliability(h Handle, t float64) float64 {
	p := &m.parts[h]
	switch p.Kind {
	case Leaf:
		return math.Exp(-p.FailureRate * t)
	case Linear:
		r := 1.0
		for _, c := range p.Children {
			r *= m.Reliability(c, t)
		}
		return r
	case Reserved:
		q := 1.0
		for _, c := range p.Children {
			q *= 1 - m.Reliability(c, t)
		}
		return 1 - q
	default:
		return 0
	}
}

// FailureProbability is 1 - Reliability.
func (m *Model) FailureProbability(h Handle, t float64) float64 {
	return 1 - m.Reliability(h, t)
}

// EquivalentRate converts a mission reliability back into a constant failure
// rate. A zero reliability maps to +Inf, a non-positive timespan to 0.
func EquivalentRate(reliability, t float64) float64 {
	if t <= 0 {
		return 0
	}
	if reliability <= 0 {
		return math.Inf(1)
	}
	return -math.Log(reliability) / t
}

// Semantics lists the leaf semantics under h in depth-first order.
func (m *Model) Semantics(h Handle) []string {
	var out []string
	m.collect(h, &out)
	return out
}

func (m *Model) collect(h Handle, out *[]string) {
	p := &m.parts[h]
	if p.Kind == Leaf {
		*out = append(*out, p.Semantic)
		return
	}
	for _, c := range p.Children {
		m.collect(c, out)
	}
}

// HasOpen reports whether any gap remains under h.
func (m *Model) HasOpen(h Handle) bool {
	p := &m.parts[h]
	if p.Kind == Open {
		return true
	}
	for _, c := range p.Children {
		if m.HasOpen(c) {
			return true
		}
	}
	return false
}

// Equal compares two parts by shape and semantics, ignoring failure rates.
// Parallel paths compare in order.
func Equal(a *Model, ah Handle, b *Model, bh Handle) bool {
	pa, pb := &a.parts[ah], &b.parts[bh]
	if pa.Kind != pb.Kind || pa.Semantic != pb.Semantic || len(pa.Children) != len(pb.Children) {
		return false
	}
	for i := range pa.Children {
		if !Equal(a, pa.Children[i], b, pb.Children[i]) {
			return false
		}
	}
	return true
}

// Format renders h compactly, e.g. "[a (b|[c d]) ?]" for a series with a
// parallel group and a trailing gap.
func (m *Model) Format(h Handle) string {
	var sb strings.Builder
	m.format(h, &sb)
	return sb.String()
}

func (m *Model) format(h Handle, sb *strings.Builder) {
	p := &m.parts[h]
	switch p.Kind {
	case Leaf:
		sb.WriteString(p.Semantic)
	case Open:
		sb.WriteByte('?')
	case Linear:
		sb.WriteByte('[')
		for i, c := range p.Children {
			if i > 0 {
				sb.WriteByte(' ')
			}
			m.format(c, sb)
		}
		sb.WriteByte(']')
	case Reserved:
		sb.WriteByte('(')
		for i, c := range p.Children {
			if i > 0 {
				sb.WriteByte('|')
			}
			m.format(c, sb)
		}
		sb.WriteByte(')')
	}
}
