package constraints

import (
	"context"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/parallel"
)

// Snapshot is a read-only copy of a subtree, loaded once and shared by all
// constraints of one validation run.
type Snapshot struct {
	Root  string
	Nodes map[string]*graph.Node
	// Order lists semantics breadth first as loaded.
	Order []string
}

// LoadSnapshot loads the subtree under root through the accessor, one
// level at a time.
func LoadSnapshot(ctx context.Context, a graph.Accessor, root string) (*Snapshot, error) {
	nodes, err := parallel.NewTraverser(a, 0).Subtree(ctx, root, 0)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{Root: root, Nodes: make(map[string]*graph.Node, len(nodes))}
	for _, n := range nodes {
		s.Nodes[n.Semantic] = n
		s.Order = append(s.Order, n.Semantic)
	}
	return s, nil
}

// Each calls fn for every node in load order.
func (s *Snapshot) Each(fn func(*graph.Node)) {
	for _, sem := range s.Order {
		fn(s.Nodes[sem])
	}
}

// Children returns the loaded children of n, in stored order.
func (s *Snapshot) Children(n *graph.Node) []*graph.Node {
	out := make([]*graph.Node, 0, len(n.Children))
	for _, c := range n.Children {
		if child, ok := s.Nodes[c]; ok {
			out = append(out, child)
		}
	}
	return out
}

// Severity indicates the importance of a violation
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ViolationType categorizes the type of constraint violation
type ViolationType int

const (
	CardinalityViolation ViolationType = iota
	UniquenessViolation
	DanglingReference
	AsymmetricReference
	PositionalGap
)

func (vt ViolationType) String() string {
	switch vt {
	case CardinalityViolation:
		return "CardinalityViolation"
	case UniquenessViolation:
		return "UniquenessViolation"
	case DanglingReference:
		return "DanglingReference"
	case AsymmetricReference:
		return "AsymmetricReference"
	case PositionalGap:
		return "PositionalGap"
	default:
		return "Unknown"
	}
}

// Violation represents a constraint violation
type Violation struct {
	Type       ViolationType
	Severity   Severity
	Semantic   string
	Constraint string
	Message    string
	Details    map[string]any
}

// Constraint is one structural rule checked against a snapshot.
type Constraint interface {
	Validate(s *Snapshot) ([]Violation, error)
	Name() string
}
