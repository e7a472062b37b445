// Package graph holds the stored product-structure graph: node records,
// the accessor contract used by the service, and its memory and badger
// implementations.
package graph

import (
	"fmt"
	"slices"
)

// Role is the structural role of a node.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleProject
	RoleProjectComposition
	RoleProduct
	RoleContainer
	RoleComponent
	RoleFunctionalUnit
	RoleRbd
	RoleRbdStart
	RoleRbdEnd
	RoleRbdBlock
	RoleSubRbd
	RoleRbdGroupStart
	RoleRbdGroupEnd
)

var roleNames = [...]string{
	RoleUnknown:            "Unknown",
	RoleProject:            "Project",
	RoleProjectComposition: "ProjectComposition",
	RoleProduct:            "Product",
	RoleContainer:          "Container",
	RoleComponent:          "Component",
	RoleFunctionalUnit:     "FunctionalUnit",
	RoleRbd:                "Rbd",
	RoleRbdStart:           "RbdStart",
	RoleRbdEnd:             "RbdEnd",
	RoleRbdBlock:           "RbdBlock",
	RoleSubRbd:             "SubRbd",
	RoleRbdGroupStart:      "RbdGroupStart",
	RoleRbdGroupEnd:        "RbdGroupEnd",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("Role(%d)", r)
}

// ParseRole resolves a role name as printed by String.
func ParseRole(name string) (Role, error) {
	for i, n := range roleNames {
		if n == name && Role(i) != RoleUnknown {
			return Role(i), nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", name)
}

// Partition groups roles that share one positional sequence under a parent.
type Partition uint8

const (
	PartitionNone Partition = iota
	PartitionComposition
	PartitionProducts
	PartitionElements
	PartitionUnits
	PartitionDiagrams
	PartitionDiagramParts
)

// Partition returns the sibling partition of the role.
func (r Role) Partition() Partition {
	switch r {
	case RoleProject, RoleProjectComposition:
		return PartitionComposition
	case RoleProduct:
		return PartitionProducts
	case RoleContainer, RoleComponent:
		return PartitionElements
	case RoleFunctionalUnit:
		return PartitionUnits
	case RoleRbd:
		return PartitionDiagrams
	case RoleRbdStart, RoleRbdEnd, RoleRbdBlock, RoleSubRbd, RoleRbdGroupStart, RoleRbdGroupEnd:
		return PartitionDiagramParts
	default:
		return PartitionNone
	}
}

// IsElement reports whether the role carries a failure rate in the product tree.
func (r Role) IsElement() bool {
	return r == RoleContainer || r == RoleComponent
}

// IsRbdPart reports whether the role lives inside a diagram.
func (r Role) IsRbdPart() bool {
	return r.Partition() == PartitionDiagramParts
}

// BinState marks soft deletion.
type BinState uint8

const (
	BinActive BinState = iota
	BinDeleted
)

func (b BinState) String() string {
	if b == BinDeleted {
		return "deleted"
	}
	return "active"
}

// Computed holds derived reliability values written by recalculation.
type Computed struct {
	FailureRate float64 `msgpack:"fr" yaml:"failure_rate" json:"failureRate"`
	Reliability float64 `msgpack:"r" yaml:"reliability" json:"reliability"`
	Timespan    float64 `msgpack:"t" yaml:"timespan" json:"timespan"`
}

// Node is one stored structure node.
type Node struct {
	Semantic    string   `msgpack:"s" json:"semantic"`
	Role        Role     `msgpack:"ro" json:"role"`
	Name        string   `msgpack:"n,omitempty" json:"name,omitempty"`
	Parent      string   `msgpack:"p,omitempty" json:"parent,omitempty"`
	Children    []string `msgpack:"c,omitempty" json:"children,omitempty"`
	FailureRate float64  `msgpack:"fr,omitempty" json:"failureRate,omitempty"`
	Positional  int      `msgpack:"pos" json:"positional"`
	Bin         BinState `msgpack:"b,omitempty" json:"bin,omitempty"`

	// Link ends between diagram parts.
	Inputs  []string `msgpack:"in,omitempty" json:"inputs,omitempty"`
	Outputs []string `msgpack:"out,omitempty" json:"outputs,omitempty"`

	// Ref points from a block to its component, from a sub-diagram to the
	// diagram it embeds and between paired group start and end nodes.
	Ref string `msgpack:"ref,omitempty" json:"ref,omitempty"`
	// BoundBy is the reverse of Ref for components and diagrams.
	BoundBy []string `msgpack:"bb,omitempty" json:"boundBy,omitempty"`

	FunctionalUnits []string `msgpack:"fu,omitempty" json:"functionalUnits,omitempty"`
	Members         []string `msgpack:"m,omitempty" json:"members,omitempty"`

	Computed  Computed `msgpack:"cmp" json:"computed"`
	Dirty     bool     `msgpack:"d,omitempty" json:"dirty,omitempty"`
	Status    string   `msgpack:"st,omitempty" json:"status,omitempty"`
	UpdatedBy string   `msgpack:"ub,omitempty" json:"updatedBy,omitempty"`
	Version   uint64   `msgpack:"v" json:"version"`
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Children = slices.Clone(n.Children)
	c.Inputs = slices.Clone(n.Inputs)
	c.Outputs = slices.Clone(n.Outputs)
	c.BoundBy = slices.Clone(n.BoundBy)
	c.FunctionalUnits = slices.Clone(n.FunctionalUnits)
	c.Members = slices.Clone(n.Members)
	return &c
}

// Active reports whether the node is not in the bin.
func (n *Node) Active() bool {
	return n.Bin == BinActive
}

// EditOp is the kind of a single write.
type EditOp uint8

const (
	EditPut EditOp = iota
	EditDelete
)

// Edit is one write in an atomic batch. The store rejects the whole batch
// when a node's stored version differs from ExpectVersion; zero means the
// node must not exist yet.
type Edit struct {
	Op            EditOp
	Semantic      string
	Node          *Node
	ExpectVersion uint64
}

// Put writes n, expecting the version the caller read it at.
func Put(n *Node) Edit {
	return Edit{Op: EditPut, Semantic: n.Semantic, Node: n, ExpectVersion: n.Version}
}

// Delete removes a node read at version.
func Delete(semantic string, version uint64) Edit {
	return Edit{Op: EditDelete, Semantic: semantic, ExpectVersion: version}
}
