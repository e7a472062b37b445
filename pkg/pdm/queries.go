package pdm

import (
	"github.com/dd0wney/cluso-reliability/pkg/graph"
	"github.com/dd0wney/cluso-reliability/pkg/validation"
)

// SemanticQuery addresses one node.
type SemanticQuery struct {
	Semantic string `json:"semantic" validate:"required,semantic"`
}

// SemanticsQuery addresses a batch of nodes.
type SemanticsQuery struct {
	Semantics []string `json:"semantics" validate:"required,dive,semantic"`
}

// RbdLink is the edge source.output -> target.input. Overwrite lets a link
// operation replace whatever occupies either end.
type RbdLink struct {
	Source    string `json:"source" validate:"required,semantic,nefield=Target"`
	Target    string `json:"target" validate:"required,semantic"`
	Overwrite bool   `json:"overwrite"`
}

// RbdChain is a series path through a diagram from Source to Target, both
// included. A group on the path counts as one member from its start to its
// end node.
type RbdChain struct {
	Source string `json:"source" validate:"required,semantic"`
	Target string `json:"target" validate:"required,semantic"`
}

// LinkResult lists the links an overwrite removed.
type LinkResult struct {
	Detached []RbdLink `json:"detached,omitempty"`
}

// RbdLinkFan edits several links on one end of Semantic at once.
type RbdLinkFan struct {
	Semantic string   `json:"semantic" validate:"required,semantic"`
	Links    []string `json:"links" validate:"required,min=1,dive,semantic"`
}

// InsertBetweenQuery splices Chain into Link.
type InsertBetweenQuery struct {
	Link  RbdLink  `json:"link"`
	Chain RbdChain `json:"chain"`
}

// Side places a chain relative to an anchor.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// InsertBesideQuery puts Chain in series next to Anchor.
type InsertBesideQuery struct {
	Anchor string   `json:"anchor" validate:"required,semantic"`
	Side   Side     `json:"side" validate:"required,oneof=left right"`
	Chain  RbdChain `json:"chain"`
}

// InsertInParallelQuery wraps the linked chain Anchor into a new group whose
// second path is Chain.
type InsertInParallelQuery struct {
	Anchor RbdChain `json:"anchor"`
	Chain  RbdChain `json:"chain"`
}

// InsertIntoParallelQuery adds Chain as one more path of the group started
// by Group.
type InsertIntoParallelQuery struct {
	Group string   `json:"group" validate:"required,semantic"`
	Chain RbdChain `json:"chain"`
}

// InsertIntoGroupQuery appends Chain to the end of path number Path of the
// group started by Group. Paths are numbered in the order of the group
// start's outputs.
type InsertIntoGroupQuery struct {
	Group string   `json:"group" validate:"required,semantic"`
	Path  int      `json:"path" validate:"gte=0"`
	Chain RbdChain `json:"chain"`
}

// GroupResult names the start and end node of a group.
type GroupResult struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DetachQuery cuts Chain out of its diagram. With Passthrough the chain's
// neighbours are linked to each other.
type DetachQuery struct {
	Chain       RbdChain `json:"chain"`
	Passthrough bool     `json:"passthrough"`
}

// CopyChainQuery copies Chain, detached, into the diagram Rbd.
type CopyChainQuery struct {
	Chain RbdChain `json:"chain"`
	Rbd   string   `json:"rbd" validate:"required,semantic"`
}

// DeleteQuery deletes a node with its descendants, into the bin unless Hard.
type DeleteQuery struct {
	Semantic string `json:"semantic" validate:"required,semantic"`
	Hard     bool   `json:"hard"`
}

// NewRbd creates a diagram with linked start and end nodes.
type NewRbd struct {
	Product  string `json:"product" validate:"required,semantic"`
	Name     string `json:"name" validate:"required,max=256"`
	Semantic string `json:"semantic" validate:"omitempty,semantic"`
}

// NewBlock describes one block of NewRbdBlocks.
type NewBlock struct {
	Semantic    string  `json:"semantic" validate:"omitempty,semantic"`
	Name        string  `json:"name" validate:"max=256"`
	FailureRate float64 `json:"failureRate" validate:"gte=0"`
	Component   string  `json:"component" validate:"omitempty,semantic"`
}

// NewRbdBlocks creates a detached series chain of blocks in Rbd.
type NewRbdBlocks struct {
	Rbd    string     `json:"rbd" validate:"required,semantic"`
	Blocks []NewBlock `json:"blocks" validate:"required,min=1,dive"`
}

// NewSubRbd creates a detached sub-diagram node in Rbd bound to Ref.
type NewSubRbd struct {
	Rbd      string `json:"rbd" validate:"required,semantic"`
	Ref      string `json:"ref" validate:"required,semantic,nefield=Rbd"`
	Name     string `json:"name" validate:"max=256"`
	Semantic string `json:"semantic" validate:"omitempty,semantic"`
}

// NewSubRbdGroup creates a detached group in Rbd with one sub-diagram path
// per entry of Refs.
type NewSubRbdGroup struct {
	Rbd  string   `json:"rbd" validate:"required,semantic"`
	Refs []string `json:"refs" validate:"required,min=1,dive,semantic"`
}

// BindQuery binds Part (a block or sub-diagram) to Ref (a component or
// diagram).
type BindQuery struct {
	Ref  string `json:"ref" validate:"required,semantic"`
	Part string `json:"part" validate:"required,semantic,nefield=Ref"`
}

// NewNode creates a product, element or functional unit under Parent.
type NewNode struct {
	Parent      string  `json:"parent" validate:"required,semantic"`
	Role        string  `json:"role" validate:"required,oneof=Product Container Component FunctionalUnit"`
	Name        string  `json:"name" validate:"max=256"`
	FailureRate float64 `json:"failureRate" validate:"gte=0"`
	Semantic    string  `json:"semantic" validate:"omitempty,semantic"`
}

// UpdateNodeQuery changes the fields that are set.
type UpdateNodeQuery struct {
	Semantic    string   `json:"semantic" validate:"required,semantic"`
	Name        *string  `json:"name" validate:"omitnil,max=256"`
	FailureRate *float64 `json:"failureRate" validate:"omitnil,gte=0"`
	Status      *string  `json:"status" validate:"omitnil,max=64"`
}

// MoveQuery reparents Elements under Target, at Index when set.
type MoveQuery struct {
	Elements []string `json:"elements" validate:"required,dive,semantic"`
	Target   string   `json:"target" validate:"required,semantic"`
	Index    *int     `json:"index" validate:"omitnil,gte=0"`
}

// CopyElementsQuery copies Elements with their subtrees under Target, at
// Index when set.
type CopyElementsQuery struct {
	Elements []string `json:"elements" validate:"required,dive,semantic"`
	Target   string   `json:"target" validate:"required,semantic"`
	Index    *int     `json:"index" validate:"omitnil,gte=0"`
}

// CopyElementQuery copies Source with its subtree under Target.
type CopyElementQuery struct {
	Source string `json:"source" validate:"required,semantic"`
	Target string `json:"target" validate:"required,semantic"`
}

// RenameQuery changes the display name of an element.
type RenameQuery struct {
	Semantic string `json:"semantic" validate:"required,semantic"`
	Name     string `json:"name" validate:"required,max=256"`
}

// ReassignQuery changes the semantic of an element.
type ReassignQuery struct {
	Old string `json:"old" validate:"required,semantic"`
	New string `json:"new" validate:"required,semantic,nefield=Old"`
}

// RecalcQuery recalculates a product or diagram. A zero Timespan uses the
// configured mission time.
type RecalcQuery struct {
	Semantic string  `json:"semantic" validate:"required,semantic"`
	Timespan float64 `json:"timespan" validate:"gte=0"`
}

// RbdsRecalcQuery recalculates several diagrams together with every diagram
// that embeds one of them.
type RbdsRecalcQuery struct {
	Semantics []string `json:"semantics" validate:"required,min=1,dive,semantic"`
	Timespan  float64  `json:"timespan" validate:"gte=0"`
}

// ElementRecalcQuery recalculates one element. Reset recomputes its whole
// subtree from raw failure rates.
type ElementRecalcQuery struct {
	Semantic string  `json:"semantic" validate:"required,semantic"`
	Timespan float64 `json:"timespan" validate:"gte=0"`
	Reset    bool    `json:"reset"`
}

// RecalcReport lists the nodes whose computed values were rewritten, in
// the order they were computed.
type RecalcReport struct {
	Visited  []string `json:"visited"`
	Timespan float64  `json:"timespan"`
}

// NewUnit describes one functional unit.
type NewUnit struct {
	Semantic string `json:"semantic" validate:"omitempty,semantic"`
	Name     string `json:"name" validate:"required,max=256"`
}

// NewFunctionalUnits creates units under Product.
type NewFunctionalUnits struct {
	Product string    `json:"product" validate:"required,semantic"`
	Units   []NewUnit `json:"units" validate:"required,min=1,dive"`
}

// ElementUnitsQuery replaces the unit set of one element.
type ElementUnitsQuery struct {
	Element string   `json:"element" validate:"required,semantic"`
	Units   []string `json:"units" validate:"dive,semantic"`
}

// ElementsUnitsQuery adds or removes units on several elements.
type ElementsUnitsQuery struct {
	Elements []string `json:"elements" validate:"required,dive,semantic"`
	Units    []string `json:"units" validate:"required,dive,semantic"`
}

// ChangedResult reports whether an operation changed anything.
type ChangedResult struct {
	Changed bool `json:"changed"`
}

// validateQuery checks a query's shape before anything is read.
func validateQuery(op string, q any) error {
	if err := validation.Struct(q); err != nil {
		return validationFailed(op, err)
	}
	return nil
}

// validateBatch bounds a list of semantics and rejects duplicates.
func validateBatch(op, field string, semantics []string) error {
	if err := validation.ValidateBatchSize(len(semantics)); err != nil {
		return validationFailed(op, err)
	}
	if err := validation.ValidateDistinct(field, semantics); err != nil {
		return validationFailed(op, err)
	}
	return nil
}

func parseRole(op, name string) (graph.Role, error) {
	r, err := graph.ParseRole(name)
	if err != nil {
		return graph.RoleUnknown, validationFailed(op, err)
	}
	return r, nil
}
