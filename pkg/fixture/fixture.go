// Package fixture loads product structures described in YAML into a graph
// accessor. Fixtures seed tests and the rbdctl command.
package fixture

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-reliability/pkg/graph"
)

// Fixture is the document root.
type Fixture struct {
	Project     string    `yaml:"project"`
	Composition string    `yaml:"composition"`
	Products    []Product `yaml:"products"`
}

// Product is one product with its element tree, units and diagrams.
type Product struct {
	Semantic        string    `yaml:"semantic"`
	Name            string    `yaml:"name"`
	Elements        []Element `yaml:"elements"`
	FunctionalUnits []Unit    `yaml:"functional_units"`
	Diagrams        []Diagram `yaml:"diagrams"`
}

// Element is a container or component.
type Element struct {
	Semantic        string    `yaml:"semantic"`
	Name            string    `yaml:"name"`
	Role            string    `yaml:"role"`
	FailureRate     float64   `yaml:"failure_rate"`
	FunctionalUnits []string  `yaml:"functional_units"`
	Children        []Element `yaml:"children"`
}

// Unit is a functional unit.
type Unit struct {
	Semantic string `yaml:"semantic"`
	Name     string `yaml:"name"`
}

// Diagram is a reliability block diagram. Links are written "a -> b" and
// keep their order on both ends.
type Diagram struct {
	Semantic string   `yaml:"semantic"`
	Name     string   `yaml:"name"`
	Start    string   `yaml:"start"`
	End      string   `yaml:"end"`
	Parts    []Part   `yaml:"parts"`
	Links    []string `yaml:"links"`
}

// Part is a diagram member. Component binds a block, Rbd binds a
// sub-diagram and Pair names the matching group node.
type Part struct {
	Semantic    string  `yaml:"semantic"`
	Name        string  `yaml:"name"`
	Role        string  `yaml:"role"`
	FailureRate float64 `yaml:"failure_rate"`
	Component   string  `yaml:"component"`
	Rbd         string  `yaml:"rbd"`
	Pair        string  `yaml:"pair"`
}

// Load parses a fixture document.
func Load(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if f.Project == "" {
		return nil, fmt.Errorf("fixture: project is required")
	}
	if f.Composition == "" {
		f.Composition = f.Project + "-composition"
	}
	return &f, nil
}

// LoadFile parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Load(file)
}

// Parse parses a fixture held in a string.
func Parse(doc string) (*Fixture, error) {
	return Load(strings.NewReader(doc))
}

type builder struct {
	nodes map[string]*graph.Node
	order []string
}

func (b *builder) add(n *graph.Node) error {
	if n.Semantic == "" {
		return fmt.Errorf("fixture: %s without semantic", n.Role)
	}
	if _, dup := b.nodes[n.Semantic]; dup {
		return fmt.Errorf("fixture: duplicate semantic %q", n.Semantic)
	}
	if n.Parent != "" {
		parent := b.nodes[n.Parent]
		n.Positional = 0
		for _, c := range parent.Children {
			if b.nodes[c].Role.Partition() == n.Role.Partition() {
				n.Positional++
			}
		}
		parent.Children = append(parent.Children, n.Semantic)
	}
	b.nodes[n.Semantic] = n
	b.order = append(b.order, n.Semantic)
	return nil
}

func (b *builder) get(semantic, what string) (*graph.Node, error) {
	n, ok := b.nodes[semantic]
	if !ok {
		return nil, fmt.Errorf("fixture: %s %q not defined", what, semantic)
	}
	return n, nil
}

// Nodes expands the fixture into stored nodes with every cross reference
// filled on both ends.
func (f *Fixture) Nodes() ([]*graph.Node, error) {
	b := &builder{nodes: make(map[string]*graph.Node)}
	if err := b.add(&graph.Node{Semantic: f.Project, Role: graph.RoleProject, Name: f.Project}); err != nil {
		return nil, err
	}
	if err := b.add(&graph.Node{Semantic: f.Composition, Role: graph.RoleProjectComposition, Parent: f.Project}); err != nil {
		return nil, err
	}

	for _, p := range f.Products {
		if err := b.add(&graph.Node{Semantic: p.Semantic, Role: graph.RoleProduct, Name: p.Name, Parent: f.Composition, Dirty: true}); err != nil {
			return nil, err
		}
		for _, u := range p.FunctionalUnits {
			if err := b.add(&graph.Node{Semantic: u.Semantic, Role: graph.RoleFunctionalUnit, Name: u.Name, Parent: p.Semantic}); err != nil {
				return nil, err
			}
		}
		for _, e := range p.Elements {
			if err := b.addElement(p.Semantic, e); err != nil {
				return nil, err
			}
		}
	}
	// Diagrams go last so blocks and sub-diagrams can reference anything.
	for _, p := range f.Products {
		for _, d := range p.Diagrams {
			if err := b.addDiagram(p.Semantic, d); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range f.Products {
		for _, d := range p.Diagrams {
			if err := b.bindDiagram(d); err != nil {
				return nil, err
			}
		}
	}

	out := make([]*graph.Node, len(b.order))
	for i, s := range b.order {
		out[i] = b.nodes[s]
	}
	return out, nil
}

func (b *builder) addElement(parent string, e Element) error {
	role := graph.RoleComponent
	if e.Role != "" {
		r, err := graph.ParseRole(e.Role)
		if err != nil {
			return fmt.Errorf("fixture: element %s: %w", e.Semantic, err)
		}
		role = r
	} else if len(e.Children) > 0 {
		role = graph.RoleContainer
	}
	if !role.IsElement() {
		return fmt.Errorf("fixture: element %s has role %s", e.Semantic, role)
	}

	n := &graph.Node{Semantic: e.Semantic, Role: role, Name: e.Name, Parent: parent, FailureRate: e.FailureRate, Dirty: true}
	if err := b.add(n); err != nil {
		return err
	}
	for _, u := range e.FunctionalUnits {
		unit, err := b.get(u, "functional unit")
		if err != nil {
			return err
		}
		n.FunctionalUnits = append(n.FunctionalUnits, u)
		unit.Members = append(unit.Members, n.Semantic)
	}
	for _, c := range e.Children {
		if err := b.addElement(e.Semantic, c); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) addDiagram(product string, d Diagram) error {
	if d.Start == "" {
		d.Start = d.Semantic + "-start"
	}
	if d.End == "" {
		d.End = d.Semantic + "-end"
	}
	if err := b.add(&graph.Node{Semantic: d.Semantic, Role: graph.RoleRbd, Name: d.Name, Parent: product, Dirty: true}); err != nil {
		return err
	}
	if err := b.add(&graph.Node{Semantic: d.Start, Role: graph.RoleRbdStart, Parent: d.Semantic}); err != nil {
		return err
	}
	if err := b.add(&graph.Node{Semantic: d.End, Role: graph.RoleRbdEnd, Parent: d.Semantic}); err != nil {
		return err
	}
	for _, p := range d.Parts {
		role := graph.RoleRbdBlock
		if p.Role != "" {
			r, err := graph.ParseRole(p.Role)
			if err != nil {
				return fmt.Errorf("fixture: part %s: %w", p.Semantic, err)
			}
			role = r
		}
		switch role {
		case graph.RoleRbdBlock, graph.RoleSubRbd, graph.RoleRbdGroupStart, graph.RoleRbdGroupEnd:
		default:
			return fmt.Errorf("fixture: part %s has role %s", p.Semantic, role)
		}
		if err := b.add(&graph.Node{Semantic: p.Semantic, Role: role, Name: p.Name, Parent: d.Semantic, FailureRate: p.FailureRate, Ref: p.Pair}); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) bindDiagram(d Diagram) error {
	for _, p := range d.Parts {
		n := b.nodes[p.Semantic]
		switch {
		case p.Component != "":
			comp, err := b.get(p.Component, "component")
			if err != nil {
				return err
			}
			n.Ref = comp.Semantic
			comp.BoundBy = append(comp.BoundBy, n.Semantic)
		case p.Rbd != "":
			rbd, err := b.get(p.Rbd, "diagram")
			if err != nil {
				return err
			}
			n.Ref = rbd.Semantic
			rbd.BoundBy = append(rbd.BoundBy, n.Semantic)
		}
	}
	for _, l := range d.Links {
		src, dst, ok := strings.Cut(l, "->")
		if !ok {
			return fmt.Errorf("fixture: link %q is not \"a -> b\"", l)
		}
		from, err := b.get(strings.TrimSpace(src), "link source")
		if err != nil {
			return err
		}
		to, err := b.get(strings.TrimSpace(dst), "link target")
		if err != nil {
			return err
		}
		from.Outputs = append(from.Outputs, to.Semantic)
		to.Inputs = append(to.Inputs, from.Semantic)
	}
	return nil
}

// Apply writes the fixture in one batch.
func (f *Fixture) Apply(ctx context.Context, a graph.Accessor) error {
	nodes, err := f.Nodes()
	if err != nil {
		return err
	}
	edits := make([]graph.Edit, len(nodes))
	for i, n := range nodes {
		edits[i] = graph.Put(n)
	}
	return a.Write(ctx, edits...)
}
