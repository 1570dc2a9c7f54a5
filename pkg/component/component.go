// Package component implements the component graph of spec.md §4.4
// (component C4): parsing a topology text into layers and glues per
// component, detecting cycles, and topologically sorting the remainder.
//
// Topology text format (whitespace-tolerant, case-insensitive tags,
// "#" starts a line comment):
//
//	<component>
//	property name=lm
//	layer name=input type=embedding size=128
//	layer name=hidden type=sigmoid size=256
//	layer name=output type=softmax size=10000
//	glue name=g_in_hidden type=full in=input out=hidden
//	glue name=g_rec type=full in=hidden out=hidden recurrent=true
//	glue name=g_hidden_out type=full in=hidden out=output
//	</component>
//
// Grounded on the teacher's own hand-rolled parsers for small DSLs
// (core.ParseConnString's line/field-oriented key=value grammar), applied
// here to a multi-line, multi-section topology description instead of a
// single-line connection string.
package component

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wantee/connlm-go/pkg/connerr"
)

// Layer is one declared layer within a component.
type Layer struct {
	Name string
	Type string
	Size int
}

// Glue is one declared glue within a component, connecting one or more
// input layers to one or more output layers.
type Glue struct {
	Name      string
	Type      string
	In        []string
	Out       []string
	Recurrent bool
}

// Cycle is one detected cycle in a component's layer graph: the glues
// along it, with the glue explicitly declared recurrent listed first.
type Cycle struct {
	GlueNames []string
}

// Component is one parsed `<component>...</component>` block.
type Component struct {
	Name       string
	Properties map[string]string
	Layers     []*Layer
	Glues      []*Glue

	layerIdx map[string]int
	glueIdx  map[string]int

	Cycles    []Cycle
	TopoOrder []string // every layer name, forward order with cycle back edges ignored
}

// LayerByName returns the named layer, or nil if absent.
func (c *Component) LayerByName(name string) *Layer {
	if idx, ok := c.layerIdx[strings.ToLower(name)]; ok {
		return c.Layers[idx]
	}
	if c.layerIdx == nil {
		// built outside Parse (e.g. by model.Load): no index, so scan
		for _, l := range c.Layers {
			if strings.EqualFold(l.Name, name) {
				return l
			}
		}
	}
	return nil
}

// GlueByName returns the named glue, or nil if absent.
func (c *Component) GlueByName(name string) *Glue {
	if idx, ok := c.glueIdx[strings.ToLower(name)]; ok {
		return c.Glues[idx]
	}
	if c.glueIdx == nil {
		// built outside Parse (e.g. by model.Load): no index, so scan
		for _, g := range c.Glues {
			if strings.EqualFold(g.Name, name) {
				return g
			}
		}
	}
	return nil
}

// Graph is the full parsed set of components from one topology text.
type Graph struct {
	Components []*Component
	byName     map[string]int
}

// ComponentByName returns the named component, or nil if absent.
func (g *Graph) ComponentByName(name string) *Component {
	if idx, ok := g.byName[strings.ToLower(name)]; ok {
		return g.Components[idx]
	}
	return nil
}

// Parse reads a topology text and builds its component graph, detecting
// cycles and topologically sorting the acyclic remainder of each
// component. Fails with InvalidTopology on a duplicate name, a dangling
// layer reference, or a cycle containing no glue declared recurrent.
func Parse(r io.Reader) (*Graph, error) {
	g := &Graph{byName: map[string]int{}}

	scanner := bufio.NewScanner(r)
	var cur *Component
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(scanner.Text())
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		keyword := strings.ToLower(fields[0])

		switch keyword {
		case "<component>":
			if cur != nil {
				return nil, invalidTopology(lineNo, "nested <component> block")
			}
			cur = &Component{
				Properties: map[string]string{},
				layerIdx:   map[string]int{},
				glueIdx:    map[string]int{},
			}
		case "</component>":
			if cur == nil {
				return nil, invalidTopology(lineNo, "</component> without matching <component>")
			}
			if cur.Name == "" {
				return nil, invalidTopology(lineNo, "component has no name property")
			}
			if err := finalizeComponent(cur); err != nil {
				return nil, err
			}
			key := strings.ToLower(cur.Name)
			if _, exists := g.byName[key]; exists {
				return nil, invalidTopology(lineNo, fmt.Sprintf("duplicate component name %q", cur.Name))
			}
			g.byName[key] = len(g.Components)
			g.Components = append(g.Components, cur)
			cur = nil
		case "property":
			if cur == nil {
				return nil, invalidTopology(lineNo, "property outside <component> block")
			}
			kv := parseKV(fields[1:])
			for k, v := range kv {
				cur.Properties[k] = v
			}
			if name, ok := kv["name"]; ok {
				cur.Name = name
			}
		case "layer":
			if cur == nil {
				return nil, invalidTopology(lineNo, "layer outside <component> block")
			}
			kv := parseKV(fields[1:])
			name := kv["name"]
			if name == "" {
				return nil, invalidTopology(lineNo, "layer missing name")
			}
			if _, exists := cur.layerIdx[strings.ToLower(name)]; exists {
				return nil, invalidTopology(lineNo, fmt.Sprintf("duplicate layer name %q", name))
			}
			size, _ := strconv.Atoi(kv["size"])
			l := &Layer{Name: name, Type: kv["type"], Size: size}
			cur.layerIdx[strings.ToLower(name)] = len(cur.Layers)
			cur.Layers = append(cur.Layers, l)
		case "glue":
			if cur == nil {
				return nil, invalidTopology(lineNo, "glue outside <component> block")
			}
			kv := parseKV(fields[1:])
			name := kv["name"]
			if name == "" {
				return nil, invalidTopology(lineNo, "glue missing name")
			}
			if _, exists := cur.glueIdx[strings.ToLower(name)]; exists {
				return nil, invalidTopology(lineNo, fmt.Sprintf("duplicate glue name %q", name))
			}
			gl := &Glue{
				Name:      name,
				Type:      kv["type"],
				In:        splitList(kv["in"]),
				Out:       splitList(kv["out"]),
				Recurrent: strings.EqualFold(kv["recurrent"], "true"),
			}
			cur.glueIdx[strings.ToLower(name)] = len(cur.Glues)
			cur.Glues = append(cur.Glues, gl)
		default:
			return nil, invalidTopology(lineNo, fmt.Sprintf("unrecognized line keyword %q", fields[0]))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, connerr.New(connerr.KindIO, "component.Parse", err)
	}
	if cur != nil {
		return nil, invalidTopology(lineNo, "missing closing </component>")
	}
	return g, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

func parseKV(fields []string) map[string]string {
	kv := make(map[string]string, len(fields))
	for _, f := range fields {
		i := strings.IndexByte(f, '=')
		if i < 0 {
			continue
		}
		kv[strings.ToLower(f[:i])] = f[i+1:]
	}
	return kv
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func invalidTopology(lineNo int, msg string) error {
	return connerr.NewPath(connerr.KindInvalidTopology, "component.Parse", fmt.Sprintf("line %d", lineNo), fmt.Errorf("%s", msg))
}

// finalizeComponent validates all glue layer references, builds the
// layer-level adjacency graph, and runs DFS-based cycle detection over
// it: each back edge closes a cycle that must contain at least one glue
// declared recurrent, which is placed first in the recorded Cycle's glue
// list. Every layer, cyclic or not, is then reported in the component's
// topological order (reverse DFS finish order, which is a topological
// order of the graph once back edges are excluded).
func finalizeComponent(c *Component) error {
	type edge struct {
		glue string
		to   int
	}
	adj := make([][]edge, len(c.Layers))

	for _, gl := range c.Glues {
		for _, inName := range gl.In {
			u, ok := c.layerIdx[strings.ToLower(inName)]
			if !ok {
				return connerr.NewPath(connerr.KindInvalidTopology, "component.Parse", gl.Name,
					fmt.Errorf("glue %q references undeclared layer %q", gl.Name, inName))
			}
			for _, outName := range gl.Out {
				v, ok := c.layerIdx[strings.ToLower(outName)]
				if !ok {
					return connerr.NewPath(connerr.KindInvalidTopology, "component.Parse", gl.Name,
						fmt.Errorf("glue %q references undeclared layer %q", gl.Name, outName))
				}
				adj[u] = append(adj[u], edge{gl.Name, v})
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(c.Layers))
	parent := make([]int, len(c.Layers))
	parentGlue := make([]string, len(c.Layers))
	for i := range parent {
		parent[i] = -1
	}
	var order []int

	var dfs func(u int) error
	dfs = func(u int) error {
		color[u] = gray
		for _, e := range adj[u] {
			switch color[e.to] {
			case white:
				parent[e.to] = u
				parentGlue[e.to] = e.glue
				if err := dfs(e.to); err != nil {
					return err
				}
			case gray:
				glues := []string{e.glue}
				var path []string
				for cur := u; cur != e.to; cur = parent[cur] {
					path = append(path, parentGlue[cur])
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				glues = append(glues, path...)

				if err := promoteRecurrent(c, glues); err != nil {
					return err
				}
				c.Cycles = append(c.Cycles, Cycle{GlueNames: glues})
			}
		}
		color[u] = black
		order = append(order, u)
		return nil
	}

	for i := range c.Layers {
		if color[i] == white {
			if err := dfs(i); err != nil {
				return err
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		c.TopoOrder = append(c.TopoOrder, c.Layers[order[i]].Name)
	}
	return nil
}

// promoteRecurrent reorders glues in place so the one declared recurrent
// comes first, or fails with InvalidTopology if none of them is.
func promoteRecurrent(c *Component, glues []string) error {
	for i, name := range glues {
		if gl := c.GlueByName(name); gl != nil && gl.Recurrent {
			glues[0], glues[i] = glues[i], glues[0]
			return nil
		}
	}
	return connerr.New(connerr.KindInvalidTopology, "component.Parse",
		fmt.Errorf("cycle %v has no glue declared recurrent", glues))
}
