package component

import (
	"strings"
	"testing"
)

func TestParseAcyclicTopology(t *testing.T) {
	text := `
<component>
property name=lm
layer name=input type=embedding size=4
layer name=hidden type=sigmoid size=8
layer name=output type=softmax size=10
glue name=g1 type=full in=input out=hidden
glue name=g2 type=full in=hidden out=output
</component>
`
	g, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Components) != 1 {
		t.Fatalf("expected 1 component, got %d", len(g.Components))
	}
	c := g.ComponentByName("lm")
	if c == nil {
		t.Fatalf("component %q not found", "lm")
	}
	if len(c.Layers) != 3 || len(c.Glues) != 2 {
		t.Fatalf("layers=%d glues=%d, want 3/2", len(c.Layers), len(c.Glues))
	}
	if len(c.Cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", c.Cycles)
	}
	if len(c.TopoOrder) != 3 {
		t.Fatalf("expected topo order over 3 layers, got %v", c.TopoOrder)
	}
	if c.TopoOrder[0] != "input" || c.TopoOrder[len(c.TopoOrder)-1] != "output" {
		t.Errorf("topo order = %v, want input first and output last", c.TopoOrder)
	}
}

func TestParseRecurrentCyclePutsRecurrentGlueFirst(t *testing.T) {
	text := `
<component>
property name=rnn
layer name=input type=embedding size=4
layer name=hidden type=sigmoid size=8
glue name=g_in type=full in=input out=hidden
glue name=g_rec type=full in=hidden out=hidden recurrent=true
</component>
`
	g, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c := g.ComponentByName("rnn")
	if len(c.Cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(c.Cycles))
	}
	if c.Cycles[0].GlueNames[0] != "g_rec" {
		t.Errorf("recurrent glue should be first, got %v", c.Cycles[0].GlueNames)
	}
}

func TestParseCycleWithoutRecurrentGlueFails(t *testing.T) {
	text := `
<component>
property name=bad
layer name=a type=sigmoid size=4
layer name=b type=sigmoid size=4
glue name=g1 type=full in=a out=b
glue name=g2 type=full in=b out=a
</component>
`
	if _, err := Parse(strings.NewReader(text)); err == nil {
		t.Fatalf("expected InvalidTopology error for cycle without recurrent glue")
	}
}

func TestParseDanglingLayerReferenceFails(t *testing.T) {
	text := `
<component>
property name=bad
layer name=a type=sigmoid size=4
glue name=g1 type=full in=a out=nonexistent
</component>
`
	if _, err := Parse(strings.NewReader(text)); err == nil {
		t.Fatalf("expected InvalidTopology error for dangling layer reference")
	}
}

func TestParseDuplicateLayerNameFails(t *testing.T) {
	text := `
<component>
property name=bad
layer name=a type=sigmoid size=4
layer name=a type=sigmoid size=8
</component>
`
	if _, err := Parse(strings.NewReader(text)); err == nil {
		t.Fatalf("expected InvalidTopology error for duplicate layer name")
	}
}

func TestParseCaseInsensitiveTagsAndComments(t *testing.T) {
	text := `
<COMPONENT>
# this is a comment
Property name=lm
LAYER name=a type=sigmoid size=4  # inline comment
</Component>
`
	g, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Components) != 1 || len(g.Components[0].Layers) != 1 {
		t.Fatalf("case-insensitive parse failed: %+v", g.Components)
	}
}

func TestParseMultipleComponents(t *testing.T) {
	text := `
<component>
property name=c1
layer name=a type=sigmoid size=4
</component>
<component>
property name=c2
layer name=b type=sigmoid size=4
</component>
`
	g, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(g.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(g.Components))
	}
	if g.ComponentByName("c1") == nil || g.ComponentByName("c2") == nil {
		t.Fatalf("expected both c1 and c2 to be found")
	}
}
