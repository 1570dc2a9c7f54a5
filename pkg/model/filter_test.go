package model

import "testing"

func TestParseFilterBareFilenameIsAll(t *testing.T) {
	f, fn := ParseFilter("foo.bin")
	if fn != "foo.bin" {
		t.Errorf("filename = %q, want foo.bin", fn)
	}
	if !f.IncludesVocab() || !f.IncludesOutput() || !f.IncludesComponent("rnn") {
		t.Errorf("expected ALL filter to include everything")
	}
}

func TestParseFilterVocabOnly(t *testing.T) {
	f, fn := ParseFilter("mdl,v:vocab.bin")
	if fn != "vocab.bin" {
		t.Errorf("filename = %q, want vocab.bin", fn)
	}
	if !f.IncludesVocab() {
		t.Errorf("expected vocab included")
	}
	if f.IncludesOutput() {
		t.Errorf("expected output excluded")
	}
	if f.IncludesComponent("rnn") {
		t.Errorf("expected component excluded")
	}
}

func TestParseFilterNegatedComponent(t *testing.T) {
	f, fn := ParseFilter("mdl,-c<rnn>:foo.bin")
	if fn != "foo.bin" {
		t.Errorf("filename = %q, want foo.bin", fn)
	}
	if !f.IncludesVocab() || !f.IncludesOutput() {
		t.Errorf("expected vocab and output included under negation")
	}
	if f.IncludesComponent("rnn") {
		t.Errorf("expected rnn excluded under negation")
	}
	if !f.IncludesComponent("maxent") {
		t.Errorf("expected other components included under negation")
	}
}

func TestParseFilterInvalidSelectorFallsBackToAll(t *testing.T) {
	raw := "mdl,q:foo.bin"
	f, fn := ParseFilter(raw)
	if fn != raw {
		t.Errorf("filename = %q, want original raw string %q", fn, raw)
	}
	if !f.IncludesVocab() || !f.IncludesOutput() {
		t.Errorf("expected fallback to ALL filter")
	}
}

func TestParseFilterMissingColonFallsBackToAll(t *testing.T) {
	raw := "mdl,v"
	f, fn := ParseFilter(raw)
	if fn != raw {
		t.Errorf("filename = %q, want original raw string %q", fn, raw)
	}
	if !f.IncludesVocab() {
		t.Errorf("expected fallback ALL filter to include vocab")
	}
}

func TestParseFilterDeterministicVocabOnly(t *testing.T) {
	f1, _ := ParseFilter("mdl,v:x.bin")
	f2, _ := ParseFilter("mdl,v:x.bin")
	if f1.Negate != f2.Negate || f1.Vocab != f2.Vocab || f1.Output != f2.Output {
		t.Errorf("expected parsing the same filter twice to be identical: %+v vs %+v", f1, f2)
	}
}
