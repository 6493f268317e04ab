package parser

import (
	"strings"
	"testing"
)

func TestTextParser_BasicParagraphSplitting(t *testing.T) {
	input := "First paragraph line one.\nFirst paragraph line two.\n\nSecond paragraph.\n\nThird paragraph."
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tree.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", tree.Title)
	}
	if len(tree.Sections) != 1 {
		t.Fatalf("expected 1 preamble section, got %d", len(tree.Sections))
	}

	want := []string{
		"First paragraph line one.\nFirst paragraph line two.",
		"Second paragraph.",
		"Third paragraph.",
	}
	clauses := tree.Sections[0].Clauses
	if len(clauses) != len(want) {
		t.Fatalf("expected %d clauses, got %d", len(want), len(clauses))
	}
	for i, w := range want {
		if clauses[i].Text != w {
			t.Errorf("clause[%d]: expected %q, got %q", i, w, clauses[i].Text)
		}
	}
}

func TestTextParser_EmptyInput(t *testing.T) {
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(""), "empty.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tree.Title != "empty" {
		t.Errorf("expected title %q, got %q", "empty", tree.Title)
	}
	if len(tree.Sections) != 0 {
		t.Errorf("expected 0 sections for empty input, got %d", len(tree.Sections))
	}
	if !tree.Empty() {
		t.Error("expected empty tree")
	}
}

func TestTextParser_MultipleBlankLines(t *testing.T) {
	// Multiple consecutive blank lines should not produce empty paragraphs.
	input := "Para one.\n\n\n\nPara two."
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), "gaps.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(tree.Clauses()); got != 2 {
		t.Fatalf("expected 2 clauses, got %d", got)
	}
}

func TestTextParser_WhitespaceOnlyLines(t *testing.T) {
	// Lines with only whitespace should be treated as blank.
	input := "Para one.\n   \nPara two."
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), "ws.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(tree.Clauses()); got != 2 {
		t.Fatalf("expected 2 clauses, got %d", got)
	}
}

func TestTextParser_NumberedHeadingsNest(t *testing.T) {
	input := `ARTICLES OF ASSOCIATION

1. Definitions

1.1 In these Articles the Company means the company named above.
1.2 The Act means the ADGM Companies Regulations 2020.

2. Share Capital

The share capital is divided into ordinary shares.`
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), "aoa.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headings := tree.Headings()
	want := []string{"ARTICLES OF ASSOCIATION", "1. Definitions", "2. Share Capital"}
	if strings.Join(headings, "|") != strings.Join(want, "|") {
		t.Fatalf("expected headings %q, got %q", want, headings)
	}

	defs := tree.Sections[1]
	if len(defs.Clauses) != 2 {
		t.Fatalf("expected numbered lines to split into 2 clauses, got %d", len(defs.Clauses))
	}
	if defs.Clauses[1].Ref != "1.2" {
		t.Errorf("expected clause ref %q, got %q", "1.2", defs.Clauses[1].Ref)
	}
}

func TestTextParser_PipeTable(t *testing.T) {
	input := `REGISTER OF MEMBERS

| Name | Shares |
|------|--------|
| Jane Doe | 100 |
| John Roe | 50 |`
	p := &TextParser{}
	tree, err := p.Parse(strings.NewReader(input), "register.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Tables) != 1 {
		t.Fatalf("expected 1 table, got %d", len(tree.Tables))
	}
	rows := tree.Tables[0].Rows
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows (separator skipped), got %d", len(rows))
	}
	if rows[1][0] != "Jane Doe" || rows[1][1] != "100" {
		t.Errorf("unexpected row: %q", rows[1])
	}
}

func TestHeadingLevel(t *testing.T) {
	tests := []struct {
		line string
		want int
	}{
		{"ARTICLE 4", 1},
		{"Schedule II", 1},
		{"3. Governing Law", 1},
		{"3.2 Notices", 2},
		{"DEFINITIONS AND INTERPRETATION", 1},
		{"Hello world", 0},
		{"3. The company shall keep a register.", 0},
		{"NAME: JANE DOE", 0},
		{"Governing law:", 2},
	}
	for _, tt := range tests {
		if got := headingLevel(tt.line); got != tt.want {
			t.Errorf("headingLevel(%q): expected %d, got %d", tt.line, tt.want, got)
		}
	}
}
