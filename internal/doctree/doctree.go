package doctree

import "strings"

// DocTree is the structured content extracted from one document.
// It is immutable once a parser returns it.
type DocTree struct {
	Title          string     // Document title (from metadata or filename)
	Sections       []*Section // Top-level sections
	Tables         []Table    // Tables in document order
	SignatureBlock bool       // Set when a section ends with a name/title/date block
}

// Section is a headed, nestable unit of a document.
type Section struct {
	Heading  string
	Level    int // 1-based nesting depth
	Clauses  []Clause
	Children []*Section
}

// Clause is one paragraph of body text.
type Clause struct {
	Ref  string // "12.1", "(a)", or a positional "3.2"
	Text string
	Page int // Source page (0 if N/A)
}

// Table is an ordered list of rows of ordered cells.
type Table struct {
	Rows [][]string
}

// Located is a clause together with where it sits in the document.
type Located struct {
	Position int // 1-based document order across all sections
	Section  string
	Clause   Clause
}

// Chunk is a sized text segment with structural context, ready for embedding.
type Chunk struct {
	Text       string   // Chunk text content
	Index      int      // Sequence number within document
	Breadcrumb []string // Heading hierarchy, e.g. ["Articles", "Share Capital", "Transfers"]
	PageStart  int
	PageEnd    int
}

// Walk visits sections depth-first in document order.
func (t *DocTree) Walk(fn func(s *Section, breadcrumb []string)) {
	var visit func(s *Section, bc []string)
	visit = func(s *Section, bc []string) {
		path := append(append([]string(nil), bc...), s.Heading)
		fn(s, path)
		for _, c := range s.Children {
			visit(c, path)
		}
	}
	for _, s := range t.Sections {
		visit(s, nil)
	}
}

// Clauses flattens the tree into clauses in document order.
func (t *DocTree) Clauses() []Located {
	var out []Located
	t.Walk(func(s *Section, _ []string) {
		for _, c := range s.Clauses {
			out = append(out, Located{Position: len(out) + 1, Section: s.Heading, Clause: c})
		}
	})
	return out
}

// Text joins headings, clause text and table cells in document order.
func (t *DocTree) Text() string {
	var b strings.Builder
	write := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s)
	}
	t.Walk(func(s *Section, _ []string) {
		write(s.Heading)
		for _, c := range s.Clauses {
			write(c.Text)
		}
	})
	for _, tbl := range t.Tables {
		for _, row := range tbl.Rows {
			write(strings.Join(row, " | "))
		}
	}
	return b.String()
}

// Empty reports whether the tree carries no readable body content.
func (t *DocTree) Empty() bool {
	for _, l := range t.Clauses() {
		if strings.TrimSpace(l.Clause.Text) != "" {
			return false
		}
	}
	for _, tbl := range t.Tables {
		for _, row := range tbl.Rows {
			for _, cell := range row {
				if strings.TrimSpace(cell) != "" {
					return false
				}
			}
		}
	}
	return true
}

// SectionCount returns the number of sections at any depth.
func (t *DocTree) SectionCount() int {
	n := 0
	t.Walk(func(*Section, []string) { n++ })
	return n
}

// Headings returns every section heading in document order.
func (t *DocTree) Headings() []string {
	var out []string
	t.Walk(func(s *Section, _ []string) {
		if s.Heading != "" {
			out = append(out, s.Heading)
		}
	})
	return out
}
