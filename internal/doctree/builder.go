package doctree

import (
	"fmt"
	"regexp"
	"strings"
)

// PreambleHeading names the section that holds text appearing before the first heading.
const PreambleHeading = "Preamble"

var clauseRefPattern = regexp.MustCompile(`^(?:(\d+(?:\.\d+)*)\.?|\(([a-z]{1,3}|\d{1,3})\))\s+`)

// Builder assembles a DocTree from a stream of headings, paragraphs and tables.
// Heading levels are source levels (h1..h6, numbering depth); the builder maps
// them onto nesting depth so a skipped level never leaves a gap.
type Builder struct {
	tree     *DocTree
	stack    []stackEntry
	sections int
}

type stackEntry struct {
	section *Section
	level   int
	ordinal int
}

// NewBuilder starts a tree with the given title.
func NewBuilder(title string) *Builder {
	return &Builder{tree: &DocTree{Title: title}}
}

// Heading opens a new section at the given source level.
func (b *Builder) Heading(level int, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if level < 1 {
		level = 1
	}
	// Pop stack until we find a parent with lower level.
	for len(b.stack) > 0 && b.stack[len(b.stack)-1].level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	b.push(&Section{Heading: text, Level: len(b.stack) + 1}, level)
}

func (b *Builder) push(s *Section, level int) {
	b.sections++
	if len(b.stack) == 0 {
		b.tree.Sections = append(b.tree.Sections, s)
	} else {
		parent := b.stack[len(b.stack)-1].section
		parent.Children = append(parent.Children, s)
	}
	b.stack = append(b.stack, stackEntry{section: s, level: level, ordinal: b.sections})
}

// Paragraph appends a clause to the innermost open section.
func (b *Builder) Paragraph(text string, page int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if len(b.stack) == 0 {
		b.push(&Section{Heading: PreambleHeading, Level: 1}, 1)
	}
	top := b.stack[len(b.stack)-1]
	ref := ClauseRef(text)
	if ref == "" {
		ref = fmt.Sprintf("%d.%d", top.ordinal, len(top.section.Clauses)+1)
	}
	top.section.Clauses = append(top.section.Clauses, Clause{Ref: ref, Text: text, Page: page})
}

// Table records a table. Empty rows are dropped; a table with no rows is ignored.
func (b *Builder) Table(rows [][]string) {
	var kept [][]string
	for _, row := range rows {
		var cells []string
		blank := true
		for _, c := range row {
			c = strings.TrimSpace(c)
			if c != "" {
				blank = false
			}
			cells = append(cells, c)
		}
		if !blank {
			kept = append(kept, cells)
		}
	}
	if len(kept) == 0 {
		return
	}
	b.tree.Tables = append(b.tree.Tables, Table{Rows: kept})
}

// Tree returns the assembled tree.
func (b *Builder) Tree() *DocTree {
	return b.tree
}

// ClauseRef returns the leading clause number of text ("12.1", "(a)"), or "".
func ClauseRef(text string) string {
	m := clauseRefPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return "(" + m[2] + ")"
}
