// Package rules evaluates the declarative compliance check table against
// structured document content.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/doctree"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/parser"
)

//go:embed rules.yaml
var defaultTable []byte

// Kind is the closed set of check kinds.
type Kind string

const (
	RegexPresence      Kind = "regex_presence"
	RegexAbsence       Kind = "regex_absence"
	StructuralPresence Kind = "structural_presence"
)

// Structure names what a structural_presence check looks for.
type Structure string

const (
	StructContent           Structure = "content"
	StructSignatureBlock    Structure = "signature_block"
	StructSignatureReadable Structure = "signature_readable"
	StructTables            Structure = "tables"
	StructNumberedSections  Structure = "numbered_sections"
)

// matchTimeout bounds a single pattern evaluation.
const matchTimeout = 2 * time.Second

// Check is one declarative rule.
type Check struct {
	ID          string           `yaml:"id"`
	Kind        Kind             `yaml:"kind"`
	Pattern     string           `yaml:"pattern,omitempty"`
	Structure   Structure        `yaml:"structure,omitempty"`
	MinMatches  int              `yaml:"min_matches,omitempty"`
	Severity    finding.Severity `yaml:"severity"`
	Section     string           `yaml:"section"`
	Description string           `yaml:"description"`
	Suggestion  string           `yaml:"suggestion,omitempty"`
	Citation    string           `yaml:"citation,omitempty"`
	Suppresses  []string         `yaml:"suppresses,omitempty"`

	re *regexp2.Regexp
}

// Table is the rule table keyed by document-type label.
type Table struct {
	Universal []Check            `yaml:"universal"`
	Common    []Check            `yaml:"common"`
	Types     map[string][]Check `yaml:"types"`
}

// Engine evaluates a compiled table. It holds no per-document state and is
// safe for concurrent use.
type Engine struct {
	table Table
}

// Default returns an engine over the embedded rule table.
func Default() (*Engine, error) {
	return Parse(defaultTable)
}

// Load reads a rule table from path, or the embedded table when path is empty.
func Load(path string) (*Engine, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	return Parse(data)
}

// Parse builds an engine from YAML.
func Parse(data []byte) (*Engine, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	return New(t)
}

// New validates and compiles every check in the table.
func New(t Table) (*Engine, error) {
	compile := func(scope string, checks []Check) ([]Check, error) {
		out := make([]Check, len(checks))
		seen := make(map[string]bool, len(checks))
		for i, c := range checks {
			if err := c.compile(); err != nil {
				return nil, fmt.Errorf("%s check %d (%s): %w", scope, i, c.ID, err)
			}
			if seen[c.ID] {
				return nil, fmt.Errorf("%s: duplicate check id %q", scope, c.ID)
			}
			seen[c.ID] = true
			out[i] = c
		}
		return out, nil
	}

	var err error
	compiled := Table{Types: make(map[string][]Check, len(t.Types))}
	if compiled.Universal, err = compile("universal", t.Universal); err != nil {
		return nil, err
	}
	if compiled.Common, err = compile("common", t.Common); err != nil {
		return nil, err
	}
	for label, checks := range t.Types {
		if label == classify.Unknown {
			return nil, fmt.Errorf("type checks cannot target %q; use universal", classify.Unknown)
		}
		if compiled.Types[label], err = compile(label, checks); err != nil {
			return nil, err
		}
	}
	return &Engine{table: compiled}, nil
}

func (c *Check) compile() error {
	if c.ID == "" {
		return errors.New("missing id")
	}
	if !c.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", c.Severity)
	}
	if c.Description == "" {
		return errors.New("missing description")
	}
	switch c.Kind {
	case RegexPresence, RegexAbsence:
		if c.Pattern == "" {
			return fmt.Errorf("%s needs a pattern", c.Kind)
		}
		re, err := regexp2.Compile(c.Pattern, regexp2.IgnoreCase|regexp2.Multiline)
		if err != nil {
			return fmt.Errorf("compile pattern: %w", err)
		}
		re.MatchTimeout = matchTimeout
		c.re = re
	case StructuralPresence:
		switch c.Structure {
		case StructContent, StructSignatureBlock, StructSignatureReadable, StructTables, StructNumberedSections:
		default:
			return fmt.Errorf("unknown structure %q", c.Structure)
		}
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	if c.MinMatches < 1 {
		c.MinMatches = 1
	}
	return nil
}

// Types lists the labels that have type-specific checks.
func (e *Engine) Types() []string {
	out := make([]string, 0, len(e.table.Types))
	for label := range e.table.Types {
		out = append(out, label)
	}
	return out
}

// ChecksFor returns the ordered checks that apply to a label.
func (e *Engine) ChecksFor(label string) []Check {
	checks := append([]Check(nil), e.table.Universal...)
	if label == classify.Unknown || label == "" {
		return checks
	}
	checks = append(checks, e.table.Common...)
	return append(checks, e.table.Types[label]...)
}

// Evaluate runs every applicable check in declared order and returns the
// issues found. Pattern evaluation errors (timeouts) are returned joined
// alongside whatever issues the remaining checks produced.
func (e *Engine) Evaluate(docID string, tree *doctree.DocTree, label string) ([]finding.Issue, error) {
	doc := newDocument(tree)
	var issues []finding.Issue
	var errs []error
	suppressed := make(map[string]bool)

	for _, c := range e.ChecksFor(label) {
		if suppressed[c.ID] {
			continue
		}
		issue, fired, err := c.evaluate(doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("check %s: %w", c.ID, err))
			continue
		}
		if !fired {
			continue
		}
		issue.DocumentID = docID
		issues = append(issues, issue)
		for _, id := range c.Suppresses {
			suppressed[id] = true
		}
	}
	return issues, errors.Join(errs...)
}

// document caches the views of a tree the checks need.
type document struct {
	tree    *doctree.DocTree
	text    string
	clauses []doctree.Located
}

func newDocument(tree *doctree.DocTree) *document {
	return &document{
		tree:    tree,
		text:    tree.Title + "\n" + tree.Text(),
		clauses: tree.Clauses(),
	}
}

func (c *Check) issue(loc finding.Location, match string) finding.Issue {
	desc := c.Description
	if strings.Contains(desc, "{match}") {
		desc = strings.ReplaceAll(desc, "{match}", truncate(strings.Join(strings.Fields(match), " "), 80))
	}
	return finding.Issue{
		Location:    loc,
		Description: desc,
		Severity:    c.Severity,
		Source:      finding.SourceRule,
		Citation:    c.Citation,
		Suggestion:  c.Suggestion,
		CheckID:     c.ID,
	}
}

func (c *Check) documentLocation() finding.Location {
	if c.Section == "" {
		return finding.DocumentLevel
	}
	return finding.Location{Section: c.Section}
}

func (c *Check) evaluate(doc *document) (finding.Issue, bool, error) {
	switch c.Kind {
	case RegexPresence:
		ok, err := c.re.MatchString(doc.text)
		if err != nil || ok {
			return finding.Issue{}, false, err
		}
		return c.issue(c.documentLocation(), ""), true, nil

	case RegexAbsence:
		first, count, err := c.matches(doc.text)
		if err != nil || count < c.MinMatches {
			return finding.Issue{}, false, err
		}
		loc, err := c.locate(doc)
		if err != nil {
			return finding.Issue{}, false, err
		}
		return c.issue(loc, first), true, nil

	case StructuralPresence:
		if c.structurePresent(doc) {
			return finding.Issue{}, false, nil
		}
		return c.issue(c.documentLocation(), ""), true, nil
	}
	return finding.Issue{}, false, fmt.Errorf("unknown kind %q", c.Kind)
}

// matches returns the first match and the total match count in text.
func (c *Check) matches(text string) (string, int, error) {
	m, err := c.re.FindStringMatch(text)
	if err != nil || m == nil {
		return "", 0, err
	}
	first := m.String()
	count := 0
	for m != nil {
		count++
		if m, err = c.re.FindNextMatch(m); err != nil {
			return "", 0, err
		}
	}
	return first, count, nil
}

// locate returns the first clause the pattern matches on its own, falling
// back to the check's section when the match spans clauses or headings.
func (c *Check) locate(doc *document) (finding.Location, error) {
	for _, l := range doc.clauses {
		ok, err := c.re.MatchString(l.Clause.Text)
		if err != nil {
			return finding.Location{}, err
		}
		if ok {
			return finding.Location{Section: l.Section, Clause: l.Clause.Ref, Position: l.Position}, nil
		}
	}
	return c.documentLocation(), nil
}

func (c *Check) structurePresent(doc *document) bool {
	switch c.Structure {
	case StructContent:
		return !doc.tree.Empty()
	case StructSignatureBlock:
		return doc.tree.SignatureBlock
	case StructSignatureReadable:
		return doc.tree.SignatureBlock || !parser.HasSignatureMarker(doc.text)
	case StructTables:
		return len(doc.tree.Tables) > 0
	case StructNumberedSections:
		return numberingConsistent(doc.tree)
	}
	return true
}

// numberingConsistent reports whether at least half of the body headings are
// numbered. Documents with fewer than three headings are not judged.
func numberingConsistent(tree *doctree.DocTree) bool {
	var headings []string
	for _, h := range tree.Headings() {
		if h != doctree.PreambleHeading {
			headings = append(headings, h)
		}
	}
	if len(headings) < 3 {
		return true
	}
	numbered := 0
	for _, h := range headings {
		if doctree.ClauseRef(h) != "" || markerHeading(h) {
			numbered++
		}
	}
	return numbered*2 >= len(headings)
}

func markerHeading(h string) bool {
	for _, prefix := range []string{"article ", "section ", "part ", "schedule ", "chapter "} {
		if strings.HasPrefix(strings.ToLower(h), prefix) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
