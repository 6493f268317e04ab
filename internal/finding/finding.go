// Package finding defines the issue model shared by the rule engine, the
// advisory critic and the aggregator.
package finding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Severity ranks how serious an issue is.
type Severity string

const (
	Critical Severity = "Critical"
	High     Severity = "High"
	Medium   Severity = "Medium"
	Low      Severity = "Low"
)

// Severities lists every severity from most to least serious.
var Severities = []Severity{Critical, High, Medium, Low}

// Rank orders severities: 0 is most serious. Unknown values sort last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// Weight is the score deduction for one issue of this severity.
func (s Severity) Weight() int {
	switch s {
	case Critical:
		return 40
	case High:
		return 20
	case Medium:
		return 10
	case Low:
		return 5
	}
	return 0
}

// Valid reports whether s is one of the four severities.
func (s Severity) Valid() bool {
	return s.Rank() < len(Severities)
}

// ParseSeverity accepts any casing of a known severity.
func ParseSeverity(v string) (Severity, error) {
	v = strings.TrimSpace(v)
	for _, s := range Severities {
		if strings.EqualFold(string(s), v) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", v)
}

// UnmarshalYAML lets rule tables write severities in any case.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts any casing of a known severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Source records which path produced an issue.
type Source string

const (
	SourceRule     Source = "Rule"
	SourceAdvisory Source = "Advisory"
)

// Location points at a place in a document. Position is the 1-based clause
// order used for sorting; document-level issues use Position 0.
type Location struct {
	Section  string `json:"section,omitempty"`
	Clause   string `json:"clause,omitempty"`
	Position int    `json:"position"`
}

// DocumentLevel is the location of issues that concern the whole document.
var DocumentLevel = Location{Section: "Document"}

// String renders the location for humans.
func (l Location) String() string {
	switch {
	case l.Section != "" && l.Clause != "":
		return l.Section + " / " + l.Clause
	case l.Section != "":
		return l.Section
	case l.Clause != "":
		return l.Clause
	}
	return "Document"
}

// Issue is a single compliance finding. Issues are append-only.
type Issue struct {
	DocumentID  string   `json:"document_id"`
	Location    Location `json:"location"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Source      Source   `json:"source"`
	Citation    string   `json:"citation,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
	CheckID     string   `json:"check_id,omitempty"`
}

// Key identifies issues that describe the same problem in the same place.
// Position separates clauses that share a ref within one section, such as
// two "(a)" items; document-level issues all have Position 0.
type Key struct {
	DocumentID  string
	Section     string
	Clause      string
	Position    int
	Description string
}

// Key returns the dedupe key for the issue.
func (i Issue) Key() Key {
	return Key{
		DocumentID:  i.DocumentID,
		Section:     i.Location.Section,
		Clause:      i.Location.Clause,
		Position:    i.Location.Position,
		Description: NormalizeDescription(i.Description),
	}
}

// NormalizeDescription lower-cases and collapses whitespace.
func NormalizeDescription(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Counts tallies issues by severity.
func Counts(issues []Issue) map[Severity]int {
	out := make(map[Severity]int, len(Severities))
	for _, is := range issues {
		out[is.Severity]++
	}
	return out
}
