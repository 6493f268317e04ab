// Package classify assigns a document-type label from weighted keyword signals.
package classify

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/dgallion1/adgmcheck/internal/doctree"
	"gopkg.in/yaml.v3"
)

// Unknown is the label for documents no signal table matches well enough.
const Unknown = "Unknown"

// DefaultMinConfidence is used when a table does not set min_confidence.
const DefaultMinConfidence = 0.3

//go:embed signals.yaml
var defaultTable []byte

// Classification is the label chosen for one document.
type Classification struct {
	DocumentID     string   `json:"document_id"`
	Label          string   `json:"label"`
	Confidence     float64  `json:"confidence"`
	MatchedSignals []string `json:"matched_signals,omitempty"`
}

// Ranked is one candidate label with its confidence.
type Ranked struct {
	Label          string
	Confidence     float64
	Priority       int
	MatchedSignals []string
}

// Signal is a weighted pattern that suggests a label.
type Signal struct {
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`

	re *regexp.Regexp
}

// LabelSignals holds the signals for one label.
type LabelSignals struct {
	Label    string   `yaml:"label"`
	Priority int      `yaml:"priority"`
	Signals  []Signal `yaml:"signals"`

	total float64
}

// Table is the full weight table.
type Table struct {
	MinConfidence float64        `yaml:"min_confidence"`
	Labels        []LabelSignals `yaml:"labels"`
}

// Classifier ranks labels for a document. It is safe for concurrent use.
type Classifier struct {
	table Table
}

// Default returns a classifier over the embedded weight table.
func Default() (*Classifier, error) {
	return Parse(defaultTable)
}

// Load reads a weight table from path, or the embedded table when path is empty.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier table: %w", err)
	}
	return Parse(data)
}

// Parse builds a classifier from YAML.
func Parse(data []byte) (*Classifier, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse classifier table: %w", err)
	}
	return New(t)
}

// New validates and compiles a table.
func New(t Table) (*Classifier, error) {
	if t.MinConfidence <= 0 {
		t.MinConfidence = DefaultMinConfidence
	}
	if len(t.Labels) == 0 {
		return nil, fmt.Errorf("classifier table has no labels")
	}
	seen := make(map[string]bool, len(t.Labels))
	for i := range t.Labels {
		ls := &t.Labels[i]
		if ls.Label == "" || ls.Label == Unknown {
			return nil, fmt.Errorf("label %d: invalid label %q", i, ls.Label)
		}
		if seen[ls.Label] {
			return nil, fmt.Errorf("label %q declared twice", ls.Label)
		}
		seen[ls.Label] = true
		if len(ls.Signals) == 0 {
			return nil, fmt.Errorf("label %q has no signals", ls.Label)
		}
		for j := range ls.Signals {
			sig := &ls.Signals[j]
			if sig.Weight <= 0 {
				return nil, fmt.Errorf("label %q signal %q: weight must be positive", ls.Label, sig.Name)
			}
			re, err := regexp.Compile(`(?i)` + sig.Pattern)
			if err != nil {
				return nil, fmt.Errorf("label %q signal %q: %w", ls.Label, sig.Name, err)
			}
			sig.re = re
			ls.total += sig.Weight
		}
	}
	return &Classifier{table: t}, nil
}

// Labels returns every label the classifier can emit, excluding Unknown.
func (c *Classifier) Labels() []string {
	out := make([]string, len(c.table.Labels))
	for i, ls := range c.table.Labels {
		out[i] = ls.Label
	}
	return out
}

// Rank scores every label against the document text. Results are ordered by
// confidence, then priority, then label name, so equal inputs always give
// equal output.
func (c *Classifier) Rank(tree *doctree.DocTree) []Ranked {
	text := tree.Title + "\n" + tree.Text()
	out := make([]Ranked, 0, len(c.table.Labels))
	for _, ls := range c.table.Labels {
		var matched float64
		var names []string
		for _, sig := range ls.Signals {
			if sig.re.MatchString(text) {
				matched += sig.Weight
				names = append(names, sig.Name)
			}
		}
		sort.Strings(names)
		out = append(out, Ranked{
			Label:          ls.Label,
			Confidence:     matched / ls.total,
			Priority:       ls.Priority,
			MatchedSignals: names,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Classify returns the top-ranked label, or Unknown with zero confidence
// when no label reaches the minimum confidence.
func (c *Classifier) Classify(docID string, tree *doctree.DocTree) Classification {
	ranked := c.Rank(tree)
	if len(ranked) == 0 || ranked[0].Confidence < c.table.MinConfidence {
		return Classification{DocumentID: docID, Label: Unknown}
	}
	top := ranked[0]
	return Classification{
		DocumentID:     docID,
		Label:          top.Label,
		Confidence:     top.Confidence,
		MatchedSignals: top.MatchedSignals,
	}
}
