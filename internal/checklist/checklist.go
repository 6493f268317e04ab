// Package checklist infers which ADGM process a batch of documents belongs
// to and reports the required documents that are missing.
package checklist

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/adgmcheck/internal/classify"
)

// Unknown is the inferred process when no signature overlaps enough.
const Unknown = "Unknown"

// DefaultMinOverlap is used when a table leaves min_overlap unset.
const DefaultMinOverlap = 0.4

//go:embed processes.yaml
var defaultTable []byte

// Process is the document signature of one filing process.
type Process struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Anchors     []string `yaml:"anchors"`
	Required    []string `yaml:"required"`
	Recommended []string `yaml:"recommended"`
	NextSteps   []string `yaml:"next_steps"`
}

// Table is the YAML form of the process signatures.
type Table struct {
	MinOverlap float64   `yaml:"min_overlap"`
	Processes  []Process `yaml:"processes"`
}

// Result is the checklist outcome for one batch. Document sets are sorted
// and never nil, so an unknown process serializes as empty lists.
type Result struct {
	InferredProcess    string   `json:"inferred_process"`
	Confidence         float64  `json:"confidence"`
	RequiredDocuments  []string `json:"required_documents"`
	PresentDocuments   []string `json:"present_documents"`
	MissingDocuments   []string `json:"missing_documents"`
	ExtraDocuments     []string `json:"extra_documents"`
	RecommendedMissing []string `json:"recommended_missing"`
	Completeness       float64  `json:"completeness_percentage"`
	Description        string   `json:"description,omitempty"`
	NextSteps          []string `json:"next_steps,omitempty"`
}

// Complete reports whether a known process has every required document.
func (r Result) Complete() bool {
	return r.InferredProcess != Unknown && len(r.MissingDocuments) == 0
}

// Verifier matches label sets against process signatures.
type Verifier struct {
	table Table
}

// Default returns a verifier over the embedded process table.
func Default() (*Verifier, error) {
	return Parse(defaultTable)
}

// Load reads a process table from path, or the embedded table when path is empty.
func Load(path string) (*Verifier, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read process table: %w", err)
	}
	return Parse(data)
}

// Parse builds a verifier from YAML.
func Parse(data []byte) (*Verifier, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse process table: %w", err)
	}
	return New(t)
}

// New validates a table.
func New(t Table) (*Verifier, error) {
	if t.MinOverlap <= 0 {
		t.MinOverlap = DefaultMinOverlap
	}
	if t.MinOverlap > 1 {
		return nil, fmt.Errorf("min_overlap %.2f must be at most 1", t.MinOverlap)
	}
	if len(t.Processes) == 0 {
		return nil, fmt.Errorf("process table has no processes")
	}
	seen := make(map[string]bool, len(t.Processes))
	for i, p := range t.Processes {
		if p.Name == "" || p.Name == Unknown {
			return nil, fmt.Errorf("process %d: invalid name %q", i, p.Name)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("process %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if len(p.Anchors) == 0 {
			return nil, fmt.Errorf("process %q has no anchors", p.Name)
		}
		if len(p.Required) == 0 {
			return nil, fmt.Errorf("process %q has no required documents", p.Name)
		}
	}
	return &Verifier{table: t}, nil
}

// Processes returns the configured process names in table order.
func (v *Verifier) Processes() []string {
	out := make([]string, len(v.table.Processes))
	for i, p := range v.table.Processes {
		out[i] = p.Name
	}
	return out
}

// OverlapRatio is the fraction of p's anchors found in labels.
func OverlapRatio(p Process, labels map[string]bool) float64 {
	anchors := dedupe(p.Anchors)
	if len(anchors) == 0 {
		return 0
	}
	matched := 0
	for _, a := range anchors {
		if labels[a] {
			matched++
		}
	}
	return float64(matched) / float64(len(anchors))
}

// Infer picks the process with the highest overlap. Ties go to the process
// with more required documents, then to the earlier name. It returns false
// when no process reaches the minimum overlap.
func (v *Verifier) Infer(labels map[string]bool) (Process, float64, bool) {
	best := -1
	var bestRatio float64
	for i, p := range v.table.Processes {
		r := OverlapRatio(p, labels)
		if r < v.table.MinOverlap {
			continue
		}
		if best < 0 || better(p, r, v.table.Processes[best], bestRatio) {
			best, bestRatio = i, r
		}
	}
	if best < 0 {
		return Process{}, 0, false
	}
	return v.table.Processes[best], bestRatio, true
}

func better(p Process, r float64, q Process, qr float64) bool {
	if r != qr {
		return r > qr
	}
	if len(p.Required) != len(q.Required) {
		return len(p.Required) > len(q.Required)
	}
	return p.Name < q.Name
}

// Verify infers the process for a batch and lists what it is missing.
func (v *Verifier) Verify(classifications []classify.Classification) Result {
	labels := make(map[string]bool)
	for _, c := range classifications {
		if c.Label != "" && c.Label != classify.Unknown {
			labels[c.Label] = true
		}
	}
	present := keys(labels)

	p, ratio, ok := v.Infer(labels)
	if !ok {
		return Result{
			InferredProcess:    Unknown,
			RequiredDocuments:  []string{},
			PresentDocuments:   present,
			MissingDocuments:   []string{},
			ExtraDocuments:     []string{},
			RecommendedMissing: []string{},
		}
	}

	required := dedupe(p.Required)
	expected := make(map[string]bool)
	missing := []string{}
	for _, d := range required {
		expected[d] = true
		if !labels[d] {
			missing = append(missing, d)
		}
	}
	recMissing := []string{}
	for _, d := range dedupe(p.Recommended) {
		expected[d] = true
		if !labels[d] {
			recMissing = append(recMissing, d)
		}
	}
	extra := []string{}
	for _, d := range present {
		if !expected[d] {
			extra = append(extra, d)
		}
	}
	sort.Strings(missing)
	sort.Strings(recMissing)

	return Result{
		InferredProcess:    p.Name,
		Confidence:         ratio,
		RequiredDocuments:  sorted(required),
		PresentDocuments:   present,
		MissingDocuments:   missing,
		ExtraDocuments:     extra,
		RecommendedMissing: recMissing,
		Completeness:       100 * float64(len(required)-len(missing)) / float64(len(required)),
		Description:        p.Description,
		NextSteps:          append([]string(nil), p.NextSteps...),
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
