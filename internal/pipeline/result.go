package pipeline

import (
	"time"

	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/compliance"
	"github.com/dgallion1/adgmcheck/internal/finding"
)

// Input is one raw document submitted to a run. Name is the source id and
// selects the parser by extension.
type Input struct {
	Name string
	Data []byte
}

// Exclusion reasons.
const (
	ReasonUnparsable = "unparsable"
	ReasonDuplicate  = "duplicate_content"
)

// Document is the full record for one analyzed document.
type Document struct {
	ID             string                     `json:"id"`
	Title          string                     `json:"title"`
	ContentHash    string                     `json:"content_hash"`
	Classification classify.Classification    `json:"type_classification"`
	Issues         []finding.Issue            `json:"issues"`
	Score          int                        `json:"score"`
	Advisory       compliance.AdvisoryOutcome `json:"advisory"`
}

// Exclusion records a document that did not make it into the result.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Result is the single object a run produces. Callers receive copies.
type Result struct {
	RunID           string           `json:"run_id"`
	Status          RunStatus        `json:"run_status"`
	Documents       []Document       `json:"per_document"`
	Exclusions      []Exclusion      `json:"exclusions"`
	Checklist       checklist.Result `json:"checklist"`
	OverallScore    float64          `json:"overall_score"`
	Recommendations []string         `json:"recommendations"`
	Error           string           `json:"error,omitempty"`
	IndexVersion    string           `json:"index_version,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
}

// Issues returns every issue across documents in document order.
func (r Result) Issues() []finding.Issue {
	var out []finding.Issue
	for _, d := range r.Documents {
		out = append(out, d.Issues...)
	}
	return out
}

// Clone returns a deep copy that shares no slices with r.
func (r Result) Clone() Result {
	out := r
	out.Documents = make([]Document, len(r.Documents))
	for i, d := range r.Documents {
		d.Issues = append([]finding.Issue{}, d.Issues...)
		d.Classification.MatchedSignals = cloneStrings(d.Classification.MatchedSignals)
		out.Documents[i] = d
	}
	out.Exclusions = append([]Exclusion{}, r.Exclusions...)
	out.Recommendations = append([]string{}, r.Recommendations...)
	c := r.Checklist
	c.RequiredDocuments = cloneStrings(c.RequiredDocuments)
	c.PresentDocuments = cloneStrings(c.PresentDocuments)
	c.MissingDocuments = cloneStrings(c.MissingDocuments)
	c.ExtraDocuments = cloneStrings(c.ExtraDocuments)
	c.RecommendedMissing = cloneStrings(c.RecommendedMissing)
	c.NextSteps = cloneStrings(c.NextSteps)
	out.Checklist = c
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}
