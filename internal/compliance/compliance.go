// Package compliance runs the rule engine and the optional advisory critic
// over one document and merges their issues.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgallion1/adgmcheck/internal/advisory"
	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/doctree"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
	"github.com/dgallion1/adgmcheck/internal/rules"
)

// Advisory status values reported per document.
const (
	AdvisoryApplied  = "applied"
	AdvisoryDisabled = "disabled"
	AdvisoryRuleOnly = "rule_only"
)

// Reasons a document fell back to rule-only.
const (
	ReasonIndex     = "index_unavailable"
	ReasonAdvisory  = "advisory_failed"
	ReasonNoClauses = "no_eligible_clauses"
)

const (
	DefaultEvidenceK  = 3
	DefaultMaxClauses = 12
	DefaultTimeout    = 90 * time.Second

	// MinClauseRunes is the shortest clause worth sending for critique.
	MinClauseRunes = 40
)

// AdvisoryOutcome says whether advisory findings contributed to a document.
type AdvisoryOutcome struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Clauses int    `json:"clauses"`
	Error   string `json:"error,omitempty"`
}

// Outcome is the merged result for one document.
type Outcome struct {
	Issues   []finding.Issue
	Advisory AdvisoryOutcome
}

// Config tunes the advisory path.
type Config struct {
	EvidenceK  int
	MaxClauses int
	Timeout    time.Duration // Per-document bound on all advisory calls
}

// Checker combines the rule engine with an optional retriever and critic.
type Checker struct {
	rules     *rules.Engine
	retriever *retrieval.Retriever
	critic    advisory.Critic
	config    Config
	log       *slog.Logger
}

// NewChecker builds a checker. A nil critic disables the advisory path. A
// nil retriever reports the index as unavailable, so documents come back
// rule-only.
func NewChecker(engine *rules.Engine, retriever *retrieval.Retriever, critic advisory.Critic, cfg Config, log *slog.Logger) *Checker {
	if cfg.EvidenceK <= 0 {
		cfg.EvidenceK = DefaultEvidenceK
	}
	if cfg.MaxClauses <= 0 {
		cfg.MaxClauses = DefaultMaxClauses
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checker{rules: engine, retriever: retriever, critic: critic, config: cfg, log: log}
}

// Check evaluates the rules for cls.Label and, when a critic is configured,
// asks it about the document's substantive clauses. Advisory failures never
// fail the check: the outcome falls back to rule issues and says why.
func (c *Checker) Check(ctx context.Context, docID string, tree *doctree.DocTree, cls classify.Classification) (Outcome, error) {
	ruleIssues, err := c.rules.Evaluate(docID, tree, cls.Label)
	if err != nil {
		c.log.Warn("rule evaluation incomplete", "doc_id", docID, "error", err)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	if c.critic == nil {
		return Outcome{Issues: Merge(ruleIssues, nil), Advisory: AdvisoryOutcome{Status: AdvisoryDisabled}}, nil
	}

	adv, outcome := c.advise(ctx, docID, tree, cls)
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if outcome.Status != AdvisoryApplied {
		adv = nil
	}
	return Outcome{Issues: Merge(ruleIssues, adv), Advisory: outcome}, nil
}

func (c *Checker) advise(ctx context.Context, docID string, tree *doctree.DocTree, cls classify.Classification) ([]finding.Issue, AdvisoryOutcome) {
	clauses := SelectClauses(tree, c.config.MaxClauses)
	if len(clauses) == 0 {
		return nil, AdvisoryOutcome{Status: AdvisoryRuleOnly, Reason: ReasonNoClauses}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var issues []finding.Issue
	for _, lc := range clauses {
		loc := finding.Location{Section: lc.Section, Clause: lc.Clause.Ref, Position: lc.Position}

		evidence, err := c.retriever.Retrieve(ctx, evidenceQuery(cls.Label, lc.Clause.Text), c.config.EvidenceK)
		if err != nil {
			reason := ReasonAdvisory
			if errors.Is(err, retrieval.ErrIndexUnavailable) {
				reason = ReasonIndex
			}
			c.log.Warn("advisory degraded", "doc_id", docID, "reason", reason, "error", err)
			return nil, AdvisoryOutcome{Status: AdvisoryRuleOnly, Reason: reason, Clauses: len(clauses), Error: err.Error()}
		}

		found, err := c.critic.Critique(ctx, advisory.Request{
			DocumentID:   docID,
			DocumentType: cls.Label,
			Location:     loc,
			ClauseText:   lc.Clause.Text,
			Evidence:     evidence,
		})
		if err != nil {
			if !errors.Is(err, advisory.ErrAnalysisFailed) {
				err = fmt.Errorf("%w: %w", advisory.ErrAnalysisFailed, err)
			}
			c.log.Warn("advisory degraded", "doc_id", docID, "reason", ReasonAdvisory, "error", err)
			return nil, AdvisoryOutcome{Status: AdvisoryRuleOnly, Reason: ReasonAdvisory, Clauses: len(clauses), Error: err.Error()}
		}

		var citation string
		if len(evidence) > 0 {
			citation = evidence[0].CorpusDocID
		}
		for _, f := range found {
			if !advisory.ValidateFinding(&f) {
				c.log.Warn("dropped invalid advisory finding", "doc_id", docID, "severity", f.Severity, "position", lc.Position)
				continue
			}
			issues = append(issues, finding.Issue{
				DocumentID:  docID,
				Location:    loc,
				Description: f.Description,
				Severity:    f.Severity,
				Source:      finding.SourceAdvisory,
				Citation:    citation,
				Suggestion:  f.Suggestion,
			})
		}
	}
	c.log.Debug("advisory applied", "doc_id", docID, "clauses", len(clauses), "issues", len(issues))
	return issues, AdvisoryOutcome{Status: AdvisoryApplied, Clauses: len(clauses)}
}

// SelectClauses picks up to limit clauses long enough to be worth a critique,
// in document order.
func SelectClauses(tree *doctree.DocTree, limit int) []doctree.Located {
	var out []doctree.Located
	for _, lc := range tree.Clauses() {
		if len(out) >= limit {
			break
		}
		if utf8.RuneCountInString(strings.TrimSpace(lc.Clause.Text)) < MinClauseRunes {
			continue
		}
		out = append(out, lc)
	}
	return out
}

func evidenceQuery(label, clause string) string {
	if label == "" || label == classify.Unknown {
		return clause
	}
	return label + ": " + clause
}
