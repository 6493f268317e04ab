// Package advisory asks a language model to critique clauses against
// retrieved corpus evidence. It never decides compliance on its own: the
// compliance package merges its findings with the deterministic rule issues.
package advisory

import (
	"context"
	"errors"

	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

// ErrAnalysisFailed marks a critique that produced no usable answer.
var ErrAnalysisFailed = errors.New("advisory analysis failed")

// Request is one clause sent for critique.
type Request struct {
	DocumentID   string
	DocumentType string
	Location     finding.Location
	ClauseText   string
	Evidence     []retrieval.Passage
}

// Finding is one issue raised by a critic.
type Finding struct {
	Description string           `json:"description"`
	Severity    finding.Severity `json:"severity"`
	Suggestion  string           `json:"suggestion"`
}

// Critic reviews a clause and returns zero or more findings.
type Critic interface {
	Critique(ctx context.Context, req Request) ([]Finding, error)
}

// CriticFunc adapts a function to the Critic interface.
type CriticFunc func(ctx context.Context, req Request) ([]Finding, error)

func (f CriticFunc) Critique(ctx context.Context, req Request) ([]Finding, error) {
	return f(ctx, req)
}

// NopCritic never finds anything. It stands in when no model is configured.
type NopCritic struct{}

func (NopCritic) Critique(ctx context.Context, req Request) ([]Finding, error) {
	return nil, ctx.Err()
}
