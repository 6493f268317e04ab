package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/compliance"
	"github.com/dgallion1/adgmcheck/internal/doctree"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/parser"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

// ErrBatchEmpty means no document survived extraction.
var ErrBatchEmpty = errors.New("batch empty: no usable documents")

// Recorder receives run outcomes for metrics.
type Recorder interface {
	RunFinished(status string, elapsed time.Duration)
	DocumentExcluded(reason string)
	AdvisoryDegraded(reason string)
}

type nopRecorder struct{}

func (nopRecorder) RunFinished(string, time.Duration) {}
func (nopRecorder) DocumentExcluded(string)           {}
func (nopRecorder) AdvisoryDegraded(string)           {}

// EngineOptions wires an Engine. Classifier, Checker and Verifier are required.
type EngineOptions struct {
	Classifier *classify.Classifier
	Checker    *compliance.Checker
	Verifier   *checklist.Verifier
	Index      *retrieval.Handle // Only read for the version recorded on results
	Parser     parser.Options
	Workers    int // Per-document concurrency; defaults to GOMAXPROCS
	Metrics    Recorder
	Logger     *slog.Logger
}

// Engine runs batches of documents through extraction, classification,
// checking, checklist aggregation and scoring. It keeps no state between
// runs and is safe for concurrent use.
type Engine struct {
	opts EngineOptions
	log  *slog.Logger
}

func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Classifier == nil || opts.Checker == nil || opts.Verifier == nil {
		return nil, fmt.Errorf("engine needs a classifier, checker and verifier")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{opts: opts, log: log}, nil
}

// Run analyzes inputs under a fresh run id.
func (e *Engine) Run(ctx context.Context, inputs []Input) (Result, error) {
	return e.Execute(ctx, NewRun(uuid.NewString(), len(inputs)), inputs)
}

// slot carries one document through the per-document stages.
type slot struct {
	id      string
	input   Input
	tree    *doctree.DocTree
	hash    string
	cls     classify.Classification
	outcome compliance.Outcome
	err     error
}

// Execute drives run through every stage. The returned result is a copy the
// caller owns. The error is ErrBatchEmpty or the context error when the run
// failed; per-document failures are reported as exclusions instead.
func (e *Engine) Execute(ctx context.Context, run *Run, inputs []Input) (Result, error) {
	log := e.log.With("run_id", run.ID)
	res := Result{
		RunID:        run.ID,
		StartedAt:    time.Now().UTC(),
		Exclusions:   []Exclusion{},
		IndexVersion: e.opts.Index.Version(),
	}

	fail := func(err error) (Result, error) {
		res.Status = StatusFailed
		res.Documents = []Document{}
		res.Error = err.Error()
		res.Checklist = checklist.Result{InferredProcess: checklist.Unknown}
		res.Recommendations = []string{}
		return e.finish(run, res, log), err
	}
	advance := func(status RunStatus) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := run.SetStatus(status); err != nil {
			return err
		}
		log.Info("run stage", "status", status, "documents", len(inputs))
		return nil
	}

	// Extracting
	if err := advance(StatusExtracting); err != nil {
		return fail(err)
	}
	if len(inputs) == 0 {
		return fail(ErrBatchEmpty)
	}
	slots := newSlots(inputs)
	if err := e.forEach(ctx, slots, func(ctx context.Context, s *slot) {
		s.tree, s.err = parser.Extract(s.input.Data, s.input.Name, e.opts.Parser)
		s.hash = ContentHashHex(s.input.Data)
		s.input.Data = nil
	}); err != nil {
		return fail(err)
	}
	slots = e.exclude(slots, &res, log)
	if len(slots) == 0 {
		return fail(ErrBatchEmpty)
	}

	// Classifying
	if err := advance(StatusClassifying); err != nil {
		return fail(err)
	}
	if err := e.forEach(ctx, slots, func(ctx context.Context, s *slot) {
		s.cls = e.opts.Classifier.Classify(s.id, s.tree)
	}); err != nil {
		return fail(err)
	}

	// Checking
	if err := advance(StatusChecking); err != nil {
		return fail(err)
	}
	if err := e.forEach(ctx, slots, func(ctx context.Context, s *slot) {
		s.outcome, s.err = e.opts.Checker.Check(ctx, s.id, s.tree, s.cls)
	}); err != nil {
		return fail(err)
	}
	for _, s := range slots {
		if s.err != nil {
			return fail(s.err)
		}
		if s.outcome.Advisory.Reason != "" {
			e.opts.Metrics.AdvisoryDegraded(s.outcome.Advisory.Reason)
		}
	}

	// Aggregating
	if err := advance(StatusAggregating); err != nil {
		return fail(err)
	}
	classes := make([]classify.Classification, len(slots))
	for i, s := range slots {
		classes[i] = s.cls
	}
	res.Checklist = e.opts.Verifier.Verify(classes)

	// Scoring
	if err := advance(StatusScoring); err != nil {
		return fail(err)
	}
	scores := make([]int, len(slots))
	res.Documents = make([]Document, len(slots))
	for i, s := range slots {
		issues := s.outcome.Issues
		if issues == nil {
			issues = []finding.Issue{}
		}
		scores[i] = Score(issues)
		res.Documents[i] = Document{
			ID:             s.id,
			Title:          s.tree.Title,
			ContentHash:    s.hash,
			Classification: s.cls,
			Issues:         issues,
			Score:          scores[i],
			Advisory:       s.outcome.Advisory,
		}
	}
	res.OverallScore = Overall(scores)
	res.Recommendations = Recommendations(res)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	res.Status = StatusComplete
	return e.finish(run, res, log), nil
}

func (e *Engine) finish(run *Run, res Result, log *slog.Logger) Result {
	res.CompletedAt = time.Now().UTC()
	if err := run.finish(res.Clone()); err != nil {
		log.Error("run already finished", "error", err)
	}
	e.opts.Metrics.RunFinished(string(res.Status), res.CompletedAt.Sub(res.StartedAt))
	log.Info("run finished",
		"status", res.Status,
		"documents", len(res.Documents),
		"excluded", len(res.Exclusions),
		"overall_score", res.OverallScore,
		"process", res.Checklist.InferredProcess,
	)
	return res.Clone()
}

// forEach runs fn over slots with bounded concurrency. fn records its own
// per-document errors on the slot; only cancellation stops the stage.
func (e *Engine) forEach(ctx context.Context, slots []*slot, fn func(context.Context, *slot)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, s := range slots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// exclude drops unparsable documents and repeats of earlier content, in
// input order, recording an exclusion for each.
func (e *Engine) exclude(slots []*slot, res *Result, log *slog.Logger) []*slot {
	kept := slots[:0]
	firstByHash := make(map[string]string)
	for _, s := range slots {
		switch {
		case s.err != nil:
			log.Warn("document excluded", "doc_id", s.id, "reason", ReasonUnparsable, "error", s.err)
			res.Exclusions = append(res.Exclusions, Exclusion{ID: s.id, Reason: ReasonUnparsable, Error: s.err.Error()})
			e.opts.Metrics.DocumentExcluded(ReasonUnparsable)
		case firstByHash[s.hash] != "":
			log.Info("document excluded", "doc_id", s.id, "reason", ReasonDuplicate, "duplicate_of", firstByHash[s.hash])
			res.Exclusions = append(res.Exclusions, Exclusion{ID: s.id, Reason: ReasonDuplicate, Error: "same content as " + firstByHash[s.hash]})
			e.opts.Metrics.DocumentExcluded(ReasonDuplicate)
		default:
			firstByHash[s.hash] = s.id
			kept = append(kept, s)
		}
	}
	return kept
}

// newSlots assigns each input a unique document id: its name, suffixed when
// the same name appears more than once.
func newSlots(inputs []Input) []*slot {
	seen := make(map[string]int, len(inputs))
	out := make([]*slot, len(inputs))
	for i, in := range inputs {
		id := in.Name
		if id == "" {
			id = fmt.Sprintf("document-%d", i+1)
		}
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		out[i] = &slot{id: id, input: in}
	}
	return out
}
