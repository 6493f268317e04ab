package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/adgmcheck/internal/advisory"
	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/classify"
	"github.com/dgallion1/adgmcheck/internal/compliance"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
	"github.com/dgallion1/adgmcheck/internal/rules"
)

const dubaiAgreement = `SERVICES AGREEMENT

This Services Agreement is made between Alpha Ltd and Beta Ltd (the Parties).

1. Services

Alpha shall provide consulting services to Beta.

2. Termination

Either party may terminate this agreement on 30 days written notice.

3. Governing Law

This Agreement is governed by the laws of the Emirate of Dubai and the parties submit to the exclusive jurisdiction of the Dubai Courts.`

const articles = `ARTICLES OF ASSOCIATION

1. Company Name

The name of the company is Example Holdings Ltd.

2. Share Capital

The share capital of the Company is USD 1,000 divided into 1,000 ordinary shares.

3. General Meetings

General meetings shall be held annually.`

const memorandum = `MEMORANDUM OF ASSOCIATION

1. Objects

The objects of the company are to carry on business as a holding company.

2. Liability

The liability of the members is limited.`

const boardResolution = `BOARD RESOLUTION

At a meeting of the directors it was resolved that the company be incorporated in the Abu Dhabi Global Market.`

type recorder struct {
	runs     atomic.Int32
	excluded atomic.Int32
	degraded atomic.Int32
	status   atomic.Value
}

func (r *recorder) RunFinished(status string, _ time.Duration) {
	r.runs.Add(1)
	r.status.Store(status)
}
func (r *recorder) DocumentExcluded(string) { r.excluded.Add(1) }
func (r *recorder) AdvisoryDegraded(string) { r.degraded.Add(1) }

func newEngine(t *testing.T, retriever *retrieval.Retriever, critic advisory.Critic, index *retrieval.Handle, rec Recorder) *Engine {
	t.Helper()
	cls, err := classify.Default()
	require.NoError(t, err)
	rl, err := rules.Default()
	require.NoError(t, err)
	ver, err := checklist.Default()
	require.NoError(t, err)
	e, err := NewEngine(EngineOptions{
		Classifier: cls,
		Checker:    compliance.NewChecker(rl, retriever, critic, compliance.Config{}, nil),
		Verifier:   ver,
		Index:      index,
		Workers:    2,
		Metrics:    rec,
	})
	require.NoError(t, err)
	return e
}

func corpusHandle(t *testing.T, version string) (*retrieval.Handle, retrieval.Embedder) {
	t.Helper()
	emb := retrieval.HashEmbedder{Dim: 64}
	text := "the adgm courts have exclusive jurisdiction over civil and commercial claims"
	vecs, err := emb.Embed(context.Background(), []string{text})
	require.NoError(t, err)
	idx, err := retrieval.NewMemoryIndex(retrieval.Snapshot{
		Version: version,
		Model:   emb.Model(),
		Dim:     64,
		Entries: []retrieval.Entry{{CorpusDocID: "adgm-courts-reg-13", Text: text, Vector: vecs[0]}},
	})
	require.NoError(t, err)
	return retrieval.NewHandle(idx), emb
}

func bySeverity(issues []finding.Issue, s finding.Severity) []finding.Issue {
	var out []finding.Issue
	for _, is := range issues {
		if is.Severity == s {
			out = append(out, is)
		}
	}
	return out
}

func TestNewEngine_RequiresStages(t *testing.T) {
	_, err := NewEngine(EngineOptions{})
	assert.Error(t, err)
}

func TestRun_DubaiJurisdiction(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, nil, nil, nil, rec)

	res, err := e.Run(context.Background(), []Input{{Name: "agreement.txt", Data: []byte(dubaiAgreement)}})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	assert.Equal(t, "agreement.txt", doc.ID)
	assert.Equal(t, "Commercial Agreement", doc.Classification.Label)
	high := bySeverity(doc.Issues, finding.High)
	require.Len(t, high, 1)
	assert.Equal(t, finding.SourceRule, high[0].Source)
	assert.Equal(t, "forbidden_jurisdiction", high[0].CheckID)
	assert.Less(t, doc.Score, 100)
	assert.Equal(t, compliance.AdvisoryDisabled, doc.Advisory.Status)

	assert.Equal(t, "Commercial Engagement", res.Checklist.InferredProcess)
	assert.InDelta(t, float64(doc.Score), res.OverallScore, 1e-9)
	assert.NotEmpty(t, res.Recommendations)
	assert.False(t, res.CompletedAt.Before(res.StartedAt))
	assert.Equal(t, int32(1), rec.runs.Load())
	assert.Equal(t, string(StatusComplete), rec.status.Load())
}

func TestRun_IncorporationMissingRegister(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)

	res, err := e.Run(context.Background(), []Input{
		{Name: "aoa.txt", Data: []byte(articles)},
		{Name: "moa.txt", Data: []byte(memorandum)},
		{Name: "resolution.txt", Data: []byte(boardResolution)},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 3)
	assert.Equal(t, "Articles of Association", res.Documents[0].Classification.Label)
	assert.Equal(t, "Memorandum of Association", res.Documents[1].Classification.Label)
	assert.Equal(t, "Board Resolution", res.Documents[2].Classification.Label)

	assert.Equal(t, "Company Incorporation", res.Checklist.InferredProcess)
	assert.Equal(t, []string{"Register of Members and Directors"}, res.Checklist.MissingDocuments)
	assert.InDelta(t, 75.0, res.Checklist.Completeness, 1e-9)
	assert.False(t, res.Checklist.Complete())
	assert.Equal(t, "Missing 1 required document(s) for Company Incorporation", res.Recommendations[0])
}

func TestRun_RetrieverUnavailableIsRuleOnly(t *testing.T) {
	var calls atomic.Int32
	critic := advisory.CriticFunc(func(ctx context.Context, req advisory.Request) ([]advisory.Finding, error) {
		calls.Add(1)
		return []advisory.Finding{{Description: "should not appear", Severity: finding.Low}}, nil
	})
	rec := &recorder{}
	retriever := retrieval.NewRetriever(retrieval.NewHandle(nil), retrieval.HashEmbedder{Dim: 64})
	e := newEngine(t, retriever, critic, nil, rec)

	res, err := e.Run(context.Background(), []Input{{Name: "agreement.txt", Data: []byte(dubaiAgreement)}})
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, res.Status)
	require.Len(t, res.Documents, 1)

	doc := res.Documents[0]
	assert.Equal(t, compliance.AdvisoryRuleOnly, doc.Advisory.Status)
	assert.Equal(t, compliance.ReasonIndex, doc.Advisory.Reason)
	for _, is := range doc.Issues {
		assert.Equal(t, finding.SourceRule, is.Source)
	}
	assert.Zero(t, calls.Load())
	assert.Equal(t, int32(1), rec.degraded.Load())
	assert.Empty(t, res.IndexVersion)
}

func TestRun_AdvisoryFindingsMerged(t *testing.T) {
	handle, emb := corpusHandle(t, "v7")
	critic := advisory.CriticFunc(func(ctx context.Context, req advisory.Request) ([]advisory.Finding, error) {
		if req.Location.Section != "3. Governing Law" {
			return nil, nil
		}
		return []advisory.Finding{{
			Description: "Dispute resolution clause names no seat of arbitration",
			Severity:    finding.Medium,
			Suggestion:  "Name the ADGM as the seat",
		}}, nil
	})
	e := newEngine(t, retrieval.NewRetriever(handle, emb), critic, handle, nil)

	res, err := e.Run(context.Background(), []Input{{Name: "agreement.txt", Data: []byte(dubaiAgreement)}})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	assert.Equal(t, compliance.AdvisoryApplied, doc.Advisory.Status)
	assert.Equal(t, "v7", res.IndexVersion)

	var advisoryIssues []finding.Issue
	for _, is := range doc.Issues {
		if is.Source == finding.SourceAdvisory {
			advisoryIssues = append(advisoryIssues, is)
		}
	}
	require.Len(t, advisoryIssues, 1)
	assert.Equal(t, "adgm-courts-reg-13", advisoryIssues[0].Citation)
	// Issues are ordered by severity, so the rule High issue precedes it.
	assert.Equal(t, finding.High, doc.Issues[0].Severity)
}

func TestRun_AllUnparsableFails(t *testing.T) {
	rec := &recorder{}
	e := newEngine(t, nil, nil, nil, rec)

	res, err := e.Run(context.Background(), []Input{
		{Name: "a.exe", Data: []byte("MZ")},
		{Name: "b.bin", Data: []byte{0, 1, 2}},
	})
	require.ErrorIs(t, err, ErrBatchEmpty)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Documents)
	assert.NotNil(t, res.Documents)
	require.Len(t, res.Exclusions, 2)
	assert.Equal(t, ReasonUnparsable, res.Exclusions[0].Reason)
	assert.Equal(t, "a.exe", res.Exclusions[0].ID)
	assert.Equal(t, checklist.Unknown, res.Checklist.InferredProcess)
	assert.Equal(t, ErrBatchEmpty.Error(), res.Error)
	assert.Equal(t, int32(2), rec.excluded.Load())
	assert.Equal(t, string(StatusFailed), rec.status.Load())
}

func TestRun_NoInputsFails(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrBatchEmpty)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRun_PartialUnparsableContinues(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), []Input{
		{Name: "scan.exe", Data: []byte("MZ")},
		{Name: "agreement.txt", Data: []byte(dubaiAgreement)},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "agreement.txt", res.Documents[0].ID)
	require.Len(t, res.Exclusions, 1)
	assert.Equal(t, "scan.exe", res.Exclusions[0].ID)
}

func TestRun_DuplicateContentExcluded(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), []Input{
		{Name: "a.txt", Data: []byte(dubaiAgreement)},
		{Name: "copy.txt", Data: []byte(dubaiAgreement)},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "a.txt", res.Documents[0].ID)
	require.Len(t, res.Exclusions, 1)
	assert.Equal(t, Exclusion{ID: "copy.txt", Reason: ReasonDuplicate, Error: "same content as a.txt"}, res.Exclusions[0])
}

func TestRun_SameNameGetsUniqueIDs(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	res, err := e.Run(context.Background(), []Input{
		{Name: "doc.txt", Data: []byte(articles)},
		{Name: "doc.txt", Data: []byte(memorandum)},
		{Data: []byte(boardResolution)},
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "doc.txt", res.Documents[0].ID)
	assert.Equal(t, "doc.txt#2", res.Documents[1].ID)
	require.Len(t, res.Exclusions, 1)
	assert.Equal(t, "document-3", res.Exclusions[0].ID, "a nameless input has no parser")
}

func TestRun_CancelledContextFails(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := NewRun("cancelled", 1)
	res, err := e.Execute(ctx, run, []Input{{Name: "a.txt", Data: []byte(dubaiAgreement)}})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Documents)
	assert.Equal(t, StatusFailed, run.Status)
}

func TestRun_CriticCancellationFailsRun(t *testing.T) {
	handle, emb := corpusHandle(t, "v1")
	ctx, cancel := context.WithCancel(context.Background())
	critic := advisory.CriticFunc(func(ctx context.Context, req advisory.Request) ([]advisory.Finding, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newEngine(t, retrieval.NewRetriever(handle, emb), critic, handle, nil)

	res, err := e.Run(ctx, []Input{{Name: "agreement.txt", Data: []byte(dubaiAgreement)}})
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestExecute_ResultIsDeepCopy(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	run := NewRun("copy", 1)

	res, err := e.Execute(context.Background(), run, []Input{{Name: "agreement.txt", Data: []byte(dubaiAgreement)}})
	require.NoError(t, err)
	require.NotEmpty(t, res.Documents[0].Issues)
	want := res.Documents[0].Issues[0].Description

	res.Documents[0].Issues[0].Description = "mutated"
	res.Recommendations[0] = "mutated"
	res.Checklist.RequiredDocuments[0] = "mutated"

	stored, ok := run.Result()
	require.True(t, ok)
	assert.Equal(t, want, stored.Documents[0].Issues[0].Description)
	assert.NotEqual(t, "mutated", stored.Recommendations[0])
	assert.NotEqual(t, "mutated", stored.Checklist.RequiredDocuments[0])
	assert.Equal(t, StatusComplete, run.Snapshot().Status)
}

func TestExecute_Deterministic(t *testing.T) {
	e := newEngine(t, nil, nil, nil, nil)
	inputs := []Input{
		{Name: "aoa.txt", Data: []byte(articles)},
		{Name: "agreement.txt", Data: []byte(dubaiAgreement)},
	}
	first, err := e.Run(context.Background(), inputs)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), inputs)
	require.NoError(t, err)

	assert.Equal(t, first.Documents, second.Documents)
	assert.Equal(t, first.Checklist, second.Checklist)
	assert.Equal(t, first.Recommendations, second.Recommendations)
}
