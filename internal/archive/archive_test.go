package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/finding"
	"github.com/dgallion1/adgmcheck/internal/pipeline"
)

func openMemory(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func result(id string, started time.Time, score float64) pipeline.Result {
	return pipeline.Result{
		RunID:  id,
		Status: pipeline.StatusComplete,
		Documents: []pipeline.Document{{
			ID:    "agreement.txt",
			Score: 80,
			Issues: []finding.Issue{{
				DocumentID:  "agreement.txt",
				Severity:    finding.High,
				Source:      finding.SourceRule,
				Description: "Incorrect jurisdiction reference: 'Dubai Courts'",
			}},
		}},
		Exclusions:      []pipeline.Exclusion{},
		Checklist:       checklist.Result{InferredProcess: "Commercial Engagement"},
		OverallScore:    score,
		Recommendations: []string{"Review 1 high-priority issue(s)"},
		StartedAt:       started.UTC().Truncate(time.Millisecond),
		CompletedAt:     started.UTC().Truncate(time.Millisecond),
	}
}

func TestSaveAndGet(t *testing.T) {
	a := openMemory(t)
	ctx := context.Background()
	want := result("run-1", time.Now(), 80)

	require.NoError(t, a.Save(ctx, want))

	got, err := a.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, want.RunID, got.RunID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Documents, got.Documents)
	assert.Equal(t, want.Recommendations, got.Recommendations)
	assert.True(t, want.StartedAt.Equal(got.StartedAt))
}

func TestSave_Immutable(t *testing.T) {
	a := openMemory(t)
	ctx := context.Background()
	require.NoError(t, a.Save(ctx, result("run-1", time.Now(), 80)))

	err := a.Save(ctx, result("run-1", time.Now(), 10))
	require.ErrorIs(t, err, ErrExists)

	got, err := a.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.OverallScore)
}

func TestSave_RequiresRunID(t *testing.T) {
	a := openMemory(t)
	assert.Error(t, a.Save(context.Background(), pipeline.Result{}))
}

func TestGet_NotFound(t *testing.T) {
	a := openMemory(t)
	_, err := a.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	a := openMemory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.Save(ctx, result("old", base, 50)))
	require.NoError(t, a.Save(ctx, result("new", base.Add(time.Hour), 90)))

	got, err := a.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].RunID)
	assert.Equal(t, 90.0, got[0].OverallScore)
	assert.Equal(t, pipeline.StatusComplete, got[0].Status)
	assert.True(t, base.Add(time.Hour).Equal(got[0].CreatedAt))

	got, err = a.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestArchiveImplementsArchiver(t *testing.T) {
	var _ pipeline.Archiver = openMemory(t)
}
