package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIndex(t *testing.T, version string, docs map[string]string) *MemoryIndex {
	t.Helper()
	emb := HashEmbedder{Dim: 64}
	snap := Snapshot{Version: version, Model: emb.Model(), Dim: 64}
	for _, id := range sortedKeys(docs) {
		vecs, err := emb.Embed(context.Background(), []string{docs[id]})
		require.NoError(t, err)
		snap.Entries = append(snap.Entries, Entry{CorpusDocID: id, Text: docs[id], Vector: vecs[0]})
	}
	idx, err := NewMemoryIndex(snap)
	require.NoError(t, err)
	return idx
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var corpus = map[string]string{
	"companies-regs-art6":  "the adgm courts have jurisdiction over disputes relating to companies",
	"employment-regs-s14":  "an employer must pay wages to an employee at intervals not exceeding one month",
	"data-protection-s4":   "personal data must be processed lawfully fairly and transparently",
	"beneficial-ownership": "a company must maintain a register of beneficial owners holding twenty five percent",
}

func TestRetrieve_ReturnsMostSimilarFirst(t *testing.T) {
	idx := buildIndex(t, "v1", corpus)
	r := NewRetriever(NewHandle(idx), HashEmbedder{Dim: 64})

	got, err := r.Retrieve(context.Background(), "which courts have jurisdiction over company disputes", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "companies-regs-art6", got[0].CorpusDocID)
	assert.GreaterOrEqual(t, got[0].Similarity, got[1].Similarity)
	for _, p := range got {
		assert.GreaterOrEqual(t, p.Similarity, 0.0)
		assert.LessOrEqual(t, p.Similarity, 1.0)
	}
}

func TestRetrieve_Deterministic(t *testing.T) {
	idx := buildIndex(t, "v1", corpus)
	r := NewRetriever(NewHandle(idx), HashEmbedder{Dim: 64})

	first, err := r.Retrieve(context.Background(), "wages paid monthly", 3)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Retrieve(context.Background(), "wages paid monthly", 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSearch_TiesBreakByCorpusDocID(t *testing.T) {
	vec := []float32{1, 0}
	idx, err := NewMemoryIndex(Snapshot{Version: "v", Dim: 2, Entries: []Entry{
		{CorpusDocID: "b", Vector: vec},
		{CorpusDocID: "a", Vector: vec},
		{CorpusDocID: "c", Vector: []float32{0, 1}},
	}})
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), vec, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].CorpusDocID, got[1].CorpusDocID, got[2].CorpusDocID})
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.InDelta(t, 0.5, got[2].Similarity, 1e-9)
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	idx := buildIndex(t, "v1", corpus)
	got, err := idx.Search(context.Background(), make([]float32, 64), 50)
	require.NoError(t, err)
	assert.Len(t, got, len(corpus))
}

func TestRetrieve_UnavailableWithoutIndex(t *testing.T) {
	r := NewRetriever(NewHandle(nil), HashEmbedder{})
	_, err := r.Retrieve(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	var nilRetriever *Retriever
	_, err = nilRetriever.Retrieve(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestRetrieve_ModelMismatchIsUnavailable(t *testing.T) {
	idx := buildIndex(t, "v1", corpus)
	r := NewRetriever(NewHandle(idx), HashEmbedder{Dim: 32})
	_, err := r.Retrieve(context.Background(), "anything", 3)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestHandle_SwapIsAtomic(t *testing.T) {
	v1 := buildIndex(t, "v1", corpus)
	v2 := buildIndex(t, "v2", corpus)
	h := NewHandle(v1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				idx, err := h.Current()
				if err != nil {
					t.Error(err)
					return
				}
				if v := idx.Version(); v != "v1" && v != "v2" {
					t.Errorf("unexpected version %q", v)
				}
			}
		}()
	}
	old := h.Swap(v2)
	wg.Wait()

	assert.Equal(t, "v1", old.Version())
	assert.Equal(t, "v2", h.Version())

	h.Swap(nil)
	_, err := h.Current()
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestNewMemoryIndex_RejectsBadSnapshots(t *testing.T) {
	_, err := NewMemoryIndex(Snapshot{})
	assert.Error(t, err)

	_, err = NewMemoryIndex(Snapshot{Version: "v", Dim: 3, Entries: []Entry{{CorpusDocID: "x", Vector: []float32{1}}}})
	assert.Error(t, err)
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	snap := Snapshot{Version: "2025-01", Model: "m", Dim: 2, Entries: []Entry{{CorpusDocID: "a", Text: "t", Vector: []float32{0.6, 0.8}}}}
	require.NoError(t, WriteSnapshotFile(path, snap))

	idx, err := LoadSnapshotFile(path)
	require.NoError(t, err)
	assert.Equal(t, "2025-01", idx.Version())
	assert.Equal(t, 1, idx.Len())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be renamed away")
}

func TestCorpusClient_FetchSnapshot(t *testing.T) {
	snap := Snapshot{Version: "v7", Model: "m", Dim: 1, Entries: []Entry{{CorpusDocID: "a", Vector: []float32{1}}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/snapshots/latest":
			json.NewEncoder(w).Encode(snap)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewCorpusClient(srv.URL, "secret")
	defer c.Close()

	got, err := c.FetchSnapshot(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "v7", got.Version)

	_, err = c.FetchSnapshot(context.Background(), "v0")
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	bad := NewCorpusClient(srv.URL, "wrong")
	_, err = bad.FetchSnapshot(context.Background(), "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrIndexUnavailable))
}

func TestOpen_NoSourceIsUnavailable(t *testing.T) {
	_, err := Open(context.Background(), Source{})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.False(t, Source{}.Configured())
}

func TestOpen_PostgresWhenConfigured(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	emb := HashEmbedder{Dim: 64}
	idx, err := OpenPG(ctx, PGConfig{ConnString: dsn, TableName: "test_corpus_passages", VectorDim: 64, Model: emb.Model(), Version: "test"})
	require.NoError(t, err)
	defer idx.Close()

	mem := buildIndex(t, "v1", corpus)
	snap := Snapshot{Version: "v1", Model: emb.Model(), Dim: 64, Entries: mem.entries}
	require.NoError(t, idx.Store(ctx, snap))

	r := NewRetriever(NewHandle(idx), emb)
	got, err := r.Retrieve(ctx, "which courts have jurisdiction over company disputes", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "companies-regs-art6", got[0].CorpusDocID)
}

func TestHashEmbedder_Normalized(t *testing.T) {
	vecs, err := HashEmbedder{Dim: 16}.Embed(context.Background(), []string{"register of members", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-6)
	assert.Zero(t, norm(vecs[1]))
}
