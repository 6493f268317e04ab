// Package retrieval finds corpus passages similar to a query in a
// precomputed embedding index.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrIndexUnavailable means no usable index is loaded. Callers degrade
// rather than fail.
var ErrIndexUnavailable = errors.New("evidence index unavailable")

// Passage is one retrieved corpus excerpt. Similarity is in [0,1].
type Passage struct {
	CorpusDocID string  `json:"corpus_doc_id"`
	Text        string  `json:"text"`
	Similarity  float64 `json:"similarity"`
}

// Index is a searchable, read-only embedding index.
type Index interface {
	// Version identifies the index build.
	Version() string
	// Model is the embedding model the index vectors were produced with.
	Model() string
	// Search returns at most k passages ordered by descending similarity.
	// Equal similarities break ties by CorpusDocID.
	Search(ctx context.Context, vector []float32, k int) ([]Passage, error)
}

// Embedder turns text into vectors.
type Embedder interface {
	Model() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Handle holds the current index. Readers always see a complete index;
// a rebuild is published with Swap.
type Handle struct {
	current atomic.Pointer[indexBox]
}

type indexBox struct{ idx Index }

// NewHandle returns a handle holding idx, which may be nil.
func NewHandle(idx Index) *Handle {
	h := &Handle{}
	if idx != nil {
		h.Swap(idx)
	}
	return h
}

// Current returns the loaded index or ErrIndexUnavailable.
func (h *Handle) Current() (Index, error) {
	if h == nil {
		return nil, ErrIndexUnavailable
	}
	box := h.current.Load()
	if box == nil || box.idx == nil {
		return nil, ErrIndexUnavailable
	}
	return box.idx, nil
}

// Swap publishes idx and returns the previous index (nil if none).
func (h *Handle) Swap(idx Index) Index {
	var box *indexBox
	if idx != nil {
		box = &indexBox{idx: idx}
	}
	old := h.current.Swap(box)
	if old == nil {
		return nil
	}
	return old.idx
}

// Version returns the loaded index version, or "" when none is loaded.
func (h *Handle) Version() string {
	idx, err := h.Current()
	if err != nil {
		return ""
	}
	return idx.Version()
}

// Retriever embeds queries and searches the current index.
type Retriever struct {
	handle   *Handle
	embedder Embedder
}

// NewRetriever returns a retriever over handle. A nil embedder makes every
// call report ErrIndexUnavailable.
func NewRetriever(handle *Handle, embedder Embedder) *Retriever {
	return &Retriever{handle: handle, embedder: embedder}
}

// Retrieve returns the k passages most similar to query. The same query
// against the same index version always returns the same passages.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if r == nil || r.embedder == nil {
		return nil, ErrIndexUnavailable
	}
	idx, err := r.handle.Current()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	if idx.Model() != "" && idx.Model() != r.embedder.Model() {
		return nil, fmt.Errorf("%w: index built with %q, queries embedded with %q",
			ErrIndexUnavailable, idx.Model(), r.embedder.Model())
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vecs))
	}
	return idx.Search(ctx, vecs[0], k)
}
