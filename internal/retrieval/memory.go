package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Snapshot is the on-disk form of an index build.
type Snapshot struct {
	Version   string    `json:"version"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"entries"`
}

// Entry is one embedded corpus passage.
type Entry struct {
	CorpusDocID string    `json:"corpus_doc_id"`
	Text        string    `json:"text"`
	Vector      []float32 `json:"vector"`
}

// MemoryIndex is an exact cosine-similarity index held in memory.
type MemoryIndex struct {
	version string
	model   string
	dim     int
	entries []Entry
	norms   []float64
}

// NewMemoryIndex validates a snapshot and builds an index over it.
func NewMemoryIndex(s Snapshot) (*MemoryIndex, error) {
	if s.Version == "" {
		return nil, fmt.Errorf("snapshot has no version")
	}
	if s.Dim <= 0 && len(s.Entries) > 0 {
		s.Dim = len(s.Entries[0].Vector)
	}
	idx := &MemoryIndex{
		version: s.Version,
		model:   s.Model,
		dim:     s.Dim,
		entries: make([]Entry, len(s.Entries)),
		norms:   make([]float64, len(s.Entries)),
	}
	for i, e := range s.Entries {
		if len(e.Vector) != s.Dim {
			return nil, fmt.Errorf("entry %d (%s): dimension %d, want %d", i, e.CorpusDocID, len(e.Vector), s.Dim)
		}
		idx.entries[i] = e
		idx.norms[i] = norm(e.Vector)
	}
	return idx, nil
}

// ReadSnapshot decodes a JSON snapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// LoadSnapshotFile reads a snapshot file and builds an index from it.
func LoadSnapshotFile(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	s, err := ReadSnapshot(f)
	if err != nil {
		return nil, err
	}
	return NewMemoryIndex(s)
}

// WriteSnapshotFile writes s to path via a temp file and rename, so readers
// never observe a partial file.
func WriteSnapshotFile(path string, s Snapshot) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (m *MemoryIndex) Version() string { return m.version }
func (m *MemoryIndex) Model() string   { return m.model }

// Len returns the number of entries.
func (m *MemoryIndex) Len() int { return len(m.entries) }

// Search scores every entry. Similarity is (1+cosine)/2.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int) ([]Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, fmt.Errorf("query dimension %d, index dimension %d", len(vector), m.dim)
	}
	qn := norm(vector)

	type scored struct {
		i   int
		sim float64
	}
	all := make([]scored, len(m.entries))
	for i, e := range m.entries {
		all[i] = scored{i: i, sim: similarity(vector, e.Vector, qn, m.norms[i])}
	}
	sort.SliceStable(all, func(a, b int) bool {
		if all[a].sim != all[b].sim {
			return all[a].sim > all[b].sim
		}
		return m.entries[all[a].i].CorpusDocID < m.entries[all[b].i].CorpusDocID
	})

	if k > len(all) {
		k = len(all)
	}
	out := make([]Passage, k)
	for j := 0; j < k; j++ {
		e := m.entries[all[j].i]
		out[j] = Passage{CorpusDocID: e.CorpusDocID, Text: e.Text, Similarity: all[j].sim}
	}
	return out, nil
}

func similarity(a, b []float32, na, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0.5
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	cos := dot / (na * nb)
	return clamp01((1 + cos) / 2)
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
