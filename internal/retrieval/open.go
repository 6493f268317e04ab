package retrieval

import (
	"context"
	"fmt"
)

// Source says where to load an index from. The first configured source wins:
// snapshot file, then corpus service, then Postgres.
type Source struct {
	SnapshotPath string
	CorpusURL    string
	CorpusAPIKey string
	DatabaseURL  string
	Table        string
	Model        string // Embedding model of vectors stored in Postgres
	Dim          int
}

// Configured reports whether any source is set.
func (s Source) Configured() bool {
	return s.SnapshotPath != "" || s.CorpusURL != "" || s.DatabaseURL != ""
}

// Open loads an index from src. It returns ErrIndexUnavailable when no
// source is configured.
func Open(ctx context.Context, src Source) (Index, error) {
	switch {
	case src.SnapshotPath != "":
		idx, err := LoadSnapshotFile(src.SnapshotPath)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case src.CorpusURL != "":
		client := NewCorpusClient(src.CorpusURL, src.CorpusAPIKey)
		defer client.Close()
		snap, err := client.FetchSnapshot(ctx, "")
		if err != nil {
			return nil, err
		}
		idx, err := NewMemoryIndex(snap)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case src.DatabaseURL != "":
		table := src.Table
		if table == "" {
			table = "corpus_passages"
		}
		idx, err := OpenPG(ctx, PGConfig{
			ConnString: src.DatabaseURL,
			TableName:  table,
			VectorDim:  src.Dim,
			Version:    fmt.Sprintf("pg:%s", table),
			Model:      src.Model,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	return nil, ErrIndexUnavailable
}
