// Package corpus builds reference-index snapshots from a directory of
// regulatory documents.
package corpus

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgallion1/adgmcheck/internal/chunker"
	"github.com/dgallion1/adgmcheck/internal/parser"
	"github.com/dgallion1/adgmcheck/internal/retrieval"
)

// File is one corpus document.
type File struct {
	Name string // Relative path, used to derive passage ids
	Data []byte
}

// Options controls a build.
type Options struct {
	Version   string // Defaults to a UTC timestamp
	Chunk     chunker.Config
	Parser    parser.Options
	BatchSize int // Passages per Embed call

	// Progress is called after each embedded batch with the passages done so far.
	Progress func(done, total int)
}

// Collect reads every supported document under dir, sorted by path.
func Collect(dir string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !parser.IsSupportedExtension(path) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		files = append(files, File{Name: filepath.ToSlash(rel), Data: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect corpus: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

type passage struct {
	id   string
	text string
}

// Build parses, chunks and embeds files into a snapshot. Unparsable files
// are skipped and returned by name.
func Build(ctx context.Context, files []File, emb retrieval.Embedder, opts Options) (retrieval.Snapshot, []string, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Version == "" {
		opts.Version = time.Now().UTC().Format("20060102T150405Z")
	}
	if opts.Chunk == (chunker.Config{}) {
		opts.Chunk = chunker.Config{ChunkSize: 400, ChunkOverlap: 50, MinChunk: 20}
	}

	var skipped []string
	var passages []passage
	for _, f := range files {
		tree, err := parser.Extract(f.Data, f.Name, opts.Parser)
		if err != nil {
			skipped = append(skipped, f.Name)
			continue
		}
		base := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		for _, c := range chunker.ChunkTree(tree, opts.Chunk) {
			text := c.Text
			if len(c.Breadcrumb) > 0 {
				text = strings.Join(c.Breadcrumb, " > ") + "\n" + text
			}
			passages = append(passages, passage{id: fmt.Sprintf("%s#%d", base, c.Index), text: text})
		}
	}

	snap := retrieval.Snapshot{
		Version:   opts.Version,
		Model:     emb.Model(),
		CreatedAt: time.Now().UTC(),
		Entries:   make([]retrieval.Entry, 0, len(passages)),
	}
	for start := 0; start < len(passages); start += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return retrieval.Snapshot{}, skipped, err
		}
		end := min(start+opts.BatchSize, len(passages))
		texts := make([]string, end-start)
		for i, p := range passages[start:end] {
			texts[i] = p.text
		}
		vecs, err := emb.Embed(ctx, texts)
		if err != nil {
			return retrieval.Snapshot{}, skipped, fmt.Errorf("embed passages %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return retrieval.Snapshot{}, skipped, fmt.Errorf("embedder returned %d vectors for %d passages", len(vecs), len(texts))
		}
		for i, p := range passages[start:end] {
			snap.Entries = append(snap.Entries, retrieval.Entry{CorpusDocID: p.id, Text: p.text, Vector: vecs[i]})
		}
		if opts.Progress != nil {
			opts.Progress(end, len(passages))
		}
	}
	if len(snap.Entries) > 0 {
		snap.Dim = len(snap.Entries[0].Vector)
	}
	return snap, skipped, nil
}
