package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGConfig configures the Postgres/pgvector index.
type PGConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	Version    string // Published index version, e.g. the snapshot version it was loaded from
	Model      string // Embedding model of the stored vectors
}

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// PGIndex searches corpus passages stored in a pgvector table.
type PGIndex struct {
	config PGConfig
	pool   *pgxpool.Pool
}

// OpenPG connects to Postgres and ensures the schema exists.
func OpenPG(ctx context.Context, cfg PGConfig) (*PGIndex, error) {
	if cfg.TableName == "" {
		cfg.TableName = "corpus_passages"
	}
	if !tableNamePattern.MatchString(cfg.TableName) {
		return nil, fmt.Errorf("invalid table name %q", cfg.TableName)
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 768 // nomic-embed-text
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	idx := &PGIndex{config: cfg, pool: pool}
	if err := idx.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *PGIndex) initialize(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			corpus_doc_id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding vector(%d)
		)`, p.config.TableName, p.config.VectorDim)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		p.config.TableName, p.config.TableName)
	if _, err := p.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (p *PGIndex) Version() string { return p.config.Version }
func (p *PGIndex) Model() string   { return p.config.Model }

// Search orders by cosine distance. pgvector's <=> is 1-cos, so similarity
// is 1 - distance/2.
func (p *PGIndex) Search(ctx context.Context, vector []float32, k int) ([]Passage, error) {
	query := fmt.Sprintf(`
		SELECT corpus_doc_id, content, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance, corpus_doc_id
		LIMIT $2`,
		p.config.TableName)

	rows, err := p.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("query passages: %w", err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var ps Passage
		var distance float64
		if err := rows.Scan(&ps.CorpusDocID, &ps.Text, &distance); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		ps.Similarity = clamp01(1 - distance/2)
		out = append(out, ps)
	}
	return out, rows.Err()
}

// Store upserts snapshot entries in one transaction.
func (p *PGIndex) Store(ctx context.Context, s Snapshot) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (corpus_doc_id, content, model, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (corpus_doc_id) DO UPDATE SET
			content = EXCLUDED.content,
			model = EXCLUDED.model,
			embedding = EXCLUDED.embedding`,
		p.config.TableName)

	batch := &pgx.Batch{}
	for _, e := range s.Entries {
		batch.Queue(stmt, e.CorpusDocID, sanitizeUTF8(e.Text), s.Model, pgvector.NewVector(e.Vector))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert passages: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (p *PGIndex) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
