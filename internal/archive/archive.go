// Package archive stores finished run results in sqlite.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/adgmcheck/internal/pipeline"
)

//go:embed schema.sql
var schemaSQL string

var (
	ErrNotFound = errors.New("run not found")
	ErrExists   = errors.New("run already archived")
)

// Summary is one archived run without its full result.
type Summary struct {
	RunID        string             `json:"run_id"`
	Status       pipeline.RunStatus `json:"status"`
	OverallScore float64            `json:"overall_score"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Archive is a sqlite-backed run archive. It is safe for concurrent use.
type Archive struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive at path. Use ":memory:" for
// a throwaway archive.
func Open(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Save inserts res. A run is archived at most once.
func (a *Archive) Save(ctx context.Context, res pipeline.Result) error {
	if res.RunID == "" {
		return fmt.Errorf("archive: result has no run id")
	}
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	created := res.StartedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, overall_score, created_at, result_json) VALUES (?, ?, ?, ?, ?)`,
		res.RunID, string(res.Status), res.OverallScore, created.UnixMilli(), string(body),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: %s", ErrExists, res.RunID)
		}
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}
	return nil
}

// Get returns the archived result for runID.
func (a *Archive) Get(ctx context.Context, runID string) (pipeline.Result, error) {
	var body string
	err := a.db.QueryRowContext(ctx, `SELECT result_json FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.Result{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("query run %s: %w", runID, err)
	}
	var res pipeline.Result
	if err := json.Unmarshal([]byte(body), &res); err != nil {
		return pipeline.Result{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return res, nil
}

// List returns up to limit runs, newest first.
func (a *Archive) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT run_id, status, overall_score, created_at FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		var status string
		var created int64
		if err := rows.Scan(&s.RunID, &status, &s.OverallScore, &created); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Status = pipeline.RunStatus(status)
		s.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}
