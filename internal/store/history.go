package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Record struct {
	ID          string    `json:"id"`
	App         string    `json:"app"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
	Confidence  float64   `json:"confidence"`
	Tier        string    `json:"tier"`
	InputDigest string    `json:"input_digest"`
	CreatedAt   time.Time `json:"created_at"`
}

// History keeps served predictions in SQLite.
type History struct {
	db *sql.DB
}

func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id VARCHAR(36) NOT NULL UNIQUE,
        app VARCHAR(64) NOT NULL,
        label VARCHAR(128) NOT NULL,
        probability REAL,
        confidence REAL,
        tier VARCHAR(16),
        input_digest VARCHAR(64),
        created_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_app ON predictions(app, seq);
    `
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}

	return &History{db: db}, nil
}

func (h *History) Save(ctx context.Context, r Record) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO predictions (id, app, label, probability, confidence, tier, input_digest, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.App, r.Label, r.Probability, r.Confidence, r.Tier, r.InputDigest, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// List returns up to limit records for app, newest first.
func (h *History) List(ctx context.Context, app string, limit int) ([]Record, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, app, label, probability, confidence, tier, input_digest, created_at
         FROM predictions WHERE app = ? ORDER BY seq DESC LIMIT ?`, app, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.App, &r.Label, &r.Probability, &r.Confidence, &r.Tier, &r.InputDigest, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}
