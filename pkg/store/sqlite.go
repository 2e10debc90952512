package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arclight-labs/spifmark/pkg/label"

	_ "modernc.org/sqlite"
)

// SQLiteLabelStore persists labels in a single-file SQLite database. The
// label is stored as JSON with the classification extracted into its own
// column for indexed filtering.
type SQLiteLabelStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and runs the
// schema migration.
func OpenSQLite(path string) (*SQLiteLabelStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	s, err := NewSQLiteLabelStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteLabelStore(db *sql.DB) (*SQLiteLabelStore, error) {
	s := &SQLiteLabelStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteLabelStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS labels (
        resource_id TEXT PRIMARY KEY,
        classification TEXT NOT NULL,
        label JSON NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        swept_at DATETIME,
        sweep_valid INTEGER
    );
    CREATE INDEX IF NOT EXISTS idx_labels_classification ON labels(classification);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteLabelStore) Put(ctx context.Context, resourceID string, l *label.SecurityLabel) error {
	labelJSON, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal label: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `INSERT INTO labels (resource_id, classification, label, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(resource_id) DO UPDATE SET
            classification = excluded.classification,
            label = excluded.label,
            updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, resourceID, l.Classification, string(labelJSON), now, now); err != nil {
		return fmt.Errorf("failed to upsert label: %w", err)
	}
	return nil
}

func (s *SQLiteLabelStore) Get(ctx context.Context, resourceID string) (*StoredLabel, error) {
	query := `
        SELECT resource_id, label, created_at, updated_at, swept_at, sweep_valid
        FROM labels
        WHERE resource_id = ?
    `
	row := s.db.QueryRowContext(ctx, query, resourceID)
	sl, err := scanSQLiteRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sl, err
}

func (s *SQLiteLabelStore) List(ctx context.Context, afterID string, limit int) ([]*StoredLabel, error) {
	query := `
        SELECT resource_id, label, created_at, updated_at, swept_at, sweep_valid
        FROM labels
        WHERE resource_id > ?
        ORDER BY resource_id
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, afterID, pageSize(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*StoredLabel
	for rows.Next() {
		sl, err := scanSQLiteRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteLabelStore) MarkSwept(ctx context.Context, resourceID string, valid bool, at time.Time) error {
	query := `UPDATE labels SET swept_at = ?, sweep_valid = ? WHERE resource_id = ?`
	res, err := s.db.ExecContext(ctx, query, at.UTC().Format(time.RFC3339Nano), valid, resourceID)
	if err != nil {
		return fmt.Errorf("failed to mark swept: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteLabelStore) Close() error { return s.db.Close() }

func scanSQLiteRow(scan func(dest ...any) error) (*StoredLabel, error) {
	var (
		resourceID string
		labelJSON  string
		createdAt  string
		updatedAt  string
		sweptAt    sql.NullString
		sweepValid sql.NullBool
	)
	if err := scan(&resourceID, &labelJSON, &createdAt, &updatedAt, &sweptAt, &sweepValid); err != nil {
		return nil, err
	}

	var l label.SecurityLabel
	if err := json.Unmarshal([]byte(labelJSON), &l); err != nil {
		return nil, fmt.Errorf("corrupt label row %s: %w", resourceID, err)
	}

	sl := &StoredLabel{
		ResourceID: resourceID,
		Label:      &l,
		CreatedAt:  parseTime(createdAt),
		UpdatedAt:  parseTime(updatedAt),
	}
	if sweptAt.Valid && sweptAt.String != "" {
		t := parseTime(sweptAt.String)
		sl.SweptAt = &t
	}
	if sweepValid.Valid {
		v := sweepValid.Bool
		sl.SweepValid = &v
	}
	return sl, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
