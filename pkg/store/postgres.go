package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arclight-labs/spifmark/pkg/label"

	_ "github.com/lib/pq"
)

// PostgresLabelStore implements LabelStore using PostgreSQL. Unlike the
// SQLite backend the schema is not migrated in the constructor; call
// Migrate once at deploy time.
type PostgresLabelStore struct {
	db *sql.DB
}

func NewPostgresLabelStore(db *sql.DB) *PostgresLabelStore {
	return &PostgresLabelStore{db: db}
}

// Migrate creates the labels table and index if they do not exist.
func (s *PostgresLabelStore) Migrate(ctx context.Context) error {
	query := `
    CREATE TABLE IF NOT EXISTS labels (
        resource_id TEXT PRIMARY KEY,
        classification TEXT NOT NULL,
        label JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL,
        swept_at TIMESTAMPTZ,
        sweep_valid BOOLEAN
    );
    CREATE INDEX IF NOT EXISTS idx_labels_classification ON labels(classification);`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate labels table: %w", err)
	}
	return nil
}

func (s *PostgresLabelStore) Put(ctx context.Context, resourceID string, l *label.SecurityLabel) error {
	labelJSON, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal label: %w", err)
	}
	now := time.Now().UTC()

	query := `
        INSERT INTO labels (resource_id, classification, label, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (resource_id) DO UPDATE SET
            classification = EXCLUDED.classification,
            label = EXCLUDED.label,
            updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query, resourceID, l.Classification, string(labelJSON), now, now); err != nil {
		return fmt.Errorf("failed to upsert label: %w", err)
	}
	return nil
}

func (s *PostgresLabelStore) Get(ctx context.Context, resourceID string) (*StoredLabel, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT resource_id, label, created_at, updated_at, swept_at, sweep_valid FROM labels WHERE resource_id = $1",
		resourceID)

	sl, err := scanPostgresRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get label: %w", err)
	}
	return sl, nil
}

func (s *PostgresLabelStore) List(ctx context.Context, afterID string, limit int) ([]*StoredLabel, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT resource_id, label, created_at, updated_at, swept_at, sweep_valid FROM labels WHERE resource_id > $1 ORDER BY resource_id LIMIT $2",
		afterID, pageSize(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*StoredLabel
	for rows.Next() {
		sl, err := scanPostgresRow(rows.Scan)
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

func (s *PostgresLabelStore) MarkSwept(ctx context.Context, resourceID string, valid bool, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE labels SET swept_at = $1, sweep_valid = $2 WHERE resource_id = $3",
		at.UTC(), valid, resourceID)
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

func (s *PostgresLabelStore) Close() error { return s.db.Close() }

func scanPostgresRow(scan func(dest ...any) error) (*StoredLabel, error) {
	var (
		resourceID string
		labelJSON  []byte
		createdAt  time.Time
		updatedAt  time.Time
		sweptAt    sql.NullTime
		sweepValid sql.NullBool
	)
	if err := scan(&resourceID, &labelJSON, &createdAt, &updatedAt, &sweptAt, &sweepValid); err != nil {
		return nil, err
	}

	var l label.SecurityLabel
	if err := json.Unmarshal(labelJSON, &l); err != nil {
		return nil, fmt.Errorf("corrupt label row %s: %w", resourceID, err)
	}

	sl := &StoredLabel{
		ResourceID: resourceID,
		Label:      &l,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
	if sweptAt.Valid {
		t := sweptAt.Time
		sl.SweptAt = &t
	}
	if sweepValid.Valid {
		v := sweepValid.Bool
		sl.SweepValid = &v
	}
	return sl, nil
}
