// Package store persists security labels and tracks their data-quality
// state. Labels arrive from ingestion collaborators; the sweep re-validates
// stored labels against the live coherence rules so drift in the COI catalog
// or rule bundles surfaces as flagged rows instead of silent bad grants.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arclight-labs/spifmark/pkg/label"
)

// ErrNotFound is returned when no label exists for a resource id.
var ErrNotFound = errors.New("label not found")

// defaultPageSize bounds List calls that pass a non-positive limit.
const defaultPageSize = 100

// StoredLabel couples a resource's label with its persistence and sweep
// state. SweptAt and SweepValid are nil until the first sweep touches the
// row.
type StoredLabel struct {
	ResourceID string               `json:"resource_id"`
	Label      *label.SecurityLabel `json:"label"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	SweptAt    *time.Time           `json:"swept_at,omitempty"`
	SweepValid *bool                `json:"sweep_valid,omitempty"`
}

// LabelStore is the persistence contract shared by the SQLite, Postgres and
// in-memory backends.
type LabelStore interface {
	// Put inserts or replaces the label for a resource.
	Put(ctx context.Context, resourceID string, l *label.SecurityLabel) error
	// Get returns the stored label, or ErrNotFound.
	Get(ctx context.Context, resourceID string) (*StoredLabel, error)
	// List returns up to limit labels with resource ids after afterID,
	// ordered by resource id. Pass "" to start from the beginning.
	List(ctx context.Context, afterID string, limit int) ([]*StoredLabel, error)
	// MarkSwept records a sweep verdict on the row, or ErrNotFound.
	MarkSwept(ctx context.Context, resourceID string, valid bool, at time.Time) error
	// Close releases the backing resources.
	Close() error
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}
