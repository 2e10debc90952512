package store

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/coherence"
	"github.com/arclight-labs/spifmark/pkg/label"
)

func newTestSweeper(t *testing.T, s LabelStore, opts ...SweepOption) *Sweeper {
	t.Helper()
	validator, err := coherence.NewValidator(coherence.NewStaticCatalog("MARITIME", "CYBER"))
	require.NoError(t, err)
	base := []SweepOption{WithAuditor(audit.Discard), WithPageSize(2)}
	return NewSweeper(s, validator, append(base, opts...)...)
}

func TestSweeper_Run(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "doc-1", &label.SecurityLabel{
		Classification: "NATO SECRET",
		COI:            []label.COIID{"MARITIME"},
	}))
	require.NoError(t, s.Put(ctx, "doc-2", &label.SecurityLabel{
		Classification: "NATO CONFIDENTIAL",
	}))
	// Unregistered COI: fails the sweep.
	require.NoError(t, s.Put(ctx, "doc-3", &label.SecurityLabel{
		Classification: "NATO SECRET",
		COI:            []label.COIID{"SHADOW"},
	}))

	report, err := newTestSweeper(t, s).Run(ctx)
	require.NoError(t, err)

	assert.Len(t, report.RunID, 36)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 1, report.Invalid)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "doc-3", report.Violations[0].ResourceID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	good, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, good.SweepValid)
	assert.True(t, *good.SweepValid)
	assert.NotNil(t, good.SweptAt)

	bad, err := s.Get(ctx, "doc-3")
	require.NoError(t, err)
	require.NotNil(t, bad.SweepValid)
	assert.False(t, *bad.SweepValid)
}

func TestSweeper_EmptyStore(t *testing.T) {
	s := NewMemoryLabelStore()

	report, err := newTestSweeper(t, s).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, 0, report.Invalid)
	assert.Empty(t, report.Violations)
}

func TestSweeper_ReSweepUpdatesVerdict(t *testing.T) {
	s := NewMemoryLabelStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "doc-1", &label.SecurityLabel{
		Classification: "NATO SECRET",
		COI:            []label.COIID{"SHADOW"},
	}))

	sweeper := newTestSweeper(t, s)
	report, err := sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)

	// The label gets fixed; the next sweep clears the flag.
	require.NoError(t, s.Put(ctx, "doc-1", &label.SecurityLabel{
		Classification: "NATO SECRET",
		COI:            []label.COIID{"MARITIME"},
	}))
	report, err = sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Invalid)

	sl, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	require.NotNil(t, sl.SweepValid)
	assert.True(t, *sl.SweepValid)
}

func TestSweeper_EmitsAuditEvent(t *testing.T) {
	s := NewMemoryLabelStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "doc-1", &label.SecurityLabel{Classification: "NATO SECRET"}))

	var buf bytes.Buffer
	sweeper := newTestSweeper(t, s, WithAuditor(audit.NewLoggerWithWriter(&buf)))

	report, err := sweeper.Run(ctx)
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "AUDIT: "))
	assert.Contains(t, out, report.RunID)
	assert.Contains(t, out, `"type":"SWEEP"`)
}

func TestSweeper_CanceledContext(t *testing.T) {
	s := NewMemoryLabelStore()
	require.NoError(t, s.Put(context.Background(), "doc-1", &label.SecurityLabel{Classification: "NATO SECRET"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSweeper(t, s).Run(ctx)
	require.Error(t, err)
}

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryLabelStore()
	ctx := context.Background()

	original := &label.SecurityLabel{
		Classification: "NATO SECRET",
		COI:            []label.COIID{"MARITIME"},
	}
	require.NoError(t, s.Put(ctx, "doc-1", original))

	// Mutating the caller's label after Put must not change the store.
	original.Classification = "NATO UNCLASSIFIED"

	got, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "NATO SECRET", got.Label.Classification)

	// Mutating a read result must not change the store either.
	got.Label.COI[0] = "TAMPERED"
	again, err := s.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, label.COIID("MARITIME"), again.Label.COI[0])

	_, err = s.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}
