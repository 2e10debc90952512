package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/coherence"
)

// SweepViolation ties one coherence violation to the stored resource it was
// found on.
type SweepViolation struct {
	ResourceID string `json:"resource_id"`
	Rule       string `json:"rule"`
	Message    string `json:"message"`
}

// SweepReport summarizes one sweep run.
type SweepReport struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Scanned    int              `json:"scanned"`
	Invalid    int              `json:"invalid"`
	Violations []SweepViolation `json:"violations,omitempty"`
}

// Sweeper re-validates every stored label against the live coherence rules
// and records the verdict on each row.
type Sweeper struct {
	store     LabelStore
	validator *coherence.Validator
	auditor   audit.Logger
	pageSize  int
	now       func() time.Time
}

// SweepOption configures a Sweeper.
type SweepOption func(*Sweeper)

// WithAuditor overrides the audit logger.
func WithAuditor(l audit.Logger) SweepOption {
	return func(s *Sweeper) { s.auditor = l }
}

// WithPageSize sets how many labels each List call fetches.
func WithPageSize(n int) SweepOption {
	return func(s *Sweeper) { s.pageSize = n }
}

// WithClock overrides the sweep timestamp source.
func WithClock(now func() time.Time) SweepOption {
	return func(s *Sweeper) { s.now = now }
}

func NewSweeper(store LabelStore, validator *coherence.Validator, opts ...SweepOption) *Sweeper {
	s := &Sweeper{
		store:     store,
		validator: validator,
		auditor:   audit.NewLogger(),
		pageSize:  defaultPageSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps the whole store once. Each scanned row gets its sweep verdict
// recorded; violations accumulate into the report. The run stops on the
// first store error or context cancellation.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{
		RunID:     uuid.New().String(),
		StartedAt: s.now().UTC(),
	}

	afterID := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("sweep %s aborted: %w", report.RunID, err)
		}

		page, err := s.store.List(ctx, afterID, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("sweep %s: list labels: %w", report.RunID, err)
		}
		if len(page) == 0 {
			break
		}

		for _, sl := range page {
			report.Scanned++
			verdict := s.validator.Validate(ctx, sl.Label)
			if !verdict.Valid {
				report.Invalid++
				for _, v := range verdict.Violations {
					report.Violations = append(report.Violations, SweepViolation{
						ResourceID: sl.ResourceID,
						Rule:       v.Rule,
						Message:    v.Message,
					})
				}
			}
			if err := s.store.MarkSwept(ctx, sl.ResourceID, verdict.Valid, s.now()); err != nil {
				return nil, fmt.Errorf("sweep %s: mark %s: %w", report.RunID, sl.ResourceID, err)
			}
		}
		afterID = page[len(page)-1].ResourceID
	}

	report.FinishedAt = s.now().UTC()

	if err := s.auditor.Record(ctx, audit.EventSweep, "run", "store", map[string]interface{}{
		"run_id":  report.RunID,
		"scanned": report.Scanned,
		"invalid": report.Invalid,
	}); err != nil {
		return report, fmt.Errorf("audit sweep: %w", err)
	}
	return report, nil
}
