package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/config"
	"github.com/arclight-labs/spifmark/pkg/store"
)

// runSweepCmd implements `spifmark sweep`: one data-quality pass over every
// stored label, re-validated against the current coherence rules.
//
// Exit codes:
//
//	0 = sweep completed (invalid labels are findings, not failures)
//	1 = sweep could not run
//	2 = usage error
func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		driver      string
		dsn         string
		profilePath string
		pageSize    int
		jsonOutput  bool
	)

	cmd.StringVar(&driver, "driver", "", "Store driver: sqlite or postgres (default: postgres when DATABASE_URL is set)")
	cmd.StringVar(&dsn, "db", "", "SQLite path or Postgres URL (default: from environment)")
	cmd.StringVar(&profilePath, "profile", "", "Deployment profile YAML (default $SPIFMARK_PROFILE)")
	cmd.IntVar(&pageSize, "page", 0, "Labels per page")
	cmd.BoolVar(&jsonOutput, "json", false, "Print the full report as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	profile, err := loadProfile(cfg, profilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if driver == "" {
		driver = "sqlite"
		if cfg.DatabaseURL != "" {
			driver = "postgres"
		}
	}
	if dsn == "" {
		switch driver {
		case "postgres":
			dsn = cfg.DatabaseURL
		case "sqlite":
			dsn = cfg.SQLitePath
		}
	}
	if dsn == "" {
		_, _ = fmt.Fprintf(stderr, "Error: no %s store configured; set -db\n", driver)
		return 2
	}

	validator, err := buildValidator(cfg, profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	st, err := openLabelStore(ctx, driver, dsn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer st.Close()

	// Audit events go to stderr so -json output stays a single clean document.
	opts := []store.SweepOption{store.WithAuditor(audit.NewLoggerWithWriter(stderr))}
	if pageSize > 0 {
		opts = append(opts, store.WithPageSize(pageSize))
	} else if profile != nil && profile.Sweep.PageSize > 0 {
		opts = append(opts, store.WithPageSize(profile.Sweep.PageSize))
	}

	report, err := store.NewSweeper(st, validator, opts...).Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: sweep failed: %v\n", err)
		return 1
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	_, _ = fmt.Fprintf(stdout, "sweep %s: %d labels scanned, %d invalid\n",
		report.RunID, report.Scanned, report.Invalid)
	for _, v := range report.Violations {
		_, _ = fmt.Fprintf(stdout, "  %s  %s: %s\n", v.ResourceID, v.Rule, v.Message)
	}
	return 0
}
