package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/arclight-labs/spifmark/pkg/api"
	"github.com/arclight-labs/spifmark/pkg/audit"
	"github.com/arclight-labs/spifmark/pkg/config"
	"github.com/arclight-labs/spifmark/pkg/decision"
	"github.com/arclight-labs/spifmark/pkg/distrib"
	"github.com/arclight-labs/spifmark/pkg/equivalency"
	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/observability"
	"github.com/arclight-labs/spifmark/pkg/spif"
	"github.com/arclight-labs/spifmark/pkg/store"
)

const watchDebounce = 500 * time.Millisecond

// runServeCmd wires the whole engine and serves the marking API until
// SIGINT/SIGTERM.
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = runtime failure (policy unloadable, port taken)
//	2 = configuration error
func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var profilePath string
	cmd.StringVar(&profilePath, "profile", "", "Deployment profile YAML (default $SPIFMARK_PROFILE)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger := newLogger(stderr, cfg.LogLevel)

	profile, err := loadProfile(cfg, profilePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if profile != nil {
		logger.Info("deployment profile loaded", "name", profile.Name, "site", profile.Site)
	}

	// Equivalency map. Built once; immutable for the process lifetime.
	table, err := loadEquivalencyTable(profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	eqMap, report, err := equivalency.Build(table, equivalency.DefaultCanonicalMap(), equivalency.EnglishCountries())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: build equivalency map: %v\n", err)
		return 1
	}
	logger.Info("equivalency map ready",
		"table", table.Name, "version", table.Version,
		"countries", report.Countries, "terms", report.Terms,
		"conflicts", len(report.Conflicts))

	validator, err := buildValidator(cfg, profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	auditor := audit.NewLogger()

	dopts := []decision.Option{
		decision.WithAuditor(auditor),
		decision.WithPolicyRef(table.Name + "/" + table.Version),
	}
	if profile != nil && profile.Authority != "" {
		dopts = append(dopts, decision.WithAuthority(label.ParseCountryCode(profile.Authority)))
	}
	point, err := decision.NewPoint(eqMap, validator, dopts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Warn("observability disabled", "error", err)
		provider = nil
	}
	if provider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("observability shutdown", "error", err)
			}
		}()
	}

	// Policy source. A profile's policy path wins over the SPIF_* env vars.
	var (
		source  spif.Source
		fileSrc *spif.FileSource
		srcName string
	)
	if profile != nil && profile.PolicyPath != "" {
		fileSrc = spif.NewFileSource(profile.PolicyPath)
		source = fileSrc
		srcName = "file:" + profile.PolicyPath
	} else {
		source, err = spif.NewSourceFromEnv(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if fs, ok := source.(*spif.FileSource); ok {
			fileSrc = fs
			srcName = "file:" + fs.Path()
		} else {
			srcName = fmt.Sprintf("%T", source)
		}
	}

	loader := spif.NewLoader(source,
		spif.WithLogger(logger),
		spif.WithSwapHook(func(m *spif.PolicyModel) {
			if provider != nil {
				provider.RecordPolicyLoad(ctx, observability.PolicyOperation(m.PolicyName, m.Version, srcName)...)
			}
		}),
	)

	// Fail fast: a policy that will not load is a deployment defect, not
	// something to limp past with a substitute.
	model, err := loader.Policy(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: security policy is not loadable: %v\n", err)
		return 1
	}

	sopts := []api.ServerOption{api.WithLogger(logger)}
	if provider != nil {
		sopts = append(sopts, api.WithObservability(provider))
	}
	if profile != nil && profile.Releasability.Mode == "allowlist" {
		sopts = append(sopts, api.WithReleasabilityGate(profile.ReleasableTo))
	}
	srv, err := api.NewServer(loader, validator, point, eqMap.Export(table.Name, table.Version), sopts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if cfg.WatchPolicy {
		if fileSrc == nil {
			logger.Warn("policy watching requested but the source is not a file")
		} else {
			watcher, err := spif.WatchFile(loader, fileSrc, watchDebounce, logger)
			if err != nil {
				logger.Warn("policy watcher unavailable", "error", err)
			} else {
				defer watcher.Close()
			}
		}
	}

	if cfg.RedisAddr != "" {
		pub := distrib.NewPublisher(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		defer pub.Close()
		if err := pub.PublishExport(ctx, eqMap.Export(table.Name, table.Version)); err != nil {
			logger.Warn("equivalency export not published", "error", err)
		}

		sub := distrib.NewSubscriber(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, loader, logger)
		defer sub.Close()
		go func() {
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("invalidation subscriber stopped", "error", err)
			}
		}()
	}

	if profile != nil && profile.Sweep.Enabled {
		driver := "sqlite"
		dsn := cfg.SQLitePath
		if cfg.DatabaseURL != "" {
			driver = "postgres"
			dsn = cfg.DatabaseURL
		}
		st, err := openLabelStore(ctx, driver, dsn)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer st.Close()

		sweeper := store.NewSweeper(st, validator,
			store.WithAuditor(auditor),
			store.WithPageSize(profile.Sweep.PageSize),
		)
		go runSweepLoop(ctx, sweeper, profile.Sweep, provider, logger)
	}

	logger.Info("spifmark ready",
		"addr", ":"+cfg.Port,
		"policy", model.PolicyName,
		"policy_version", model.Version)
	_, _ = fmt.Fprintf(stdout, "spifmark listening on :%s\n", cfg.Port)

	if err := srv.ListenAndServe(ctx, ":"+cfg.Port); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

func runSweepLoop(ctx context.Context, sweeper *store.Sweeper, cfg config.SweepConfig, provider *observability.Provider, logger *slog.Logger) {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := sweeper.Run(ctx)
			if err != nil {
				logger.Error("label sweep failed", "error", err)
				continue
			}
			if provider != nil {
				provider.RecordSweptLabels(ctx, int64(report.Scanned), observability.SweepOperation(report.RunID)...)
			}
			logger.Info("label sweep complete",
				"run_id", report.RunID,
				"scanned", report.Scanned,
				"invalid", report.Invalid)
		}
	}
}
