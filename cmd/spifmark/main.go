package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/arclight-labs/spifmark/pkg/coherence"
	"github.com/arclight-labs/spifmark/pkg/config"
	"github.com/arclight-labs/spifmark/pkg/equivalency"
	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/store"

	_ "github.com/lib/pq" // Postgres Driver
)

const version = "1.0.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServeCmd

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "sweep":
		return runSweepCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "spifmark v%s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sspifmark %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sMarkings come from the policy, not from habit.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  spifmark <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "ENGINE")
	printCommand(w, "serve", "Run the marking API server (default)")
	printCommand(w, "validate", "Parse a SPIF policy file and report its contents")

	printSection(w, "EQUIVALENCY")
	printCommand(w, "export", "Write the canonical equivalency export (-out, -sign)")

	printSection(w, "MAINTENANCE")
	printCommand(w, "sweep", "Re-validate stored labels once (-driver sqlite|postgres)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// loadProfile resolves the deployment profile from the explicit flag value
// or SPIFMARK_PROFILE. Serving without a profile is fine; the engine then
// runs with the embedded seed table and an empty COI catalog.
func loadProfile(cfg *config.Config, path string) (*config.DeploymentProfile, error) {
	if path == "" {
		path = cfg.ProfilePath
	}
	if path == "" {
		return nil, nil
	}
	return config.LoadDeployment(path)
}

// buildValidator assembles the coherence validator from the profile's COI
// catalog plus any CEL rule bundles found on disk.
func buildValidator(cfg *config.Config, profile *config.DeploymentProfile) (*coherence.Validator, error) {
	var ids []label.COIID
	rulesDir := cfg.RulesDir
	if profile != nil {
		for _, id := range profile.COICatalog {
			ids = append(ids, label.COIID(id))
		}
		if profile.RulesDir != "" {
			rulesDir = profile.RulesDir
		}
	}

	var opts []coherence.Option
	if rulesDir != "" {
		bundles, err := coherence.LoadBundleDir(rulesDir)
		if err != nil {
			return nil, fmt.Errorf("load rule bundles: %w", err)
		}
		for _, b := range bundles {
			opts = append(opts, coherence.WithBundle(b))
		}
	}
	return coherence.NewValidator(coherence.NewStaticCatalog(ids...), opts...)
}

// loadEquivalencyTable reads the profile's table override, falling back to
// the embedded seed table.
func loadEquivalencyTable(profile *config.DeploymentProfile) (*equivalency.Table, error) {
	if profile != nil && profile.TablePath != "" {
		data, err := os.ReadFile(profile.TablePath)
		if err != nil {
			return nil, fmt.Errorf("read equivalency table: %w", err)
		}
		return equivalency.LoadTable(data)
	}
	return equivalency.LoadSeed()
}

func openLabelStore(ctx context.Context, driver, dsn string) (store.LabelStore, error) {
	switch driver {
	case "postgres":
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		st := store.NewPostgresLabelStore(db)
		if err := st.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return st, nil
	case "sqlite":
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		return store.OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
