package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/arclight-labs/spifmark/pkg/equivalency"
)

// signingContext separates export-signing keys from any other key derived
// from the same coalition secret.
const signingContext = "equivalency-export"

// runExportCmd implements `spifmark export`.
//
// Writes the canonical equivalency export, optionally Ed25519-signed with a
// key derived from SPIFMARK_SIGNING_SECRET.
//
// Exit codes:
//
//	0 = export written
//	1 = table rejected (conflicts, schema)
//	2 = usage error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tablePath string
		outPath   string
		sign      bool
	)

	cmd.StringVar(&tablePath, "table", "", "Equivalency table JSON (default: embedded seed)")
	cmd.StringVar(&outPath, "out", "", "Output path (REQUIRED)")
	cmd.BoolVar(&sign, "sign", false, "Sign the export with a key derived from SPIFMARK_SIGNING_SECRET")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if outPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -out is required")
		return 2
	}

	var (
		table *equivalency.Table
		err   error
	)
	if tablePath != "" {
		data, readErr := os.ReadFile(tablePath)
		if readErr != nil {
			_, _ = fmt.Fprintf(stderr, "Error: read table: %v\n", readErr)
			return 2
		}
		table, err = equivalency.LoadTable(data)
	} else {
		table, err = equivalency.LoadSeed()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Strict mode: a published export must not paper over conflicting terms.
	eqMap, report, err := equivalency.Build(table,
		equivalency.DefaultCanonicalMap(),
		equivalency.EnglishCountries(),
		equivalency.WithStrictConflicts(),
	)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		for _, c := range report.Conflicts {
			_, _ = fmt.Fprintf(stderr, "  conflict: %s %q maps to both %s and %s\n",
				c.Country, c.Term, c.Kept, c.Rejected)
		}
		return 1
	}

	export := eqMap.Export(table.Name, table.Version)

	var (
		output []byte
		hash   string
	)
	if sign {
		secret := os.Getenv("SPIFMARK_SIGNING_SECRET")
		if secret == "" {
			_, _ = fmt.Fprintln(stderr, "Error: -sign requires SPIFMARK_SIGNING_SECRET")
			return 2
		}
		signer, err := equivalency.DeriveSigner([]byte(secret), signingContext)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		signed, err := equivalency.Sign(export, signer, time.Now())
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		output, err = json.MarshalIndent(signed, "", "  ")
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		hash = signed.Hash
		_, _ = fmt.Fprintf(stdout, "signed with key %s\n", signed.KeyID)
	} else {
		output, hash, err = export.Canonical()
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if err := os.WriteFile(outPath, output, 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: write export: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "wrote %s (%d countries, %d terms, %s)\n",
		outPath, report.Countries, report.Terms, hash)
	return 0
}
