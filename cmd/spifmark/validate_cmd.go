package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/arclight-labs/spifmark/pkg/spif"
)

// runValidateCmd implements `spifmark validate <policy.xml>`.
//
// Policy doctor: parses a SPIF file and prints what the engine would serve
// from it, or the exact load error when it refuses to.
//
// Exit codes:
//
//	0 = policy parses
//	1 = policy rejected
//	2 = usage error
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if cmd.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "Usage: spifmark validate <policy.xml>")
		return 2
	}
	path := cmd.Arg(0)

	loader := spif.NewLoader(spif.NewFileSource(path))
	model, err := loader.Policy(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "%s%s%s (%s) v%s\n",
		ColorBold+ColorGreen, model.PolicyName, ColorReset, model.PolicyID, model.Version)
	_, _ = fmt.Fprintln(stdout, "")

	printSection(stdout, "CLASSIFICATIONS")
	for _, c := range model.Classifications {
		_, _ = fmt.Fprintf(stdout, "  %2d  %-30s (%s)\n", c.Rank, c.DisplayPhrase, c.PortionCode)
	}
	_, _ = fmt.Fprintln(stdout, "")

	printSection(stdout, "TAG SETS")
	if len(model.TagSets) == 0 {
		_, _ = fmt.Fprintln(stdout, "  (none)")
	}
	ids := make([]string, 0, len(model.TagSets))
	for id := range model.TagSets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ts := model.TagSets[id]
		qualifier := ""
		if ts.Qualifier.Prefix != "" {
			qualifier = fmt.Sprintf("  prefix %q separator %q", ts.Qualifier.Prefix, ts.Qualifier.Separator)
		}
		_, _ = fmt.Fprintf(stdout, "  %-16s %d tags%s\n", id, len(ts.Tags), qualifier)
	}
	_, _ = fmt.Fprintln(stdout, "")

	if _, ok := model.Releasability(); !ok {
		_, _ = fmt.Fprintln(stdout, "note: no releasability tag set; REL TO markings will be refused")
	}
	return 0
}
