package equivalency

import (
	"errors"
	"fmt"
	"sort"

	"github.com/arclight-labs/spifmark/pkg/label"
	"github.com/arclight-labs/spifmark/pkg/spif"
)

// ErrTableConflicts is returned by Build under WithStrictConflicts when the
// table binds one country+term to more than one level.
var ErrTableConflicts = errors.New("equivalency table conflicts")

// BuildOption configures a build pass.
type BuildOption func(*builder)

// WithStrictConflicts turns term conflicts from report entries into a build
// error. Policy authoring pipelines run strict; runtime rebuilds of a table
// that already shipped stay permissive so one bad row cannot take
// resolution down with it.
func WithStrictConflicts() BuildOption {
	return func(b *builder) { b.strict = true }
}

type termEntry struct {
	term  string // spelling as authored, kept for export
	level CanonicalLevel
}

// Map is the built equivalency lookup. Immutable after Build; safe for
// concurrent readers.
type Map struct {
	// byCountry is keyed by country code, then by normalized term.
	byCountry map[label.CountryCode]map[string]termEntry
}

// Resolve translates a national term under a country onto the canonical
// scale. The term lookup applies the same normalization as classification
// names, so "SECRET_DEFENSE" and "Secret  Défense" resolve alike. ok=false
// means unresolved; the caller decides what that denies.
func (m *Map) Resolve(country label.CountryCode, term string) (CanonicalLevel, bool) {
	terms, ok := m.byCountry[label.ParseCountryCode(string(country))]
	if !ok {
		return "", false
	}
	entry, ok := terms[spif.NormalizeName(term)]
	if !ok {
		return "", false
	}
	return entry.level, true
}

// Countries returns every registered country code, sorted.
func (m *Map) Countries() []label.CountryCode {
	out := make([]label.CountryCode, 0, len(m.byCountry))
	for cc := range m.byCountry {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Terms returns a country's registered terms in their authored spelling,
// sorted.
func (m *Map) Terms(country label.CountryCode) []string {
	terms, ok := m.byCountry[label.ParseCountryCode(string(country))]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(terms))
	for _, entry := range terms {
		out = append(out, entry.term)
	}
	sort.Strings(out)
	return out
}

type builder struct {
	strict bool

	byCountry map[label.CountryCode]map[string]termEntry
	report    Report
	skipped   map[string]bool
}

// Build derives the equivalency Map from an authored table.
//
// Pass order is fixed: table rows first (first-write-wins per country+term,
// conflicts reported), then English fallback terms for every non-English
// country (never overwriting native vocabulary), then NATO's institutional
// terms under the synthetic NATO key. Rows whose standard level is missing
// from canonical are skipped, not fatal: tables may carry internal-only
// levels this deployment does not map.
//
// Iteration is sorted at every stage, so an unchanged table rebuilds into
// an identical map and report.
func Build(table *Table, canonical map[string]CanonicalLevel, english map[label.CountryCode]bool, opts ...BuildOption) (*Map, *Report, error) {
	if table == nil {
		return nil, nil, errors.New("equivalency: nil table")
	}

	b := &builder{
		byCountry: make(map[label.CountryCode]map[string]termEntry),
		skipped:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(b)
	}

	normCanonical := make(map[string]CanonicalLevel, len(canonical))
	for name, level := range canonical {
		normCanonical[spif.NormalizeName(name)] = level
	}

	for _, entry := range table.Entries {
		level, ok := normCanonical[spif.NormalizeName(entry.StandardLevel)]
		if !ok {
			b.skip(entry.StandardLevel)
			continue
		}
		for _, country := range sortedCountries(entry.Terms) {
			for _, term := range entry.Terms[country] {
				b.register(label.ParseCountryCode(string(country)), term, level, true)
			}
		}
	}

	for _, country := range b.countriesSorted() {
		if english[country] {
			continue
		}
		for _, fb := range fallbackTerms {
			// Native vocabulary wins silently: overlap with a fallback
			// spelling is expected, not a table defect.
			b.register(country, fb.Term, fb.Level, false)
		}
	}

	for _, nato := range natoTerms {
		b.register(CountryNATO, nato.Term, nato.Level, true)
	}

	b.report.Countries = len(b.byCountry)
	for _, terms := range b.byCountry {
		b.report.Terms += len(terms)
	}

	if b.strict && len(b.report.Conflicts) > 0 {
		return nil, &b.report, fmt.Errorf("%w: %d conflicting registrations", ErrTableConflicts, len(b.report.Conflicts))
	}
	return &Map{byCountry: b.byCountry}, &b.report, nil
}

func (b *builder) register(country label.CountryCode, term string, level CanonicalLevel, reportConflicts bool) {
	norm := spif.NormalizeName(term)
	if norm == "" {
		return
	}
	terms, ok := b.byCountry[country]
	if !ok {
		terms = make(map[string]termEntry)
		b.byCountry[country] = terms
	}
	existing, exists := terms[norm]
	if exists {
		if reportConflicts && existing.level != level {
			b.report.Conflicts = append(b.report.Conflicts, Conflict{
				Country:  country,
				Term:     term,
				Kept:     existing.level,
				Rejected: level,
			})
		}
		return
	}
	terms[norm] = termEntry{term: term, level: level}
}

func (b *builder) skip(standardLevel string) {
	if b.skipped[standardLevel] {
		return
	}
	b.skipped[standardLevel] = true
	b.report.SkippedLevels = append(b.report.SkippedLevels, standardLevel)
}

func (b *builder) countriesSorted() []label.CountryCode {
	out := make([]label.CountryCode, 0, len(b.byCountry))
	for cc := range b.byCountry {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedCountries(terms map[label.CountryCode][]string) []label.CountryCode {
	out := make([]label.CountryCode, 0, len(terms))
	for cc := range terms {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
