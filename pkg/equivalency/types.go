// Package equivalency translates issuer-specific national clearance terms
// onto the canonical coalition scale.
//
// The built Map is the single source of truth a decision point consults to
// turn "FRA / SECRET DÉFENSE" into a canonical level before any hierarchy
// comparison. Absence from the map means unresolved, which callers must
// treat as deny: the builder never substitutes a lowest-level default.
package equivalency

import (
	"github.com/arclight-labs/spifmark/pkg/label"
)

// CanonicalLevel is a level on the shared coalition scale.
type CanonicalLevel string

const (
	NATOUnclassified CanonicalLevel = "NATO_UNCLASSIFIED"
	NATORestricted   CanonicalLevel = "NATO_RESTRICTED"
	NATOConfidential CanonicalLevel = "NATO_CONFIDENTIAL"
	NATOSecret       CanonicalLevel = "NATO_SECRET"
	CosmicTopSecret  CanonicalLevel = "COSMIC_TOP_SECRET"
)

// CountryNATO is the synthetic country key carrying NATO's institutional
// terms ("COSMIC TOP SECRET" is NATO vocabulary, not any nation's).
const CountryNATO = label.CountryCode("NATO")

var canonicalOrder = map[CanonicalLevel]int{
	NATOUnclassified: 0,
	NATORestricted:   1,
	NATOConfidential: 2,
	NATOSecret:       3,
	CosmicTopSecret:  4,
}

// Rank returns the level's position on the coalition scale, ascending.
// Unknown levels rank -1 and therefore never satisfy any requirement.
func (l CanonicalLevel) Rank() int {
	if r, ok := canonicalOrder[l]; ok {
		return r
	}
	return -1
}

// Meets reports whether a clearance at level l satisfies a requirement at
// required. Either side being off-scale fails the check.
func (l CanonicalLevel) Meets(required CanonicalLevel) bool {
	lr, rr := l.Rank(), required.Rank()
	return lr >= 0 && rr >= 0 && lr >= rr
}

// Levels returns the coalition scale in ascending order.
func Levels() []CanonicalLevel {
	return []CanonicalLevel{
		NATOUnclassified,
		NATORestricted,
		NATOConfidential,
		NATOSecret,
		CosmicTopSecret,
	}
}

// Entry groups the national terms that sit at one standard level.
type Entry struct {
	StandardLevel string                         `json:"standard_level"`
	Terms         map[label.CountryCode][]string `json:"terms"`
}

// Table is the authored equivalency source: rows of standard level to
// national vocabulary. Tables are data, maintained outside this package and
// validated against the embedded schema on load.
type Table struct {
	Name    string  `json:"name"`
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// DefaultCanonicalMap translates the engine's internal scale names onto the
// canonical coalition levels.
func DefaultCanonicalMap() map[string]CanonicalLevel {
	return map[string]CanonicalLevel{
		"UNCLASSIFIED": NATOUnclassified,
		"RESTRICTED":   NATORestricted,
		"CONFIDENTIAL": NATOConfidential,
		"SECRET":       NATOSecret,
		"TOP SECRET":   CosmicTopSecret,
	}
}

// EnglishCountries is the set whose native vocabulary already is the
// English terms; fallback injection skips them.
func EnglishCountries() map[label.CountryCode]bool {
	return map[label.CountryCode]bool{
		"USA": true,
		"GBR": true,
		"CAN": true,
		"AUS": true,
		"NZL": true,
	}
}

// fallbackTerms are injected for every non-English country so the generic
// English/NATO spelling always resolves there.
var fallbackTerms = []struct {
	Term  string
	Level CanonicalLevel
}{
	{"UNCLASSIFIED", NATOUnclassified},
	{"RESTRICTED", NATORestricted},
	{"CONFIDENTIAL", NATOConfidential},
	{"SECRET", NATOSecret},
	{"TOP SECRET", CosmicTopSecret},
}

// natoTerms are NATO's institutional markings, registered under CountryNATO
// after the base and fallback passes.
var natoTerms = []struct {
	Term  string
	Level CanonicalLevel
}{
	{"NATO UNCLASSIFIED", NATOUnclassified},
	{"NATO RESTRICTED", NATORestricted},
	{"NATO CONFIDENTIAL", NATOConfidential},
	{"NATO SECRET", NATOSecret},
	{"COSMIC TOP SECRET", CosmicTopSecret},
}

// Conflict records a term a later table row tried to rebind to a different
// level. The first registration wins; the rejected level is kept for the
// report so table authors see the collision.
type Conflict struct {
	Country  label.CountryCode `json:"country"`
	Term     string            `json:"term"`
	Kept     CanonicalLevel    `json:"kept"`
	Rejected CanonicalLevel    `json:"rejected"`
}

// Report summarizes one build pass.
type Report struct {
	Countries     int        `json:"countries"`
	Terms         int        `json:"terms"`
	SkippedLevels []string   `json:"skipped_levels,omitempty"`
	Conflicts     []Conflict `json:"conflicts,omitempty"`
}
