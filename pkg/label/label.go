// Package label defines the security-label vocabulary shared by the marking,
// equivalency, coherence, and decision packages.
//
// Classification names, country codes, and COI identifiers are distinct types
// on purpose: a clearance string is meaningless as a country key, and keeping
// them apart makes a crossed lookup a compile error instead of a runtime miss.
package label

import "strings"

// CountryCode is an ISO 3166-1 alpha-3 country or organization code
// (e.g. "USA", "GBR", "NATO" for the institutional key).
type CountryCode string

// COIID identifies a Community of Interest in the registered catalog.
type COIID string

// Caveat is a handling caveat appended to a marking (e.g. "NOFORN", "ATOMAL").
type Caveat string

// COIOperator selects how a label's COI list is combined during an
// authorization check.
type COIOperator string

const (
	// COIOperatorAll requires the subject to hold every listed COI.
	COIOperatorAll COIOperator = "ALL"
	// COIOperatorAny requires the subject to hold at least one listed COI.
	COIOperatorAny COIOperator = "ANY"
)

// Valid reports whether op is one of the defined operators.
func (op COIOperator) Valid() bool {
	return op == COIOperatorAll || op == COIOperatorAny
}

// ParseCountryCode uppercases and trims a raw code. It does not check the
// code against any registry; unknown codes are rendered raw by the marking
// generator rather than dropped.
func ParseCountryCode(raw string) CountryCode {
	return CountryCode(strings.ToUpper(strings.TrimSpace(raw)))
}

// SecurityLabel is the classification metadata attached to a resource.
// Labels are produced by resource-ingestion collaborators and consumed here;
// the engine validates and reads them but never mutates them.
type SecurityLabel struct {
	Classification string        `json:"classification" yaml:"classification"`
	ReleasableTo   []CountryCode `json:"releasable_to,omitempty" yaml:"releasable_to,omitempty"`
	COI            []COIID       `json:"coi,omitempty" yaml:"coi,omitempty"`
	COIOperator    COIOperator   `json:"coi_operator,omitempty" yaml:"coi_operator,omitempty"`
	Caveats        []Caveat      `json:"caveats,omitempty" yaml:"caveats,omitempty"`
}

// Operator returns the label's COI operator, defaulting to ALL when unset.
// The default is the restrictive choice: a label that lists COIs without an
// operator requires membership in all of them.
func (l *SecurityLabel) Operator() COIOperator {
	if l.COIOperator == "" {
		return COIOperatorAll
	}
	return l.COIOperator
}

// HasCOI reports whether the label carries at least one COI.
func (l *SecurityLabel) HasCOI() bool {
	return len(l.COI) > 0
}

// Clone returns a deep copy. Stores keep copies so later caller mutations
// cannot alter persisted labels.
func (l *SecurityLabel) Clone() *SecurityLabel {
	if l == nil {
		return nil
	}
	out := &SecurityLabel{
		Classification: l.Classification,
		COIOperator:    l.COIOperator,
	}
	if len(l.ReleasableTo) > 0 {
		out.ReleasableTo = append([]CountryCode(nil), l.ReleasableTo...)
	}
	if len(l.COI) > 0 {
		out.COI = append([]COIID(nil), l.COI...)
	}
	if len(l.Caveats) > 0 {
		out.Caveats = append([]Caveat(nil), l.Caveats...)
	}
	return out
}
