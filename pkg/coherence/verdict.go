// Package coherence validates that a security label's COI markings are
// well-formed: operator sanity, catalog membership, duplicates, plus any
// deployment-defined CEL rules.
//
// The validator checks the label only. Whether a given subject holds the
// memberships an ALL/ANY operator demands is the authorization layer's
// check, made with this label as input.
package coherence

import "fmt"

// Violation is one coherence defect. Violations accumulate; validation
// never stops at the first defect, so a caller sees everything wrong with a
// label in one pass.
type Violation struct {
	Rule    string `json:"rule"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s (%s)", v.Field, v.Message, v.Rule)
}

// Verdict is the outcome of validating one label.
type Verdict struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

func (vd *Verdict) add(rule, field, message string) {
	vd.Valid = false
	vd.Violations = append(vd.Violations, Violation{Rule: rule, Field: field, Message: message})
}
