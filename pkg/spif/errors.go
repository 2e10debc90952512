package spif

import "fmt"

// PolicyLoadError reports a policy document that could not be fetched or did
// not survive structural validation. It is fatal for the load: no partial
// model is ever installed.
type PolicyLoadError struct {
	Source  string `json:"source"`
	Section string `json:"section,omitempty"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

func (e *PolicyLoadError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("policy load from %s failed in %s: %s", e.Source, e.Section, e.Reason)
	}
	return fmt.Sprintf("policy load from %s failed: %s", e.Source, e.Reason)
}

func (e *PolicyLoadError) Unwrap() error { return e.Err }

// UnknownClassificationError reports a name that resolves to no level of the
// loaded classification scale. Callers treat it as "cannot classify" and
// deny.
type UnknownClassificationError struct {
	Name string `json:"name"`
}

func (e *UnknownClassificationError) Error() string {
	return fmt.Sprintf("unknown classification %q", e.Name)
}
