// Package hierarchy compares classifications on the policy's ordered scale.
//
// All operations resolve names through the policy model's normalized lookup,
// so callers may pass any spelling the model accepts ("TOP SECRET",
// "top_secret"). An unrecognized name is always an error: clearance checks
// fail closed rather than defaulting a rank.
package hierarchy

import (
	"context"

	"github.com/arclight-labs/spifmark/pkg/spif"
)

// Level returns the rank of the named classification on the model's scale.
func Level(model *spif.PolicyModel, name string) (spif.Rank, error) {
	def, err := model.Classification(name)
	if err != nil {
		return 0, err
	}
	return def.Rank, nil
}

// Compare orders two classifications. It returns a negative value if a is
// below b, zero if they are the same level, and a positive value if a is
// above b.
func Compare(model *spif.PolicyModel, a, b string) (int, error) {
	ra, err := Level(model, a)
	if err != nil {
		return 0, err
	}
	rb, err := Level(model, b)
	if err != nil {
		return 0, err
	}
	switch {
	case ra < rb:
		return -1, nil
	case ra > rb:
		return 1, nil
	default:
		return 0, nil
	}
}

// Meets reports whether a subject cleared to subject may access material
// classified required, i.e. rank(subject) >= rank(required).
func Meets(model *spif.PolicyModel, subject, required string) (bool, error) {
	c, err := Compare(model, subject, required)
	if err != nil {
		return false, err
	}
	return c >= 0, nil
}

// Scale binds the hierarchy operations to a policy loader, resolving
// against whatever model is currently cached (loading on first use).
type Scale struct {
	loader *spif.Loader
}

// NewScale creates a Scale over the given loader.
func NewScale(loader *spif.Loader) *Scale {
	return &Scale{loader: loader}
}

// Level resolves the rank of name against the current policy.
func (s *Scale) Level(ctx context.Context, name string) (spif.Rank, error) {
	model, err := s.loader.Policy(ctx)
	if err != nil {
		return 0, err
	}
	return Level(model, name)
}

// Compare orders a and b against the current policy.
func (s *Scale) Compare(ctx context.Context, a, b string) (int, error) {
	model, err := s.loader.Policy(ctx)
	if err != nil {
		return 0, err
	}
	return Compare(model, a, b)
}

// Meets checks subject against required on the current policy.
func (s *Scale) Meets(ctx context.Context, subject, required string) (bool, error) {
	model, err := s.loader.Policy(ctx)
	if err != nil {
		return false, err
	}
	return Meets(model, subject, required)
}
