// Package identity extracts subject clearance attributes from IdP-issued
// JWTs. The decision point never talks to the IdP directly; it consumes the
// Subject produced here.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arclight-labs/spifmark/pkg/label"
)

var (
	// ErrMissingClearance is returned when a token carries no clearance claim.
	ErrMissingClearance = errors.New("token has no clearance claim")
	// ErrMissingCountry is returned when a token carries no country claim.
	ErrMissingCountry = errors.New("token has no country claim")
)

// SubjectClaims extends standard JWT claims with the clearance attributes a
// coalition IdP maps onto tokens. Claim names follow the Keycloak attribute
// mapper convention (flat, lowercase).
type SubjectClaims struct {
	jwt.RegisteredClaims
	Clearance string   `json:"clearance,omitempty"`
	Country   string   `json:"country,omitempty"`
	COI       []string `json:"coi,omitempty"`
	Caveats   []string `json:"caveats,omitempty"`
}

// Subject is an authenticated principal with a national clearance. Clearance
// holds the national term exactly as the IdP issued it; resolution against
// the canonical scale happens in the decision point, not here.
type Subject struct {
	ID        string            `json:"id"`
	Country   label.CountryCode `json:"country"`
	Clearance string            `json:"clearance"`
	COI       []label.COIID     `json:"coi,omitempty"`
	Caveats   []label.Caveat    `json:"caveats,omitempty"`
}

// ParseSubject converts validated claims into a Subject. Tokens without a
// clearance or country claim are rejected; an anonymous subject cannot be
// granted access anyway, so this fails early with a precise error.
func ParseSubject(claims *SubjectClaims) (*Subject, error) {
	if claims == nil {
		return nil, errors.New("nil claims")
	}
	if claims.Clearance == "" {
		return nil, fmt.Errorf("subject %q: %w", claims.Subject, ErrMissingClearance)
	}
	if claims.Country == "" {
		return nil, fmt.Errorf("subject %q: %w", claims.Subject, ErrMissingCountry)
	}

	s := &Subject{
		ID:        claims.Subject,
		Country:   label.ParseCountryCode(claims.Country),
		Clearance: claims.Clearance,
	}
	for _, id := range claims.COI {
		if id == "" {
			continue
		}
		s.COI = append(s.COI, label.COIID(id))
	}
	for _, c := range claims.Caveats {
		if c == "" {
			continue
		}
		s.Caveats = append(s.Caveats, label.Caveat(c))
	}
	return s, nil
}

// HoldsCOI reports whether the subject holds the given community membership.
func (s *Subject) HoldsCOI(id label.COIID) bool {
	for _, held := range s.COI {
		if held == id {
			return true
		}
	}
	return false
}

type contextKey string

const subjectKey contextKey = "subject"

// WithSubject attaches a Subject to the context.
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, subjectKey, s)
}

// SubjectFrom retrieves the Subject from the context.
func SubjectFrom(ctx context.Context) (*Subject, error) {
	s, ok := ctx.Value(subjectKey).(*Subject)
	if !ok || s == nil {
		return nil, errors.New("no subject in context")
	}
	return s, nil
}
