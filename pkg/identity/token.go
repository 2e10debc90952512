package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultIssuer is the issuer written into locally minted tokens and
	// required of inbound ones unless overridden.
	DefaultIssuer = "spifmark/identity"
	// DefaultAudience marks tokens as intended for this service.
	DefaultAudience = "spifmark.internal"
)

// TokenManager validates inbound subject tokens and mints them for local
// tooling. Verification keys come from the KeySet so rotation never requires
// a restart.
type TokenManager struct {
	keySet   KeySet
	issuer   string
	audience string
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithIssuer overrides the expected token issuer.
func WithIssuer(iss string) TokenOption {
	return func(tm *TokenManager) { tm.issuer = iss }
}

// WithAudience overrides the expected token audience.
func WithAudience(aud string) TokenOption {
	return func(tm *TokenManager) { tm.audience = aud }
}

func NewTokenManager(ks KeySet, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{
		keySet:   ks,
		issuer:   DefaultIssuer,
		audience: DefaultAudience,
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// Generate creates a signed token carrying the subject's clearance
// attributes. Used by bootstrap tooling and tests; production tokens come
// from the coalition IdP.
func (tm *TokenManager) Generate(ctx context.Context, s *Subject, ttl time.Duration, now time.Time) (string, error) {
	if s == nil {
		return "", fmt.Errorf("nil subject")
	}
	now = now.UTC()
	claims := SubjectClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
		},
		Clearance: s.Clearance,
		Country:   string(s.Country),
	}
	for _, id := range s.COI {
		claims.COI = append(claims.COI, string(id))
	}
	for _, c := range s.Caveats {
		claims.Caveats = append(claims.Caveats, string(c))
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses and verifies a token string, enforcing signature, expiry,
// issuer and audience, then extracts the Subject.
func (tm *TokenManager) Validate(tokenString string) (*Subject, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SubjectClaims{}, tm.keySet.KeyFunc(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(tm.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("validate token: %w", err)
	}

	claims, ok := token.Claims.(*SubjectClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return ParseSubject(claims)
}
