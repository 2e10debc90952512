package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages the active signing key plus verification of tokens signed
// by recently retired keys, so rotation never invalidates in-flight tokens.
type KeySet interface {
	// Sign creates a signed token with the current active key.
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	// KeyFunc resolves the verification key from the token's kid header.
	KeyFunc() jwt.Keyfunc
}

// maxRetainedKeys bounds the verification history. Tokens outlive their
// signing key by at most this many rotations.
const maxRetainedKeys = 8

// InMemoryKeySet holds Ed25519 keys in process memory. Suitable for single
// instance deployments and tests; a shared deployment wants an IdP-backed
// keyfunc instead.
type InMemoryKeySet struct {
	mu      sync.RWMutex
	current string
	keys    map[string]ed25519.PrivateKey
	order   []string
}

func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a fresh signing key and makes it active. Retired keys
// stay verifiable until evicted, oldest first.
func (ks *InMemoryKeySet) Rotate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	kid := keyID(pub)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.keys[kid] = priv
	ks.order = append(ks.order, kid)
	ks.current = kid

	for len(ks.order) > maxRetainedKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
	return nil
}

// CurrentKID returns the identifier of the active signing key.
func (ks *InMemoryKeySet) CurrentKID() string {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.current
}

func (ks *InMemoryKeySet) Sign(ctx context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.current
	key := ks.keys[kid]
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active signing key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in token header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("unknown key %s", kid)
		}
		return key.Public(), nil
	}
}

// keyID derives a stable identifier from the public key, matching the
// ed25519 key naming used for export signatures.
func keyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}
