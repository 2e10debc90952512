package equivalency

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/hkdf"
)

// Export is the serialized form of a built Map: country, then authored term
// spelling, then canonical level. External policy evaluators consume this
// document; it is regenerated from the table, never hand-edited.
type Export struct {
	TableName    string                               `json:"table_name"`
	TableVersion string                               `json:"table_version"`
	Countries    map[string]map[string]CanonicalLevel `json:"countries"`
}

// Export builds the export document for this map.
func (m *Map) Export(tableName, tableVersion string) *Export {
	out := &Export{
		TableName:    tableName,
		TableVersion: tableVersion,
		Countries:    make(map[string]map[string]CanonicalLevel, len(m.byCountry)),
	}
	for country, terms := range m.byCountry {
		byTerm := make(map[string]CanonicalLevel, len(terms))
		for _, entry := range terms {
			byTerm[entry.term] = entry.level
		}
		out.Countries[string(country)] = byTerm
	}
	return out
}

// Canonical returns the RFC 8785 (JCS) serialization of the export and its
// content hash. Two builds from the same table produce identical bytes, so
// the hash doubles as a change detector for distribution.
func (e *Export) Canonical() ([]byte, string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, "", fmt.Errorf("export marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", fmt.Errorf("export canonicalization failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return canonical, "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Signer signs export documents. The interface allows swapping the
// in-memory provider for an HSM or KMS-backed one.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemorySigner is an in-process Ed25519 signer.
type MemorySigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemorySigner generates a fresh keypair.
func NewMemorySigner() (*MemorySigner, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemorySigner{pub: pub, priv: priv}, nil
}

// DeriveSigner derives a deterministic signing key from a shared secret and
// a context string (typically the deployment name), using HKDF-SHA256. Every
// node holding the secret derives the same key, so exports sign identically
// across the fleet.
func DeriveSigner(secret []byte, context string) (*MemorySigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("signer derivation requires a non-empty secret")
	}
	kdf := hkdf.New(sha256.New, secret, []byte("spifmark-export-kdf"), []byte(context))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemorySigner{
		pub:  priv.Public().(ed25519.PublicKey),
		priv: priv,
	}, nil
}

func (s *MemorySigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (s *MemorySigner) PublicKey() ed25519.PublicKey { return s.pub }

// KeyID names a public key for signature headers.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}

// SignedExport wraps the canonical document with its hash and signature.
// The timestamp lives here, outside the signed document, so the document
// bytes stay reproducible.
type SignedExport struct {
	Document  json.RawMessage `json:"document"`
	Hash      string          `json:"hash"`
	KeyID     string          `json:"key_id,omitempty"`
	Signature string          `json:"signature,omitempty"`
	SignedAt  time.Time       `json:"signed_at"`
}

// Sign canonicalizes and signs an export. now is injected so callers with a
// test clock stay deterministic.
func Sign(e *Export, signer Signer, now time.Time) (*SignedExport, error) {
	canonical, hash, err := e.Canonical()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(canonical)
	if err != nil {
		return nil, fmt.Errorf("export signing failed: %w", err)
	}
	return &SignedExport{
		Document:  canonical,
		Hash:      hash,
		KeyID:     KeyID(signer.PublicKey()),
		Signature: base64.StdEncoding.EncodeToString(sig),
		SignedAt:  now.UTC(),
	}, nil
}

var (
	// ErrHashMismatch reports a signed export whose document no longer
	// matches its recorded hash.
	ErrHashMismatch = errors.New("export hash mismatch")
	// ErrBadSignature reports a signature that does not verify.
	ErrBadSignature = errors.New("export signature invalid")
)

// Verify checks a signed export's hash and signature against pub.
func Verify(se *SignedExport, pub ed25519.PublicKey) error {
	sum := sha256.Sum256(se.Document)
	if want := "sha256:" + hex.EncodeToString(sum[:]); want != se.Hash {
		return ErrHashMismatch
	}
	sig, err := base64.StdEncoding.DecodeString(se.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !ed25519.Verify(pub, se.Document, sig) {
		return ErrBadSignature
	}
	return nil
}

// Decode parses a signed export back into its document. The document must
// still be in canonical form; a re-serialized or edited document is
// rejected.
func (se *SignedExport) Decode() (*Export, error) {
	canonical, err := jcs.Transform(se.Document)
	if err != nil {
		return nil, fmt.Errorf("export decode failed: %w", err)
	}
	if !bytes.Equal(canonical, []byte(se.Document)) {
		return nil, errors.New("export document is not in canonical form")
	}
	var e Export
	if err := json.Unmarshal(se.Document, &e); err != nil {
		return nil, fmt.Errorf("export decode failed: %w", err)
	}
	return &e, nil
}
