package equivalency

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_CanonicalDeterministic(t *testing.T) {
	m1, _ := buildSeed(t)
	m2, _ := buildSeed(t)

	b1, h1, err := m1.Export("coalition-equivalency", "2.3.0").Canonical()
	require.NoError(t, err)
	b2, h2, err := m2.Export("coalition-equivalency", "2.3.0").Canonical()
	require.NoError(t, err)

	assert.Equal(t, b1, b2, "rebuild of an unchanged table must be byte-identical")
	assert.Equal(t, h1, h2)
	assert.True(t, strings.HasPrefix(h1, "sha256:"))
}

func TestExport_CoversEveryRegisteredTerm(t *testing.T) {
	m, report := buildSeed(t)
	export := m.Export("coalition-equivalency", "2.3.0")

	total := 0
	for _, terms := range export.Countries {
		total += len(terms)
	}
	assert.Equal(t, report.Terms, total)
	assert.Contains(t, export.Countries, "NATO")
	assert.Equal(t, CosmicTopSecret, export.Countries["NATO"]["COSMIC TOP SECRET"])
	assert.Equal(t, NATOSecret, export.Countries["FRA"]["SECRET DÉFENSE"])
}

func TestDeriveSigner_Deterministic(t *testing.T) {
	s1, err := DeriveSigner([]byte("coalition-shared-secret"), "site-a")
	require.NoError(t, err)
	s2, err := DeriveSigner([]byte("coalition-shared-secret"), "site-a")
	require.NoError(t, err)
	s3, err := DeriveSigner([]byte("coalition-shared-secret"), "site-b")
	require.NoError(t, err)

	assert.Equal(t, s1.PublicKey(), s2.PublicKey(), "same secret and context derive the same key")
	assert.NotEqual(t, s1.PublicKey(), s3.PublicKey(), "context separates keys")
	assert.Equal(t, KeyID(s1.PublicKey()), KeyID(s2.PublicKey()))

	_, err = DeriveSigner(nil, "site-a")
	assert.Error(t, err)
}

func TestSign_Verify(t *testing.T) {
	m, _ := buildSeed(t)
	export := m.Export("coalition-equivalency", "2.3.0")

	signer, err := DeriveSigner([]byte("coalition-shared-secret"), "test")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signed, err := Sign(export, signer, now)
	require.NoError(t, err)

	assert.Equal(t, now, signed.SignedAt)
	assert.Equal(t, KeyID(signer.PublicKey()), signed.KeyID)
	require.NoError(t, Verify(signed, signer.PublicKey()))

	// Tampering with the document breaks the hash check.
	tampered := *signed
	tampered.Document = []byte(`{"countries":{}}`)
	assert.ErrorIs(t, Verify(&tampered, signer.PublicKey()), ErrHashMismatch)

	// A different key fails signature verification.
	other, err := NewMemorySigner()
	require.NoError(t, err)
	assert.ErrorIs(t, Verify(signed, other.PublicKey()), ErrBadSignature)
}

func TestSignedExport_Decode(t *testing.T) {
	m, _ := buildSeed(t)
	export := m.Export("coalition-equivalency", "2.3.0")

	signer, err := NewMemorySigner()
	require.NoError(t, err)
	signed, err := Sign(export, signer, time.Now())
	require.NoError(t, err)

	decoded, err := signed.Decode()
	require.NoError(t, err)
	assert.Equal(t, export.TableName, decoded.TableName)
	assert.Equal(t, export.TableVersion, decoded.TableVersion)
	assert.Equal(t, len(export.Countries), len(decoded.Countries))

	// A re-serialized (non-canonical) document is rejected even when it
	// parses.
	signed.Document = []byte("{\n  \"table_name\": \"x\"\n}")
	_, err = signed.Decode()
	assert.Error(t, err)
}
