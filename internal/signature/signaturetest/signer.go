// Package signaturetest provides key pairs that produce signatures in the
// provider's wire format, for tests.
package signaturetest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"testing"
)

type Signer struct {
	t    testing.TB
	priv crypto.Signer
}

// NewECDSA returns a P-256 signer, the scheme the provider uses.
func NewECDSA(t testing.TB) *Signer {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate ecdsa key: %v", err)
	}
	return &Signer{t: t, priv: priv}
}

func NewRSA(t testing.TB) *Signer {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}
	return &Signer{t: t, priv: priv}
}

// PEM returns the PKIX PEM encoding of the public key.
func (s *Signer) PEM() []byte {
	s.t.Helper()
	der, err := x509.MarshalPKIXPublicKey(s.priv.Public())
	if err != nil {
		s.t.Fatalf("failed to marshal public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

// Blob returns the key as the provider's key endpoint serves it: base64(PEM).
func (s *Signer) Blob() string {
	return base64.StdEncoding.EncodeToString(s.PEM())
}

// SignRaw signs SHA-256(payload) and returns the binary signature.
func (s *Signer) SignRaw(payload []byte) []byte {
	s.t.Helper()
	digest := sha256.Sum256(payload)
	sig, err := s.priv.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		s.t.Fatalf("failed to sign payload: %v", err)
	}
	return sig
}

// Sign returns the base64 signature as sent in the signature header.
func (s *Signer) Sign(payload []byte) string {
	return base64.StdEncoding.EncodeToString(s.SignRaw(payload))
}
