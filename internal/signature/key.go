package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidEncoding = errors.New("key is not valid base64")
	ErrInvalidPEM      = errors.New("key does not contain a PEM public key block")
	ErrUnsupportedKey  = errors.New("unsupported public key type")
)

const pemTypePublicKey = "PUBLIC KEY"

// PublicKey is a parsed provider verification key. The zero value verifies
// nothing.
type PublicKey struct {
	key crypto.PublicKey
	der []byte
}

// ParsePublicKey decodes the provider's key blob: base64 of a PEM encoded
// PKIX public key. ECDSA and RSA keys are accepted.
func ParsePublicKey(blob string) (PublicKey, error) {
	pemBytes, err := decodeBase64(strings.TrimSpace(blob))
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %w", ErrInvalidEncoding, err)
	}
	return ParsePEM(pemBytes)
}

// ParsePEM parses a PEM encoded PKIX public key.
func ParsePEM(pemBytes []byte) (PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != pemTypePublicKey {
		return PublicKey{}, ErrInvalidPEM
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}

	switch parsed.(type) {
	case *ecdsa.PublicKey, *rsa.PublicKey:
	default:
		return PublicKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, parsed)
	}

	return PublicKey{key: parsed, der: block.Bytes}, nil
}

func (k PublicKey) IsZero() bool { return k.key == nil }

// Algorithm names the verification scheme the key is used with.
func (k PublicKey) Algorithm() string {
	switch pub := k.key.(type) {
	case *ecdsa.PublicKey:
		return "ECDSA-" + pub.Curve.Params().Name + "-SHA256"
	case *rsa.PublicKey:
		return "RSA-PKCS1v15-SHA256"
	default:
		return "none"
	}
}

// Fingerprint is the hex SHA-256 of the key's DER encoding. Safe to log.
func (k PublicKey) Fingerprint() string {
	if len(k.der) == 0 {
		return ""
	}
	sum := sha256.Sum256(k.der)
	return hex.EncodeToString(sum[:])
}

// Equal reports whether both values hold the same key material.
func (k PublicKey) Equal(other PublicKey) bool {
	return string(k.der) == string(other.der)
}

// DecodeSignature decodes a transport-encoded signature header value.
func DecodeSignature(header string) ([]byte, error) {
	sig, err := decodeBase64(strings.TrimSpace(header))
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) == 0 {
		return nil, errors.New("decode signature: empty")
	}
	return sig, nil
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
