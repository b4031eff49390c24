package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
)

// Verify reports whether sig is a valid signature of payload under key using
// SHA-256 and the key's native scheme. Malformed keys or signatures verify as
// false.
func Verify(payload []byte, sig []byte, key PublicKey) bool {
	if len(sig) == 0 {
		return false
	}

	digest := sha256.Sum256(payload)

	switch pub := key.key.(type) {
	case *ecdsa.PublicKey:
		if pub == nil || pub.Curve == nil {
			return false
		}
		return ecdsa.VerifyASN1(pub, digest[:], sig)
	case *rsa.PublicKey:
		if pub == nil || pub.N == nil {
			return false
		}
		return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
	default:
		return false
	}
}
