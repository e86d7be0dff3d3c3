// Package authsign provides the generic key-derivation + HMAC signing
// primitives that a concrete auth handler (owned by a venue adapter, out
// of scope for this core) can use to turn a raw API secret into a
// signing key and a per-request signature. It knows nothing about any
// exchange's specific signature scheme - only "derive a key from a
// passphrase and salt" and "HMAC-sign a string" - so it is
// infrastructure, not a venue adapter.
//
// Grounded on the teacher's pkg/config/secrets.go use of scrypt.Key for
// secret-at-rest key derivation; the N/r/p/key-size constants below
// match that file's scryptN/scryptR/scryptP/keySize values.
package authsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/scrypt"

	"wsresilient/pkg/wserrors"
)

const (
	scryptN = 32768 // 2^15
	scryptR = 8
	scryptP = 1
	KeySize = 32 // 256-bit signing key
)

// DeriveKey turns passphrase+salt into a KeySize-byte signing key via
// scrypt, using the same cost parameters the teacher uses for
// secrets-at-rest (N=32768, r=8, p=1).
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	key, err := scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, KeySize)
	if err != nil {
		return nil, wserrors.NewAuthError("key_derivation_failed", err)
	}
	return key, nil
}

// Sign returns the lowercase-hex HMAC-SHA256 of message under key, the
// shape most venue auth schemes (API-key HMAC signing) expect.
func Sign(key, message []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the HMAC-SHA256 of message under
// key, using a constant-time comparison.
func Verify(key, message []byte, signature string) bool {
	expected := Sign(key, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
