// Package crypto holds the small set of primitives shared by the CSRF manager and the
// identity provider.
package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every derived or generated key.
const KeySize = 32

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// DeriveKey derives a KeySize key from secret using HKDF-SHA256. Different info strings
// yield independent keys from the same secret.
func DeriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// Sign returns HMAC-SHA256(key, msg).
func Sign(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// Verify checks sig against HMAC-SHA256(key, msg) in constant time.
func Verify(key []byte, msg string, sig []byte) bool {
	return hmac.Equal(Sign(key, msg), sig)
}

// HashToken returns the hex SHA-256 of an opaque token. Only hashes are ever stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
