package user

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters. These are part of the stored-hash contract: changing
// them invalidates every existing credential.
const (
	PBKDF2Iterations = 10000
	SaltLength       = 16
	KeyLength        = 32
)

// GenerateSalt returns a fresh random salt, base64-encoded.
func GenerateSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(salt), nil
}

// HashPassword derives the PBKDF2-HMAC-SHA256 hash of password with the
// given base64 salt and returns it base64-encoded.
func HashPassword(password, saltB64 string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("decoding salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(key), nil
}

// VerifyPassword recomputes the hash with the stored salt and compares in
// constant time.
func VerifyPassword(password, saltB64, hashB64 string) bool {
	computed, err := HashPassword(password, saltB64)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hashB64)) == 1
}
