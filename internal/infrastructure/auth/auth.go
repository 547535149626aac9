// Package auth provides the password verifier and opaque bearer token
// primitives. Tokens are random, not signed: every token maps to a
// server-side session row by fingerprint, so logout and password
// change revoke instantly.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the floor for the password hash cost parameter.
const MinBcryptCost = 12

// tokenBytes gives 256 bits of entropy per bearer token.
const tokenBytes = 32

// Hasher wraps bcrypt with an enforced minimum cost.
type Hasher struct {
	cost int
}

func NewHasher(cost int) *Hasher {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	return &Hasher{cost: cost}
}

// Hash produces the stored password verifier.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > 72 {
		return "", fmt.Errorf("auth: password exceeds bcrypt 72-byte limit")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Compare verifies a candidate against the stored verifier in
// constant time.
func (h *Hasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NeedsRehash reports whether the stored verifier was produced with a
// weaker cost than currently configured.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// NewToken generates an opaque bearer token and its fingerprint. The
// raw token goes to the client exactly once; only the fingerprint is
// stored.
func NewToken() (token, fingerprint string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("auth: generating token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, Fingerprint(token), nil
}

// Fingerprint derives the server-side lookup key for a bearer token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
