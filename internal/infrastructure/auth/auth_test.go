package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost) // fast cost for the round-trip only

	// The floor is enforced regardless of what was asked for.
	assert.Equal(t, MinBcryptCost, h.cost)
}

func TestHasher_EnforcesMinimumCost(t *testing.T) {
	h := NewHasher(4)
	assert.Equal(t, MinBcryptCost, h.cost)

	h = NewHasher(13)
	assert.Equal(t, 13, h.cost)
}

func TestHasher_RejectsOverlongPassword(t *testing.T) {
	h := NewHasher(MinBcryptCost)
	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	_, err := h.Hash(string(long))
	assert.Error(t, err, "bcrypt silently truncates beyond 72 bytes; refuse instead")
}

func TestHasher_NeedsRehash(t *testing.T) {
	weak, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-9!"), 10)
	require.NoError(t, err)

	h := NewHasher(MinBcryptCost)
	assert.True(t, h.NeedsRehash(string(weak)))
	assert.True(t, h.NeedsRehash("not-a-bcrypt-hash"))
}

func TestNewToken(t *testing.T) {
	token, fp, err := NewToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32, "token carries 256 bits of entropy")

	assert.Equal(t, Fingerprint(token), fp)
	assert.Len(t, fp, 64, "sha256 hex fingerprint")

	// Fingerprints are stable; tokens are not.
	token2, fp2, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
	assert.NotEqual(t, fp, fp2)
}
