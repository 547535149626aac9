package session_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
)

func TestNew(t *testing.T) {
	pid := uuid.New()

	s, err := session.New(pid, "f1e2d3", 0, "203.0.113.9", "curl/8.0")
	require.NoError(t, err)

	assert.Equal(t, pid, s.PrincipalID)
	assert.Equal(t, "f1e2d3", s.TokenFingerprint)
	assert.WithinDuration(t, time.Now().UTC().Add(session.DefaultTTL), s.ExpiresAt, 5*time.Second,
		"zero ttl falls back to the 24h default")
}

func TestNew_Validation(t *testing.T) {
	_, err := session.New(uuid.Nil, "f1e2d3", time.Hour, "", "")
	assert.ErrorIs(t, err, session.ErrNoPrincipal)

	_, err = session.New(uuid.New(), "", time.Hour, "", "")
	assert.ErrorIs(t, err, session.ErrNoFingerprint)
}

func TestSession_Expiry(t *testing.T) {
	s, err := session.New(uuid.New(), "f1e2d3", time.Hour, "", "")
	require.NoError(t, err)

	now := time.Now().UTC()
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(2*time.Hour)))
	assert.True(t, s.IsExpired(s.ExpiresAt), "expiry instant itself is expired")

	assert.Equal(t, time.Duration(0), s.TTLRemaining(now.Add(2*time.Hour)))
	assert.Greater(t, s.TTLRemaining(now), 50*time.Minute)
}
