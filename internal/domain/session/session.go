package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long an issued bearer token remains valid.
const DefaultTTL = 24 * time.Hour

// Session is the server-side record backing a bearer token. The raw
// token is returned to the client exactly once at login; the server
// keeps only its fingerprint.
type Session struct {
	ID               uuid.UUID `json:"id"`
	PrincipalID      uuid.UUID `json:"principal_id"`
	TokenFingerprint string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	IssuedIP         string    `json:"issued_ip"`
	UserAgent        string    `json:"user_agent"`
	CreatedAt        time.Time `json:"created_at"`
}

// New creates a session for a freshly issued token fingerprint.
func New(principalID uuid.UUID, fingerprint string, ttl time.Duration, issuedIP, userAgent string) (*Session, error) {
	if principalID == uuid.Nil {
		return nil, ErrNoPrincipal
	}
	if fingerprint == "" {
		return nil, ErrNoFingerprint
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now().UTC()
	return &Session{
		ID:               uuid.New(),
		PrincipalID:      principalID,
		TokenFingerprint: fingerprint,
		ExpiresAt:        now.Add(ttl),
		IssuedIP:         issuedIP,
		UserAgent:        userAgent,
		CreatedAt:        now,
	}, nil
}

// IsExpired reports whether the session is past its expiry at the given
// instant.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TTLRemaining returns how much lifetime the session has left.
func (s *Session) TTLRemaining(now time.Time) time.Duration {
	if s.IsExpired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

var (
	ErrNoPrincipal   = fmt.Errorf("session requires a principal")
	ErrNoFingerprint = fmt.Errorf("session requires a token fingerprint")
)
