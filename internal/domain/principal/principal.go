package principal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

// Principal is an acting identity: an end user or an administrator.
// It owns log files and analyses and carries the storage quota.
type Principal struct {
	ID     uuid.UUID     `json:"id"`
	Handle values.Handle `json:"handle"`
	Email  values.Email  `json:"email"`
	Role   Role          `json:"role"`

	// PasswordHash is the bcrypt verifier. Never serialized.
	PasswordHash string `json:"-"`

	// Storage accounting
	QuotaBytes int64 `json:"quota_bytes"`
	UsedBytes  int64 `json:"used_bytes"`
	QuotaGrace bool  `json:"quota_grace"`

	Active bool `json:"active"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type Role int

const (
	RoleUser Role = iota
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the wire representation, which matches the
// stored one.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRole converts the stored representation back into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUser, fmt.Errorf("unknown role %q", s)
	}
}

// NewPrincipal creates an active principal with the default quota. The
// password hash is set separately by the auth service.
func NewPrincipal(handle, email string, role Role, quotaBytes int64) (*Principal, error) {
	h, err := values.NewHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("invalid handle: %w", err)
	}

	e, err := values.NewEmail(email)
	if err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	switch role {
	case RoleUser, RoleAdmin:
	default:
		return nil, ErrInvalidRole
	}

	if quotaBytes < 0 {
		return nil, ErrInvalidQuota
	}

	now := time.Now().UTC()
	return &Principal{
		ID:         uuid.New(),
		Handle:     h,
		Email:      e,
		Role:       role,
		QuotaBytes: quotaBytes,
		UsedBytes:  0,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanStore reports whether size additional bytes fit within the quota.
// A grace override admits any size.
func (p *Principal) CanStore(size int64) bool {
	if size < 0 {
		return false
	}
	if p.QuotaGrace {
		return true
	}
	return p.UsedBytes+size <= p.QuotaBytes
}

// ChargeBytes accounts for newly stored bytes.
func (p *Principal) ChargeBytes(size int64) error {
	if size < 0 {
		return fmt.Errorf("cannot charge negative size %d", size)
	}
	if !p.CanStore(size) {
		return ErrQuotaExhausted
	}
	p.UsedBytes += size
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseBytes returns storage after a hard delete. Never drops below zero.
func (p *Principal) ReleaseBytes(size int64) {
	if size < 0 {
		return
	}
	p.UsedBytes -= size
	if p.UsedBytes < 0 {
		p.UsedBytes = 0
	}
	p.UpdatedAt = time.Now().UTC()
}

// Deactivate cuts off access at the next session validation.
func (p *Principal) Deactivate() {
	p.Active = false
	p.UpdatedAt = time.Now().UTC()
}

// Activate restores access.
func (p *Principal) Activate() {
	p.Active = true
	p.UpdatedAt = time.Now().UTC()
}

// RecordLogin stamps a successful authentication.
func (p *Principal) RecordLogin(at time.Time) {
	at = at.UTC()
	p.LastLoginAt = &at
	p.UpdatedAt = at
}

var (
	ErrInvalidRole    = fmt.Errorf("invalid role")
	ErrInvalidQuota   = fmt.Errorf("quota cannot be negative")
	ErrQuotaExhausted = fmt.Errorf("storage quota exhausted")
)
