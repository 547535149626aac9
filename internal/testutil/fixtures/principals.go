// Package fixtures builds valid domain entities for tests.
package fixtures

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
)

// PrincipalBuilder builds test principals. Zero value defaults are a
// plain active user with a 10 GiB quota.
type PrincipalBuilder struct {
	t          *testing.T
	handle     string
	email      string
	role       principal.Role
	quotaBytes int64
	usedBytes  int64
	quotaGrace bool
	active     bool
	hash       string
}

func NewPrincipalBuilder(t *testing.T) *PrincipalBuilder {
	t.Helper()
	id := uuid.NewString()[:8]
	return &PrincipalBuilder{
		t:          t,
		handle:     "user_" + id,
		email:      fmt.Sprintf("user_%s@example.com", id),
		role:       principal.RoleUser,
		quotaBytes: 10 << 30,
		active:     true,
	}
}

func (b *PrincipalBuilder) WithHandle(handle string) *PrincipalBuilder {
	b.handle = handle
	return b
}

func (b *PrincipalBuilder) WithEmail(email string) *PrincipalBuilder {
	b.email = email
	return b
}

func (b *PrincipalBuilder) AsAdmin() *PrincipalBuilder {
	b.role = principal.RoleAdmin
	return b
}

func (b *PrincipalBuilder) WithQuota(quota, used int64) *PrincipalBuilder {
	b.quotaBytes = quota
	b.usedBytes = used
	return b
}

func (b *PrincipalBuilder) WithQuotaGrace() *PrincipalBuilder {
	b.quotaGrace = true
	return b
}

func (b *PrincipalBuilder) Inactive() *PrincipalBuilder {
	b.active = false
	return b
}

func (b *PrincipalBuilder) WithPasswordHash(hash string) *PrincipalBuilder {
	b.hash = hash
	return b
}

func (b *PrincipalBuilder) Build() *principal.Principal {
	b.t.Helper()
	p, err := principal.NewPrincipal(b.handle, b.email, b.role, b.quotaBytes)
	require.NoError(b.t, err)
	p.UsedBytes = b.usedBytes
	p.QuotaGrace = b.quotaGrace
	p.Active = b.active
	p.PasswordHash = b.hash
	return p
}
