package retention

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPolicy_Validate(t *testing.T) {
	valid := Policy{Scope: ScopeGlobal, SoftAfterDays: 30, HardAfterSoftDays: 90}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name string
		p    Policy
	}{
		{"zero soft days", Policy{Scope: ScopeGlobal, SoftAfterDays: 0, HardAfterSoftDays: 90}},
		{"zero hard days", Policy{Scope: ScopeGlobal, SoftAfterDays: 30, HardAfterSoftDays: 0}},
		{"global with scope id", Policy{Scope: ScopeGlobal, ScopeID: "x", SoftAfterDays: 30, HardAfterSoftDays: 90}},
		{"role without scope id", Policy{Scope: ScopeRole, SoftAfterDays: 30, HardAfterSoftDays: 90}},
		{"principal without scope id", Policy{Scope: ScopePrincipal, SoftAfterDays: 30, HardAfterSoftDays: 90}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.p.Validate())
		})
	}
}

func TestEffective_MostSpecificWins(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()
	fallback := Policy{SoftAfterDays: 30, HardAfterSoftDays: 90}

	global := Policy{Scope: ScopeGlobal, SoftAfterDays: 60, HardAfterSoftDays: 120}
	roleAdmin := Policy{Scope: ScopeRole, ScopeID: "admin", SoftAfterDays: 180, HardAfterSoftDays: 365}
	mine := Policy{Scope: ScopePrincipal, ScopeID: owner.String(), SoftAfterDays: 7, HardAfterSoftDays: 14}
	theirs := Policy{Scope: ScopePrincipal, ScopeID: other.String(), SoftAfterDays: 1, HardAfterSoftDays: 1}

	tests := []struct {
		name     string
		policies []Policy
		role     string
		want     int
	}{
		{"no policies falls back to defaults", nil, "user", 30},
		{"global applies", []Policy{global}, "user", 60},
		{"role beats global", []Policy{global, roleAdmin}, "admin", 180},
		{"principal beats role and global", []Policy{global, roleAdmin, mine}, "admin", 7},
		{"other principal's policy is ignored", []Policy{global, theirs}, "user", 60},
		{"other role is ignored", []Policy{roleAdmin}, "user", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Effective(tt.policies, owner, tt.role, fallback)
			assert.Equal(t, tt.want, got.SoftAfterDays)
		})
	}
}

func TestDeadlines(t *testing.T) {
	p := Policy{SoftAfterDays: 30, HardAfterSoftDays: 90}
	created := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, created.AddDate(0, 0, 30), p.SoftDeadline(created))
	assert.Equal(t, created.AddDate(0, 0, 90), p.HardDeadline(created))
}
