// Package retention defines how long stored log files live before
// soft and hard deletion.
package retention

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scope orders policies from least to most specific; the most specific
// applicable policy wins.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeRole
	ScopePrincipal
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeRole:
		return "role"
	case ScopePrincipal:
		return "principal"
	default:
		return "unknown"
	}
}

// ParseScope converts the stored representation back into a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "global":
		return ScopeGlobal, nil
	case "role":
		return ScopeRole, nil
	case "principal":
		return ScopePrincipal, nil
	default:
		return ScopeGlobal, fmt.Errorf("unknown retention scope %q", s)
	}
}

// Policy is one retention rule. ScopeID is empty for global, a role
// name for role scope, and a principal id for principal scope.
type Policy struct {
	ID                uuid.UUID `json:"id"`
	Scope             Scope     `json:"scope"`
	ScopeID           string    `json:"scope_id,omitempty"`
	SoftAfterDays     int       `json:"soft_after_days"`
	HardAfterSoftDays int       `json:"hard_after_soft_days"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate rejects rules that would delete immediately or never.
func (p *Policy) Validate() error {
	if p.SoftAfterDays <= 0 {
		return fmt.Errorf("soft_after_days must be positive")
	}
	if p.HardAfterSoftDays <= 0 {
		return fmt.Errorf("hard_after_soft_days must be positive")
	}
	switch p.Scope {
	case ScopeGlobal:
		if p.ScopeID != "" {
			return fmt.Errorf("global policy cannot carry a scope id")
		}
	case ScopeRole, ScopePrincipal:
		if p.ScopeID == "" {
			return fmt.Errorf("%s policy requires a scope id", p.Scope)
		}
	default:
		return fmt.Errorf("unknown scope")
	}
	return nil
}

// Effective picks the policy that applies to a file owner: principal
// beats role beats global. fallback supplies the configured defaults
// when no stored policy matches.
func Effective(policies []Policy, principalID uuid.UUID, role string, fallback Policy) Policy {
	best := fallback
	bestScope := Scope(-1)

	for _, p := range policies {
		switch p.Scope {
		case ScopePrincipal:
			if p.ScopeID != principalID.String() {
				continue
			}
		case ScopeRole:
			if p.ScopeID != role {
				continue
			}
		case ScopeGlobal:
		default:
			continue
		}
		if p.Scope > bestScope {
			best = p
			bestScope = p.Scope
		}
	}
	return best
}

// SoftDeadline is the instant a file created at t becomes eligible for
// soft deletion under this policy.
func (p Policy) SoftDeadline(createdAt time.Time) time.Time {
	return createdAt.UTC().Add(time.Duration(p.SoftAfterDays) * 24 * time.Hour)
}

// HardDeadline is the instant a file soft-deleted at t becomes eligible
// for hard deletion.
func (p Policy) HardDeadline(softDeletedAt time.Time) time.Time {
	return softDeletedAt.UTC().Add(time.Duration(p.HardAfterSoftDays) * 24 * time.Hour)
}
