package authsvc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

// ActorContext identifies the admin performing a management call, for
// the audit trail.
type ActorContext struct {
	Principal *principal.Principal
	IP        string
	UserAgent string
}

// CreateUserInput is the admin user-creation request.
type CreateUserInput struct {
	Handle     string
	Email      string
	Password   string
	Role       principal.Role
	QuotaBytes int64
}

// CreateUser creates a principal with a policy-checked password.
func (s *Service) CreateUser(ctx context.Context, actor ActorContext, in CreateUserInput) (*principal.Principal, error) {
	if err := principal.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	p, err := principal.NewPrincipal(in.Handle, in.Email, in.Role, in.QuotaBytes)
	if err != nil {
		return nil, domainerrors.NewInputInvalid("INVALID_PRINCIPAL", err.Error())
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, domainerrors.NewInternal("failed to hash password").WithCause(err)
	}
	p.PasswordHash = hash

	if err := s.principals.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domainerrors.NewConflict("handle or email already in use")
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.New(audit.ActionUserCreate, audit.OutcomeSuccess, actor.IP).
		WithPrincipal(actor.Principal.ID).
		WithEntity("principal", p.ID.String()).
		WithUserAgent(actor.UserAgent).
		WithDetail(map[string]interface{}{"handle": p.Handle.String(), "role": p.Role.String()}))

	return p, nil
}

// UpdateUserInput carries the mutable fields; nil means unchanged.
type UpdateUserInput struct {
	Email      *string
	Role       *principal.Role
	QuotaBytes *int64
	QuotaGrace *bool
	Active     *bool
	// Password resets the verifier and revokes the holder's sessions.
	Password *string
}

// UpdateUser applies an admin edit to a principal.
func (s *Service) UpdateUser(ctx context.Context, actor ActorContext, id uuid.UUID, in UpdateUserInput) (*principal.Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.NewNotFound("user")
		}
		return nil, err
	}

	changed := map[string]interface{}{}
	if in.Email != nil {
		e, err := values.NewEmail(*in.Email)
		if err != nil {
			return nil, domainerrors.NewInputInvalid("INVALID_EMAIL", err.Error())
		}
		p.Email = e
		changed["email"] = true
	}
	if in.Role != nil {
		p.Role = *in.Role
		changed["role"] = in.Role.String()
	}
	if in.QuotaBytes != nil {
		if *in.QuotaBytes < 0 {
			return nil, domainerrors.NewInputInvalid("INVALID_QUOTA", "quota cannot be negative")
		}
		p.QuotaBytes = *in.QuotaBytes
		changed["quota_bytes"] = *in.QuotaBytes
	}
	if in.QuotaGrace != nil {
		p.QuotaGrace = *in.QuotaGrace
		changed["quota_grace"] = *in.QuotaGrace
	}
	if in.Active != nil {
		if *in.Active {
			p.Activate()
		} else {
			p.Deactivate()
		}
		changed["active"] = *in.Active
	}

	if err := s.principals.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domainerrors.NewConflict("email already in use")
		}
		return nil, err
	}

	if in.Password != nil {
		if err := s.SetPassword(ctx, p.ID, *in.Password); err != nil {
			return nil, err
		}
		changed["password_reset"] = true
	}
	// Deactivation cuts access now, not at token expiry.
	if in.Active != nil && !*in.Active {
		if _, err := s.sessions.DeleteAllForPrincipal(ctx, p.ID); err != nil {
			s.logger.Warn("failed to revoke sessions on deactivation", zap.Error(err))
		}
	}

	s.audit.Record(ctx, audit.New(audit.ActionUserUpdate, audit.OutcomeSuccess, actor.IP).
		WithPrincipal(actor.Principal.ID).
		WithEntity("principal", p.ID.String()).
		WithUserAgent(actor.UserAgent).
		WithDetail(changed))

	return p, nil
}

// GetUser fetches one principal.
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.NewNotFound("user")
		}
		return nil, err
	}
	return p, nil
}

// ListUsers pages through all principals.
func (s *Service) ListUsers(ctx context.Context, offset, limit int) ([]*principal.Principal, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.principals.List(ctx, offset, limit)
}

// DeleteUser deactivates a principal by default. hard=true removes the
// rows; audit events survive with a null principal_id.
func (s *Service) DeleteUser(ctx context.Context, actor ActorContext, id uuid.UUID, hard bool) error {
	if actor.Principal.ID == id {
		return domainerrors.NewConflict("cannot delete your own account")
	}

	p, err := s.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domainerrors.NewNotFound("user")
		}
		return err
	}

	if hard {
		if err := s.principals.Delete(ctx, id); err != nil {
			return err
		}
	} else {
		p.Deactivate()
		if err := s.principals.Update(ctx, p); err != nil {
			return err
		}
		if _, err := s.sessions.DeleteAllForPrincipal(ctx, id); err != nil {
			s.logger.Warn("failed to revoke sessions on delete", zap.Error(err))
		}
	}

	s.audit.Record(ctx, audit.New(audit.ActionUserDelete, audit.OutcomeSuccess, actor.IP).
		WithPrincipal(actor.Principal.ID).
		WithEntity("principal", id.String()).
		WithUserAgent(actor.UserAgent).
		WithDetail(map[string]interface{}{"hard": hard, "handle": p.Handle.String()}))

	return nil
}
