// Package authsvc implements login, logout, bearer-token validation and
// password management over server-side revocable sessions.
package authsvc

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/auth"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
)

// Service is the authentication application service.
type Service struct {
	principals repository.PrincipalRepository
	sessions   repository.SessionRepository
	hasher     *auth.Hasher
	audit      *auditlog.Service
	logger     *zap.Logger
	tokenTTL   time.Duration
}

// NewService wires the auth service.
func NewService(
	principals repository.PrincipalRepository,
	sessions repository.SessionRepository,
	hasher *auth.Hasher,
	audit *auditlog.Service,
	logger *zap.Logger,
	tokenTTL time.Duration,
) *Service {
	if tokenTTL <= 0 {
		tokenTTL = session.DefaultTTL
	}
	return &Service{
		principals: principals,
		sessions:   sessions,
		hasher:     hasher,
		audit:      audit,
		logger:     logger.Named("authsvc"),
		tokenTTL:   tokenTTL,
	}
}

// LoginResult carries what a successful login returns to the client.
type LoginResult struct {
	Token     string
	Principal *principal.Principal
	ExpiresAt time.Time
}

// Login verifies credentials and issues a bearer token. Failures are
// indistinguishable to the caller (generic InvalidCredentials) and are
// audited either way.
func (s *Service) Login(ctx context.Context, handle, password, ip, userAgent string) (*LoginResult, error) {
	fail := func(reason string, pid *uuid.UUID) (*LoginResult, error) {
		e := audit.New(audit.ActionLogin, audit.OutcomeFailure, ip).
			WithUserAgent(userAgent).
			WithDetail(map[string]interface{}{"reason": reason})
		if pid != nil {
			e.WithPrincipal(*pid)
		}
		s.audit.Record(ctx, e)
		return nil, domainerrors.NewInvalidCredentials()
	}

	p, err := s.principals.GetByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a bcrypt round anyway so unknown handles cost the
			// same as wrong passwords.
			_ = s.hasher.Compare("$2a$12$C6UzMDM.H6dfI/f/IKcEeO7ZVU2rZ8nZUxO0z0mPbY0VcMnmJv12W", password)
			return fail("unknown_handle", nil)
		}
		return nil, err
	}

	if err := s.hasher.Compare(p.PasswordHash, password); err != nil {
		return fail("bad_password", &p.ID)
	}
	if !p.Active {
		return fail("inactive", &p.ID)
	}

	token, fingerprint, err := auth.NewToken()
	if err != nil {
		return nil, domainerrors.NewInternal("failed to issue token").WithCause(err)
	}

	sess, err := session.New(p.ID, fingerprint, s.tokenTTL, ip, userAgent)
	if err != nil {
		return nil, domainerrors.NewInternal("failed to build session").WithCause(err)
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, domainerrors.NewInternal("failed to persist session").WithCause(err)
	}

	p.RecordLogin(time.Now())
	if err := s.principals.Update(ctx, p); err != nil {
		s.logger.Warn("failed to stamp last login", zap.Error(err))
	}

	s.audit.Record(ctx, audit.New(audit.ActionLogin, audit.OutcomeSuccess, ip).
		WithPrincipal(p.ID).
		WithUserAgent(userAgent).
		WithDetail(map[string]interface{}{"session_id": sess.ID.String()}))

	s.logger.Info("login",
		zap.String("principal_id", p.ID.String()),
		zap.String("fingerprint_prefix", fingerprint[:8]))

	return &LoginResult{Token: token, Principal: p, ExpiresAt: sess.ExpiresAt}, nil
}

// Validate resolves a bearer token to its principal. Expired, revoked
// and deactivated all collapse to the same generic AuthExpired.
func (s *Service) Validate(ctx context.Context, token string) (*principal.Principal, *session.Session, error) {
	if token == "" {
		return nil, nil, domainerrors.NewAuthExpired()
	}

	sess, err := s.sessions.GetByFingerprint(ctx, auth.Fingerprint(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domainerrors.NewAuthExpired()
		}
		return nil, nil, err
	}
	if sess.IsExpired(time.Now()) {
		// Lazily reap; the purge job handles the rest.
		_ = s.sessions.Delete(ctx, sess.ID)
		return nil, nil, domainerrors.NewAuthExpired()
	}

	p, err := s.principals.GetByID(ctx, sess.PrincipalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, domainerrors.NewAuthExpired()
		}
		return nil, nil, err
	}
	if !p.Active {
		return nil, nil, domainerrors.NewAuthExpired()
	}
	return p, sess, nil
}

// Logout deletes the session behind the presented token.
func (s *Service) Logout(ctx context.Context, token string, p *principal.Principal, ip, userAgent string) error {
	if err := s.sessions.DeleteByFingerprint(ctx, auth.Fingerprint(token)); err != nil &&
		!errors.Is(err, repository.ErrNotFound) {
		return err
	}
	s.audit.Record(ctx, audit.New(audit.ActionLogout, audit.OutcomeSuccess, ip).
		WithPrincipal(p.ID).
		WithUserAgent(userAgent))
	return nil
}

// ChangePassword verifies the current password, enforces the policy on
// the next one, and revokes every session of the principal. The caller
// must log in again.
func (s *Service) ChangePassword(ctx context.Context, p *principal.Principal, current, next, ip, userAgent string) error {
	if err := s.hasher.Compare(p.PasswordHash, current); err != nil {
		s.audit.Record(ctx, audit.New(audit.ActionPasswordChange, audit.OutcomeFailure, ip).
			WithPrincipal(p.ID).
			WithUserAgent(userAgent).
			WithDetail(map[string]interface{}{"reason": "bad_current_password"}))
		return domainerrors.NewInvalidCredentials()
	}
	if err := principal.ValidatePassword(next); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return domainerrors.NewInternal("failed to hash password").WithCause(err)
	}
	if err := s.principals.UpdatePassword(ctx, p.ID, hash); err != nil {
		return err
	}

	revoked, err := s.sessions.DeleteAllForPrincipal(ctx, p.ID)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, audit.New(audit.ActionPasswordChange, audit.OutcomeSuccess, ip).
		WithPrincipal(p.ID).
		WithUserAgent(userAgent).
		WithDetail(map[string]interface{}{"sessions_revoked": revoked}))

	s.logger.Info("password changed",
		zap.String("principal_id", p.ID.String()),
		zap.Int64("sessions_revoked", revoked))
	return nil
}

// SetPassword hashes and stores a password without checking the old
// one. Admin resets only; policy still applies.
func (s *Service) SetPassword(ctx context.Context, principalID uuid.UUID, next string) error {
	if err := principal.ValidatePassword(next); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return domainerrors.NewInternal("failed to hash password").WithCause(err)
	}
	if err := s.principals.UpdatePassword(ctx, principalID, hash); err != nil {
		return err
	}
	// A reset invalidates whatever sessions the holder had.
	_, err = s.sessions.DeleteAllForPrincipal(ctx, principalID)
	return err
}

// PurgeExpiredSessions deletes sessions past their expiry. Run from the
// retention scheduler.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, time.Now())
}
