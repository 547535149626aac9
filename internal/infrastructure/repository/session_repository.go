package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
)

type sessionRepository struct {
	db Querier
}

// NewSessionRepository creates a session repository on the given pool.
func NewSessionRepository(db Querier) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *session.Session) error {
	query := `
		INSERT INTO sessions (id, principal_id, token_fingerprint, expires_at, issued_ip, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		s.ID, s.PrincipalID, s.TokenFingerprint, s.ExpiresAt, s.IssuedIP, s.UserAgent, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", translateErr(err))
	}
	return nil
}

func (r *sessionRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*session.Session, error) {
	query := `
		SELECT id, principal_id, token_fingerprint, expires_at, issued_ip, user_agent, created_at
		FROM sessions
		WHERE token_fingerprint = $1`

	var s session.Session
	err := r.db.QueryRow(ctx, query, fingerprint).Scan(
		&s.ID, &s.PrincipalID, &s.TokenFingerprint, &s.ExpiresAt, &s.IssuedIP, &s.UserAgent, &s.CreatedAt)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepository) DeleteByFingerprint(ctx context.Context, fingerprint string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token_fingerprint = $1`, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sessionRepository) DeleteAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, principalID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *sessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
