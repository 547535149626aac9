package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
)

type principalRepository struct {
	db Querier
}

// NewPrincipalRepository creates a principal repository on the given
// pool or transaction.
func NewPrincipalRepository(db Querier) PrincipalRepository {
	return &principalRepository{db: db}
}

func (r *principalRepository) WithTx(tx pgx.Tx) PrincipalRepository {
	return &principalRepository{db: tx}
}

const principalColumns = `
	id, handle, email, role, password_hash,
	quota_bytes, used_bytes, quota_grace, active,
	created_at, updated_at, last_login_at`

func (r *principalRepository) Create(ctx context.Context, p *principal.Principal) error {
	query := `
		INSERT INTO principals (` + principalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.Handle, p.Email, p.Role.String(), p.PasswordHash,
		p.QuotaBytes, p.UsedBytes, p.QuotaGrace, p.Active,
		p.CreatedAt, p.UpdatedAt, p.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", translateErr(err))
	}
	return nil
}

func (r *principalRepository) GetByID(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *principalRepository) GetByHandle(ctx context.Context, handle string) (*principal.Principal, error) {
	// Handles are stored lowercase; match case-insensitively so a login
	// as "Alice" finds "alice".
	query := `SELECT ` + principalColumns + ` FROM principals WHERE handle = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(handle))))
}

func (r *principalRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *principalRepository) List(ctx context.Context, offset, limit int) ([]*principal.Principal, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM principals`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count principals: %w", err)
	}

	query := `SELECT ` + principalColumns + ` FROM principals ORDER BY created_at, id OFFSET $1 LIMIT $2`
	rows, err := r.db.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var out []*principal.Principal
	for rows.Next() {
		p, err := r.scanOne(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (r *principalRepository) Update(ctx context.Context, p *principal.Principal) error {
	query := `
		UPDATE principals
		SET email = $2, role = $3,
		    quota_bytes = $4, used_bytes = $5, quota_grace = $6,
		    active = $7, updated_at = $8, last_login_at = $9
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.ID, p.Email, p.Role.String(),
		p.QuotaBytes, p.UsedBytes, p.QuotaGrace,
		p.Active, p.UpdatedAt, p.LastLoginAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update principal: %w", translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *principalRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE principals SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *principalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete principal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *principalRepository) scanOne(row pgx.Row) (*principal.Principal, error) {
	var p principal.Principal
	var roleStr string

	err := row.Scan(
		&p.ID, &p.Handle, &p.Email, &roleStr, &p.PasswordHash,
		&p.QuotaBytes, &p.UsedBytes, &p.QuotaGrace, &p.Active,
		&p.CreatedAt, &p.UpdatedAt, &p.LastLoginAt,
	)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}

	if p.Role, err = principal.ParseRole(roleStr); err != nil {
		return nil, fmt.Errorf("failed to scan principal: %w", err)
	}
	return &p, nil
}
