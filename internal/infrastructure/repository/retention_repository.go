package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
)

type retentionRepository struct {
	db Querier
}

// NewRetentionRepository creates a retention repository on the given
// pool.
func NewRetentionRepository(db Querier) RetentionRepository {
	return &retentionRepository{db: db}
}

func (r *retentionRepository) ListPolicies(ctx context.Context) ([]retention.Policy, error) {
	query := `
		SELECT id, scope, scope_id, soft_after_days, hard_after_soft_days, created_at, updated_at
		FROM retention_policies
		ORDER BY scope, scope_id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list retention policies: %w", err)
	}
	defer rows.Close()

	var out []retention.Policy
	for rows.Next() {
		var p retention.Policy
		var scopeStr string
		if err := rows.Scan(&p.ID, &scopeStr, &p.ScopeID, &p.SoftAfterDays, &p.HardAfterSoftDays,
			&p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan retention policy: %w", err)
		}
		if p.Scope, err = retention.ParseScope(scopeStr); err != nil {
			return nil, fmt.Errorf("failed to scan retention policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *retentionRepository) UpsertPolicy(ctx context.Context, p *retention.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	query := `
		INSERT INTO retention_policies (id, scope, scope_id, soft_after_days, hard_after_soft_days, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (scope, scope_id) DO UPDATE
		SET soft_after_days = EXCLUDED.soft_after_days,
		    hard_after_soft_days = EXCLUDED.hard_after_soft_days,
		    updated_at = now()`

	_, err := r.db.Exec(ctx, query, p.ID, p.Scope.String(), p.ScopeID, p.SoftAfterDays, p.HardAfterSoftDays)
	if err != nil {
		return fmt.Errorf("failed to upsert retention policy: %w", err)
	}
	return nil
}

func (r *retentionRepository) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM retention_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete retention policy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *retentionRepository) RecordDeletion(ctx context.Context, rec *retention.DeletionRecord) error {
	query := `
		INSERT INTO deletion_log (log_file_id, principal_id, phase, actor, reason, size_bytes, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		rec.LogFileID, rec.PrincipalID, string(rec.Phase), rec.Actor, string(rec.Reason), rec.SizeBytes, rec.At,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record deletion: %w", err)
	}
	return nil
}

func (r *retentionRepository) ListDeletions(ctx context.Context, logFileID uuid.UUID) ([]*retention.DeletionRecord, error) {
	query := `
		SELECT id, log_file_id, principal_id, phase, actor, reason, size_bytes, at
		FROM deletion_log
		WHERE log_file_id = $1
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, logFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deletions: %w", err)
	}
	defer rows.Close()

	var out []*retention.DeletionRecord
	for rows.Next() {
		var rec retention.DeletionRecord
		var phase, reason string
		if err := rows.Scan(&rec.ID, &rec.LogFileID, &rec.PrincipalID, &phase, &rec.Actor, &reason, &rec.SizeBytes, &rec.At); err != nil {
			return nil, fmt.Errorf("failed to scan deletion record: %w", err)
		}
		rec.Phase = retention.Phase(phase)
		rec.Reason = retention.Reason(reason)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
