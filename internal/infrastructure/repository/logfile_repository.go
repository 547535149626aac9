package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
)

type logFileRepository struct {
	db Querier
}

// NewLogFileRepository creates a log file repository on the given pool
// or transaction.
func NewLogFileRepository(db Querier) LogFileRepository {
	return &logFileRepository{db: db}
}

func (r *logFileRepository) WithTx(tx pgx.Tx) LogFileRepository {
	return &logFileRepository{db: tx}
}

const logFileColumns = `
	id, principal_id, stored_path, original_name, size_bytes, content_sha256,
	pinned, created_at, soft_deleted_at, hard_deleted_at`

func (r *logFileRepository) Create(ctx context.Context, f *logfile.LogFile) error {
	query := `
		INSERT INTO log_files (` + logFileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		f.ID, f.PrincipalID, f.StoredPath, f.OriginalName, f.SizeBytes, f.ContentSHA256,
		f.Pinned, f.CreatedAt, f.SoftDeletedAt, f.HardDeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", translateErr(err))
	}
	return nil
}

func (r *logFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*logfile.LogFile, error) {
	query := `SELECT ` + logFileColumns + ` FROM log_files WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *logFileRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, includeDeleted bool, offset, limit int) ([]*logfile.LogFile, int, error) {
	cond := `principal_id = $1`
	if !includeDeleted {
		cond += ` AND soft_deleted_at IS NULL AND hard_deleted_at IS NULL`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM log_files WHERE `+cond, principalID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count log files: %w", err)
	}

	query := `SELECT ` + logFileColumns + ` FROM log_files WHERE ` + cond +
		` ORDER BY created_at DESC, id OFFSET $2 LIMIT $3`
	rows, err := r.db.Query(ctx, query, principalID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list log files: %w", err)
	}
	defer rows.Close()

	var out []*logfile.LogFile
	for rows.Next() {
		f, err := r.scanOne(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

func (r *logFileRepository) Update(ctx context.Context, f *logfile.LogFile) error {
	query := `
		UPDATE log_files
		SET stored_path = $2, pinned = $3, soft_deleted_at = $4, hard_deleted_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, f.ID, f.StoredPath, f.Pinned, f.SoftDeletedAt, f.HardDeletedAt)
	if err != nil {
		return fmt.Errorf("failed to update log file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *logFileRepository) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error) {
	query := `
		SELECT ` + logFileColumns + `
		FROM log_files
		WHERE soft_deleted_at IS NULL AND hard_deleted_at IS NULL AND NOT pinned
		  AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2`
	return r.scanMany(ctx, query, cutoff.UTC(), limit)
}

func (r *logFileRepository) ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error) {
	query := `
		SELECT ` + logFileColumns + `
		FROM log_files
		WHERE soft_deleted_at IS NOT NULL AND hard_deleted_at IS NULL AND NOT pinned
		  AND soft_deleted_at < $1
		ORDER BY soft_deleted_at, id
		LIMIT $2`
	return r.scanMany(ctx, query, cutoff.UTC(), limit)
}

func (r *logFileRepository) scanMany(ctx context.Context, query string, args ...any) ([]*logfile.LogFile, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log files: %w", err)
	}
	defer rows.Close()

	var out []*logfile.LogFile
	for rows.Next() {
		f, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *logFileRepository) scanOne(row pgx.Row) (*logfile.LogFile, error) {
	var f logfile.LogFile
	err := row.Scan(
		&f.ID, &f.PrincipalID, &f.StoredPath, &f.OriginalName, &f.SizeBytes, &f.ContentSHA256,
		&f.Pinned, &f.CreatedAt, &f.SoftDeletedAt, &f.HardDeletedAt,
	)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan log file: %w", err)
	}
	return &f, nil
}
