package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
)

type analysisRepository struct {
	db Querier
}

// NewAnalysisRepository creates an analysis repository on the given
// pool.
func NewAnalysisRepository(db Querier) AnalysisRepository {
	return &analysisRepository{db: db}
}

func (r *analysisRepository) WithTx(tx pgx.Tx) AnalysisRepository {
	return &analysisRepository{db: tx}
}

const analysisColumns = `
	id, principal_id, log_file_id, mode_keys, timezone,
	window_start, window_end, naive_window,
	status, progress_pct, cancel_requested, source_deleted,
	session_label, external_ref, error_kind, error_message,
	created_at, started_at, finished_at, duration_ms`

const prefixedAnalysisColumns = `
	a.id, a.principal_id, a.log_file_id, a.mode_keys, a.timezone,
	a.window_start, a.window_end, a.naive_window,
	a.status, a.progress_pct, a.cancel_requested, a.source_deleted,
	a.session_label, a.external_ref, a.error_kind, a.error_message,
	a.created_at, a.started_at, a.finished_at, a.duration_ms`

func (r *analysisRepository) Create(ctx context.Context, a *analysis.Analysis) error {
	query := `
		INSERT INTO analyses (` + analysisColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.PrincipalID, a.LogFileID, a.ModeKeys, a.Timezone,
		a.WindowStart, a.WindowEnd, a.NaiveWindow,
		a.Status.String(), a.ProgressPct, a.CancelRequested, a.SourceDeleted,
		a.SessionLabel, a.ExternalRef, a.ErrorKind, a.ErrorMessage,
		a.CreatedAt, a.StartedAt, a.FinishedAt, a.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", translateErr(err))
	}
	return nil
}

func (r *analysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*analysis.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *analysisRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, f AnalysisFilter) ([]*analysis.Analysis, int, error) {
	cond := `a.principal_id = $1`
	args := []any{principalID}
	if f.Status != nil {
		args = append(args, f.Status.String())
		cond += fmt.Sprintf(` AND a.status = $%d`, len(args))
	}
	if f.LogFileID != nil {
		args = append(args, *f.LogFileID)
		cond += fmt.Sprintf(` AND a.log_file_id = $%d`, len(args))
	}
	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		cond += fmt.Sprintf(` AND (a.session_label ILIKE $%d OR EXISTS (
			SELECT 1 FROM log_files lf WHERE lf.id = a.log_file_id AND lf.original_name ILIKE $%d))`,
			len(args), len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		cond += fmt.Sprintf(` AND a.created_at >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		cond += fmt.Sprintf(` AND a.created_at <= $%d`, len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM analyses a WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count analyses: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, f.Offset, limit)
	query := fmt.Sprintf(`SELECT `+prefixedAnalysisColumns+` FROM analyses a WHERE `+cond+
		` ORDER BY a.created_at DESC, a.id OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var out []*analysis.Analysis
	for rows.Next() {
		a, err := r.scanOne(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ClaimNext uses SKIP LOCKED so concurrent workers never fight over the
// same pending row; the subquery picks the oldest one.
func (r *analysisRepository) ClaimNext(ctx context.Context, now time.Time) (*analysis.Analysis, error) {
	query := `
		UPDATE analyses
		SET status = 'running', started_at = $1, progress_pct = 0
		WHERE id = (
			SELECT id FROM analyses
			WHERE status = 'pending'
			ORDER BY created_at, id
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + analysisColumns

	return r.scanOne(r.db.QueryRow(ctx, query, now.UTC()))
}

func (r *analysisRepository) SetProgress(ctx context.Context, id uuid.UUID, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	// GREATEST keeps progress monotonic under out-of-order reports.
	_, err := r.db.Exec(ctx, `
		UPDATE analyses
		SET progress_pct = GREATEST(progress_pct, $2)
		WHERE id = $1 AND status = 'running'`, id, pct)
	if err != nil {
		return fmt.Errorf("failed to set progress: %w", err)
	}
	return nil
}

func (r *analysisRepository) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE analyses
		SET status = 'completed', progress_pct = 100, finished_at = $2,
		    duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($2 - COALESCE(started_at, created_at))) * 1000)::bigint)
		WHERE id = $1 AND status = 'running'`
	return r.casExec(ctx, query, id, now.UTC())
}

func (r *analysisRepository) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time, errorKind, errorMessage string) error {
	// Pending jobs can fail directly (quota refusal, source vanished);
	// running jobs fail from the worker.
	query := `
		UPDATE analyses
		SET status = 'failed', error_kind = $3, error_message = $4, finished_at = $2,
		    duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($2 - COALESCE(started_at, created_at))) * 1000)::bigint)
		WHERE id = $1 AND status IN ('pending', 'running')`
	return r.casExec(ctx, query, id, now.UTC(), errorKind, errorMessage)
}

func (r *analysisRepository) MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE analyses
		SET status = 'cancelled', finished_at = $2,
		    duration_ms = GREATEST(0, (EXTRACT(EPOCH FROM ($2 - COALESCE(started_at, created_at))) * 1000)::bigint)
		WHERE id = $1 AND status IN ('pending', 'running')`
	return r.casExec(ctx, query, id, now.UTC())
}

func (r *analysisRepository) casExec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (r *analysisRepository) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE analyses
		SET cancel_requested = TRUE
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *analysisRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx,
		`SELECT cancel_requested FROM analyses WHERE id = $1`, id).Scan(&requested)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

func (r *analysisRepository) MarkSourceDeleted(ctx context.Context, logFileID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE analyses SET source_deleted = TRUE WHERE log_file_id = $1`, logFileID)
	if err != nil {
		return fmt.Errorf("failed to mark source deleted: %w", err)
	}
	return nil
}

func (r *analysisRepository) SaveResult(ctx context.Context, res *analysis.Result) error {
	query := `
		INSERT INTO analysis_results
			(analysis_id, mode_key, raw_text_ref, structured_payload, schema_version, warnings, outcome, produced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (analysis_id, mode_key) DO UPDATE
		SET raw_text_ref = EXCLUDED.raw_text_ref,
		    structured_payload = EXCLUDED.structured_payload,
		    schema_version = EXCLUDED.schema_version,
		    warnings = EXCLUDED.warnings,
		    outcome = EXCLUDED.outcome,
		    produced_at = EXCLUDED.produced_at`

	_, err := r.db.Exec(ctx, query,
		res.AnalysisID, res.ModeKey, res.RawTextRef, []byte(res.StructuredPayload),
		res.SchemaVersion, res.Warnings, string(res.Outcome), res.ProducedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (r *analysisRepository) GetResults(ctx context.Context, analysisID uuid.UUID) ([]*analysis.Result, error) {
	query := `
		SELECT analysis_id, mode_key, raw_text_ref, structured_payload, schema_version, warnings, outcome, produced_at
		FROM analysis_results
		WHERE analysis_id = $1
		ORDER BY mode_key`

	rows, err := r.db.Query(ctx, query, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []*analysis.Result
	for rows.Next() {
		var res analysis.Result
		var payload []byte
		var outcome string
		if err := rows.Scan(&res.AnalysisID, &res.ModeKey, &res.RawTextRef, &payload,
			&res.SchemaVersion, &res.Warnings, &outcome, &res.ProducedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.StructuredPayload = payload
		res.Outcome = analysis.ResultOutcome(outcome)
		out = append(out, &res)
	}
	return out, rows.Err()
}

func (r *analysisRepository) ClearRawTextRefs(ctx context.Context, logFileID uuid.UUID) ([]string, error) {
	query := `
		UPDATE analysis_results res
		SET raw_text_ref = ''
		FROM analyses a
		WHERE res.analysis_id = a.id AND a.log_file_id = $1 AND res.raw_text_ref <> ''
		RETURNING res.raw_text_ref`

	rows, err := r.db.Query(ctx, query, logFileID)
	if err != nil {
		return nil, fmt.Errorf("failed to clear raw text refs: %w", err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("failed to scan raw text ref: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *analysisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// Results go with it via ON DELETE CASCADE.
	tag, err := r.db.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *analysisRepository) CountRunning(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM analyses WHERE status = 'running'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count running analyses: %w", err)
	}
	return n, nil
}

func (r *analysisRepository) scanOne(row pgx.Row) (*analysis.Analysis, error) {
	var a analysis.Analysis
	var statusStr string

	err := row.Scan(
		&a.ID, &a.PrincipalID, &a.LogFileID, &a.ModeKeys, &a.Timezone,
		&a.WindowStart, &a.WindowEnd, &a.NaiveWindow,
		&statusStr, &a.ProgressPct, &a.CancelRequested, &a.SourceDeleted,
		&a.SessionLabel, &a.ExternalRef, &a.ErrorKind, &a.ErrorMessage,
		&a.CreatedAt, &a.StartedAt, &a.FinishedAt, &a.DurationMs,
	)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	if a.Status, err = analysis.ParseStatus(statusStr); err != nil {
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}
	return &a, nil
}
