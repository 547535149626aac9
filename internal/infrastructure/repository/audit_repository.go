package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
)

type auditRepository struct {
	db Querier
}

// NewAuditRepository creates an audit repository on the given pool.
func NewAuditRepository(db Querier) AuditRepository {
	return &auditRepository{db: db}
}

const auditColumns = `
	id, principal_id, at, action, entity_kind, entity_id,
	ip, geo, user_agent, outcome, detail`

func (r *auditRepository) Append(ctx context.Context, e *audit.Event) error {
	query := `
		INSERT INTO audit_events
			(principal_id, at, action, entity_kind, entity_id, ip, geo, user_agent, outcome, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var geo []byte
	if len(e.Geo) > 0 {
		geo = []byte(e.Geo)
	}
	detail := []byte(e.Detail)
	if len(detail) == 0 {
		detail = []byte("{}")
	}

	err := r.db.QueryRow(ctx, query,
		e.PrincipalID, e.At, string(e.Action), e.EntityKind, e.EntityID,
		e.IP, geo, e.UserAgent, string(e.Outcome), detail,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (r *auditRepository) Query(ctx context.Context, f *audit.Filter) ([]*audit.Event, int, error) {
	f.Normalize()
	cond, args := buildAuditFilter(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	args = append(args, f.Offset(), f.PerPage)
	query := fmt.Sprintf(`SELECT `+auditColumns+` FROM audit_events WHERE `+cond+
		` ORDER BY id DESC OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []*audit.Event
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *auditRepository) Stream(ctx context.Context, f *audit.Filter, fn func(*audit.Event) error) error {
	cond, args := buildAuditFilter(f)
	// Oldest first: exports read naturally and append-only means the
	// cursor stays stable while new rows arrive.
	query := `SELECT ` + auditColumns + ` FROM audit_events WHERE ` + cond + ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to stream audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func buildAuditFilter(f *audit.Filter) (string, []any) {
	cond := `TRUE`
	var args []any

	if f.PrincipalID != nil {
		args = append(args, *f.PrincipalID)
		cond += fmt.Sprintf(` AND principal_id = $%d`, len(args))
	}
	if f.Action != "" {
		args = append(args, string(f.Action))
		cond += fmt.Sprintf(` AND action = $%d`, len(args))
	}
	if f.Outcome != "" {
		args = append(args, string(f.Outcome))
		cond += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if f.EntityKind != "" {
		args = append(args, f.EntityKind)
		cond += fmt.Sprintf(` AND entity_kind = $%d`, len(args))
	}
	if !f.From.IsZero() {
		args = append(args, f.From.UTC())
		cond += fmt.Sprintf(` AND at >= $%d`, len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To.UTC())
		cond += fmt.Sprintf(` AND at < $%d`, len(args))
	}
	return cond, args
}

func scanAuditEvent(row pgx.Row) (*audit.Event, error) {
	var e audit.Event
	var action, outcome string
	var geo, detail []byte

	err := row.Scan(
		&e.ID, &e.PrincipalID, &e.At, &action, &e.EntityKind, &e.EntityID,
		&e.IP, &geo, &e.UserAgent, &outcome, &detail,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	e.Action = audit.Action(action)
	e.Outcome = audit.Outcome(outcome)
	e.Geo = geo
	e.Detail = detail
	return &e, nil
}
