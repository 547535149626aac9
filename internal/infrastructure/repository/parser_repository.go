package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
)

type parserRepository struct {
	db Querier
}

// NewParserRepository creates a parser registry repository on the given
// pool.
func NewParserRepository(db Querier) ParserRepository {
	return &parserRepository{db: db}
}

const modeColumns = `
	mode_key, display_name, description,
	enabled, visible_to_users, admin_only,
	output_shape, command_args, block_pattern, timeout_seconds,
	created_at, updated_at`

func (r *parserRepository) ListModes(ctx context.Context) ([]*parser.Descriptor, error) {
	rows, err := r.db.Query(ctx, `SELECT `+modeColumns+` FROM parser_descriptors ORDER BY mode_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list parser modes: %w", err)
	}
	defer rows.Close()

	var out []*parser.Descriptor
	for rows.Next() {
		d, err := r.scanMode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *parserRepository) GetMode(ctx context.Context, modeKey string) (*parser.Descriptor, error) {
	return r.scanMode(r.db.QueryRow(ctx,
		`SELECT `+modeColumns+` FROM parser_descriptors WHERE mode_key = $1`, modeKey))
}

func (r *parserRepository) UpsertMode(ctx context.Context, d *parser.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO parser_descriptors (` + modeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (mode_key) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    description = EXCLUDED.description,
		    enabled = EXCLUDED.enabled,
		    visible_to_users = EXCLUDED.visible_to_users,
		    admin_only = EXCLUDED.admin_only,
		    output_shape = EXCLUDED.output_shape,
		    command_args = EXCLUDED.command_args,
		    block_pattern = EXCLUDED.block_pattern,
		    timeout_seconds = EXCLUDED.timeout_seconds,
		    updated_at = now()`

	_, err := r.db.Exec(ctx, query,
		d.ModeKey, d.DisplayName, d.Description,
		d.Enabled, d.VisibleToUsers, d.AdminOnly,
		string(d.OutputShape), d.CommandArgs, d.BlockPattern, d.TimeoutSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert parser mode: %w", err)
	}
	return nil
}

func (r *parserRepository) PermissionsFor(ctx context.Context, principalID uuid.UUID) (map[string]*parser.Permission, error) {
	rows, err := r.db.Query(ctx,
		`SELECT principal_id, mode_key, allow FROM parser_permissions WHERE principal_id = $1`, principalID)
	if err != nil {
		return nil, fmt.Errorf("failed to query parser permissions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*parser.Permission)
	for rows.Next() {
		var p parser.Permission
		if err := rows.Scan(&p.PrincipalID, &p.ModeKey, &p.Allow); err != nil {
			return nil, fmt.Errorf("failed to scan parser permission: %w", err)
		}
		out[p.ModeKey] = &p
	}
	return out, rows.Err()
}

func (r *parserRepository) SetPermission(ctx context.Context, p *parser.Permission) error {
	query := `
		INSERT INTO parser_permissions (principal_id, mode_key, allow)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id, mode_key) DO UPDATE SET allow = EXCLUDED.allow`

	_, err := r.db.Exec(ctx, query, p.PrincipalID, p.ModeKey, p.Allow)
	if err != nil {
		return fmt.Errorf("failed to set parser permission: %w", err)
	}
	return nil
}

func (r *parserRepository) DeletePermission(ctx context.Context, principalID uuid.UUID, modeKey string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM parser_permissions WHERE principal_id = $1 AND mode_key = $2`, principalID, modeKey)
	if err != nil {
		return fmt.Errorf("failed to delete parser permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *parserRepository) scanMode(row pgx.Row) (*parser.Descriptor, error) {
	var d parser.Descriptor
	var shape string

	err := row.Scan(
		&d.ModeKey, &d.DisplayName, &d.Description,
		&d.Enabled, &d.VisibleToUsers, &d.AdminOnly,
		&shape, &d.CommandArgs, &d.BlockPattern, &d.TimeoutSeconds,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if translated := translateErr(err); translated == ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan parser mode: %w", err)
	}

	if d.OutputShape, err = parser.ParseOutputShape(shape); err != nil {
		return nil, fmt.Errorf("failed to scan parser mode: %w", err)
	}
	return &d, nil
}
