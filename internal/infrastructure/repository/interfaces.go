package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/database"
)

// Querier is the subset of pgx shared by pools and transactions, so a
// repository can be rebound onto an open transaction with WithTx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PrincipalRepository persists acting identities and their storage
// accounting.
type PrincipalRepository interface {
	Create(ctx context.Context, p *principal.Principal) error
	GetByID(ctx context.Context, id uuid.UUID) (*principal.Principal, error)
	GetByHandle(ctx context.Context, handle string) (*principal.Principal, error)
	// GetByIDForUpdate locks the row; callers hold it inside a
	// transaction while adjusting used_bytes.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*principal.Principal, error)
	List(ctx context.Context, offset, limit int) ([]*principal.Principal, int, error)
	Update(ctx context.Context, p *principal.Principal) error
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	Delete(ctx context.Context, id uuid.UUID) error
	WithTx(tx pgx.Tx) PrincipalRepository
}

// SessionRepository persists server-side bearer-token records.
type SessionRepository interface {
	Create(ctx context.Context, s *session.Session) error
	GetByFingerprint(ctx context.Context, fingerprint string) (*session.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByFingerprint(ctx context.Context, fingerprint string) error
	// DeleteAllForPrincipal revokes every session, e.g. after a password
	// change or account deactivation. Returns the number revoked.
	DeleteAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// LogFileRepository persists uploaded archives and their deletion
// lifecycle.
type LogFileRepository interface {
	Create(ctx context.Context, f *logfile.LogFile) error
	GetByID(ctx context.Context, id uuid.UUID) (*logfile.LogFile, error)
	ListByPrincipal(ctx context.Context, principalID uuid.UUID, includeDeleted bool, offset, limit int) ([]*logfile.LogFile, int, error)
	Update(ctx context.Context, f *logfile.LogFile) error
	// ListActiveCreatedBefore returns live files older than the cutoff,
	// oldest first. The sweep re-checks each file against its owner's
	// effective policy before deleting.
	ListActiveCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error)
	// ListSoftDeletedBefore returns soft-deleted files whose soft
	// deletion is older than the cutoff, oldest first.
	ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error)
	WithTx(tx pgx.Tx) LogFileRepository
}

// AnalysisFilter narrows analysis listings.
type AnalysisFilter struct {
	Status    *analysis.Status
	LogFileID *uuid.UUID

	// Query matches session_label and the source file name,
	// case-insensitively.
	Query string
	From  *time.Time
	To    *time.Time

	Offset int
	Limit  int
}

// AnalysisRepository persists parse jobs, their per-mode results, and
// the claim queue the worker pool drains.
type AnalysisRepository interface {
	Create(ctx context.Context, a *analysis.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*analysis.Analysis, error)
	ListByPrincipal(ctx context.Context, principalID uuid.UUID, f AnalysisFilter) ([]*analysis.Analysis, int, error)

	// ClaimNext atomically moves the oldest pending analysis to running
	// and returns it. FOR UPDATE SKIP LOCKED keeps concurrent workers
	// from claiming the same row. Returns ErrNotFound when the queue is
	// empty.
	ClaimNext(ctx context.Context, now time.Time) (*analysis.Analysis, error)

	// SetProgress advances progress_pct monotonically; regressions are
	// absorbed by GREATEST rather than rejected.
	SetProgress(ctx context.Context, id uuid.UUID, pct int) error

	// The terminal transitions are compare-and-sets on the status
	// column; ErrStaleStatus means someone else got there first.
	MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, now time.Time, errorKind, errorMessage string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) error

	// RequestCancel flags a non-terminal analysis; reports whether the
	// flag landed.
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)
	IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// MarkSourceDeleted flags every analysis of a hard-deleted file.
	MarkSourceDeleted(ctx context.Context, logFileID uuid.UUID) error

	SaveResult(ctx context.Context, r *analysis.Result) error
	GetResults(ctx context.Context, analysisID uuid.UUID) ([]*analysis.Result, error)
	// ClearRawTextRefs detaches raw parser output references for every
	// analysis of a hard-deleted file. Returns the refs that were set so
	// the caller can remove the objects.
	ClearRawTextRefs(ctx context.Context, logFileID uuid.UUID) ([]string, error)

	Delete(ctx context.Context, id uuid.UUID) error
	CountRunning(ctx context.Context) (int, error)
	WithTx(tx pgx.Tx) AnalysisRepository
}

// ParserRepository persists the mode registry and per-principal
// visibility overrides.
type ParserRepository interface {
	ListModes(ctx context.Context) ([]*parser.Descriptor, error)
	GetMode(ctx context.Context, modeKey string) (*parser.Descriptor, error)
	UpsertMode(ctx context.Context, d *parser.Descriptor) error
	PermissionsFor(ctx context.Context, principalID uuid.UUID) (map[string]*parser.Permission, error)
	SetPermission(ctx context.Context, p *parser.Permission) error
	DeletePermission(ctx context.Context, principalID uuid.UUID, modeKey string) error
}

// RetentionRepository persists retention policies and the deletion log.
type RetentionRepository interface {
	ListPolicies(ctx context.Context) ([]retention.Policy, error)
	UpsertPolicy(ctx context.Context, p *retention.Policy) error
	DeletePolicy(ctx context.Context, id uuid.UUID) error
	RecordDeletion(ctx context.Context, rec *retention.DeletionRecord) error
	ListDeletions(ctx context.Context, logFileID uuid.UUID) ([]*retention.DeletionRecord, error)
}

// AuditRepository is append-only; there is no update or delete.
type AuditRepository interface {
	Append(ctx context.Context, e *audit.Event) error
	Query(ctx context.Context, f *audit.Filter) ([]*audit.Event, int, error)
	// Stream walks matching events oldest-first without materializing
	// them, for the CSV export.
	Stream(ctx context.Context, f *audit.Filter, fn func(*audit.Event) error) error
}

// Repositories bundles every repository over one connection pool.
type Repositories struct {
	Principals PrincipalRepository
	Sessions   SessionRepository
	LogFiles   LogFileRepository
	Analyses   AnalysisRepository
	Parsers    ParserRepository
	Retention  RetentionRepository
	Audit      AuditRepository
}

// New wires all repositories onto the shared pool.
func New(pool *database.ConnectionPool) *Repositories {
	q := pool.Pool()
	return &Repositories{
		Principals: NewPrincipalRepository(q),
		Sessions:   NewSessionRepository(q),
		LogFiles:   NewLogFileRepository(q),
		Analyses:   NewAnalysisRepository(q),
		Parsers:    NewParserRepository(q),
		Retention:  NewRetentionRepository(q),
		Audit:      NewAuditRepository(q),
	}
}
