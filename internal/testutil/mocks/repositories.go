// Package mocks provides testify mocks for the repository interfaces.
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

// PrincipalRepository mock
type PrincipalRepository struct {
	mock.Mock
}

func (m *PrincipalRepository) Create(ctx context.Context, p *principal.Principal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PrincipalRepository) GetByID(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principal.Principal), args.Error(1)
}

func (m *PrincipalRepository) GetByHandle(ctx context.Context, handle string) (*principal.Principal, error) {
	args := m.Called(ctx, handle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principal.Principal), args.Error(1)
}

func (m *PrincipalRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*principal.Principal, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*principal.Principal), args.Error(1)
}

func (m *PrincipalRepository) List(ctx context.Context, offset, limit int) ([]*principal.Principal, int, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*principal.Principal), args.Int(1), args.Error(2)
}

func (m *PrincipalRepository) Update(ctx context.Context, p *principal.Principal) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PrincipalRepository) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func (m *PrincipalRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *PrincipalRepository) WithTx(tx pgx.Tx) repository.PrincipalRepository {
	return m
}

// SessionRepository mock
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *SessionRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*session.Session, error) {
	args := m.Called(ctx, fingerprint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *SessionRepository) DeleteByFingerprint(ctx context.Context, fingerprint string) error {
	args := m.Called(ctx, fingerprint)
	return args.Error(0)
}

func (m *SessionRepository) DeleteAllForPrincipal(ctx context.Context, principalID uuid.UUID) (int64, error) {
	args := m.Called(ctx, principalID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}

// LogFileRepository mock
type LogFileRepository struct {
	mock.Mock
}

func (m *LogFileRepository) Create(ctx context.Context, f *logfile.LogFile) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *LogFileRepository) GetByID(ctx context.Context, id uuid.UUID) (*logfile.LogFile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*logfile.LogFile), args.Error(1)
}

func (m *LogFileRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, includeDeleted bool, offset, limit int) ([]*logfile.LogFile, int, error) {
	args := m.Called(ctx, principalID, includeDeleted, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*logfile.LogFile), args.Int(1), args.Error(2)
}

func (m *LogFileRepository) Update(ctx context.Context, f *logfile.LogFile) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *LogFileRepository) ListActiveCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*logfile.LogFile), args.Error(1)
}

func (m *LogFileRepository) ListSoftDeletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*logfile.LogFile, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*logfile.LogFile), args.Error(1)
}

func (m *LogFileRepository) WithTx(tx pgx.Tx) repository.LogFileRepository {
	return m
}

// AnalysisRepository mock
type AnalysisRepository struct {
	mock.Mock
}

func (m *AnalysisRepository) Create(ctx context.Context, a *analysis.Analysis) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *AnalysisRepository) GetByID(ctx context.Context, id uuid.UUID) (*analysis.Analysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Analysis), args.Error(1)
}

func (m *AnalysisRepository) ListByPrincipal(ctx context.Context, principalID uuid.UUID, f repository.AnalysisFilter) ([]*analysis.Analysis, int, error) {
	args := m.Called(ctx, principalID, f)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*analysis.Analysis), args.Int(1), args.Error(2)
}

func (m *AnalysisRepository) ClaimNext(ctx context.Context, now time.Time) (*analysis.Analysis, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*analysis.Analysis), args.Error(1)
}

func (m *AnalysisRepository) SetProgress(ctx context.Context, id uuid.UUID, pct int) error {
	args := m.Called(ctx, id, pct)
	return args.Error(0)
}

func (m *AnalysisRepository) MarkCompleted(ctx context.Context, id uuid.UUID, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *AnalysisRepository) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time, errorKind, errorMessage string) error {
	args := m.Called(ctx, id, now, errorKind, errorMessage)
	return args.Error(0)
}

func (m *AnalysisRepository) MarkCancelled(ctx context.Context, id uuid.UUID, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *AnalysisRepository) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *AnalysisRepository) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *AnalysisRepository) MarkSourceDeleted(ctx context.Context, logFileID uuid.UUID) error {
	args := m.Called(ctx, logFileID)
	return args.Error(0)
}

func (m *AnalysisRepository) SaveResult(ctx context.Context, r *analysis.Result) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *AnalysisRepository) GetResults(ctx context.Context, analysisID uuid.UUID) ([]*analysis.Result, error) {
	args := m.Called(ctx, analysisID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*analysis.Result), args.Error(1)
}

func (m *AnalysisRepository) ClearRawTextRefs(ctx context.Context, logFileID uuid.UUID) ([]string, error) {
	args := m.Called(ctx, logFileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *AnalysisRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *AnalysisRepository) CountRunning(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *AnalysisRepository) WithTx(tx pgx.Tx) repository.AnalysisRepository {
	return m
}

// ParserRepository mock
type ParserRepository struct {
	mock.Mock
}

func (m *ParserRepository) ListModes(ctx context.Context) ([]*parser.Descriptor, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*parser.Descriptor), args.Error(1)
}

func (m *ParserRepository) GetMode(ctx context.Context, modeKey string) (*parser.Descriptor, error) {
	args := m.Called(ctx, modeKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*parser.Descriptor), args.Error(1)
}

func (m *ParserRepository) UpsertMode(ctx context.Context, d *parser.Descriptor) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *ParserRepository) PermissionsFor(ctx context.Context, principalID uuid.UUID) (map[string]*parser.Permission, error) {
	args := m.Called(ctx, principalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*parser.Permission), args.Error(1)
}

func (m *ParserRepository) SetPermission(ctx context.Context, p *parser.Permission) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *ParserRepository) DeletePermission(ctx context.Context, principalID uuid.UUID, modeKey string) error {
	args := m.Called(ctx, principalID, modeKey)
	return args.Error(0)
}

// RetentionRepository mock
type RetentionRepository struct {
	mock.Mock
}

func (m *RetentionRepository) ListPolicies(ctx context.Context) ([]retention.Policy, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]retention.Policy), args.Error(1)
}

func (m *RetentionRepository) UpsertPolicy(ctx context.Context, p *retention.Policy) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *RetentionRepository) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *RetentionRepository) RecordDeletion(ctx context.Context, rec *retention.DeletionRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *RetentionRepository) ListDeletions(ctx context.Context, logFileID uuid.UUID) ([]*retention.DeletionRecord, error) {
	args := m.Called(ctx, logFileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*retention.DeletionRecord), args.Error(1)
}

// AuditRepository mock
type AuditRepository struct {
	mock.Mock
}

func (m *AuditRepository) Append(ctx context.Context, e *audit.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *AuditRepository) Query(ctx context.Context, f *audit.Filter) ([]*audit.Event, int, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*audit.Event), args.Int(1), args.Error(2)
}

func (m *AuditRepository) Stream(ctx context.Context, f *audit.Filter, fn func(*audit.Event) error) error {
	args := m.Called(ctx, f, fn)
	return args.Error(0)
}

// AuditRecorder is an in-memory AuditRepository for services that write
// audit events from background goroutines, where a strict mock would
// race on expectations.
type AuditRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *AuditRecorder) Append(ctx context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *AuditRecorder) Query(ctx context.Context, f *audit.Filter) ([]*audit.Event, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.Event, len(r.events))
	copy(out, r.events)
	return out, len(out), nil
}

func (r *AuditRecorder) Stream(ctx context.Context, f *audit.Filter, fn func(*audit.Event) error) error {
	r.mu.Lock()
	events := make([]*audit.Event, len(r.events))
	copy(events, r.events)
	r.mu.Unlock()
	for _, e := range events {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Events returns a snapshot of everything appended so far.
func (r *AuditRecorder) Events() []*audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*audit.Event, len(r.events))
	copy(out, r.events)
	return out
}
