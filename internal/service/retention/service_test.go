package retention_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
	domret "github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/fixtures"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/mocks"
)

// fakeStore records deletes and can be told to fail specific refs.
type fakeStore struct {
	mu      sync.Mutex
	deleted []string
	fail    map[string]error
}

func (s *fakeStore) Put(ctx context.Context, ref string, r io.Reader) (int64, error) {
	return 0, errors.New("not implemented")
}

func (s *fakeStore) Reader(ctx context.Context, ref string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.fail[ref]; ok {
		return err
	}
	s.deleted = append(s.deleted, ref)
	return nil
}

func (s *fakeStore) Size(ctx context.Context, ref string) (int64, error) { return 0, nil }

func (s *fakeStore) HealthCheck(ctx context.Context) error { return nil }

type harness struct {
	svc        *retention.Service
	logFiles   *mocks.LogFileRepository
	principals *mocks.PrincipalRepository
	analyses   *mocks.AnalysisRepository
	policies   *mocks.RetentionRepository
	store      *fakeStore
	audits     *mocks.AuditRecorder
	auditSvc   *auditlog.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		logFiles:   new(mocks.LogFileRepository),
		principals: new(mocks.PrincipalRepository),
		analyses:   new(mocks.AnalysisRepository),
		policies:   new(mocks.RetentionRepository),
		store:      &fakeStore{fail: map[string]error{}},
		audits:     new(mocks.AuditRecorder),
	}
	h.auditSvc = auditlog.NewService(h.audits, nil, zap.NewNop())
	t.Cleanup(h.auditSvc.Close)

	h.svc = retention.NewService(
		nil,
		&repository.Repositories{
			Principals: h.principals,
			LogFiles:   h.logFiles,
			Analyses:   h.analyses,
			Retention:  h.policies,
		},
		h.store,
		h.auditSvc,
		&config.RetentionConfig{SoftAfterDays: 30, HardAfterSoftDays: 90, BatchSize: 500},
		zap.NewNop(),
	)
	return h
}

func TestSoftDeleteFile(t *testing.T) {
	owner := uuid.New()

	t.Run("marks the file and its analyses", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).Build()

		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)
		h.logFiles.On("Update", mock.Anything, f).Return(nil)
		h.analyses.On("MarkSourceDeleted", mock.Anything, f.ID).Return(nil)
		h.policies.On("RecordDeletion", mock.Anything, mock.MatchedBy(func(rec *domret.DeletionRecord) bool {
			return rec.Phase == domret.PhaseSoft && rec.LogFileID == f.ID
		})).Return(nil)

		require.NoError(t, h.svc.SoftDeleteFile(testutil.TestContext(t), f.ID, owner.String(), domret.ReasonManual))
		assert.True(t, f.IsSoftDeleted())
		h.policies.AssertExpectations(t)
	})

	t.Run("pinned file refuses", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).Pinned().Build()
		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)

		err := h.svc.SoftDeleteFile(testutil.TestContext(t), f.ID, owner.String(), domret.ReasonManual)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindConflict))
		h.logFiles.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("already soft-deleted is a no-op", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).SoftDeletedAt(time.Now().Add(-time.Hour)).Build()
		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)

		require.NoError(t, h.svc.SoftDeleteFile(testutil.TestContext(t), f.ID, owner.String(), domret.ReasonManual))
		h.logFiles.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("missing file maps to not found", func(t *testing.T) {
		h := newHarness(t)
		id := uuid.New()
		h.logFiles.On("GetByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

		err := h.svc.SoftDeleteFile(testutil.TestContext(t), id, owner.String(), domret.ReasonManual)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindNotFound))
	})
}

func TestHardDeleteFile(t *testing.T) {
	owner := uuid.New()

	t.Run("pinned file refuses", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).Pinned().Build()
		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)

		err := h.svc.HardDeleteFile(testutil.TestContext(t), f.ID, audit.SystemActor, domret.ReasonPolicy)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindConflict))
		assert.Empty(t, h.store.deleted)
	})

	t.Run("already hard-deleted is a no-op", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).Build()
		now := time.Now().UTC()
		f.HardDeletedAt = &now
		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)

		require.NoError(t, h.svc.HardDeleteFile(testutil.TestContext(t), f.ID, audit.SystemActor, domret.ReasonPolicy))
		assert.Empty(t, h.store.deleted)
	})

	t.Run("row survives when the object delete fails", func(t *testing.T) {
		h := newHarness(t)
		f := fixtures.NewLogFileBuilder(t, owner).Build()
		h.store.fail[f.StoredPath] = errors.New("backend unavailable")
		h.logFiles.On("GetByID", mock.Anything, f.ID).Return(f, nil)

		err := h.svc.HardDeleteFile(testutil.TestContext(t), f.ID, audit.SystemActor, domret.ReasonPolicy)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInternal))
		assert.False(t, f.IsHardDeleted())
		h.logFiles.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestSoftSweep(t *testing.T) {
	ownerA, ownerB := uuid.New(), uuid.New()

	// ownerB keeps files twice as long as the 30-day default.
	policies := []domret.Policy{{
		ID:                uuid.New(),
		Scope:             domret.ScopePrincipal,
		ScopeID:           ownerB.String(),
		SoftAfterDays:     60,
		HardAfterSoftDays: 90,
	}}

	aged := func(owner uuid.UUID, days int) *fixtures.LogFileBuilder {
		return fixtures.NewLogFileBuilder(t, owner).CreatedAt(time.Now().AddDate(0, 0, -days))
	}

	t.Run("dry run counts without deleting", func(t *testing.T) {
		h := newHarness(t)
		due := aged(ownerA, 40).Build()
		kept := aged(ownerB, 40).Build()

		h.policies.On("ListPolicies", mock.Anything).Return(policies, nil)
		h.logFiles.On("ListActiveCreatedBefore", mock.Anything, mock.AnythingOfType("time.Time"), 500).
			Return([]*logfile.LogFile{due, kept}, nil)

		stats, err := h.svc.SoftSweep(testutil.TestContext(t), true)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Examined)
		assert.Equal(t, 1, stats.Deleted)
		assert.Equal(t, 1, stats.Skipped)
		assert.True(t, stats.DryRun)
		h.logFiles.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("deletes due files and audits each one", func(t *testing.T) {
		h := newHarness(t)
		due := aged(ownerA, 40).Build()
		kept := aged(ownerB, 40).Build()

		h.policies.On("ListPolicies", mock.Anything).Return(policies, nil)
		h.logFiles.On("ListActiveCreatedBefore", mock.Anything, mock.AnythingOfType("time.Time"), 500).
			Return([]*logfile.LogFile{due, kept}, nil)
		h.logFiles.On("GetByID", mock.Anything, due.ID).Return(due, nil)
		h.logFiles.On("Update", mock.Anything, due).Return(nil)
		h.analyses.On("MarkSourceDeleted", mock.Anything, due.ID).Return(nil)
		h.policies.On("RecordDeletion", mock.Anything, mock.Anything).Return(nil)

		stats, err := h.svc.SoftSweep(testutil.TestContext(t), false)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Deleted)
		assert.True(t, due.IsSoftDeleted())
		assert.False(t, kept.IsSoftDeleted())

		h.auditSvc.Close()
		var sweeps int
		for _, e := range h.audits.Events() {
			if e.Action == audit.ActionSoftSweep {
				sweeps++
			}
		}
		assert.Equal(t, 1, sweeps)
	})
}

func TestHardSweepDryRun(t *testing.T) {
	ownerA, ownerB := uuid.New(), uuid.New()

	// ownerB's soft-deleted files linger 200 days before hard deletion.
	policies := []domret.Policy{{
		ID:                uuid.New(),
		Scope:             domret.ScopePrincipal,
		ScopeID:           ownerB.String(),
		SoftAfterDays:     30,
		HardAfterSoftDays: 200,
	}}

	h := newHarness(t)
	due := fixtures.NewLogFileBuilder(t, ownerA).
		CreatedAt(time.Now().AddDate(0, 0, -200)).
		SoftDeletedAt(time.Now().AddDate(0, 0, -100)).Build()
	kept := fixtures.NewLogFileBuilder(t, ownerB).
		CreatedAt(time.Now().AddDate(0, 0, -200)).
		SoftDeletedAt(time.Now().AddDate(0, 0, -100)).Build()

	h.policies.On("ListPolicies", mock.Anything).Return(policies, nil)
	h.logFiles.On("ListSoftDeletedBefore", mock.Anything, mock.AnythingOfType("time.Time"), 500).
		Return([]*logfile.LogFile{due, kept}, nil)

	stats, err := h.svc.HardSweep(testutil.TestContext(t), true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
	assert.Equal(t, 1, stats.Deleted)
	assert.Equal(t, 1, stats.Skipped)
	assert.Empty(t, h.store.deleted)
}

func TestSchedulerRunsAndStops(t *testing.T) {
	var runs atomic.Int32

	s := retention.NewScheduler(zap.NewNop())
	s.Register(retention.Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start()
	testutil.Eventually(t, func() bool { return runs.Load() >= 3 },
		2*time.Second, 5*time.Millisecond, "job never reached three runs")

	s.Stop()
	s.Stop() // idempotent

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}
