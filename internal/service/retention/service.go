// Package retention applies the soft/hard deletion lifecycle to stored
// log files and hosts the background job scheduler.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/database"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/objectstore"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
)

// Service owns file deletion and the retention sweeps.
type Service struct {
	pool       *database.ConnectionPool
	logFiles   repository.LogFileRepository
	principals repository.PrincipalRepository
	analyses   repository.AnalysisRepository
	policies   repository.RetentionRepository
	store      objectstore.Store
	audit      *auditlog.Service
	logger     *zap.Logger

	fallback  retention.Policy
	batchSize int
}

// NewService wires the retention service.
func NewService(
	pool *database.ConnectionPool,
	repos *repository.Repositories,
	store objectstore.Store,
	auditSvc *auditlog.Service,
	cfg *config.RetentionConfig,
	logger *zap.Logger,
) *Service {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 500
	}
	return &Service{
		pool:       pool,
		logFiles:   repos.LogFiles,
		principals: repos.Principals,
		analyses:   repos.Analyses,
		policies:   repos.Retention,
		store:      store,
		audit:      auditSvc,
		logger:     logger.Named("retention"),
		fallback: retention.Policy{
			SoftAfterDays:     cfg.SoftAfterDays,
			HardAfterSoftDays: cfg.HardAfterSoftDays,
		},
		batchSize: batch,
	}
}

// SoftDeleteFile marks a file deleted and flags its analyses. Pinned
// files refuse with Conflict.
func (s *Service) SoftDeleteFile(ctx context.Context, fileID uuid.UUID, actor string, reason retention.Reason) error {
	f, err := s.logFiles.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domainerrors.NewNotFound("log file")
		}
		return err
	}
	if f.IsSoftDeleted() || f.IsHardDeleted() {
		return nil
	}

	if err := f.SoftDelete(time.Now()); err != nil {
		if errors.Is(err, logfile.ErrPinned) {
			return domainerrors.NewConflict("file is pinned")
		}
		return err
	}
	if err := s.logFiles.Update(ctx, f); err != nil {
		return err
	}
	if err := s.analyses.MarkSourceDeleted(ctx, fileID); err != nil {
		s.logger.Warn("failed to flag analyses of soft-deleted file",
			zap.String("log_file_id", fileID.String()), zap.Error(err))
	}

	rec, err := retention.NewDeletionRecord(f.ID, f.PrincipalID, retention.PhaseSoft, actor, reason, f.SizeBytes, time.Now())
	if err == nil {
		if err := s.policies.RecordDeletion(ctx, rec); err != nil {
			s.logger.Warn("failed to write deletion log", zap.Error(err))
		}
	}
	return nil
}

// HardDeleteFile removes the backing bytes, then the references. The
// order is fail-safe: if the object-store delete fails the row is left
// untouched and the sweep retries later.
func (s *Service) HardDeleteFile(ctx context.Context, fileID uuid.UUID, actor string, reason retention.Reason) error {
	f, err := s.logFiles.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domainerrors.NewNotFound("log file")
		}
		return err
	}
	if f.IsHardDeleted() {
		return nil
	}
	if f.Pinned {
		return domainerrors.NewConflict("file is pinned")
	}

	if f.StoredPath != "" {
		if err := s.store.Delete(ctx, f.StoredPath); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			return domainerrors.NewInternal("failed to delete stored bytes").WithCause(err)
		}
	}

	size := f.SizeBytes
	var rawRefs []string
	err = s.pool.Transaction(ctx, func(tx pgx.Tx) error {
		files := s.logFiles.WithTx(tx)
		principals := s.principals.WithTx(tx)
		analyses := s.analyses.WithTx(tx)

		owner, err := principals.GetByIDForUpdate(ctx, f.PrincipalID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err == nil {
			owner.ReleaseBytes(size)
			if err := principals.Update(ctx, owner); err != nil {
				return err
			}
		}

		if err := f.HardDelete(time.Now()); err != nil {
			return err
		}
		if err := files.Update(ctx, f); err != nil {
			return err
		}
		if err := analyses.MarkSourceDeleted(ctx, fileID); err != nil {
			return err
		}
		// Structured payloads stay; only the raw text objects go.
		rawRefs, err = analyses.ClearRawTextRefs(ctx, fileID)
		return err
	})
	if err != nil {
		return err
	}

	for _, ref := range rawRefs {
		if err := s.store.Delete(ctx, ref); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
			s.logger.Warn("failed to delete raw output object", zap.String("ref", ref), zap.Error(err))
		}
	}

	rec, err := retention.NewDeletionRecord(f.ID, f.PrincipalID, retention.PhaseHard, actor, reason, size, time.Now())
	if err == nil {
		if err := s.policies.RecordDeletion(ctx, rec); err != nil {
			s.logger.Warn("failed to write deletion log", zap.Error(err))
		}
	}
	return nil
}

// SweepStats summarizes one sweep run.
type SweepStats struct {
	Examined int
	Deleted  int
	Skipped  int
	DryRun   bool
}

// SoftSweep soft-deletes unpinned files past their effective
// soft_after_days.
func (s *Service) SoftSweep(ctx context.Context, dryRun bool) (*SweepStats, error) {
	policies, roles, err := s.loadPolicyContext(ctx)
	if err != nil {
		return nil, err
	}

	// The widest candidate set: anything older than the smallest soft
	// deadline any policy could impose. Each file is then re-checked
	// against its owner's effective policy.
	cutoff := time.Now().AddDate(0, 0, -minSoftDays(policies, s.fallback))
	files, err := s.logFiles.ListActiveCreatedBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return nil, err
	}

	stats := &SweepStats{DryRun: dryRun, Examined: len(files)}
	now := time.Now()
	for _, f := range files {
		policy := retention.Effective(policies, f.PrincipalID, roles[f.PrincipalID], s.fallback)
		if now.Before(policy.SoftDeadline(f.CreatedAt)) {
			stats.Skipped++
			continue
		}
		if dryRun {
			stats.Deleted++
			continue
		}
		if err := s.SoftDeleteFile(ctx, f.ID, audit.SystemActor, retention.ReasonPolicy); err != nil {
			s.logger.Warn("soft sweep skipped file", zap.String("log_file_id", f.ID.String()), zap.Error(err))
			stats.Skipped++
			continue
		}
		stats.Deleted++
		s.audit.Record(ctx, audit.New(audit.ActionSoftSweep, audit.OutcomeSuccess, "").
			WithEntity("log_file", f.ID.String()).
			WithDetail(map[string]interface{}{
				"principal_id": f.PrincipalID.String(),
				"age_days":     int(now.Sub(f.CreatedAt).Hours() / 24),
			}))
	}

	s.logger.Info("soft sweep finished",
		zap.Int("examined", stats.Examined),
		zap.Int("deleted", stats.Deleted),
		zap.Bool("dry_run", dryRun))
	return stats, nil
}

// HardSweep hard-deletes files whose soft deletion is past the
// effective hard_after_soft_days.
func (s *Service) HardSweep(ctx context.Context, dryRun bool) (*SweepStats, error) {
	policies, roles, err := s.loadPolicyContext(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().AddDate(0, 0, -minHardDays(policies, s.fallback))
	files, err := s.logFiles.ListSoftDeletedBefore(ctx, cutoff, s.batchSize)
	if err != nil {
		return nil, err
	}

	stats := &SweepStats{DryRun: dryRun, Examined: len(files)}
	now := time.Now()
	for _, f := range files {
		policy := retention.Effective(policies, f.PrincipalID, roles[f.PrincipalID], s.fallback)
		if f.SoftDeletedAt == nil || now.Before(policy.HardDeadline(*f.SoftDeletedAt)) {
			stats.Skipped++
			continue
		}
		if dryRun {
			stats.Deleted++
			continue
		}
		if err := s.HardDeleteFile(ctx, f.ID, audit.SystemActor, retention.ReasonPolicy); err != nil {
			// Fail-safe: the row stays soft-deleted until the bytes are
			// provably gone; next sweep retries.
			s.logger.Warn("hard sweep skipped file", zap.String("log_file_id", f.ID.String()), zap.Error(err))
			stats.Skipped++
			continue
		}
		stats.Deleted++
		s.audit.Record(ctx, audit.New(audit.ActionHardSweep, audit.OutcomeSuccess, "").
			WithEntity("log_file", f.ID.String()).
			WithDetail(map[string]interface{}{
				"principal_id": f.PrincipalID.String(),
				"size_bytes":   f.SizeBytes,
			}))
	}

	s.logger.Info("hard sweep finished",
		zap.Int("examined", stats.Examined),
		zap.Int("deleted", stats.Deleted),
		zap.Bool("dry_run", dryRun))
	return stats, nil
}

// loadPolicyContext fetches stored policies and the role of every
// principal referenced by them plus file owners seen this sweep.
func (s *Service) loadPolicyContext(ctx context.Context) ([]retention.Policy, map[uuid.UUID]string, error) {
	policies, err := s.policies.ListPolicies(ctx)
	if err != nil {
		return nil, nil, err
	}

	roles := make(map[uuid.UUID]string)
	// Role scope only matters when a role policy exists; resolving
	// owner roles lazily would mean one query per file, so load them
	// all in one page walk instead.
	if hasRolePolicy(policies) {
		const page = 500
		for offset := 0; ; offset += page {
			principals, _, err := s.principals.List(ctx, offset, page)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range principals {
				roles[p.ID] = p.Role.String()
			}
			if len(principals) < page {
				break
			}
		}
	}
	return policies, roles, nil
}

func hasRolePolicy(policies []retention.Policy) bool {
	for _, p := range policies {
		if p.Scope == retention.ScopeRole {
			return true
		}
	}
	return false
}

func minSoftDays(policies []retention.Policy, fallback retention.Policy) int {
	minDays := fallback.SoftAfterDays
	for _, p := range policies {
		if p.SoftAfterDays < minDays {
			minDays = p.SoftAfterDays
		}
	}
	if minDays < 1 {
		minDays = 1
	}
	return minDays
}

func minHardDays(policies []retention.Policy, fallback retention.Policy) int {
	minDays := fallback.HardAfterSoftDays
	for _, p := range policies {
		if p.HardAfterSoftDays < minDays {
			minDays = p.HardAfterSoftDays
		}
	}
	if minDays < 1 {
		minDays = 1
	}
	return minDays
}
