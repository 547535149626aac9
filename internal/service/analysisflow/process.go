package analysisflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/archive"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/telemetry"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
)

// cancelPollPeriod bounds how often a worker re-reads the cancel flag.
const cancelPollPeriod = time.Second

// process drives one claimed analysis to a terminal state. The claim
// already moved the row to running.
func (c *Coordinator) process(ctx context.Context, logger *zap.Logger, a *analysis.Analysis) {
	defer c.progress.ClearAnalysis(context.Background(), a.ID)

	// A cancel that landed while the job sat in the queue wins before
	// any work happens.
	if a.CancelRequested {
		c.finalizeCancelled(logger, a, nil)
		return
	}

	archivePath, cleanup, err := c.prepareArchive(ctx, a)
	if err != nil {
		c.finalizeFailed(logger, a, err)
		return
	}
	defer cleanup()

	poll := newCancelPoller(c.analyses, a.ID)
	results := make([]*analysis.Result, 0, len(a.ModeKeys))
	failedModes := make([]string, 0)
	cancelled := false

	for i, modeKey := range a.ModeKeys {
		if cancelled {
			break
		}

		d, err := c.registry.Descriptor(ctx, modeKey)
		if err != nil {
			results = append(results, analysis.NewFailedResult(a.ID, modeKey,
				analysis.OutcomeFailed, "mode no longer registered"))
			failedModes = append(failedModes, modeKey)
			continue
		}

		modeIndex := i
		lastDBPct := a.ProgressPct
		onProgress := func(lines int) {
			pct := overallPct(modeIndex, len(a.ModeKeys), lines)
			c.progress.SetAnalysis(context.Background(), cache.AnalysisProgress{
				AnalysisID:  a.ID,
				ProgressPct: pct,
				ModeKey:     modeKey,
				UpdatedAt:   time.Now().UTC(),
			})
			if pct >= lastDBPct+dbProgressStep {
				if err := c.analyses.SetProgress(context.Background(), a.ID, pct); err == nil {
					lastDBPct = pct
				}
			}
			a.SetProgress(pct)
			c.publish(a)
		}

		start := time.Now()
		modeCtx, span := telemetry.StartParseSpan(ctx, c.tracer, a.ID.String(), modeKey)
		out, err := c.executor.ExecuteMode(modeCtx, a, d, archivePath, onProgress, poll.cancelled)
		telemetry.EndSpan(span, err)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			rawRef := c.storeRawOutput(a, modeKey, out.Raw, logger)
			res, rerr := analysis.NewResult(a.ID, modeKey, out.Normalized.Payload, out.Normalized.Warnings)
			if rerr != nil {
				res = analysis.NewFailedResult(a.ID, modeKey, analysis.OutcomeFailed, rerr.Error())
				failedModes = append(failedModes, modeKey)
			} else {
				res.RawTextRef = rawRef
			}
			results = append(results, res)
			c.observe(modeKey, "completed", elapsed)

		case errors.Is(err, parsing.ErrCancelled):
			// The interrupted mode leaves no result row; modes that
			// finished before the cancel keep theirs.
			cancelled = true
			c.observe(modeKey, "cancelled", elapsed)

		default:
			kind := domainerrors.KindOf(err)
			results = append(results, analysis.NewFailedResult(a.ID, modeKey, analysis.OutcomeFailed, err.Error()))
			failedModes = append(failedModes, modeKey)
			c.observe(modeKey, string(kind), elapsed)
			logger.Warn("mode failed",
				zap.String("analysis_id", a.ID.String()),
				zap.String("mode_key", modeKey),
				zap.String("error_kind", string(kind)),
				zap.Error(err))
		}
	}

	switch {
	case cancelled:
		c.finalizeCancelled(logger, a, results)
	case len(failedModes) > 0:
		err := domainerrors.NewParserFailure(fmt.Sprintf("modes failed: %v", failedModes))
		c.finalizePartial(logger, a, results, failedModes, err)
	default:
		c.finalizeCompleted(logger, a, results)
	}
}

// prepareArchive materializes the stored archive in scratch and applies
// the time filter when a window was submitted. The returned cleanup
// removes every scratch file.
func (c *Coordinator) prepareArchive(ctx context.Context, a *analysis.Analysis) (string, func(), error) {
	f, err := c.logFiles.GetByID(ctx, a.LogFileID)
	if err != nil {
		return "", nil, domainerrors.NewNotFound("log file")
	}
	if !f.Available() {
		return "", nil, domainerrors.NewNotFound("log file")
	}

	rc, err := c.store.Reader(ctx, f.StoredPath)
	if err != nil {
		return "", nil, domainerrors.NewInternal("failed to open stored archive").WithCause(err)
	}
	defer rc.Close()

	base := filepath.Join(c.scratchDir, "parse_"+a.ID.String()+"_"+f.OriginalName)
	dst, err := os.OpenFile(base, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", nil, domainerrors.NewInternal("failed to create scratch file").WithCause(err)
	}
	if _, err := io.Copy(dst, rc); err != nil {
		dst.Close()
		os.Remove(base)
		return "", nil, domainerrors.NewInternal("failed to stage archive").WithCause(err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(base)
		return "", nil, domainerrors.NewInternal("failed to stage archive").WithCause(err)
	}

	paths := []string{base}
	cleanup := func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}

	if a.WindowStart == nil || a.WindowEnd == nil {
		return base, cleanup, nil
	}

	window, err := values.NewTimeWindow(*a.WindowStart, *a.WindowEnd)
	if err != nil {
		return base, cleanup, nil
	}

	filtered := archive.FilteredName(base)
	res, err := archive.FilterByTime(base, filtered, window, archive.DefaultBuffer)
	if err != nil {
		// Unsupported or corrupt archives parse from the original; the
		// parser itself decides whether it can cope.
		c.logger.Warn("archive filter failed, using original",
			zap.String("analysis_id", a.ID.String()), zap.Error(err))
		return base, cleanup, nil
	}
	if res.UsedOriginal {
		return base, cleanup, nil
	}
	paths = append(paths, filtered)
	return filtered, cleanup, nil
}

// storeRawOutput persists the parser's raw stdout; a storage failure
// degrades to an empty ref rather than failing the mode.
func (c *Coordinator) storeRawOutput(a *analysis.Analysis, modeKey string, raw []byte, logger *zap.Logger) string {
	if len(raw) == 0 {
		return ""
	}
	ref := a.ID.String() + "/" + modeKey + ".txt"
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := c.store.Put(ctx, ref, bytes.NewReader(raw)); err != nil {
		logger.Warn("failed to store raw parser output",
			zap.String("analysis_id", a.ID.String()),
			zap.String("mode_key", modeKey),
			zap.Error(err))
		return ""
	}
	return ref
}

// finalizeCompleted saves all results and flips the row in one
// transaction.
func (c *Coordinator) finalizeCompleted(logger *zap.Logger, a *analysis.Analysis, results []*analysis.Result) {
	now := time.Now()
	err := c.pool.Transaction(context.Background(), func(tx pgx.Tx) error {
		repo := c.analyses.WithTx(tx)
		for _, r := range results {
			if err := repo.SaveResult(context.Background(), r); err != nil {
				return err
			}
		}
		return repo.MarkCompleted(context.Background(), a.ID, now)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			logger.Warn("completion lost the status race", zap.String("analysis_id", a.ID.String()))
			return
		}
		logger.Error("failed to finalize analysis", zap.String("analysis_id", a.ID.String()), zap.Error(err))
		return
	}
	a.Status = analysis.StatusCompleted
	a.ProgressPct = 100
	c.publish(a)
	logger.Info("analysis completed", zap.String("analysis_id", a.ID.String()))
}

// finalizePartial records every mode outcome and fails the analysis
// with the partial kind.
func (c *Coordinator) finalizePartial(logger *zap.Logger, a *analysis.Analysis, results []*analysis.Result, failedModes []string, cause error) {
	now := time.Now()
	message := fmt.Sprintf("%d of %d modes failed: %v", len(failedModes), len(a.ModeKeys), failedModes)
	err := c.pool.Transaction(context.Background(), func(tx pgx.Tx) error {
		repo := c.analyses.WithTx(tx)
		for _, r := range results {
			if err := repo.SaveResult(context.Background(), r); err != nil {
				return err
			}
		}
		return repo.MarkFailed(context.Background(), a.ID, now, string(domainerrors.KindPartial), message)
	})
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		logger.Error("failed to record partial failure", zap.String("analysis_id", a.ID.String()), zap.Error(err))
		return
	}
	a.Status = analysis.StatusFailed
	a.ErrorKind = string(domainerrors.KindPartial)
	a.ErrorMessage = message
	c.publish(a)
}

// finalizeFailed fails an analysis that never produced results.
func (c *Coordinator) finalizeFailed(logger *zap.Logger, a *analysis.Analysis, cause error) {
	kind := domainerrors.KindOf(cause)
	message := cause.Error()
	if appErr, ok := domainerrors.AsAppError(cause); ok {
		message = appErr.Message
	}
	if err := c.analyses.MarkFailed(context.Background(), a.ID, time.Now(), string(kind), message); err != nil &&
		!errors.Is(err, repository.ErrStaleStatus) {
		logger.Error("failed to mark analysis failed", zap.String("analysis_id", a.ID.String()), zap.Error(err))
		return
	}
	a.Status = analysis.StatusFailed
	a.ErrorKind = string(kind)
	a.ErrorMessage = message
	c.publish(a)
}

// finalizeCancelled persists results from modes that finished before
// the cancel and flips the row.
func (c *Coordinator) finalizeCancelled(logger *zap.Logger, a *analysis.Analysis, results []*analysis.Result) {
	now := time.Now()
	err := c.pool.Transaction(context.Background(), func(tx pgx.Tx) error {
		repo := c.analyses.WithTx(tx)
		for _, r := range results {
			if err := repo.SaveResult(context.Background(), r); err != nil {
				return err
			}
		}
		return repo.MarkCancelled(context.Background(), a.ID, now)
	})
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		logger.Error("failed to cancel analysis", zap.String("analysis_id", a.ID.String()), zap.Error(err))
		return
	}
	a.Status = analysis.StatusCancelled
	c.publish(a)
	logger.Info("analysis cancelled", zap.String("analysis_id", a.ID.String()))
}

// overallPct maps a per-mode line count onto overall progress. The
// line heuristic approaches but never reaches the mode's share, so
// completed modes alone move the bar to its true position.
func overallPct(modeIndex, modeCount, lines int) int {
	if modeCount <= 0 {
		return 0
	}
	within := 100 * lines / (lines + 1000)
	pct := (100*modeIndex + within) / modeCount
	if pct > 99 {
		pct = 99
	}
	return pct
}

// cancelPoller caches the cancel flag so the once-per-second monitor
// tick does not hammer the database.
type cancelPoller struct {
	repo      repository.AnalysisRepository
	id        uuid.UUID
	lastCheck time.Time
	flagged   bool
}

func newCancelPoller(repo repository.AnalysisRepository, id uuid.UUID) *cancelPoller {
	return &cancelPoller{repo: repo, id: id}
}

func (p *cancelPoller) cancelled() bool {
	if p.flagged {
		return true
	}
	if time.Since(p.lastCheck) < cancelPollPeriod {
		return false
	}
	p.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	flagged, err := p.repo.IsCancelRequested(ctx, p.id)
	if err != nil {
		return false
	}
	p.flagged = flagged
	return flagged
}
