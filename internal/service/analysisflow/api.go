package analysisflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/retention"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

// FileDeleter soft- or hard-deletes a log file on behalf of a
// principal; the retention service implements it.
type FileDeleter interface {
	SoftDeleteFile(ctx context.Context, fileID uuid.UUID, actor string, reason retention.Reason) error
	HardDeleteFile(ctx context.Context, fileID uuid.UUID, actor string, reason retention.Reason) error
}

// SetFileDeleter injects the deleter after construction; retention and
// analysisflow are built in sequence.
func (c *Coordinator) SetFileDeleter(d FileDeleter) { c.deleter = d }

// Detail is one analysis with its results and live progress merged in.
type Detail struct {
	Analysis *analysis.Analysis `json:"analysis"`
	Results  []*analysis.Result `json:"results,omitempty"`
}

// Get returns an analysis visible to the principal. While running, the
// Redis progress record overrides the (possibly stale) database value.
func (c *Coordinator) Get(ctx context.Context, p *principal.Principal, id uuid.UUID) (*Detail, error) {
	a, err := c.authorize(ctx, p, id)
	if err != nil {
		return nil, err
	}

	if a.Status == analysis.StatusRunning {
		if prog, ok := c.progress.GetAnalysis(ctx, a.ID); ok && prog.ProgressPct > a.ProgressPct {
			a.ProgressPct = prog.ProgressPct
		}
	}

	results, err := c.analyses.GetResults(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Analysis: a, Results: results}, nil
}

// List pages the principal's analyses, newest first.
func (c *Coordinator) List(ctx context.Context, p *principal.Principal, f repository.AnalysisFilter) ([]*analysis.Analysis, int, error) {
	items, total, err := c.analyses.ListByPrincipal(ctx, p.ID, f)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		if a.Status == analysis.StatusRunning {
			if prog, ok := c.progress.GetAnalysis(ctx, a.ID); ok && prog.ProgressPct > a.ProgressPct {
				a.ProgressPct = prog.ProgressPct
			}
		}
	}
	return items, total, nil
}

// Cancel requests termination. Pending jobs cancel immediately; running
// jobs get the flag and the worker observes it within a second. A job
// that finished first refuses with NotCancellable.
func (c *Coordinator) Cancel(ctx context.Context, p *principal.Principal, id uuid.UUID, ip, userAgent string) error {
	a, err := c.authorize(ctx, p, id)
	if err != nil {
		return err
	}
	if a.Status.IsTerminal() {
		return domainerrors.NewNotCancellable("analysis already " + a.Status.String())
	}

	if a.Status == analysis.StatusPending {
		err := c.analyses.MarkCancelled(ctx, id, time.Now())
		if err == nil {
			a.Status = analysis.StatusCancelled
			c.publish(a)
			c.recordCancelAudit(ctx, p, a, ip, userAgent)
			return nil
		}
		if !errors.Is(err, repository.ErrStaleStatus) {
			return err
		}
		// Lost the race to a claiming worker; fall through to the flag.
	}

	flagged, err := c.analyses.RequestCancel(ctx, id)
	if err != nil {
		return err
	}
	if !flagged {
		// Terminal since the first read: the parser exited normally
		// before the flag landed, and its output stands.
		return domainerrors.NewNotCancellable("analysis already finished")
	}
	c.recordCancelAudit(ctx, p, a, ip, userAgent)
	return nil
}

// Delete removes the backing log file: soft by default, hard for
// admins with ?hard=true. The analysis row and its structured payloads
// stay visible with source_deleted set.
func (c *Coordinator) Delete(ctx context.Context, p *principal.Principal, id uuid.UUID, hard bool, ip, userAgent string) error {
	a, err := c.authorize(ctx, p, id)
	if err != nil {
		return err
	}
	if hard && !p.IsAdmin() {
		return domainerrors.NewForbidden("hard delete requires admin")
	}
	if c.deleter == nil {
		return domainerrors.NewInternal("file deletion not configured")
	}

	actor := p.ID.String()
	if hard {
		err = c.deleter.HardDeleteFile(ctx, a.LogFileID, actor, retention.ReasonManual)
	} else {
		err = c.deleter.SoftDeleteFile(ctx, a.LogFileID, actor, retention.ReasonManual)
	}
	if err != nil {
		return err
	}

	c.audit.Record(ctx, audit.New(audit.ActionLogFileDelete, audit.OutcomeSuccess, ip).
		WithPrincipal(p.ID).
		WithEntity("log_file", a.LogFileID.String()).
		WithUserAgent(userAgent).
		WithDetail(map[string]interface{}{"hard": hard, "analysis_id": a.ID.String()}))
	return nil
}

func (c *Coordinator) authorize(ctx context.Context, p *principal.Principal, id uuid.UUID) (*analysis.Analysis, error) {
	a, err := c.analyses.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domainerrors.NewNotFound("analysis")
		}
		return nil, err
	}
	// Non-owners get the same NotFound as nonexistent ids.
	if a.PrincipalID != p.ID && !p.IsAdmin() {
		return nil, domainerrors.NewNotFound("analysis")
	}
	return a, nil
}

func (c *Coordinator) recordCancelAudit(ctx context.Context, p *principal.Principal, a *analysis.Analysis, ip, userAgent string) {
	c.audit.Record(ctx, audit.New(audit.ActionAnalysisCancel, audit.OutcomeSuccess, ip).
		WithPrincipal(p.ID).
		WithEntity("analysis", a.ID.String()).
		WithUserAgent(userAgent))
	c.logger.Info("cancel requested",
		zap.String("analysis_id", a.ID.String()),
		zap.String("principal_id", p.ID.String()))
}
