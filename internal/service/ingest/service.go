// Package ingest accepts device-log archives from multipart uploads
// and remote URLs, charges storage quota, and creates the analysis
// that will parse them.
package ingest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/archive"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/database"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/objectstore"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
)

// Service ingests archives and creates analyses.
type Service struct {
	pool       *database.ConnectionPool
	principals repository.PrincipalRepository
	logFiles   repository.LogFileRepository
	analyses   repository.AnalysisRepository
	registry   *parsing.Registry
	store      objectstore.Store
	progress   *cache.ProgressStore
	audit      *auditlog.Service
	logger     *zap.Logger

	scratchDir      string
	maxBytes        int64
	urlFetchTimeout time.Duration
}

// NewService wires the ingest service.
func NewService(
	pool *database.ConnectionPool,
	repos *repository.Repositories,
	registry *parsing.Registry,
	store objectstore.Store,
	progress *cache.ProgressStore,
	auditSvc *auditlog.Service,
	scratchDir string,
	maxBytes int64,
	urlFetchTimeout time.Duration,
	logger *zap.Logger,
) *Service {
	if maxBytes <= 0 {
		maxBytes = 500 << 20
	}
	if urlFetchTimeout <= 0 {
		urlFetchTimeout = 5 * time.Minute
	}
	return &Service{
		pool:            pool,
		principals:      repos.Principals,
		logFiles:        repos.LogFiles,
		analyses:        repos.Analyses,
		registry:        registry,
		store:           store,
		progress:        progress,
		audit:           auditSvc,
		logger:          logger.Named("ingest"),
		scratchDir:      scratchDir,
		maxBytes:        maxBytes,
		urlFetchTimeout: urlFetchTimeout,
	}
}

// SubmitInput is the parse request accompanying an upload.
type SubmitInput struct {
	ModeKeys     []string
	Timezone     string
	WindowStart  string
	WindowEnd    string
	SessionLabel string

	IP        string
	UserAgent string
}

// UploadMultipart ingests an archive streamed from a multipart form.
func (s *Service) UploadMultipart(ctx context.Context, p *principal.Principal, file io.Reader, filename string, in SubmitInput) (*analysis.Analysis, error) {
	modes, window, err := s.validateSubmit(ctx, p, in)
	if err != nil {
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": "validation"})
		return nil, err
	}

	scratch, size, sum, err := s.stageToScratch(file)
	if err != nil {
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": domainerrors.KindOf(err)})
		return nil, err
	}
	defer os.Remove(scratch)

	return s.finishIngest(ctx, p, scratch, filename, size, sum, modes, window, in)
}

// UploadURL ingests an archive fetched from a remote URL.
func (s *Service) UploadURL(ctx context.Context, p *principal.Principal, rawURL string, in SubmitInput) (*analysis.Analysis, error) {
	modes, window, err := s.validateSubmit(ctx, p, in)
	if err != nil {
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": "validation"})
		return nil, err
	}

	scratch, filename, size, sum, err := s.fetchURL(ctx, p, rawURL)
	if err != nil {
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": domainerrors.KindOf(err)})
		return nil, err
	}
	defer os.Remove(scratch)

	return s.finishIngest(ctx, p, scratch, filename, size, sum, modes, window, in)
}

// validateSubmit resolves modes and parses the optional time window
// before any bytes move.
func (s *Service) validateSubmit(ctx context.Context, p *principal.Principal, in SubmitInput) ([]string, values.TimeWindow, error) {
	descriptors, err := s.registry.ResolveForSubmit(ctx, p, in.ModeKeys)
	if err != nil {
		return nil, values.TimeWindow{}, err
	}
	keys := make([]string, len(descriptors))
	for i, d := range descriptors {
		keys[i] = d.ModeKey
	}

	var window values.TimeWindow
	if in.WindowStart != "" || in.WindowEnd != "" {
		window, err = values.ParseTimeWindow(in.WindowStart, in.WindowEnd)
		if err != nil {
			return nil, values.TimeWindow{}, domainerrors.NewInputInvalid("INVALID_WINDOW", err.Error())
		}
	}

	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, values.TimeWindow{}, domainerrors.NewInputInvalid("INVALID_TIMEZONE", fmt.Sprintf("unknown timezone %q", tz))
	}
	return keys, window, nil
}

// stageToScratch streams the upload to a scratch file, enforcing the
// size cap and hashing as it goes.
func (s *Service) stageToScratch(src io.Reader) (path string, size int64, sha string, err error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", 0, "", domainerrors.NewInternal("failed to generate scratch name").WithCause(err)
	}
	path = filepath.Join(s.scratchDir, "upload_"+hex.EncodeToString(buf[:]))

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, "", domainerrors.NewInternal("failed to create scratch file").WithCause(err)
	}

	hasher := sha256.New()
	// Read one byte past the cap so exactly-at-cap passes and
	// one-over fails.
	n, err := io.Copy(io.MultiWriter(dst, hasher), io.LimitReader(src, s.maxBytes+1))
	closeErr := dst.Close()

	switch {
	case err != nil:
		os.Remove(path)
		return "", 0, "", domainerrors.NewInternal("failed to read upload").WithCause(err)
	case closeErr != nil:
		os.Remove(path)
		return "", 0, "", domainerrors.NewInternal("failed to write upload").WithCause(closeErr)
	case n > s.maxBytes:
		os.Remove(path)
		return "", 0, "", domainerrors.NewSizeExceeded(
			fmt.Sprintf("upload exceeds the %d MB limit", s.maxBytes>>20))
	}
	return path, n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// finishIngest runs the content check, stores the bytes, and creates
// the log file and analysis rows in one quota-guarded transaction.
func (s *Service) finishIngest(
	ctx context.Context,
	p *principal.Principal,
	scratch, filename string,
	size int64,
	sum string,
	modeKeys []string,
	window values.TimeWindow,
	in SubmitInput,
) (*analysis.Analysis, error) {
	// Content check before any row exists.
	if _, err := archive.Sniff(scratch); err != nil {
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": domainerrors.KindOf(err)})
		return nil, err
	}

	ref := objectstore.NewRef(p.ID, filename)
	f, err := os.Open(scratch)
	if err != nil {
		return nil, domainerrors.NewInternal("failed to reopen scratch file").WithCause(err)
	}
	if _, err := s.store.Put(ctx, ref, f); err != nil {
		f.Close()
		return nil, domainerrors.NewInternal("failed to store archive").WithCause(err)
	}
	f.Close()

	var created *analysis.Analysis
	err = s.pool.Transaction(ctx, func(tx pgx.Tx) error {
		principals := s.principals.WithTx(tx)
		files := s.logFiles.WithTx(tx)
		analyses := s.analyses.WithTx(tx)

		owner, err := principals.GetByIDForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if !owner.Active {
			return domainerrors.NewForbidden("account is deactivated")
		}
		if err := owner.ChargeBytes(size); err != nil {
			return domainerrors.NewQuotaExceeded(fmt.Sprintf(
				"storing %d bytes would exceed the %d byte quota (%d in use)",
				size, owner.QuotaBytes, owner.UsedBytes))
		}
		if err := principals.Update(ctx, owner); err != nil {
			return err
		}

		lf, err := logfile.New(owner.ID, ref, logfile.SanitizeName(filename), size, sum)
		if err != nil {
			return domainerrors.NewInternal("failed to build log file record").WithCause(err)
		}
		if err := files.Create(ctx, lf); err != nil {
			return err
		}

		a, err := analysis.New(owner.ID, lf.ID, modeKeys, in.Timezone, window, in.SessionLabel)
		if err != nil {
			return domainerrors.NewInputInvalid("INVALID_ANALYSIS", err.Error())
		}
		if err := analyses.Create(ctx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		// The stored object must not outlive the failed transaction.
		if derr := s.store.Delete(context.Background(), ref); derr != nil && !errors.Is(derr, objectstore.ErrNotFound) {
			s.logger.Warn("failed to remove orphaned object", zap.String("ref", ref), zap.Error(derr))
		}
		s.auditUpload(ctx, p, in, audit.OutcomeFailure, map[string]interface{}{"reason": domainerrors.KindOf(err)})
		return nil, err
	}

	s.audit.Record(ctx, audit.New(audit.ActionUpload, audit.OutcomeSuccess, in.IP).
		WithPrincipal(p.ID).
		WithEntity("analysis", created.ID.String()).
		WithUserAgent(in.UserAgent).
		WithDetail(map[string]interface{}{
			"size_bytes": size,
			"mode_keys":  modeKeys,
			"filename":   logfile.SanitizeName(filename),
		}))

	s.logger.Info("archive ingested",
		zap.String("principal_id", p.ID.String()),
		zap.String("analysis_id", created.ID.String()),
		zap.Int64("size_bytes", size))
	return created, nil
}

func (s *Service) auditUpload(ctx context.Context, p *principal.Principal, in SubmitInput, outcome audit.Outcome, detail map[string]interface{}) {
	s.audit.Record(ctx, audit.New(audit.ActionUpload, outcome, in.IP).
		WithPrincipal(p.ID).
		WithUserAgent(in.UserAgent).
		WithDetail(detail))
}
