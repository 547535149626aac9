// Package analysisflow coordinates the life of a parse job: claiming,
// fan-out across modes, progress, cancellation and terminal states.
package analysisflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/objectstore"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/telemetry"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
)

const (
	// claimPollInterval is how long an idle worker sleeps between
	// queue probes.
	claimPollInterval = time.Second

	// dbProgressStep is the minimum percentage delta that reaches the
	// database; Redis sees every tick.
	dbProgressStep = 5
)

// Event is pushed to the websocket hub on status and progress changes.
type Event struct {
	AnalysisID  uuid.UUID `json:"analysis_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	Status      string    `json:"status"`
	ProgressPct int       `json:"progress_pct"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// EventPublisher receives analysis events; the websocket hub implements
// it. A nil publisher is valid.
type EventPublisher interface {
	PublishAnalysis(e Event)
}

// Observer receives parse outcome observations for metrics. A nil
// observer is valid.
type Observer interface {
	ObserveParse(modeKey, outcome string, elapsed time.Duration)
}

// TxRunner executes a function inside one database transaction.
// *database.ConnectionPool satisfies it.
type TxRunner interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// Coordinator owns the worker pool and the analysis API surface.
type Coordinator struct {
	pool      TxRunner
	analyses  repository.AnalysisRepository
	logFiles  repository.LogFileRepository
	store     objectstore.Store
	progress  *cache.ProgressStore
	executor  *parsing.Executor
	registry  *parsing.Registry
	audit     *auditlog.Service
	publisher EventPublisher
	observer  Observer
	deleter   FileDeleter
	logger    *zap.Logger
	tracer    trace.Tracer

	scratchDir string
	workers    int

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// Options bundles the coordinator's collaborators.
type Options struct {
	Pool      TxRunner
	Analyses  repository.AnalysisRepository
	LogFiles  repository.LogFileRepository
	Store     objectstore.Store
	Progress  *cache.ProgressStore
	Executor  *parsing.Executor
	Registry  *parsing.Registry
	Audit     *auditlog.Service
	Publisher EventPublisher
	Observer  Observer
	Logger    *zap.Logger

	ScratchDir string
	Workers    int
}

// NewCoordinator wires a coordinator; Start launches the workers.
func NewCoordinator(opts Options) *Coordinator {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Coordinator{
		pool:       opts.Pool,
		analyses:   opts.Analyses,
		logFiles:   opts.LogFiles,
		store:      opts.Store,
		progress:   opts.Progress,
		executor:   opts.Executor,
		registry:   opts.Registry,
		audit:      opts.Audit,
		publisher:  opts.Publisher,
		observer:   opts.Observer,
		logger:     opts.Logger.Named("analysisflow"),
		tracer:     telemetry.Tracer("analysisflow"),
		scratchDir: opts.ScratchDir,
		workers:    workers,
	}
}

// Start launches the worker pool. Workers run until Stop.
func (c *Coordinator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i)
	}
	c.logger.Info("parse workers started", zap.Int("workers", c.workers))
}

// Stop signals the workers and waits for in-flight jobs to terminate.
func (c *Coordinator) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	c.wg.Wait()
}

func (c *Coordinator) workerLoop(ctx context.Context, id int) {
	defer c.wg.Done()
	logger := c.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a, err := c.analyses.ClaimNext(ctx, time.Now())
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) && ctx.Err() == nil {
				logger.Error("claim failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(claimPollInterval):
			}
			continue
		}

		logger.Info("claimed analysis",
			zap.String("analysis_id", a.ID.String()),
			zap.Strings("mode_keys", a.ModeKeys))
		c.process(ctx, logger, a)
	}
}

func (c *Coordinator) publish(a *analysis.Analysis) {
	if c.publisher == nil {
		return
	}
	c.publisher.PublishAnalysis(Event{
		AnalysisID:  a.ID,
		PrincipalID: a.PrincipalID,
		Status:      a.Status.String(),
		ProgressPct: a.ProgressPct,
		ErrorKind:   a.ErrorKind,
	})
}

func (c *Coordinator) observe(modeKey, outcome string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveParse(modeKey, outcome, elapsed)
	}
}
