package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one named periodic task. Runs must be idempotent: the
// scheduler runs every job once at startup and then on its interval,
// and a missed tick is skipped, never doubled.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives the retention sweeps and housekeeping jobs.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger.Named("scheduler")}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop signals all jobs and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()
	logger := s.logger.With(zap.String("job", job.Name))

	run := func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Error("job failed", zap.Error(err))
			}
			return
		}
		logger.Debug("job finished", zap.Duration("elapsed", time.Since(start)))
	}

	// Run-once-on-start: a long-stopped deployment catches up
	// immediately instead of waiting a full interval.
	run()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
