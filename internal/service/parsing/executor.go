package parsing

import (
	"context"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
)

// Executor runs one mode of one analysis end to end: subprocess, then
// normalization. It owns no persistence; the coordinator does.
type Executor struct {
	registry       *Registry
	runner         *Runner
	defaultTimeout time.Duration
	memoryLimit    int64
	logger         *zap.Logger
}

// NewExecutor wires an executor.
func NewExecutor(registry *Registry, runner *Runner, defaultTimeout time.Duration, memoryLimit int64, logger *zap.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Executor{
		registry:       registry,
		runner:         runner,
		defaultTimeout: defaultTimeout,
		memoryLimit:    memoryLimit,
		logger:         logger.Named("executor"),
	}
}

// ModeOutput is the product of a successful mode execution.
type ModeOutput struct {
	Raw        []byte
	Normalized parser.Normalized
}

// ExecuteMode invokes the mode's parser over the prepared archive and
// normalizes its stdout. onProgress and cancelled may be nil.
func (e *Executor) ExecuteMode(
	ctx context.Context,
	a *analysis.Analysis,
	d *parser.Descriptor,
	archivePath string,
	onProgress func(lines int),
	cancelled func() bool,
) (*ModeOutput, error) {
	binary, ok := e.registry.BinaryFor(d.ModeKey)
	if !ok {
		return nil, domainerrors.NewParserFailure("no binary configured for mode " + d.ModeKey)
	}

	raw, err := e.runner.Run(ctx, RunSpec{
		Binary:          binary,
		Mode:            d,
		ArchivePath:     archivePath,
		Timezone:        a.Timezone,
		WindowStart:     a.WindowStart,
		WindowEnd:       a.WindowEnd,
		Timeout:         d.Timeout(e.defaultTimeout),
		MemoryLimit:     e.memoryLimit,
		OnProgress:      onProgress,
		CancelRequested: cancelled,
	})
	if err != nil {
		return nil, err
	}

	var opts parser.Options
	if d.OutputShape == parser.ShapeStructuredBlocks && d.BlockPattern != "" {
		re, err := regexp.Compile(d.BlockPattern)
		if err != nil {
			// Validate() refuses these at write time; a bad stored
			// pattern degrades to free text inside Normalize.
			e.logger.Warn("stored block pattern does not compile",
				zap.String("mode_key", d.ModeKey), zap.Error(err))
		} else {
			opts.BlockPattern = re
		}
	}

	return &ModeOutput{Raw: raw, Normalized: parser.Normalize(d.OutputShape, raw, opts)}, nil
}
