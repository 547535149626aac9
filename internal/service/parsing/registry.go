// Package parsing resolves parse modes and executes parser
// subprocesses under wall-clock and memory bounds.
package parsing

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

// Registry resolves descriptors against per-principal visibility and
// maps mode keys to configured binaries. Binary paths never come from
// the database.
type Registry struct {
	repo     repository.ParserRepository
	binaries map[string]string
	logger   *zap.Logger
}

// NewRegistry wires the registry. binaries is the config map keyed by
// mode key.
func NewRegistry(repo repository.ParserRepository, binaries map[string]string, logger *zap.Logger) *Registry {
	return &Registry{repo: repo, binaries: binaries, logger: logger.Named("parsing")}
}

// VisibleModes returns the descriptors the principal may use, in key
// order.
func (r *Registry) VisibleModes(ctx context.Context, p *principal.Principal) ([]*parser.Descriptor, error) {
	modes, err := r.repo.ListModes(ctx)
	if err != nil {
		return nil, err
	}
	overrides, err := r.repo.PermissionsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	out := make([]*parser.Descriptor, 0, len(modes))
	for _, d := range modes {
		if d.VisibleTo(p.IsAdmin(), overrides[d.ModeKey]) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ResolveForSubmit validates a submission's mode keys: every key must
// name a mode visible to the principal with a configured binary.
// Unknown and invisible keys are indistinguishable to the caller.
func (r *Registry) ResolveForSubmit(ctx context.Context, p *principal.Principal, keys []string) ([]*parser.Descriptor, error) {
	if len(keys) == 0 {
		return nil, domainerrors.NewInputInvalid("NO_MODES", "at least one parse mode is required")
	}

	overrides, err := r.repo.PermissionsFor(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	out := make([]*parser.Descriptor, 0, len(keys))
	for _, key := range keys {
		if !parser.ModeKeyPattern.MatchString(key) {
			return nil, domainerrors.NewInputInvalid("INVALID_MODE", fmt.Sprintf("invalid mode key %q", key))
		}
		d, err := r.repo.GetMode(ctx, key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domainerrors.NewForbidden(fmt.Sprintf("mode %q is not available", key))
			}
			return nil, err
		}
		if !d.VisibleTo(p.IsAdmin(), overrides[key]) {
			return nil, domainerrors.NewForbidden(fmt.Sprintf("mode %q is not available", key))
		}
		if _, ok := r.binaries[key]; !ok {
			r.logger.Warn("mode visible but no binary configured", zap.String("mode_key", key))
			return nil, domainerrors.NewForbidden(fmt.Sprintf("mode %q is not available", key))
		}
		out = append(out, d)
	}
	return out, nil
}

// Descriptor fetches one mode without visibility checks; worker-side
// use where the submission was already authorized.
func (r *Registry) Descriptor(ctx context.Context, key string) (*parser.Descriptor, error) {
	return r.repo.GetMode(ctx, key)
}

// BinaryFor returns the configured binary for a mode.
func (r *Registry) BinaryFor(modeKey string) (string, bool) {
	bin, ok := r.binaries[modeKey]
	return bin, ok
}
