package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
)

// Store persists archive bytes under opaque refs. Puts are atomic: a
// reader sees either the full object or none.
type Store interface {
	// Put streams r into the object named by ref and returns the byte
	// count. A failed Put leaves no trace.
	Put(ctx context.Context, ref string, r io.Reader) (int64, error)

	// Reader opens the object for sequential reading.
	Reader(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing ref is an error
	// (ErrNotFound) so retention sweeps can tell "gone" from "never
	// deleted".
	Delete(ctx context.Context, ref string) error

	// Size reports the stored byte count.
	Size(ctx context.Context, ref string) (int64, error)

	// HealthCheck probes the backend.
	HealthCheck(ctx context.Context) error
}

var (
	ErrNotFound    = errors.New("objectstore: object not found")
	ErrStoreClosed = errors.New("objectstore: store is closed")
)

// New selects the backend from configuration.
func New(cfg *config.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.Local.Root, logger)
	case "s3":
		return NewS3Store(context.Background(), &cfg.S3, logger)
	default:
		return nil, fmt.Errorf("objectstore: unknown backend %q", cfg.Backend)
	}
}

var unsafeRunes = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SafeName reduces a user-supplied filename to a traversal-free base
// name. Path separators and unusual runes are replaced, never kept.
func SafeName(name string) string {
	// Strip any directory component, including backslash-separated
	// ones from Windows clients.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimLeft(name, ".")
	name = unsafeRunes.ReplaceAllString(name, "_")
	if name == "" {
		name = "upload"
	}
	const maxNameLen = 128
	if len(name) > maxNameLen {
		name = name[len(name)-maxNameLen:]
	}
	return name
}

// NewRef builds the canonical storage ref for an upload:
// <principal_id>/<epoch_seconds>_<random>_<safe_name>. The layout is
// opaque to callers; only this package constructs refs.
func NewRef(principalID uuid.UUID, originalName string) string {
	return fmt.Sprintf("%s/%d_%06d_%s",
		principalID.String(),
		time.Now().UTC().Unix(),
		rand.Intn(1_000_000),
		SafeName(originalName))
}

// validRef rejects refs containing traversal before they reach a
// backend path join.
var validRef = regexp.MustCompile(`^[A-Za-z0-9-]+/[A-Za-z0-9._-]+$`)

func checkRef(ref string) error {
	if !validRef.MatchString(ref) || strings.Contains(ref, "..") {
		return fmt.Errorf("objectstore: malformed ref %q", ref)
	}
	return nil
}
