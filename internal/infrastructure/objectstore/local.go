package objectstore

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// LocalStore keeps objects as plain files under a root directory.
// Writes stream to a temp file in the destination directory and rename
// into place, so a reader of the final path never observes a partial
// object and a Put can never clobber the file it is reading from.
type LocalStore struct {
	root   string
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

func NewLocalStore(root string, logger *zap.Logger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("objectstore: local root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: creating root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("objectstore: root %q is not a directory", root)
	}
	return &LocalStore{root: root, logger: logger}, nil
}

func (s *LocalStore) path(ref string) (string, error) {
	if err := checkRef(ref); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(ref)), nil
}

func (s *LocalStore) Put(ctx context.Context, ref string, r io.Reader) (n int64, err error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	dst, err := s.path(ref)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("objectstore: creating parent: %w", err)
	}

	// The temp file lives next to the destination so the rename stays
	// on one filesystem and is atomic.
	tmp := fmt.Sprintf("%s.tmp.%06d", dst, rand.Intn(1_000_000))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("objectstore: creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	n, err = io.Copy(f, readerWithContext(ctx, r))
	if err != nil {
		return 0, fmt.Errorf("objectstore: writing: %w", err)
	}
	if err = f.Sync(); err != nil {
		return 0, fmt.Errorf("objectstore: fsync: %w", err)
	}
	if err = f.Close(); err != nil {
		return 0, fmt.Errorf("objectstore: close: %w", err)
	}
	if err = os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("objectstore: rename: %w", err)
	}
	if err = syncDir(filepath.Dir(dst)); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *LocalStore) Reader(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: open: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	p, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("objectstore: remove: %w", err)
	}
	// Leave empty principal directories in place; sweeps may write
	// into them again.
	return nil
}

func (s *LocalStore) Size(ctx context.Context, ref string) (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	p, err := s.path(ref)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("objectstore: stat: %w", err)
	}
	return info.Size(), nil
}

func (s *LocalStore) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("objectstore: root unavailable: %w", err)
	}
	return nil
}

// Close marks the store closed; in-flight operations finish.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *LocalStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("objectstore: open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("objectstore: dir sync: %w", err)
	}
	return nil
}

// readerWithContext aborts a long copy once ctx is done.
func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
