package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLocal(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestLocalStore_PutReadRoundTrip(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	ref := NewRef(uuid.New(), "device.tar.bz2")

	payload := bytes.Repeat([]byte("log line\n"), 1024)
	n, err := s.Put(ctx, ref, bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	r, err := s.Reader(ctx, ref)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	size, err := s.Size(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
}

// A failed Put must leave neither the destination nor a temp file.
func TestLocalStore_FailedPutLeavesNoTrace(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	ref := NewRef(uuid.New(), "broken.tar.gz")

	_, err := s.Put(ctx, ref, &failingReader{after: 10})
	require.Error(t, err)

	_, err = s.Reader(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)

	var leftovers []string
	filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			leftovers = append(leftovers, path)
		}
		return nil
	})
	assert.Empty(t, leftovers, "no partial or temp files may remain")
}

// Overwriting a ref while a reader holds the old bytes must not
// corrupt what the reader sees: the temp-then-rename write leaves the
// old inode intact.
func TestLocalStore_OverwriteDoesNotCorruptOpenReader(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()
	ref := NewRef(uuid.New(), "archive.zip")

	first := []byte(strings.Repeat("first", 100))
	_, err := s.Put(ctx, ref, bytes.NewReader(first))
	require.NoError(t, err)

	r, err := s.Reader(ctx, ref)
	require.NoError(t, err)
	defer r.Close()

	second := []byte(strings.Repeat("second", 100))
	_, err = s.Put(ctx, ref, bytes.NewReader(second))
	require.NoError(t, err)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, first, got, "open reader keeps the bytes it opened")

	r2, err := s.Reader(ctx, ref)
	require.NoError(t, err)
	defer r2.Close()
	got2, err := io.ReadAll(r2)
	require.NoError(t, err)
	assert.Equal(t, second, got2)
}

func TestLocalStore_DeleteMissing(t *testing.T) {
	s := newLocal(t)
	err := s.Delete(context.Background(), NewRef(uuid.New(), "gone.tar.gz"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsMalformedRefs(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	for _, ref := range []string{
		"../escape",
		"a/../../etc/passwd",
		"/absolute/path",
		"no-slash",
		"a/b/c",
	} {
		_, err := s.Put(ctx, ref, bytes.NewReader(nil))
		assert.Error(t, err, "ref %q must be rejected", ref)
	}
}

func TestLocalStore_ClosedStore(t *testing.T) {
	s := newLocal(t)
	require.NoError(t, s.Close())

	_, err := s.Put(context.Background(), NewRef(uuid.New(), "x.zip"), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"device.tar.bz2", "device.tar.bz2"},
		{"../../etc/passwd", "passwd"},
		{`C:\logs\dump.zip`, "dump.zip"},
		{"weird name!.tgz", "weird_name_.tgz"},
		{"...", "upload"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeName(tt.in), "input %q", tt.in)
	}
}

type failingReader struct {
	after int
	read  int
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.read >= f.after {
		return 0, errors.New("stream truncated")
	}
	n := f.after - f.read
	if n > len(p) {
		n = len(p)
	}
	for i := 0; i < n; i++ {
		p[i] = 'x'
	}
	f.read += n
	return n, nil
}
