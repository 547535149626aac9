package ingest

import (
	"bytes"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain https", "https://example.com/logs.tar.gz", "https://example.com/logs.tar.gz", false},
		{"trailing whitespace", "https://example.com/logs.zip  \n", "https://example.com/logs.zip", false},
		{"trailing backslashes", `https://example.com/logs.zip\\`, "https://example.com/logs.zip", false},
		{"plain http", "http://example.com/a.tar.bz2", "http://example.com/a.tar.bz2", false},
		{"ftp scheme", "ftp://example.com/logs.zip", "", true},
		{"no scheme", "example.com/logs.zip", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, domainerrors.KindInputInvalid, domainerrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/path/device_logs.tar.gz", "device_logs.tar.gz"},
		{"https://example.com/logs.zip?token=abc&expires=123", "logs.zip"},
		{"https://example.com/", "download"},
		{"https://example.com", "download"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filenameFromURL(tt.in), tt.in)
	}
}

func TestMapFetchStatus(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusUnauthorized, "Access denied. The URL requires authentication or the link has expired."},
		{http.StatusForbidden, "Access denied. The URL requires authentication or the link has expired."},
		{http.StatusNotFound, "File not found. The URL may have expired."},
		{http.StatusBadGateway, "The remote server returned status 502."},
	}
	for _, tt := range tests {
		err := mapFetchStatus(tt.status)
		require.Error(t, err)
		assert.Equal(t, domainerrors.KindUrlFetchFailed, domainerrors.KindOf(err))
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestStageToScratchSizeCap(t *testing.T) {
	s := &Service{scratchDir: t.TempDir(), maxBytes: 1024}

	t.Run("under cap", func(t *testing.T) {
		path, size, sum, err := s.stageToScratch(bytes.NewReader(make([]byte, 512)))
		require.NoError(t, err)
		defer os.Remove(path)
		assert.Equal(t, int64(512), size)
		assert.Len(t, sum, 64)
		_, err = os.Stat(path)
		assert.NoError(t, err)
	})

	t.Run("exactly at cap", func(t *testing.T) {
		path, size, _, err := s.stageToScratch(bytes.NewReader(make([]byte, 1024)))
		require.NoError(t, err)
		defer os.Remove(path)
		assert.Equal(t, int64(1024), size)
	})

	t.Run("over cap deletes partial", func(t *testing.T) {
		scratch := t.TempDir()
		over := &Service{scratchDir: scratch, maxBytes: 1024}

		_, _, _, err := over.stageToScratch(bytes.NewReader(make([]byte, 1025)))
		require.Error(t, err)
		assert.Equal(t, domainerrors.KindSizeExceeded, domainerrors.KindOf(err))

		entries, err := os.ReadDir(scratch)
		require.NoError(t, err)
		assert.Empty(t, entries, "partial upload must not survive")
	})
}
