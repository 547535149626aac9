package logfile_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/logfile"
)

func TestNew(t *testing.T) {
	owner := uuid.New()

	f, err := logfile.New(owner, "p/123_abcd_device.tar.bz2", "device.tar.bz2", 3<<20, "deadbeef")
	require.NoError(t, err)

	assert.Equal(t, owner, f.PrincipalID)
	assert.True(t, f.Available())
	assert.False(t, f.IsSoftDeleted())
	assert.False(t, f.IsHardDeleted())
}

func TestNew_Validation(t *testing.T) {
	_, err := logfile.New(uuid.Nil, "p/x", "x", 1, "")
	assert.ErrorIs(t, err, logfile.ErrNoOwner)

	_, err = logfile.New(uuid.New(), "", "x", 1, "")
	assert.ErrorIs(t, err, logfile.ErrNoStoredPath)

	_, err = logfile.New(uuid.New(), "p/x", "x", -1, "")
	assert.Error(t, err)
}

func TestLogFile_DeleteLifecycle(t *testing.T) {
	f, err := logfile.New(uuid.New(), "p/x", "x.zip", 1, "")
	require.NoError(t, err)
	now := time.Now().UTC()

	t.Run("soft delete and restore", func(t *testing.T) {
		require.NoError(t, f.SoftDelete(now))
		assert.True(t, f.IsSoftDeleted())
		assert.False(t, f.Available())

		require.NoError(t, f.SoftDelete(now), "soft delete is idempotent")

		require.NoError(t, f.Restore())
		assert.True(t, f.Available())
	})

	t.Run("hard delete clears stored path", func(t *testing.T) {
		require.NoError(t, f.HardDelete(now))
		assert.True(t, f.IsHardDeleted())
		assert.Equal(t, "", f.StoredPath)

		assert.ErrorIs(t, f.Restore(), logfile.ErrAlreadyHardDeleted)
		assert.ErrorIs(t, f.SoftDelete(now), logfile.ErrAlreadyHardDeleted)
	})
}

func TestLogFile_PinnedRefusesDeletes(t *testing.T) {
	f, err := logfile.New(uuid.New(), "p/x", "x.zip", 1, "")
	require.NoError(t, err)
	f.Pinned = true

	now := time.Now().UTC()
	assert.ErrorIs(t, f.SoftDelete(now), logfile.ErrPinned)
	assert.ErrorIs(t, f.HardDelete(now), logfile.ErrPinned)
	assert.True(t, f.Available())
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain name kept", input: "device.tar.bz2", want: "device.tar.bz2"},
		{name: "directory components stripped", input: "/var/tmp/device.tar.gz", want: "device.tar.gz"},
		{name: "traversal stripped", input: "../../etc/passwd", want: "passwd"},
		{name: "backslash paths stripped", input: `C:\logs\device.zip`, want: "device.zip"},
		{name: "unsafe runes replaced", input: "my logs (new).zip", want: "my_logs_new_.zip"},
		{name: "hidden file loses leading dots", input: ".hidden", want: "hidden"},
		{name: "empty becomes placeholder", input: "", want: "upload"},
		{name: "dot dot becomes placeholder", input: "..", want: "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, logfile.SanitizeName(tt.input))
		})
	}
}
