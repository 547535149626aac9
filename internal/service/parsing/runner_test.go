package parsing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil"
)

func testDescriptor(key string, args ...string) *parser.Descriptor {
	return &parser.Descriptor{
		ModeKey:     key,
		Enabled:     true,
		OutputShape: parser.ShapeFreeText,
		CommandArgs: args,
	}
}

func scratchArchive(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "device.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("stub"), 0o600))
	return path
}

func TestBuildArgv(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	t.Run("assembles the full vector", func(t *testing.T) {
		from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		to := from.Add(24 * time.Hour)
		argv, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("syslog", "--strict"),
			ArchivePath: archive,
			Timezone:    "Europe/Berlin",
			WindowStart: &from,
			WindowEnd:   &to,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"/opt/parsers/syslog-parse", "--strict",
			"--archive", archive,
			"--timezone", "Europe/Berlin",
			"--from", "2026-03-01T00:00:00Z",
			"--to", "2026-03-02T00:00:00Z",
			"--mode", "syslog",
		}, argv)
	})

	t.Run("omits window flags without a window", func(t *testing.T) {
		argv, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("syslog"),
			ArchivePath: archive,
			Timezone:    "UTC",
		})
		require.NoError(t, err)
		assert.NotContains(t, argv, "--from")
		assert.NotContains(t, argv, "--to")
	})

	t.Run("rejects archives outside the scratch root", func(t *testing.T) {
		outside := filepath.Join(t.TempDir(), "evil.tar.gz")
		_, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("syslog"),
			ArchivePath: outside,
			Timezone:    "UTC",
		})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInternal))
	})

	t.Run("rejects traversal inside the archive path", func(t *testing.T) {
		_, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("syslog"),
			ArchivePath: filepath.Join(root, "..", "escape.tar.gz"),
			Timezone:    "UTC",
		})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInternal))
	})

	t.Run("rejects unknown timezones", func(t *testing.T) {
		_, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("syslog"),
			ArchivePath: archive,
			Timezone:    "Mars/Olympus",
		})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInputInvalid))
	})

	t.Run("rejects malformed mode keys", func(t *testing.T) {
		_, err := r.buildArgv(RunSpec{
			Binary:      "/opt/parsers/syslog-parse",
			Mode:        testDescriptor("Sys Log"),
			ArchivePath: archive,
			Timezone:    "UTC",
		})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInputInvalid))
	})
}

func TestRunCapturesStdout(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	out, err := r.Run(testutil.TestContext(t), RunSpec{
		Binary:      "/bin/echo",
		Mode:        testDescriptor("echo_stub"),
		ArchivePath: archive,
		Timezone:    "UTC",
		Timeout:     10 * time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "--mode echo_stub")
}

func TestRunTimeout(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	// The stub ignores its flags and outlives the budget.
	script := filepath.Join(t.TempDir(), "slow-parser")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	_, err := r.Run(testutil.TestContext(t), RunSpec{
		Binary:      script,
		Mode:        testDescriptor("sleep_stub"),
		ArchivePath: archive,
		Timezone:    "UTC",
		Timeout:     200 * time.Millisecond,
	})
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindParserTimeout))
}

func TestRunCancelRequested(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	script := filepath.Join(t.TempDir(), "slow-parser")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755))

	start := time.Now()
	_, err := r.Run(testutil.TestContext(t), RunSpec{
		Binary:          script,
		Mode:            testDescriptor("sleep_stub"),
		ArchivePath:     archive,
		Timezone:        "UTC",
		Timeout:         30 * time.Second,
		CancelRequested: func() bool { return true },
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 10*time.Second, "cancel must beat the run timeout")
}

func TestRunOutputOverflowFailsOnCleanExit(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	// Blows past the stdout cap and exits 0 before the monitor can
	// kill it. Truncated output must not pass as success.
	script := filepath.Join(t.TempDir(), "chatty-parser")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\nhead -c 70000000 /dev/zero\nexit 0\n"), 0o755))

	out, err := r.Run(testutil.TestContext(t), RunSpec{
		Binary:      script,
		Mode:        testDescriptor("chatty"),
		ArchivePath: archive,
		Timezone:    "UTC",
		Timeout:     30 * time.Second,
	})
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindParserFailure))
	assert.Nil(t, out)
}

func TestRunMissingBinary(t *testing.T) {
	root := t.TempDir()
	r := NewRunner(root, zaptest.NewLogger(t))
	archive := scratchArchive(t, root)

	_, err := r.Run(testutil.TestContext(t), RunSpec{
		Binary:      filepath.Join(root, "no-such-parser"),
		Mode:        testDescriptor("ghost"),
		ArchivePath: archive,
		Timezone:    "UTC",
	})
	assert.True(t, domainerrors.IsKind(err, domainerrors.KindParserFailure))
}

func TestLineCountWriter(t *testing.T) {
	w := &lineCountWriter{limit: 16}

	_, err := w.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, w.Lines())
	assert.False(t, w.Overflowed())

	// A write past the limit is swallowed, not buffered.
	_, err = w.Write([]byte("this line is far too long\n"))
	require.NoError(t, err)
	assert.True(t, w.Overflowed())
	assert.Equal(t, "one\ntwo\n", string(w.Bytes()))
}

func TestTailWriter(t *testing.T) {
	w := &tailWriter{limit: 8}

	w.Write([]byte("abcdefgh"))
	w.Write([]byte("ijkl"))
	assert.Equal(t, "efghijkl", w.String())

	assert.True(t, strings.HasSuffix("abcdefghijkl", w.String()))
}

func TestSampleRSSSelf(t *testing.T) {
	rss, ok := sampleRSS(os.Getpid())
	if !ok {
		t.Skip("procfs unavailable")
	}
	assert.Greater(t, rss, int64(0))
}
