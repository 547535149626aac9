package parsing

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
)

// ErrCancelled reports a run terminated by a cancel request rather
// than a fault.
var ErrCancelled = fmt.Errorf("parse cancelled")

const (
	// DefaultTimeout bounds a parser run when neither config nor the
	// descriptor overrides it.
	DefaultTimeout = 10 * time.Minute

	// termGrace is how long a signalled parser gets before SIGKILL.
	termGrace = 5 * time.Second

	// maxOutputBytes caps captured stdout; a parser exceeding it is
	// treated as failed rather than exhausting server memory.
	maxOutputBytes = 64 << 20

	// stderrTail is how much trailing stderr is kept for diagnostics.
	stderrTail = 8 << 10

	// samplePeriod is the monitor tick: memory sample, cancel poll,
	// progress report.
	samplePeriod = time.Second
)

// RunSpec describes one parser invocation.
type RunSpec struct {
	Binary      string
	Mode        *parser.Descriptor
	ArchivePath string
	Timezone    string
	WindowStart *time.Time
	WindowEnd   *time.Time

	Timeout     time.Duration
	MemoryLimit int64

	// OnProgress receives the stdout line count roughly once per second.
	OnProgress func(lines int)
	// CancelRequested is polled between samples; returning true
	// terminates the child.
	CancelRequested func() bool
}

// Runner executes parser binaries with an argv vector, never a shell.
type Runner struct {
	scratchRoot string
	logger      *zap.Logger
}

// NewRunner creates a runner confined to the scratch root.
func NewRunner(scratchRoot string, logger *zap.Logger) *Runner {
	return &Runner{scratchRoot: scratchRoot, logger: logger.Named("runner")}
}

type killReason int

const (
	killNone killReason = iota
	killTimeout
	killOOM
	killCancel
	killOutput
)

// Run executes the parser and returns its stdout. Errors carry the
// taxonomy kind the coordinator records on the result.
func (r *Runner) Run(ctx context.Context, spec RunSpec) ([]byte, error) {
	argv, err := r.buildArgv(spec)
	if err != nil {
		return nil, err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.scratchRoot
	cmd.Env = []string{"PATH=/usr/bin:/bin", "TZ=UTC", "LANG=C.UTF-8"}
	// SIGTERM first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	stdout := &lineCountWriter{limit: maxOutputBytes}
	stderr := &tailWriter{limit: stderrTail}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, domainerrors.NewParserFailure(fmt.Sprintf("failed to start parser: %v", err))
	}

	var reason killReason
	var reasonMu sync.Mutex
	kill := func(why killReason) {
		reasonMu.Lock()
		if reason == killNone {
			reason = why
		}
		reasonMu.Unlock()
		cancel()
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		ticker := time.NewTicker(samplePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if spec.OnProgress != nil {
					spec.OnProgress(stdout.Lines())
				}
				if spec.CancelRequested != nil && spec.CancelRequested() {
					kill(killCancel)
					return
				}
				if stdout.Overflowed() {
					kill(killOutput)
					return
				}
				if spec.MemoryLimit > 0 {
					if rss, ok := sampleRSS(cmd.Process.Pid); ok && rss > spec.MemoryLimit {
						kill(killOOM)
						return
					}
				}
			}
		}
	}()

	waitErr := cmd.Wait()
	cancel()
	<-monitorDone

	elapsed := time.Since(start)
	reasonMu.Lock()
	why := reason
	reasonMu.Unlock()

	if waitErr != nil {
		switch {
		case why == killCancel:
			return nil, ErrCancelled
		case why == killOOM:
			return nil, domainerrors.NewParserOOM(fmt.Sprintf("parser exceeded memory limit after %s", elapsed.Round(time.Second)))
		case why == killOutput:
			return nil, domainerrors.NewParserFailure("parser produced too much output")
		case ctx.Err() == context.DeadlineExceeded:
			return nil, domainerrors.NewParserTimeout(fmt.Sprintf("parser exceeded %s", timeout))
		case ctx.Err() == context.Canceled:
			// Shutdown; the claim is re-run after restart.
			return nil, ErrCancelled
		default:
			return nil, domainerrors.NewParserFailure(
				fmt.Sprintf("parser exited with error: %v: %s", waitErr, stderr.String()))
		}
	}

	// A clean exit can race the monitor tick: the writer saw the
	// overflow but the kill never fired. Truncated output must not
	// pass as a successful parse.
	if stdout.Overflowed() {
		return nil, domainerrors.NewParserFailure("parser produced too much output")
	}

	// The child can win a race against the cancel poll by exiting
	// normally first; its output stands.
	return stdout.Bytes(), nil
}

func (r *Runner) buildArgv(spec RunSpec) ([]string, error) {
	if !parser.ModeKeyPattern.MatchString(spec.Mode.ModeKey) {
		return nil, domainerrors.NewInputInvalid("INVALID_MODE", "invalid mode key")
	}
	if _, err := time.LoadLocation(spec.Timezone); err != nil {
		return nil, domainerrors.NewInputInvalid("INVALID_TIMEZONE", fmt.Sprintf("unknown timezone %q", spec.Timezone))
	}

	abs, err := filepath.Abs(spec.ArchivePath)
	if err != nil {
		return nil, domainerrors.NewInternal("failed to resolve archive path").WithCause(err)
	}
	root, err := filepath.Abs(r.scratchRoot)
	if err != nil {
		return nil, domainerrors.NewInternal("failed to resolve scratch root").WithCause(err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return nil, domainerrors.NewInternal("archive path escapes scratch root")
	}

	argv := append([]string{spec.Binary}, spec.Mode.CommandArgs...)
	argv = append(argv, "--archive", abs, "--timezone", spec.Timezone)
	if spec.WindowStart != nil && spec.WindowEnd != nil {
		argv = append(argv,
			"--from", spec.WindowStart.UTC().Format(time.RFC3339),
			"--to", spec.WindowEnd.UTC().Format(time.RFC3339))
	}
	argv = append(argv, "--mode", spec.Mode.ModeKey)
	return argv, nil
}

// sampleRSS reads VmRSS from /proc/<pid>/status. Returns false where
// procfs is unavailable; the memory bound is then not enforced.
func sampleRSS(pid int) (int64, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, false
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb << 10, true
	}
	return 0, false
}

// lineCountWriter buffers stdout while counting newlines, with a hard
// size cap.
type lineCountWriter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	lines int
	limit int
	over  bool
}

func (w *lineCountWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len()+len(p) > w.limit {
		w.over = true
		// Report success so the child keeps draining until killed.
		return len(p), nil
	}
	w.lines += bytes.Count(p, []byte{'\n'})
	return w.buf.Write(p)
}

func (w *lineCountWriter) Lines() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *lineCountWriter) Overflowed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.over
}

func (w *lineCountWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Bytes()
}

// tailWriter keeps the trailing bytes of a stream.
type tailWriter struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(string(w.buf))
}
