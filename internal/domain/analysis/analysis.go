package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

// Analysis is one parse job over a stored log file, fanning out to one
// result per requested mode.
type Analysis struct {
	ID          uuid.UUID `json:"id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	LogFileID   uuid.UUID `json:"log_file_id"`

	ModeKeys []string `json:"mode_keys"`
	Timezone string   `json:"timezone"`

	WindowStart *time.Time `json:"window_start,omitempty"`
	WindowEnd   *time.Time `json:"window_end,omitempty"`
	// NaiveWindow records that the submitted window carried no zone
	// information and was interpreted as UTC.
	NaiveWindow bool `json:"naive_window,omitempty"`

	Status          Status `json:"status"`
	ProgressPct     int    `json:"progress_pct"`
	CancelRequested bool   `json:"cancel_requested"`
	SourceDeleted   bool   `json:"source_deleted"`

	SessionLabel string `json:"session_label,omitempty"`
	ExternalRef  string `json:"external_ref,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
}

type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalJSON writes the wire representation, which matches the
// stored one.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus converts the stored representation back into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return StatusPending, fmt.Errorf("unknown analysis status %q", s)
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition encodes the state machine. Claims move pending to
// running; running ends in exactly one terminal state; a quota refusal
// fails a pending job without it ever running.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// New creates a pending analysis for a submission that already passed
// visibility and quota checks.
func New(principalID, logFileID uuid.UUID, modeKeys []string, timezone string, window values.TimeWindow, sessionLabel string) (*Analysis, error) {
	if principalID == uuid.Nil {
		return nil, ErrNoPrincipal
	}
	if logFileID == uuid.Nil {
		return nil, ErrNoLogFile
	}
	if len(modeKeys) == 0 {
		return nil, ErrNoModes
	}
	seen := make(map[string]struct{}, len(modeKeys))
	ordered := make([]string, 0, len(modeKeys))
	for _, k := range modeKeys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}

	a := &Analysis{
		ID:           uuid.New(),
		PrincipalID:  principalID,
		LogFileID:    logFileID,
		ModeKeys:     ordered,
		Timezone:     timezone,
		Status:       StatusPending,
		SessionLabel: sessionLabel,
		CreatedAt:    time.Now().UTC(),
	}
	if !window.IsZero() {
		start, end := window.Start(), window.End()
		a.WindowStart = &start
		a.WindowEnd = &end
		a.NaiveWindow = window.Naive()
	}
	return a, nil
}

// Claim moves a pending analysis to running. The repository performs
// the same guard as a compare-and-set on the status column.
func (a *Analysis) Claim(now time.Time) error {
	if !CanTransition(a.Status, StatusRunning) {
		return transitionRefused(a.Status, StatusRunning)
	}
	t := now.UTC()
	a.Status = StatusRunning
	a.StartedAt = &t
	a.ProgressPct = 0
	return nil
}

// SetProgress advances progress within a running episode. Progress is
// monotonic: regressions are ignored, not errors, since late worker
// reports can arrive out of order.
func (a *Analysis) SetProgress(pct int) {
	if a.Status != StatusRunning {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct > a.ProgressPct {
		a.ProgressPct = pct
	}
}

// Complete finishes a running analysis successfully.
func (a *Analysis) Complete(now time.Time) error {
	if !CanTransition(a.Status, StatusCompleted) {
		return transitionRefused(a.Status, StatusCompleted)
	}
	a.Status = StatusCompleted
	a.ProgressPct = 100
	a.finish(now)
	return nil
}

// Fail terminates the analysis with an error taxonomy kind.
func (a *Analysis) Fail(now time.Time, kind domainerrors.Kind, message string) error {
	if !CanTransition(a.Status, StatusFailed) {
		return transitionRefused(a.Status, StatusFailed)
	}
	a.Status = StatusFailed
	a.ErrorKind = string(kind)
	a.ErrorMessage = message
	a.finish(now)
	return nil
}

// Cancel terminates the analysis after a cancel request was observed.
func (a *Analysis) Cancel(now time.Time) error {
	if !CanTransition(a.Status, StatusCancelled) {
		return transitionRefused(a.Status, StatusCancelled)
	}
	a.Status = StatusCancelled
	a.finish(now)
	return nil
}

// Cancellable reports whether a cancel request can still take effect.
func (a *Analysis) Cancellable() bool {
	return !a.Status.IsTerminal()
}

func (a *Analysis) finish(now time.Time) {
	t := now.UTC()
	a.FinishedAt = &t
	base := a.CreatedAt
	if a.StartedAt != nil {
		base = *a.StartedAt
	}
	ms := t.Sub(base).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	a.DurationMs = &ms
}

func transitionRefused(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

var (
	ErrNoPrincipal       = fmt.Errorf("analysis requires a principal")
	ErrNoLogFile         = fmt.Errorf("analysis requires a log file")
	ErrNoModes           = fmt.Errorf("analysis requires at least one mode")
	ErrInvalidTransition = fmt.Errorf("invalid status transition")
)
