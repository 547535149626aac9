package analysis_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

func newPending(t *testing.T) *analysis.Analysis {
	t.Helper()
	a, err := analysis.New(uuid.New(), uuid.New(), []string{"bandwidth", "sessions"}, "UTC", values.TimeWindow{}, "")
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	t.Run("valid submission", func(t *testing.T) {
		w, err := values.ParseTimeWindow("2025-09-14", "2025-09-16")
		require.NoError(t, err)

		a, err := analysis.New(uuid.New(), uuid.New(), []string{"bandwidth"}, "Europe/Berlin", w, "field visit")
		require.NoError(t, err)

		assert.Equal(t, analysis.StatusPending, a.Status)
		assert.Equal(t, 0, a.ProgressPct)
		require.NotNil(t, a.WindowStart)
		assert.True(t, a.NaiveWindow)
		assert.Equal(t, "field visit", a.SessionLabel)
	})

	t.Run("duplicate modes collapse preserving order", func(t *testing.T) {
		a, err := analysis.New(uuid.New(), uuid.New(), []string{"sessions", "bandwidth", "sessions"}, "UTC", values.TimeWindow{}, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"sessions", "bandwidth"}, a.ModeKeys)
	})

	t.Run("empty timezone defaults to UTC", func(t *testing.T) {
		a, err := analysis.New(uuid.New(), uuid.New(), []string{"bandwidth"}, "", values.TimeWindow{}, "")
		require.NoError(t, err)
		assert.Equal(t, "UTC", a.Timezone)
	})

	t.Run("rejections", func(t *testing.T) {
		_, err := analysis.New(uuid.Nil, uuid.New(), []string{"bandwidth"}, "UTC", values.TimeWindow{}, "")
		assert.ErrorIs(t, err, analysis.ErrNoPrincipal)

		_, err = analysis.New(uuid.New(), uuid.Nil, []string{"bandwidth"}, "UTC", values.TimeWindow{}, "")
		assert.ErrorIs(t, err, analysis.ErrNoLogFile)

		_, err = analysis.New(uuid.New(), uuid.New(), nil, "UTC", values.TimeWindow{}, "")
		assert.ErrorIs(t, err, analysis.ErrNoModes)

		_, err = analysis.New(uuid.New(), uuid.New(), []string{"bandwidth"}, "Mars/Olympus", values.TimeWindow{}, "")
		assert.Error(t, err)
	})
}

func TestStateMachine_HappyPath(t *testing.T) {
	a := newPending(t)
	now := time.Now().UTC()

	require.NoError(t, a.Claim(now))
	assert.Equal(t, analysis.StatusRunning, a.Status)
	require.NotNil(t, a.StartedAt)

	a.SetProgress(40)
	a.SetProgress(80)
	assert.Equal(t, 80, a.ProgressPct)

	require.NoError(t, a.Complete(now.Add(2*time.Second)))
	assert.Equal(t, analysis.StatusCompleted, a.Status)
	assert.Equal(t, 100, a.ProgressPct)
	require.NotNil(t, a.FinishedAt)
	require.NotNil(t, a.DurationMs)
	assert.GreaterOrEqual(t, *a.DurationMs, int64(2000))
}

func TestStateMachine_TerminalStatesAreFinal(t *testing.T) {
	now := time.Now().UTC()

	terminalSetups := []struct {
		name  string
		setup func(*analysis.Analysis)
	}{
		{
			name: "completed",
			setup: func(a *analysis.Analysis) {
				require.NoError(t, a.Claim(now))
				require.NoError(t, a.Complete(now))
			},
		},
		{
			name: "failed",
			setup: func(a *analysis.Analysis) {
				require.NoError(t, a.Claim(now))
				require.NoError(t, a.Fail(now, domainerrors.KindParserFailure, "exit status 2"))
			},
		},
		{
			name: "cancelled",
			setup: func(a *analysis.Analysis) {
				require.NoError(t, a.Claim(now))
				require.NoError(t, a.Cancel(now))
			},
		},
	}

	for _, tt := range terminalSetups {
		t.Run(tt.name, func(t *testing.T) {
			a := newPending(t)
			tt.setup(a)

			assert.True(t, a.Status.IsTerminal())
			assert.False(t, a.Cancellable())

			assert.ErrorIs(t, a.Claim(now), analysis.ErrInvalidTransition)
			assert.ErrorIs(t, a.Complete(now), analysis.ErrInvalidTransition)
			assert.ErrorIs(t, a.Cancel(now), analysis.ErrInvalidTransition)
			assert.ErrorIs(t, a.Fail(now, domainerrors.KindInternal, "x"), analysis.ErrInvalidTransition)
		})
	}
}

func TestStateMachine_QuotaRefusalFailsPending(t *testing.T) {
	a := newPending(t)
	now := time.Now().UTC()

	require.NoError(t, a.Fail(now, domainerrors.KindQuotaExceeded, "quota exhausted"))
	assert.Equal(t, analysis.StatusFailed, a.Status)
	assert.Nil(t, a.StartedAt, "a quota-refused analysis never ran")
	require.NotNil(t, a.DurationMs)
	assert.Equal(t, string(domainerrors.KindQuotaExceeded), a.ErrorKind)
}

func TestSetProgress_Monotonic(t *testing.T) {
	a := newPending(t)
	now := time.Now().UTC()

	a.SetProgress(50)
	assert.Equal(t, 0, a.ProgressPct, "progress before running is ignored")

	require.NoError(t, a.Claim(now))
	a.SetProgress(30)
	a.SetProgress(10)
	assert.Equal(t, 30, a.ProgressPct, "regressions are ignored")

	a.SetProgress(150)
	assert.Equal(t, 100, a.ProgressPct, "clamped to 100")

	a.SetProgress(-5)
	assert.Equal(t, 100, a.ProgressPct)
}

func TestCanTransition_Matrix(t *testing.T) {
	allowed := map[analysis.Status][]analysis.Status{
		analysis.StatusPending: {analysis.StatusRunning, analysis.StatusFailed, analysis.StatusCancelled},
		analysis.StatusRunning: {analysis.StatusCompleted, analysis.StatusFailed, analysis.StatusCancelled},
	}
	all := []analysis.Status{
		analysis.StatusPending, analysis.StatusRunning,
		analysis.StatusCompleted, analysis.StatusFailed, analysis.StatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if to == ok {
					want = true
				}
			}
			assert.Equal(t, want, analysis.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseStatus_RoundTrip(t *testing.T) {
	for _, s := range []analysis.Status{
		analysis.StatusPending, analysis.StatusRunning,
		analysis.StatusCompleted, analysis.StatusFailed, analysis.StatusCancelled,
	} {
		parsed, err := analysis.ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := analysis.ParseStatus("resurrected")
	assert.Error(t, err)
}

func TestResult(t *testing.T) {
	id := uuid.New()

	r, err := analysis.NewResult(id, "bandwidth", []byte(`{"shape":"csv"}`), []string{"parse_degraded"})
	require.NoError(t, err)
	assert.Equal(t, analysis.OutcomeCompleted, r.Outcome)
	assert.Equal(t, analysis.SchemaVersion, r.SchemaVersion)

	_, err = analysis.NewResult(uuid.Nil, "bandwidth", nil, nil)
	assert.Error(t, err)

	_, err = analysis.NewResult(id, "", nil, nil)
	assert.Error(t, err)

	failed := analysis.NewFailedResult(id, "sessions", analysis.OutcomeFailed, "exit status 1")
	assert.Equal(t, analysis.OutcomeFailed, failed.Outcome)
	assert.Contains(t, string(failed.StructuredPayload), "exit status 1")
}

func TestStatusJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(analysis.StatusRunning)
	require.NoError(t, err)
	assert.Equal(t, `"running"`, string(raw))

	var s analysis.Status
	require.NoError(t, json.Unmarshal([]byte(`"cancelled"`), &s))
	assert.Equal(t, analysis.StatusCancelled, s)

	assert.Error(t, json.Unmarshal([]byte(`"resurrected"`), &s))
	assert.Error(t, json.Unmarshal([]byte(`3`), &s))
}
