package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

// AnalysisBuilder builds parse jobs in a chosen lifecycle state.
type AnalysisBuilder struct {
	t            *testing.T
	principalID  uuid.UUID
	logFileID    uuid.UUID
	modeKeys     []string
	timezone     string
	window       values.TimeWindow
	sessionLabel string
	status       analysis.Status
}

func NewAnalysisBuilder(t *testing.T, principalID, logFileID uuid.UUID) *AnalysisBuilder {
	t.Helper()
	return &AnalysisBuilder{
		t:           t,
		principalID: principalID,
		logFileID:   logFileID,
		modeKeys:    []string{"syslog"},
		timezone:    "UTC",
		status:      analysis.StatusPending,
	}
}

func (b *AnalysisBuilder) WithModes(modes ...string) *AnalysisBuilder {
	b.modeKeys = modes
	return b
}

func (b *AnalysisBuilder) WithWindow(w values.TimeWindow) *AnalysisBuilder {
	b.window = w
	return b
}

func (b *AnalysisBuilder) WithSessionLabel(label string) *AnalysisBuilder {
	b.sessionLabel = label
	return b
}

func (b *AnalysisBuilder) Running() *AnalysisBuilder {
	b.status = analysis.StatusRunning
	return b
}

func (b *AnalysisBuilder) Completed() *AnalysisBuilder {
	b.status = analysis.StatusCompleted
	return b
}

func (b *AnalysisBuilder) Build() *analysis.Analysis {
	b.t.Helper()
	a, err := analysis.New(b.principalID, b.logFileID, b.modeKeys, b.timezone, b.window, b.sessionLabel)
	require.NoError(b.t, err)

	now := time.Now().UTC()
	switch b.status {
	case analysis.StatusRunning:
		require.NoError(b.t, a.Claim(now))
	case analysis.StatusCompleted:
		require.NoError(b.t, a.Claim(now))
		require.NoError(b.t, a.Complete(now))
	}
	return a
}
