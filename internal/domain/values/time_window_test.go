package values_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/values"
)

func TestParseTimeWindow(t *testing.T) {
	tests := []struct {
		name      string
		start     string
		end       string
		wantStart time.Time
		wantEnd   time.Time
		wantNaive bool
		wantErr   bool
	}{
		{
			name:      "rfc3339 with zone is not naive",
			start:     "2025-09-14T00:00:00+02:00",
			end:       "2025-09-16T00:00:00+02:00",
			wantStart: time.Date(2025, 9, 13, 22, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 9, 15, 22, 0, 0, 0, time.UTC),
			wantNaive: false,
		},
		{
			name:      "zoneless timestamps are naive and treated as UTC",
			start:     "2025-09-14 00:00:00",
			end:       "2025-09-16 12:30:00",
			wantStart: time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 9, 16, 12, 30, 0, 0, time.UTC),
			wantNaive: true,
		},
		{
			name:      "date-only endpoints",
			start:     "2025-09-14",
			end:       "2025-09-16",
			wantStart: time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 9, 16, 0, 0, 0, 0, time.UTC),
			wantNaive: true,
		},
		{
			name:    "end before start rejected",
			start:   "2025-09-16",
			end:     "2025-09-14",
			wantErr: true,
		},
		{
			name:    "garbage rejected",
			start:   "not-a-time",
			end:     "2025-09-16",
			wantErr: true,
		},
		{
			name:    "empty start rejected",
			start:   "",
			end:     "2025-09-16",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := values.ParseTimeWindow(tt.start, tt.end)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, w.Start().Equal(tt.wantStart), "start: got %s want %s", w.Start(), tt.wantStart)
			assert.True(t, w.End().Equal(tt.wantEnd), "end: got %s want %s", w.End(), tt.wantEnd)
			assert.Equal(t, tt.wantNaive, w.Naive())
		})
	}
}

func TestTimeWindow_BufferedContains(t *testing.T) {
	w, err := values.ParseTimeWindow("2025-09-14", "2025-09-16")
	require.NoError(t, err)

	buffered := w.Buffered(time.Hour)

	assert.True(t, buffered.Contains(time.Date(2025, 9, 13, 23, 0, 0, 0, time.UTC)), "start boundary inclusive")
	assert.True(t, buffered.Contains(time.Date(2025, 9, 16, 1, 0, 0, 0, time.UTC)), "end boundary inclusive")
	assert.False(t, buffered.Contains(time.Date(2025, 9, 13, 22, 59, 59, 0, time.UTC)))
	assert.False(t, buffered.Contains(time.Date(2025, 9, 16, 1, 0, 1, 0, time.UTC)))
	assert.Equal(t, w.Naive(), buffered.Naive())
}

func TestTimeWindow_ContainsNormalizesZones(t *testing.T) {
	w, err := values.ParseTimeWindow("2025-09-15", "2025-09-15")
	require.NoError(t, err)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 02:00 in Berlin on 2025-09-15 is 00:00 UTC, exactly the window start.
	assert.True(t, w.Contains(time.Date(2025, 9, 15, 2, 0, 0, 0, berlin)))
}
