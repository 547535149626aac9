package values

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow represents a closed [start, end] interval used to filter
// archive members and parser output. Both endpoints are stored in UTC.
// Naive reports whether the caller supplied timestamps without zone
// information, in which case they were interpreted as UTC.
type TimeWindow struct {
	start time.Time
	end   time.Time
	naive bool
}

// Accepted layouts for window endpoints, tried in order. Layouts without
// a zone designator mark the window as naive.
var windowLayouts = []struct {
	layout string
	naive  bool
}{
	{time.RFC3339, false},
	{"2006-01-02T15:04:05", true},
	{"2006-01-02 15:04:05", true},
	{"2006-01-02", true},
}

// NewTimeWindow creates a TimeWindow from explicit endpoints. Zone
// information is preserved by converting to UTC.
func NewTimeWindow(start, end time.Time) (TimeWindow, error) {
	if start.IsZero() || end.IsZero() {
		return TimeWindow{}, fmt.Errorf("window endpoints cannot be zero")
	}
	if end.Before(start) {
		return TimeWindow{}, fmt.Errorf("window end %s precedes start %s", end, start)
	}
	return TimeWindow{start: start.UTC(), end: end.UTC()}, nil
}

// ParseTimeWindow parses endpoint strings. Endpoints without zone
// information are treated as UTC and the window is flagged naive.
func ParseTimeWindow(startStr, endStr string) (TimeWindow, error) {
	start, startNaive, err := parseWindowTime(startStr)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("window start: %w", err)
	}
	end, endNaive, err := parseWindowTime(endStr)
	if err != nil {
		return TimeWindow{}, fmt.Errorf("window end: %w", err)
	}

	w, err := NewTimeWindow(start, end)
	if err != nil {
		return TimeWindow{}, err
	}
	w.naive = startNaive || endNaive
	return w, nil
}

func parseWindowTime(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty timestamp")
	}
	for _, l := range windowLayouts {
		if t, err := time.Parse(l.layout, s); err == nil {
			return t.UTC(), l.naive, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognized timestamp %q", s)
}

// Start returns the window start in UTC.
func (w TimeWindow) Start() time.Time { return w.start }

// End returns the window end in UTC.
func (w TimeWindow) End() time.Time { return w.end }

// Naive reports whether the endpoints lacked zone information.
func (w TimeWindow) Naive() bool { return w.naive }

// IsZero reports whether the window is unset.
func (w TimeWindow) IsZero() bool { return w.start.IsZero() && w.end.IsZero() }

// Buffered returns the window widened symmetrically by buf on both ends.
func (w TimeWindow) Buffered(buf time.Duration) TimeWindow {
	return TimeWindow{
		start: w.start.Add(-buf),
		end:   w.end.Add(buf),
		naive: w.naive,
	}
}

// Contains reports whether t falls inside the closed interval.
func (w TimeWindow) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.start) && !t.After(w.end)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.end.Sub(w.start)
}

func (w TimeWindow) String() string {
	return fmt.Sprintf("[%s, %s]", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339))
}
