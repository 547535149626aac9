package analysis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every structured payload so readers can
// evolve with the normalizer output format.
const SchemaVersion = 2

// ResultOutcome records the per-mode terminal state inside a multi-mode
// analysis. A cancelled mode writes no result row, so there is no
// cancelled outcome.
type ResultOutcome string

const (
	OutcomeCompleted ResultOutcome = "completed"
	OutcomeFailed    ResultOutcome = "failed"
)

// Result is one parser mode's normalized output for an analysis.
// Keyed by (analysis_id, mode_key).
type Result struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
	ModeKey    string    `json:"mode_key"`

	// RawTextRef points at the raw parser output in the object store.
	// Cleared when the backing file is hard-deleted.
	RawTextRef string `json:"raw_text_ref,omitempty"`

	StructuredPayload json.RawMessage `json:"structured_payload"`
	SchemaVersion     int             `json:"schema_version"`
	Warnings          []string        `json:"warnings,omitempty"`
	Outcome           ResultOutcome   `json:"outcome"`
	ProducedAt        time.Time       `json:"produced_at"`
}

// NewResult builds a completed result from a normalized payload.
func NewResult(analysisID uuid.UUID, modeKey string, payload json.RawMessage, warnings []string) (*Result, error) {
	if analysisID == uuid.Nil {
		return nil, fmt.Errorf("result requires an analysis id")
	}
	if modeKey == "" {
		return nil, fmt.Errorf("result requires a mode key")
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return &Result{
		AnalysisID:        analysisID,
		ModeKey:           modeKey,
		StructuredPayload: payload,
		SchemaVersion:     SchemaVersion,
		Warnings:          warnings,
		Outcome:           OutcomeCompleted,
		ProducedAt:        time.Now().UTC(),
	}, nil
}

// NewFailedResult records a mode that did not produce output.
func NewFailedResult(analysisID uuid.UUID, modeKey string, outcome ResultOutcome, reason string) *Result {
	payload, _ := json.Marshal(map[string]string{"error": reason})
	return &Result{
		AnalysisID:        analysisID,
		ModeKey:           modeKey,
		StructuredPayload: payload,
		SchemaVersion:     SchemaVersion,
		Outcome:           outcome,
		ProducedAt:        time.Now().UTC(),
	}
}
