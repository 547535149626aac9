package retention

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase distinguishes the two deletion passes.
type Phase string

const (
	PhaseSoft Phase = "soft"
	PhaseHard Phase = "hard"
)

// Reason records what triggered a deletion.
type Reason string

const (
	ReasonPolicy Reason = "policy"
	ReasonManual Reason = "manual"
)

// DeletionRecord is one entry in the deletion log. The log survives the
// file rows it describes.
type DeletionRecord struct {
	ID          int64     `json:"id"`
	LogFileID   uuid.UUID `json:"log_file_id"`
	PrincipalID uuid.UUID `json:"principal_id"`
	Phase       Phase     `json:"phase"`
	// Actor is "system" for sweep deletions, else the acting
	// principal's id.
	Actor     string    `json:"actor"`
	Reason    Reason    `json:"reason"`
	SizeBytes int64     `json:"size_bytes"`
	At        time.Time `json:"at"`
}

// NewDeletionRecord builds a log entry for a completed deletion pass.
func NewDeletionRecord(logFileID, principalID uuid.UUID, phase Phase, actor string, reason Reason, sizeBytes int64, at time.Time) (*DeletionRecord, error) {
	if logFileID == uuid.Nil {
		return nil, fmt.Errorf("deletion record requires a log file id")
	}
	if actor == "" {
		return nil, fmt.Errorf("deletion record requires an actor")
	}
	switch phase {
	case PhaseSoft, PhaseHard:
	default:
		return nil, fmt.Errorf("unknown deletion phase %q", phase)
	}
	switch reason {
	case ReasonPolicy, ReasonManual:
	default:
		return nil, fmt.Errorf("unknown deletion reason %q", reason)
	}
	return &DeletionRecord{
		LogFileID:   logFileID,
		PrincipalID: principalID,
		Phase:       phase,
		Actor:       actor,
		Reason:      reason,
		SizeBytes:   sizeBytes,
		At:          at.UTC(),
	}, nil
}
