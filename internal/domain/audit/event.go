// Package audit defines the append-only event trail. Events are never
// updated or deleted; they outlive the principals that caused them.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action names what happened. The set is stable: dashboards and the
// CSV export key on these strings.
type Action string

const (
	ActionLogin          Action = "auth.login"
	ActionLogout         Action = "auth.logout"
	ActionPasswordChange Action = "auth.password_change"

	ActionUpload         Action = "logfile.upload"
	ActionLogFileDelete  Action = "logfile.delete"
	ActionLogFilePin     Action = "logfile.pin"
	ActionSoftSweep      Action = "logfile.soft_sweep"
	ActionHardSweep      Action = "logfile.hard_sweep"

	ActionAnalysisSubmit Action = "analysis.submit"
	ActionAnalysisCancel Action = "analysis.cancel"

	ActionUserCreate     Action = "admin.user_create"
	ActionUserUpdate     Action = "admin.user_update"
	ActionUserDelete     Action = "admin.user_delete"
	ActionAuditView      Action = "admin.audit_view"
	ActionAuditExport    Action = "admin.audit_export"
)

// Outcome records whether the action succeeded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// SystemActor marks events produced by background sweeps rather than
// a principal.
const SystemActor = "system"

// Event is one row of the trail. ID is assigned by the database
// (monotonic BIGSERIAL); insertion order is the audit order.
type Event struct {
	ID int64 `json:"id"`

	// PrincipalID is nil for anonymous actions (failed logins from
	// unknown handles) and after a principal's rows are hard-deleted.
	PrincipalID *uuid.UUID `json:"principal_id,omitempty"`

	At     time.Time `json:"at"`
	Action Action    `json:"action"`

	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	IP        string          `json:"ip"`
	Geo       json.RawMessage `json:"geo,omitempty"`
	UserAgent string          `json:"user_agent,omitempty"`

	Outcome Outcome         `json:"outcome"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// New builds an event ready for insertion.
func New(action Action, outcome Outcome, ip string) *Event {
	return &Event{
		At:      time.Now().UTC(),
		Action:  action,
		IP:      ip,
		Outcome: outcome,
		Detail:  json.RawMessage("{}"),
	}
}

// WithPrincipal attributes the event to an acting principal.
func (e *Event) WithPrincipal(id uuid.UUID) *Event {
	e.PrincipalID = &id
	return e
}

// WithEntity records the target of the action.
func (e *Event) WithEntity(kind, id string) *Event {
	e.EntityKind = kind
	e.EntityID = id
	return e
}

// WithUserAgent records the client identification string.
func (e *Event) WithUserAgent(ua string) *Event {
	e.UserAgent = ua
	return e
}

// WithDetail attaches structured context. Marshal failures degrade to
// an error note rather than dropping the event.
func (e *Event) WithDetail(detail map[string]interface{}) *Event {
	data, err := json.Marshal(detail)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"detail_error":%q}`, err.Error()))
	}
	e.Detail = data
	return e
}

// WithGeo attaches the location enrichment.
func (e *Event) WithGeo(geo interface{}) *Event {
	if geo == nil {
		return e
	}
	data, err := json.Marshal(geo)
	if err != nil {
		return e
	}
	e.Geo = data
	return e
}

// Filter narrows audit queries and the CSV export. Zero values mean
// "any".
type Filter struct {
	PrincipalID *uuid.UUID
	Action      Action
	Outcome     Outcome
	EntityKind  string
	From        time.Time
	To          time.Time

	Page    int
	PerPage int
}

// Normalize applies pagination defaults and bounds.
func (f *Filter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 50
	}
	if f.PerPage > 500 {
		f.PerPage = 500
	}
}

// Offset converts page/per-page into a row offset.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.PerPage
}
