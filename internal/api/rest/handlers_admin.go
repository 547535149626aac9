package rest

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/service/authsvc"
)

func (s *Server) actorContext(r *http.Request) authsvc.ActorContext {
	return authsvc.ActorContext{
		Principal: PrincipalFromContext(r.Context()),
		IP:        clientIP(r, s.cfg.Server.TrustedProxies),
		UserAgent: r.UserAgent(),
	}
}

type createUserRequest struct {
	Handle     string `json:"handle" validate:"required,min=3,max=64"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Role       string `json:"role" validate:"omitempty,oneof=user admin"`
	QuotaBytes int64  `json:"quota_bytes" validate:"omitempty,min=0"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	role := principal.RoleUser
	if req.Role != "" {
		parsed, err := principal.ParseRole(req.Role)
		if err != nil {
			writeError(w, r, domainerrors.NewInputInvalid("INVALID_ROLE", err.Error()))
			return
		}
		role = parsed
	}
	quota := req.QuotaBytes
	if quota == 0 {
		quota = s.cfg.Quota.DefaultBytes
	}

	p, err := s.auth.CreateUser(r.Context(), s.actorContext(r), authsvc.CreateUserInput{
		Handle:     req.Handle,
		Email:      req.Email,
		Password:   req.Password,
		Role:       role,
		QuotaBytes: quota,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(p))
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	users, total, err := s.auth.ListUsers(r.Context(), (page-1)*perPage, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]*principalView, 0, len(users))
	for _, u := range users {
		views = append(views, viewOf(u))
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: views, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("user"))
		return
	}
	p, err := s.auth.GetUser(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

type updateUserRequest struct {
	Email      *string `json:"email" validate:"omitempty,email"`
	Role       *string `json:"role" validate:"omitempty,oneof=user admin"`
	QuotaBytes *int64  `json:"quota_bytes" validate:"omitempty,min=0"`
	QuotaGrace *bool   `json:"quota_grace"`
	Active     *bool   `json:"active"`
	Password   *string `json:"password"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("user"))
		return
	}
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := authsvc.UpdateUserInput{
		Email:      req.Email,
		QuotaBytes: req.QuotaBytes,
		QuotaGrace: req.QuotaGrace,
		Active:     req.Active,
		Password:   req.Password,
	}
	if req.Role != nil {
		role, err := principal.ParseRole(*req.Role)
		if err != nil {
			writeError(w, r, domainerrors.NewInputInvalid("INVALID_ROLE", err.Error()))
			return
		}
		in.Role = &role
	}

	p, err := s.auth.UpdateUser(r.Context(), s.actorContext(r), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("user"))
		return
	}
	hard := r.URL.Query().Get("hard") == "true"

	if err := s.auth.DeleteUser(r.Context(), s.actorContext(r), id, hard); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// parseAuditFilter reads the shared query parameters of the audit
// endpoints.
func parseAuditFilter(r *http.Request) (*audit.Filter, error) {
	q := r.URL.Query()
	f := &audit.Filter{
		Action:     audit.Action(q.Get("action")),
		Outcome:    audit.Outcome(q.Get("outcome")),
		EntityKind: q.Get("entity_kind"),
	}
	if raw := q.Get("principal_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, domainerrors.NewInputInvalid("INVALID_PRINCIPAL_ID", "principal_id must be a UUID")
		}
		f.PrincipalID = &id
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainerrors.NewInputInvalid("INVALID_FROM", "from must be RFC 3339")
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainerrors.NewInputInvalid("INVALID_TO", "to must be RFC 3339")
		}
		f.To = t
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	return f, nil
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	actor := PrincipalFromContext(r.Context())
	events, total, err := s.audit.Query(r.Context(), f,
		actor.ID, clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*audit.Event{}
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: events, Total: total, Page: f.Page, PerPage: f.PerPage})
}

// handleAuditExport streams matching events as CSV in id order. Rows
// are flushed as they come; exports are not bounded by the request
// timeout.
func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	f, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-events.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "at", "principal_id", "action", "entity_kind", "entity_id", "ip", "user_agent", "outcome", "detail"})

	actor := PrincipalFromContext(r.Context())
	err = s.audit.Stream(r.Context(), f, actor.ID,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent(),
		func(e *audit.Event) error {
			pid := ""
			if e.PrincipalID != nil {
				pid = e.PrincipalID.String()
			}
			return cw.Write([]string{
				strconv.FormatInt(e.ID, 10),
				e.At.UTC().Format(time.RFC3339),
				pid,
				string(e.Action),
				e.EntityKind,
				e.EntityID,
				e.IP,
				e.UserAgent,
				string(e.Outcome),
				string(e.Detail),
			})
		})
	cw.Flush()
	if err != nil {
		// Headers are already sent; the truncated stream is the only
		// signal the client gets.
		s.logger.Error("audit export aborted", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
	}
}
