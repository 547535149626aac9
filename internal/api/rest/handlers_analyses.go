package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/analysis"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
)

type pagedResponse struct {
	Items   interface{} `json:"items"`
	Total   int         `json:"total"`
	Page    int         `json:"page"`
	PerPage int         `json:"per_page"`
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	filter := repository.AnalysisFilter{
		Query:  q.Get("q"),
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	}
	if raw := q.Get("status"); raw != "" {
		st, err := analysis.ParseStatus(raw)
		if err != nil {
			writeError(w, r, domainerrors.NewInputInvalid("INVALID_STATUS", "unknown status "+strconv.Quote(raw)))
			return
		}
		filter.Status = &st
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, domainerrors.NewInputInvalid("INVALID_FROM", "from must be RFC 3339"))
			return
		}
		filter.From = &t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, domainerrors.NewInputInvalid("INVALID_TO", "to must be RFC 3339"))
			return
		}
		filter.To = &t
	}

	items, total, err := s.flow.List(r.Context(), p, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*analysis.Analysis{}
	}
	writeJSON(w, http.StatusOK, pagedResponse{Items: items, Total: total, Page: page, PerPage: perPage})
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("analysis"))
		return
	}

	detail, err := s.flow.Get(r.Context(), PrincipalFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleCancelAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("analysis"))
		return
	}

	err = s.flow.Cancel(r.Context(), PrincipalFromContext(r.Context()), id,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"})
}

func (s *Server) handleDeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, domainerrors.NewNotFound("analysis"))
		return
	}
	hard := r.URL.Query().Get("hard") == "true"

	err = s.flow.Delete(r.Context(), PrincipalFromContext(r.Context()), id, hard,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
