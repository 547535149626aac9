package rest

import (
	"context"
	"net/http"
	"time"
)

// HealthProbe checks one dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// handleHealthz probes every registered dependency with a short budget
// and degrades to 503 when any fails.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:       "ok",
		Version:      s.cfg.Version,
		Dependencies: make(map[string]string, len(s.probes)),
	}
	status := http.StatusOK
	for _, probe := range s.probes {
		if err := probe.Check(ctx); err != nil {
			resp.Dependencies[probe.Name] = "unhealthy"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			s.logger.Warn("health probe failed", "probe", probe.Name, "error", err)
			continue
		}
		resp.Dependencies[probe.Name] = "ok"
	}
	writeJSON(w, status, resp)
}
