package rest

import (
	"net/http"
	"time"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
)

type loginRequest struct {
	Handle   string `json:"handle" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=1,max=72"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Principal *principalView `json:"principal"`
}

// principalView is the client-facing shape; the verifier never leaves
// the server.
type principalView struct {
	ID         string     `json:"id"`
	Handle     string     `json:"handle"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	QuotaBytes int64      `json:"quota_bytes"`
	UsedBytes  int64      `json:"used_bytes"`
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login_at,omitempty"`
}

func viewOf(p *principal.Principal) *principalView {
	return &principalView{
		ID:         p.ID.String(),
		Handle:     p.Handle.String(),
		Email:      p.Email.String(),
		Role:       p.Role.String(),
		QuotaBytes: p.QuotaBytes,
		UsedBytes:  p.UsedBytes,
		Active:     p.Active,
		CreatedAt:  p.CreatedAt,
		LastLogin:  p.LastLoginAt,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.auth.Login(r.Context(), req.Handle, req.Password,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		Principal: viewOf(res.Principal),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if err := s.auth.Logout(r.Context(), tokenFromContext(r.Context()), p,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(PrincipalFromContext(r.Context())))
}

type changePasswordRequest struct {
	Current string `json:"current" validate:"required"`
	Next    string `json:"next" validate:"required"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p := PrincipalFromContext(r.Context())
	if err := s.auth.ChangePassword(r.Context(), p, req.Current, req.Next,
		clientIP(r, s.cfg.Server.TrustedProxies), r.UserAgent()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
