package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/service/ingest"
)

// maxUploadMemory bounds the in-memory part of multipart parsing; file
// parts above it spill to disk.
const maxUploadMemory = 8 << 20

type modeView struct {
	ModeKey     string `json:"mode_key"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.registry.VisibleModes(r.Context(), PrincipalFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]modeView, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, modeView{ModeKey: d.ModeKey, DisplayName: d.DisplayName, Description: d.Description})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"modes": out})
}

// handleUpload accepts multipart `file` XOR `file_url` plus the parse
// request fields, and answers with the created analysis id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())

	// Cap the whole request body so an oversized upload cannot fill the
	// temp spill directory; the ingest service enforces the per-file cap
	// again while copying.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxBytes+maxUploadMemory)

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, domainerrors.NewSizeExceeded(
				fmt.Sprintf("upload exceeds the %d MB limit", s.cfg.Upload.MaxBytes>>20)))
			return
		}
		writeError(w, r, domainerrors.NewInputInvalid("INVALID_MULTIPART", "request is not a valid multipart form"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	in := ingest.SubmitInput{
		ModeKeys:     splitModes(r.FormValue("modes")),
		Timezone:     r.FormValue("timezone"),
		WindowStart:  r.FormValue("window_start"),
		WindowEnd:    r.FormValue("window_end"),
		SessionLabel: r.FormValue("session_label"),
		IP:           clientIP(r, s.cfg.Server.TrustedProxies),
		UserAgent:    r.UserAgent(),
	}
	if len(in.ModeKeys) == 0 {
		writeError(w, r, domainerrors.NewInputInvalid("MODES_REQUIRED", "at least one parse mode is required"))
		return
	}

	fileURL := strings.TrimSpace(r.FormValue("file_url"))
	file, header, fileErr := r.FormFile("file")

	switch {
	case fileErr == nil && fileURL != "":
		file.Close()
		writeError(w, r, domainerrors.NewInputInvalid("AMBIGUOUS_SOURCE", "provide file or file_url, not both"))
		return
	case fileErr != nil && fileURL == "":
		writeError(w, r, domainerrors.NewInputInvalid("SOURCE_REQUIRED", "provide exactly one of file or file_url"))
		return
	}

	var (
		analysisID string
		err        error
	)
	if fileErr == nil {
		defer file.Close()
		a, uploadErr := s.ingest.UploadMultipart(r.Context(), p, file, header.Filename, in)
		if uploadErr == nil {
			analysisID = a.ID.String()
		}
		err = uploadErr
	} else {
		a, uploadErr := s.ingest.UploadURL(r.Context(), p, fileURL, in)
		if uploadErr == nil {
			analysisID = a.ID.String()
		}
		err = uploadErr
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	// 200, not 202: the archive is fully stored and the analysis row
	// exists once this returns; only parsing is still pending.
	writeJSON(w, http.StatusOK, map[string]string{"analysis_id": analysisID})
}

// splitModes parses the comma-separated modes field.
func splitModes(raw string) []string {
	var out []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func (s *Server) handleDownloadProgress(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	prog, ok := s.progress.GetDownload(r.Context(), p.ID)
	if !ok {
		writeJSON(w, http.StatusOK, cache.DownloadProgress{Downloading: false})
		return
	}
	writeJSON(w, http.StatusOK, prog)
}
