package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
)

// errorResponse is the wire shape for every failure. No stack traces,
// header values, or file paths ever reach a client.
type errorResponse struct {
	ErrorKind     string                 `json:"error_kind"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError converts a service error to the wire shape. Unknown errors
// collapse to a generic Internal with the correlation id for log
// lookup.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{
		ErrorKind:     string(domainerrors.KindInternal),
		Message:       "An internal error occurred.",
		CorrelationID: RequestIDFromContext(r.Context()),
	}
	status := http.StatusInternalServerError

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		resp.ErrorKind = string(domainerrors.KindInputInvalid)
		resp.Message = "Request validation failed."
		resp.Detail = map[string]interface{}{"fields": fieldErrorMap(fieldErrs)}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	if appErr, ok := domainerrors.AsAppError(err); ok {
		resp.ErrorKind = string(appErr.Kind)
		resp.Message = appErr.Message
		if len(appErr.Details) > 0 {
			resp.Detail = appErr.Details
		}
		status = appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
	}

	writeJSON(w, status, resp)
}

func fieldErrorMap(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

// decodeJSON parses and validates a request body.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domainerrors.NewInputInvalid("INVALID_JSON", "request body is not valid JSON")
	}
	return validate.Struct(v)
}

var validate = validator.New()
