package errors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
)

func TestAppError_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		err        *domainerrors.AppError
		wantKind   domainerrors.Kind
		wantStatus int
	}{
		{
			name:       "input invalid maps to 400",
			err:        domainerrors.NewInputInvalid("BAD_FIELD", "missing modes"),
			wantKind:   domainerrors.KindInputInvalid,
			wantStatus: 400,
		},
		{
			name:       "weak password maps to 400",
			err:        domainerrors.NewWeakPassword("password too short"),
			wantKind:   domainerrors.KindWeakPassword,
			wantStatus: 400,
		},
		{
			name:       "auth expired maps to 401",
			err:        domainerrors.NewAuthExpired(),
			wantKind:   domainerrors.KindAuthExpired,
			wantStatus: 401,
		},
		{
			name:       "invalid credentials maps to 401",
			err:        domainerrors.NewInvalidCredentials(),
			wantKind:   domainerrors.KindInvalidCredentials,
			wantStatus: 401,
		},
		{
			name:       "forbidden maps to 403",
			err:        domainerrors.NewForbidden("admin only"),
			wantKind:   domainerrors.KindForbidden,
			wantStatus: 403,
		},
		{
			name:       "not found maps to 404",
			err:        domainerrors.NewNotFound("analysis"),
			wantKind:   domainerrors.KindNotFound,
			wantStatus: 404,
		},
		{
			name:       "conflict maps to 409",
			err:        domainerrors.NewConflict("handle taken"),
			wantKind:   domainerrors.KindConflict,
			wantStatus: 409,
		},
		{
			name:       "not cancellable maps to 409",
			err:        domainerrors.NewNotCancellable("analysis already finished"),
			wantKind:   domainerrors.KindNotCancellable,
			wantStatus: 409,
		},
		{
			name:       "quota exceeded maps to 413",
			err:        domainerrors.NewQuotaExceeded("quota exhausted"),
			wantKind:   domainerrors.KindQuotaExceeded,
			wantStatus: 413,
		},
		{
			name:       "size exceeded maps to 413",
			err:        domainerrors.NewSizeExceeded("file too large"),
			wantKind:   domainerrors.KindSizeExceeded,
			wantStatus: 413,
		},
		{
			name:       "rate limited maps to 429",
			err:        domainerrors.NewRateLimited("too many requests"),
			wantKind:   domainerrors.KindRateLimited,
			wantStatus: 429,
		},
		{
			name:       "url fetch failed maps to 400",
			err:        domainerrors.NewUrlFetchFailed("not found upstream"),
			wantKind:   domainerrors.KindUrlFetchFailed,
			wantStatus: 400,
		},
		{
			name:       "internal maps to 500",
			err:        domainerrors.NewInternal("something broke"),
			wantKind:   domainerrors.KindInternal,
			wantStatus: 500,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, tt.err.Kind)
			assert.Equal(t, tt.wantStatus, tt.err.StatusCode)
			assert.Equal(t, tt.wantStatus, domainerrors.GetStatusCode(tt.err))
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := domainerrors.NewInternal("database unavailable").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "database unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAppError_KindThroughWrapping(t *testing.T) {
	inner := domainerrors.NewQuotaExceeded("quota exhausted")
	wrapped := domainerrors.Wrap(inner, "upload rejected")

	assert.True(t, domainerrors.IsKind(wrapped, domainerrors.KindQuotaExceeded))
	assert.Equal(t, domainerrors.KindQuotaExceeded, domainerrors.KindOf(wrapped))
	assert.Equal(t, 413, domainerrors.GetStatusCode(wrapped))

	appErr, ok := domainerrors.AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "QUOTA_EXCEEDED", appErr.Code)
}

func TestKindOf_PlainError(t *testing.T) {
	err := errors.New("no kind attached")

	assert.Equal(t, domainerrors.KindInternal, domainerrors.KindOf(err))
	assert.Equal(t, 500, domainerrors.GetStatusCode(err))
	assert.False(t, domainerrors.IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, domainerrors.IsRetryable(domainerrors.NewRateLimited("slow down")))
	assert.True(t, domainerrors.IsRetryable(domainerrors.NewParserTimeout("took too long")))
	assert.False(t, domainerrors.IsRetryable(domainerrors.NewInputInvalid("X", "bad")))
}
