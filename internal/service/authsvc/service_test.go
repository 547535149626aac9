package authsvc_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/domain/audit"
	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/principal"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/session"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/auth"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/authsvc"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/fixtures"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/mocks"
)

// hasher is shared across the package's tests; bcrypt at cost 12 is
// too slow to re-hash in every case.
var (
	hasher       = auth.NewHasher(auth.MinBcryptCost)
	passwordHash string
)

const testPassword = "correct horse battery staple"

func TestMain(m *testing.M) {
	var err error
	passwordHash, err = hasher.Hash(testPassword)
	if err != nil {
		panic(err)
	}
	m.Run()
}

type harness struct {
	svc        *authsvc.Service
	principals *mocks.PrincipalRepository
	sessions   *mocks.SessionRepository
	audits     *mocks.AuditRecorder
	auditSvc   *auditlog.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	principals := new(mocks.PrincipalRepository)
	sessions := new(mocks.SessionRepository)
	audits := new(mocks.AuditRecorder)

	auditSvc := auditlog.NewService(audits, nil, zap.NewNop())
	t.Cleanup(auditSvc.Close)

	return &harness{
		svc:        authsvc.NewService(principals, sessions, hasher, auditSvc, zap.NewNop(), time.Hour),
		principals: principals,
		sessions:   sessions,
		audits:     audits,
		auditSvc:   auditSvc,
	}
}

func TestLogin(t *testing.T) {
	t.Run("success issues a session and stamps last login", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Build()

		h.principals.On("GetByHandle", mock.Anything, p.Handle.String()).Return(p, nil)
		h.principals.On("Update", mock.Anything, p).Return(nil)
		h.sessions.On("Create", mock.Anything, mock.AnythingOfType("*session.Session")).Return(nil)

		res, err := h.svc.Login(testutil.TestContext(t), p.Handle.String(), testPassword, "198.51.100.7", "test-agent")
		require.NoError(t, err)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, p.ID, res.Principal.ID)
		assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)
		require.NotNil(t, p.LastLoginAt)

		h.auditSvc.Close()
		events := h.audits.Events()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionLogin, events[0].Action)
		assert.Equal(t, audit.OutcomeSuccess, events[0].Outcome)
	})

	t.Run("unknown handle reports generic invalid credentials", func(t *testing.T) {
		h := newHarness(t)
		h.principals.On("GetByHandle", mock.Anything, "nobody").Return(nil, repository.ErrNotFound)

		_, err := h.svc.Login(testutil.TestContext(t), "nobody", testPassword, "198.51.100.7", "")
		require.Error(t, err)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInvalidCredentials))
	})

	t.Run("wrong password reports the same error and audits the failure", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Build()
		h.principals.On("GetByHandle", mock.Anything, p.Handle.String()).Return(p, nil)

		_, err := h.svc.Login(testutil.TestContext(t), p.Handle.String(), "wrong", "198.51.100.7", "")
		require.Error(t, err)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInvalidCredentials))

		h.auditSvc.Close()
		events := h.audits.Events()
		require.Len(t, events, 1)
		assert.Equal(t, audit.OutcomeFailure, events[0].Outcome)
	})

	t.Run("inactive principal cannot log in", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Inactive().Build()
		h.principals.On("GetByHandle", mock.Anything, p.Handle.String()).Return(p, nil)

		_, err := h.svc.Login(testutil.TestContext(t), p.Handle.String(), testPassword, "198.51.100.7", "")
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInvalidCredentials))
	})
}

func TestValidate(t *testing.T) {
	token, fingerprint, err := auth.NewToken()
	require.NoError(t, err)

	t.Run("valid token resolves the principal", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Build()
		sess, err := session.New(p.ID, fingerprint, time.Hour, "198.51.100.7", "")
		require.NoError(t, err)

		h.sessions.On("GetByFingerprint", mock.Anything, fingerprint).Return(sess, nil)
		h.principals.On("GetByID", mock.Anything, p.ID).Return(p, nil)

		gotP, gotS, err := h.svc.Validate(testutil.TestContext(t), token)
		require.NoError(t, err)
		assert.Equal(t, p.ID, gotP.ID)
		assert.Equal(t, sess.ID, gotS.ID)
	})

	t.Run("empty token is rejected", func(t *testing.T) {
		h := newHarness(t)
		_, _, err := h.svc.Validate(testutil.TestContext(t), "")
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindAuthExpired))
	})

	t.Run("expired session is reaped and rejected", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Build()
		sess, err := session.New(p.ID, fingerprint, time.Hour, "", "")
		require.NoError(t, err)
		sess.ExpiresAt = time.Now().Add(-time.Minute)

		h.sessions.On("GetByFingerprint", mock.Anything, fingerprint).Return(sess, nil)
		h.sessions.On("Delete", mock.Anything, sess.ID).Return(nil)

		_, _, err = h.svc.Validate(testutil.TestContext(t), token)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindAuthExpired))
		h.sessions.AssertCalled(t, "Delete", mock.Anything, sess.ID)
	})

	t.Run("deactivated principal is rejected", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Inactive().Build()
		sess, err := session.New(p.ID, fingerprint, time.Hour, "", "")
		require.NoError(t, err)

		h.sessions.On("GetByFingerprint", mock.Anything, fingerprint).Return(sess, nil)
		h.principals.On("GetByID", mock.Anything, p.ID).Return(p, nil)

		_, _, err = h.svc.Validate(testutil.TestContext(t), token)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindAuthExpired))
	})
}

func TestChangePassword(t *testing.T) {
	t.Run("revokes every session on success", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Build()

		h.principals.On("UpdatePassword", mock.Anything, p.ID, mock.AnythingOfType("string")).Return(nil)
		h.sessions.On("DeleteAllForPrincipal", mock.Anything, p.ID).Return(int64(3), nil)

		err := h.svc.ChangePassword(testutil.TestContext(t), p, testPassword, "another fine passphrase", "198.51.100.7", "")
		require.NoError(t, err)
		h.sessions.AssertCalled(t, "DeleteAllForPrincipal", mock.Anything, p.ID)
	})

	t.Run("wrong current password is refused", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Build()

		err := h.svc.ChangePassword(testutil.TestContext(t), p, "wrong", "another fine passphrase", "198.51.100.7", "")
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInvalidCredentials))
		h.principals.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("weak next password is refused before hashing", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).WithPasswordHash(passwordHash).Build()

		err := h.svc.ChangePassword(testutil.TestContext(t), p, testPassword, "short", "198.51.100.7", "")
		require.Error(t, err)
		h.principals.AssertNotCalled(t, "UpdatePassword", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreateUser(t *testing.T) {
	actor := func(t *testing.T) authsvc.ActorContext {
		return authsvc.ActorContext{
			Principal: fixtures.NewPrincipalBuilder(t).AsAdmin().Build(),
			IP:        "198.51.100.7",
		}
	}

	t.Run("creates an active user with a hashed verifier", func(t *testing.T) {
		h := newHarness(t)
		h.principals.On("Create", mock.Anything, mock.AnythingOfType("*principal.Principal")).Return(nil)

		p, err := h.svc.CreateUser(testutil.TestContext(t), actor(t), authsvc.CreateUserInput{
			Handle:     "new_user",
			Email:      "new@example.com",
			Password:   testPassword,
			Role:       principal.RoleUser,
			QuotaBytes: 1 << 30,
		})
		require.NoError(t, err)
		assert.True(t, p.Active)
		assert.NotEmpty(t, p.PasswordHash)
		assert.NotEqual(t, testPassword, p.PasswordHash)
	})

	t.Run("duplicate handle maps to conflict", func(t *testing.T) {
		h := newHarness(t)
		h.principals.On("Create", mock.Anything, mock.Anything).Return(repository.ErrDuplicate)

		_, err := h.svc.CreateUser(testutil.TestContext(t), actor(t), authsvc.CreateUserInput{
			Handle:   "taken",
			Email:    "taken@example.com",
			Password: testPassword,
		})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindConflict))
	})
}

func TestUpdateUser(t *testing.T) {
	admin := fixtures.NewPrincipalBuilder(t).AsAdmin().Build()
	actor := authsvc.ActorContext{Principal: admin, IP: "198.51.100.7"}

	t.Run("deactivation revokes sessions", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Build()

		h.principals.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		h.principals.On("Update", mock.Anything, p).Return(nil)
		h.sessions.On("DeleteAllForPrincipal", mock.Anything, p.ID).Return(int64(1), nil)

		updated, err := h.svc.UpdateUser(testutil.TestContext(t), actor, p.ID, authsvc.UpdateUserInput{
			Active: testutil.Ptr(false),
		})
		require.NoError(t, err)
		assert.False(t, updated.Active)
		h.sessions.AssertCalled(t, "DeleteAllForPrincipal", mock.Anything, p.ID)
	})

	t.Run("unknown user maps to not found", func(t *testing.T) {
		h := newHarness(t)
		id := uuid.New()
		h.principals.On("GetByID", mock.Anything, id).Return(nil, repository.ErrNotFound)

		_, err := h.svc.UpdateUser(testutil.TestContext(t), actor, id, authsvc.UpdateUserInput{})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindNotFound))
	})
}

func TestDeleteUser(t *testing.T) {
	admin := fixtures.NewPrincipalBuilder(t).AsAdmin().Build()
	actor := authsvc.ActorContext{Principal: admin, IP: "198.51.100.7"}

	t.Run("refuses self-deletion", func(t *testing.T) {
		h := newHarness(t)
		err := h.svc.DeleteUser(testutil.TestContext(t), actor, admin.ID, false)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindConflict))
	})

	t.Run("soft delete deactivates and revokes sessions", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Build()

		h.principals.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		h.principals.On("Update", mock.Anything, p).Return(nil)
		h.sessions.On("DeleteAllForPrincipal", mock.Anything, p.ID).Return(int64(2), nil)

		require.NoError(t, h.svc.DeleteUser(testutil.TestContext(t), actor, p.ID, false))
		assert.False(t, p.Active)
	})

	t.Run("hard delete removes the row", func(t *testing.T) {
		h := newHarness(t)
		p := fixtures.NewPrincipalBuilder(t).Build()

		h.principals.On("GetByID", mock.Anything, p.ID).Return(p, nil)
		h.principals.On("Delete", mock.Anything, p.ID).Return(nil)

		require.NoError(t, h.svc.DeleteUser(testutil.TestContext(t), actor, p.ID, true))
		h.principals.AssertCalled(t, "Delete", mock.Anything, p.ID)
	})
}

func TestPurgeExpiredSessions(t *testing.T) {
	h := newHarness(t)
	h.sessions.On("DeleteExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(4), nil)

	n, err := h.svc.PurgeExpiredSessions(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
