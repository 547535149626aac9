package parsing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainerrors "github.com/loghawk/device-log-analysis-backend/internal/domain/errors"
	"github.com/loghawk/device-log-analysis-backend/internal/domain/parser"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/fixtures"
	"github.com/loghawk/device-log-analysis-backend/internal/testutil/mocks"
)

func mode(key string, opts ...func(*parser.Descriptor)) *parser.Descriptor {
	d := &parser.Descriptor{
		ModeKey:        key,
		DisplayName:    key,
		Enabled:        true,
		VisibleToUsers: true,
		OutputShape:    parser.ShapeFreeText,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func adminOnly(d *parser.Descriptor)  { d.AdminOnly = true; d.VisibleToUsers = false }
func disabled(d *parser.Descriptor)   { d.Enabled = false }
func hiddenByDefault(d *parser.Descriptor) { d.VisibleToUsers = false }

func newRegistry(t *testing.T, repo *mocks.ParserRepository, binaries map[string]string) *parsing.Registry {
	t.Helper()
	return parsing.NewRegistry(repo, binaries, zap.NewNop())
}

func TestVisibleModes(t *testing.T) {
	user := fixtures.NewPrincipalBuilder(t).Build()
	admin := fixtures.NewPrincipalBuilder(t).AsAdmin().Build()

	all := []*parser.Descriptor{
		mode("syslog"),
		mode("kernel", hiddenByDefault),
		mode("diag_dump", adminOnly),
		mode("legacy", disabled),
	}

	t.Run("user sees public enabled modes", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("ListModes", mock.Anything).Return(all, nil)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{}, nil)

		out, err := newRegistry(t, repo, nil).VisibleModes(testutil.TestContext(t), user)
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "syslog", out[0].ModeKey)
	})

	t.Run("admin sees everything enabled", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("ListModes", mock.Anything).Return(all, nil)
		repo.On("PermissionsFor", mock.Anything, admin.ID).Return(map[string]*parser.Permission{}, nil)

		out, err := newRegistry(t, repo, nil).VisibleModes(testutil.TestContext(t), admin)
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("allow override reveals a hidden mode", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("ListModes", mock.Anything).Return(all, nil)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{
			"kernel": {PrincipalID: user.ID, ModeKey: "kernel", Allow: true},
		}, nil)

		out, err := newRegistry(t, repo, nil).VisibleModes(testutil.TestContext(t), user)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "kernel", out[1].ModeKey)
	})

	t.Run("deny override hides a public mode", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("ListModes", mock.Anything).Return(all, nil)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{
			"syslog": {PrincipalID: user.ID, ModeKey: "syslog", Allow: false},
		}, nil)

		out, err := newRegistry(t, repo, nil).VisibleModes(testutil.TestContext(t), user)
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestResolveForSubmit(t *testing.T) {
	user := fixtures.NewPrincipalBuilder(t).Build()
	binaries := map[string]string{"syslog": "/opt/parsers/syslog-parse"}

	t.Run("resolves visible modes in request order", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{}, nil)
		repo.On("GetMode", mock.Anything, "syslog").Return(mode("syslog"), nil)

		out, err := newRegistry(t, repo, binaries).ResolveForSubmit(testutil.TestContext(t), user, []string{"syslog"})
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, "syslog", out[0].ModeKey)
	})

	t.Run("empty mode list is invalid input", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		_, err := newRegistry(t, repo, binaries).ResolveForSubmit(testutil.TestContext(t), user, nil)
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInputInvalid))
	})

	t.Run("malformed key is invalid input", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{}, nil)

		_, err := newRegistry(t, repo, binaries).ResolveForSubmit(testutil.TestContext(t), user, []string{"sys log; rm"})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindInputInvalid))
	})

	t.Run("unknown and invisible modes are indistinguishable", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{}, nil)
		repo.On("GetMode", mock.Anything, "ghost").Return(nil, repository.ErrNotFound)
		repo.On("GetMode", mock.Anything, "diag_dump").Return(mode("diag_dump", adminOnly), nil)

		reg := newRegistry(t, repo, binaries)

		_, errUnknown := reg.ResolveForSubmit(testutil.TestContext(t), user, []string{"ghost"})
		_, errHidden := reg.ResolveForSubmit(testutil.TestContext(t), user, []string{"diag_dump"})

		assert.True(t, domainerrors.IsKind(errUnknown, domainerrors.KindForbidden))
		assert.True(t, domainerrors.IsKind(errHidden, domainerrors.KindForbidden))
	})

	t.Run("visible mode without a configured binary is unavailable", func(t *testing.T) {
		repo := new(mocks.ParserRepository)
		repo.On("PermissionsFor", mock.Anything, user.ID).Return(map[string]*parser.Permission{}, nil)
		repo.On("GetMode", mock.Anything, "kernel").Return(mode("kernel"), nil)

		_, err := newRegistry(t, repo, binaries).ResolveForSubmit(testutil.TestContext(t), user, []string{"kernel"})
		assert.True(t, domainerrors.IsKind(err, domainerrors.KindForbidden))
	})
}
