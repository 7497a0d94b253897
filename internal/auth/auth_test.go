package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore/memkv"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	kv := memkv.New()
	txn, err := kv.Begin(context.Background())
	require.NoError(t, err)
	return NewManager(keycodec.Namespace{}, txn)
}

func TestBootstrapAdminIsIdempotent(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.EnsureBootstrapAdmin(ctx))
	require.NoError(t, m.EnsureBootstrapAdmin(ctx))
	u, err := m.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.True(t, u.Options.Superuser)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.EnsureBootstrapAdmin(ctx))
	_, err := m.Authenticate(ctx, "admin", "wrong", "")
	require.Error(t, err)
	_, err = m.Authenticate(ctx, "admin", "admin", "")
	require.NoError(t, err)
}

func TestAuthenticateDebugFallback(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.EnsureBootstrapAdmin(ctx))
	_, err := m.Authenticate(ctx, "admin", "backdoor", "backdoor")
	require.NoError(t, err)
}

func TestSuperuserBypassesPrivilegeCheck(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	require.NoError(t, m.EnsureBootstrapAdmin(ctx))
	admin, err := m.GetUser(ctx, "admin")
	require.NoError(t, err)
	require.NoError(t, m.CheckPrivilege(ctx, admin, PrivSelect, "anything"))
}

func TestPrivilegeDeniedByDefault(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	u := &User{Name: "bob", Options: Options{Login: true}}
	require.NoError(t, m.PutUser(ctx, u))
	require.Error(t, m.CheckPrivilege(ctx, u, PrivSelect, "t"))
}

func TestPrivilegeGrantedDirectly(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	u := &User{Name: "bob", Options: Options{Login: true}}
	require.NoError(t, m.PutUser(ctx, u))
	require.NoError(t, m.GrantPrivilege(ctx, "bob", "t", PrivSelect, false))
	require.NoError(t, m.CheckPrivilege(ctx, u, PrivSelect, "t"))
}

func TestPrivilegeInheritedThroughRole(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	reader := &User{Name: "readers"}
	require.NoError(t, m.PutUser(ctx, reader))
	require.NoError(t, m.GrantPrivilege(ctx, "readers", "t", PrivSelect, false))

	bob := &User{Name: "bob", Options: Options{Login: true}, Roles: []string{"readers"}}
	require.NoError(t, m.PutUser(ctx, bob))
	require.NoError(t, m.CheckPrivilege(ctx, bob, PrivSelect, "t"))
}
