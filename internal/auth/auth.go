// Package auth implements per-keyspace users, roles, and privileges (spec
// §3's User/Role/Privilege record and §4.11's authenticate/check_privilege
// contract). Users, roles, and privileges live under the keyspace of the
// session — there is no cross-keyspace visibility, since every key this
// package writes goes through the caller's keycodec.Namespace, which is
// itself bound to one keyspace by the KV facade.
//
// Grounded on the teacher's internal/core/validate_semantic.go, whose
// pattern of cross-referential passes over a flat record set (not an
// in-memory graph — spec §9's "no cyclic object graphs") generalizes
// directly to walking a privilege/role grant set to resolve transitive
// inheritance.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"pgkv/internal/errs"
	"pgkv/internal/keycodec"
	"pgkv/internal/kvstore"
)

// Object identifies what a privilege applies to.
type ObjectKind string

const (
	ObjectTable    ObjectKind = "table"
	ObjectSchema   ObjectKind = "schema"
	ObjectDatabase ObjectKind = "database"
)

type Privilege string

const (
	PrivSelect Privilege = "SELECT"
	PrivInsert Privilege = "INSERT"
	PrivUpdate Privilege = "UPDATE"
	PrivDelete Privilege = "DELETE"
	PrivCreate Privilege = "CREATE"
	PrivUsage  Privilege = "USAGE"
	PrivAll    Privilege = "ALL"
)

// Options are the login/superuser flags of spec §3's User record.
type Options struct {
	Login      bool
	Superuser  bool
	CreateDB   bool
	CreateRole bool
}

// User is the persistent record for one database user/role.
type User struct {
	Name         string
	PasswordHash string // hex sha256(salt||password)
	Salt         string
	Options      Options
	ConnLimit    int
	Roles        []string // role names this user is a member of
}

const bootstrapAdmin = "admin"

// Manager resolves authentication and privilege checks against the catalog
// stored under one namespace/transaction. A fresh Manager is obtained per
// transaction the same way catalog.Store is.
type Manager struct {
	ns  keycodec.Namespace
	txn kvstore.Txn
}

func NewManager(ns keycodec.Namespace, txn kvstore.Txn) *Manager {
	return &Manager{ns: ns, txn: txn}
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return fmt.Sprintf("%x", sum)
}

func randomSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}

// EnsureBootstrapAdmin creates the `admin/admin` superuser the first time a
// keyspace is touched, per spec §3's "Users are bootstrapped on first
// connection to a keyspace (admin/admin)".
func (m *Manager) EnsureBootstrapAdmin(ctx context.Context) error {
	exists, err := m.userExists(ctx, bootstrapAdmin)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	salt, err := randomSalt()
	if err != nil {
		return errs.Wrap(errs.Internal, err, "generate salt")
	}
	u := &User{
		Name:         bootstrapAdmin,
		Salt:         salt,
		PasswordHash: hashPassword(salt, bootstrapAdmin),
		Options:      Options{Login: true, Superuser: true, CreateDB: true, CreateRole: true},
	}
	return m.PutUser(ctx, u)
}

// CreateRole creates a new user/role record with a freshly salted password
// hash, the SQL-surface entry point for spec §4.11's "Users...managed by
// CREATE/ALTER/DROP ROLE" — EnsureBootstrapAdmin is the only other path
// that ever mints a User, and that one is reserved for the one bootstrap
// account. A password of "" creates a role that can never authenticate via
// password (still usable as a role to GRANT membership to, e.g. a group
// role with Options.Login false).
func (m *Manager) CreateRole(ctx context.Context, name, password string, opts Options) error {
	exists, err := m.userExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errs.New(errs.Internal, "role %q already exists", name).WithObject(name)
	}
	salt, err := randomSalt()
	if err != nil {
		return errs.Wrap(errs.Internal, err, "generate salt")
	}
	hash := ""
	if password != "" {
		hash = hashPassword(salt, password)
	}
	u := &User{
		Name:         name,
		Salt:         salt,
		PasswordHash: hash,
		Options:      opts,
	}
	return m.PutUser(ctx, u)
}

func (m *Manager) userExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := m.txn.Get(ctx, m.ns.UserKey(name))
	return ok, err
}

func (m *Manager) GetUser(ctx context.Context, name string) (*User, error) {
	raw, ok, err := m.txn.Get(ctx, m.ns.UserKey(name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.AuthError, "role %q does not exist", name).WithObject(name)
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, errs.Wrap(errs.Internal, err, "corrupt user record for %q", name)
	}
	return &u, nil
}

func (m *Manager) PutUser(ctx context.Context, u *User) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return errs.Wrap(errs.Internal, err, "encode user %q", u.Name)
	}
	return m.txn.Put(ctx, m.ns.UserKey(u.Name), raw)
}

func (m *Manager) DropUser(ctx context.Context, name string) error {
	return m.txn.Delete(ctx, m.ns.UserKey(name))
}

// Authenticate verifies a password, or a PG_PASSWORD debug fallback
// supplied by the caller (spec §4.11, §6). It never panics on malformed
// input — an unknown user or bad password both surface as AuthError.
func (m *Manager) Authenticate(ctx context.Context, name, password string, debugFallback string) (*User, error) {
	u, err := m.GetUser(ctx, name)
	if err != nil {
		return nil, errs.New(errs.AuthError, "password authentication failed for user %q", name)
	}
	if !u.Options.Login {
		return nil, errs.New(errs.AuthError, "role %q is not permitted to log in", name)
	}
	if hashPassword(u.Salt, password) == u.PasswordHash {
		return u, nil
	}
	if debugFallback != "" && password == debugFallback {
		return u, nil
	}
	return nil, errs.New(errs.AuthError, "password authentication failed for user %q", name)
}

// GrantRole records that member inherits role's privileges (transitively).
func (m *Manager) GrantRole(ctx context.Context, role, member string) error {
	return m.txn.Put(ctx, m.ns.RoleGrantKey(role, member), []byte{})
}

func (m *Manager) RevokeRole(ctx context.Context, role, member string) error {
	return m.txn.Delete(ctx, m.ns.RoleGrantKey(role, member))
}

// GrantPrivilege records that grantee holds priv on object.
func (m *Manager) GrantPrivilege(ctx context.Context, grantee, object string, priv Privilege, withGrant bool) error {
	val := []byte{0}
	if withGrant {
		val[0] = 1
	}
	return m.txn.Put(ctx, m.ns.PrivilegeKey(grantee, object, string(priv)), val)
}

func (m *Manager) RevokePrivilege(ctx context.Context, grantee, object string, priv Privilege) error {
	return m.txn.Delete(ctx, m.ns.PrivilegeKey(grantee, object, string(priv)))
}

// CheckPrivilege succeeds if user is superuser, holds priv directly on
// object, or inherits it through a role granted (transitively) to user
// (spec §4.11). Cycle-safe via a visited set, even though role grants are
// not expected to cycle in practice.
func (m *Manager) CheckPrivilege(ctx context.Context, user *User, priv Privilege, object string) error {
	if user.Options.Superuser {
		return nil
	}
	ok, err := m.hasPrivilege(ctx, user.Name, priv, object, map[string]bool{})
	if err != nil {
		return err
	}
	if !ok {
		return errs.New(errs.PermissionDenied, "permission denied for %s %q", priv, object).WithObject(object)
	}
	return nil
}

func (m *Manager) hasPrivilege(ctx context.Context, grantee string, priv Privilege, object string, visited map[string]bool) (bool, error) {
	if visited[grantee] {
		return false, nil
	}
	visited[grantee] = true

	if _, ok, err := m.txn.Get(ctx, m.ns.PrivilegeKey(grantee, object, string(priv))); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	if _, ok, err := m.txn.Get(ctx, m.ns.PrivilegeKey(grantee, object, string(PrivAll))); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}

	u, err := m.GetUser(ctx, grantee)
	if err != nil {
		return false, nil
	}
	for _, role := range u.Roles {
		ok, err := m.hasPrivilege(ctx, role, priv, object, visited)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
