package adminauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
)

type fakeLDAPConn struct {
	bindErr   error
	searchErr error
	entries   int

	boundAs string
	filter  string
	closed  bool
	timeout time.Duration
}

func (f *fakeLDAPConn) Bind(username, _ string) error {
	f.boundAs = username
	return f.bindErr
}

func (f *fakeLDAPConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.filter = req.Filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	res := &ldap.SearchResult{}
	for i := 0; i < f.entries; i++ {
		res.Entries = append(res.Entries, ldap.NewEntry("uid=admin,dc=example,dc=com", nil))
	}
	return res, nil
}

func (f *fakeLDAPConn) SetTimeout(d time.Duration) { f.timeout = d }

func (f *fakeLDAPConn) Close() error {
	f.closed = true
	return nil
}

func newTestLDAP(t *testing.T, conn *fakeLDAPConn, dialErr error) *LDAPAuthenticator {
	t.Helper()
	auth, err := NewLDAPAuthenticator(LDAPOptions{
		URL:          "ldap://ldap.example.com",
		BaseDN:       "dc=example,dc=com",
		AdminGroupDN: "cn=admins,ou=groups,dc=example,dc=com",
	})
	require.NoError(t, err)
	auth.dial = func(context.Context) (ldapConn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return conn, nil
	}
	return auth
}

func TestLDAPAuthenticatorAdminMember(t *testing.T) {
	conn := &fakeLDAPConn{entries: 1}
	auth := newTestLDAP(t, conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ok, err := auth.AdminLogin(ctx, "Admin@Example.com", "secret")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "admin@example.com", conn.boundAs)
	require.Equal(t, "(&(mail=admin@example.com)(memberOf=cn=admins,ou=groups,dc=example,dc=com))", conn.filter)
	require.True(t, conn.closed)
	require.Greater(t, conn.timeout, time.Duration(0))
}

func TestLDAPAuthenticatorNotInAdminGroup(t *testing.T) {
	auth := newTestLDAP(t, &fakeLDAPConn{entries: 0}, nil)

	ok, err := auth.AdminLogin(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLDAPAuthenticatorInvalidCredentials(t *testing.T) {
	conn := &fakeLDAPConn{bindErr: ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))}
	auth := newTestLDAP(t, conn, nil)

	ok, err := auth.AdminLogin(context.Background(), "admin@example.com", "wrong")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLDAPAuthenticatorEmptyPasswordNeverBinds(t *testing.T) {
	conn := &fakeLDAPConn{entries: 1}
	auth := newTestLDAP(t, conn, nil)

	ok, err := auth.AdminLogin(context.Background(), "admin@example.com", "")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, conn.boundAs)
}

func TestLDAPAuthenticatorInfrastructureErrors(t *testing.T) {
	t.Run("dial", func(t *testing.T) {
		auth := newTestLDAP(t, nil, errors.New("connection refused"))
		_, err := auth.AdminLogin(context.Background(), "admin@example.com", "secret")
		require.ErrorIs(t, err, ErrUnavailable)
	})
	t.Run("bind", func(t *testing.T) {
		conn := &fakeLDAPConn{bindErr: ldap.NewError(ldap.LDAPResultBusy, errors.New("busy"))}
		auth := newTestLDAP(t, conn, nil)
		_, err := auth.AdminLogin(context.Background(), "admin@example.com", "secret")
		require.ErrorIs(t, err, ErrUnavailable)
	})
	t.Run("search", func(t *testing.T) {
		conn := &fakeLDAPConn{searchErr: errors.New("size limit")}
		auth := newTestLDAP(t, conn, nil)
		_, err := auth.AdminLogin(context.Background(), "admin@example.com", "secret")
		require.ErrorIs(t, err, ErrUnavailable)
		require.True(t, conn.closed)
	})
}

func TestLDAPFilterEscapesInput(t *testing.T) {
	auth := newTestLDAP(t, &fakeLDAPConn{}, nil)
	auth.opts.AdminGroupDN = ""
	require.Equal(t, `(mail=a\2a@example.com)`, auth.adminFilter("a*@example.com"))
}
