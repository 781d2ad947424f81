package adminauth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAPOptions describe the directory used for admin sign-in.
type LDAPOptions struct {
	URL           string
	BaseDN        string
	UserFilter    string
	AdminGroupDN  string
	StartTLS      bool
	SkipTLSVerify bool
	DialTimeout   time.Duration
}

type ldapConn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(d time.Duration)
	Close() error
}

// LDAPAuthenticator binds as the admin and checks group membership.
type LDAPAuthenticator struct {
	opts LDAPOptions
	dial func(ctx context.Context) (ldapConn, error)
}

// NewLDAPAuthenticator constructs an LDAPAuthenticator.
func NewLDAPAuthenticator(opts LDAPOptions) (*LDAPAuthenticator, error) {
	if strings.TrimSpace(opts.URL) == "" || strings.TrimSpace(opts.BaseDN) == "" {
		return nil, errors.New("adminauth: ldap url and base dn are required")
	}
	if opts.UserFilter == "" {
		opts.UserFilter = "(mail=%s)"
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	a := &LDAPAuthenticator{opts: opts}
	a.dial = a.dialDirectory
	return a, nil
}

// AdminLogin implements login.Authenticator.
func (a *LDAPAuthenticator) AdminLogin(ctx context.Context, email, password string) (bool, error) {
	email = normalizeEmail(email)
	// An empty password would turn the bind into an unauthenticated bind, which most servers accept.
	if email == "" || password == "" {
		return false, nil
	}

	conn, err := a.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: ldap dial: %w", ErrUnavailable, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	if err := conn.Bind(email, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return false, nil
		}
		return false, fmt.Errorf("%w: ldap bind: %w", ErrUnavailable, err)
	}

	req := ldap.NewSearchRequest(
		a.opts.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases, 1, 0, false,
		a.adminFilter(email),
		[]string{"dn"},
		nil,
	)
	res, err := conn.Search(req)
	if err != nil {
		return false, fmt.Errorf("%w: ldap search: %w", ErrUnavailable, err)
	}
	return len(res.Entries) > 0, nil
}

func (a *LDAPAuthenticator) adminFilter(email string) string {
	userFilter := fmt.Sprintf(a.opts.UserFilter, ldap.EscapeFilter(email))
	if strings.TrimSpace(a.opts.AdminGroupDN) == "" {
		return userFilter
	}
	return fmt.Sprintf("(&%s(memberOf=%s))", userFilter, ldap.EscapeFilter(a.opts.AdminGroupDN))
}

func (a *LDAPAuthenticator) dialDirectory(ctx context.Context) (ldapConn, error) {
	dialer := &net.Dialer{Timeout: a.opts.DialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}
	// #nosec G402 -- skip TLS verification only when explicitly configured
	tlsCfg := &tls.Config{InsecureSkipVerify: a.opts.SkipTLSVerify}

	conn, err := ldap.DialURL(a.opts.URL, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsCfg))
	if err != nil {
		return nil, err
	}
	if a.opts.StartTLS && strings.HasPrefix(a.opts.URL, "ldap://") {
		if err := conn.StartTLS(tlsCfg); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}
