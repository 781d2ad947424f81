// Package adminauth provides the credential backends the admin login flow
// delegates to. Every backend reports rejected credentials as (false, nil) and
// infrastructure failures as errors wrapping ErrUnavailable.
package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"finitefield.org/meshfield-site/internal/site/config"
	"finitefield.org/meshfield-site/internal/site/login"
)

// ErrUnavailable indicates the backend could not complete verification.
var ErrUnavailable = errors.New("adminauth: backend unavailable")

// FromConfig builds the backend selected by cfg.Backend.
func FromConfig(ctx context.Context, cfg config.AuthConfig, logger *zap.Logger) (login.Authenticator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Backend {
	case config.BackendStatic:
		accounts, err := ParseAccounts(cfg.StaticAccounts)
		if err != nil {
			return nil, err
		}
		auth, err := NewStaticAuthenticator(accounts)
		if err != nil {
			return nil, err
		}
		logger.Info("static admin accounts loaded", zap.Int("accounts", len(accounts)))
		return auth, nil
	case config.BackendFirebase:
		auth, err := newFirebaseFromConfig(ctx, cfg.Firebase, logger)
		if err != nil {
			return nil, err
		}
		return auth, nil
	case config.BackendLDAP:
		auth, err := NewLDAPAuthenticator(LDAPOptions{
			URL:           cfg.LDAP.URL,
			BaseDN:        cfg.LDAP.BaseDN,
			UserFilter:    cfg.LDAP.UserFilter,
			AdminGroupDN:  cfg.LDAP.AdminGroupDN,
			StartTLS:      cfg.LDAP.StartTLS,
			SkipTLSVerify: cfg.LDAP.SkipTLSVerify,
			DialTimeout:   cfg.LDAP.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("ldap authenticator enabled", zap.String("url", cfg.LDAP.URL))
		return auth, nil
	default:
		return nil, fmt.Errorf("adminauth: unknown backend %q", cfg.Backend)
	}
}

func newFirebaseFromConfig(ctx context.Context, cfg config.FirebaseConfig, logger *zap.Logger) (*FirebaseAuthenticator, error) {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	var signerOpts []option.ClientOption
	if endpoint := strings.TrimSpace(cfg.IdentityEndpoint); endpoint != "" {
		signerOpts = append(signerOpts, option.WithEndpoint(endpoint))
	}
	signer, err := NewIdentityToolkitSigner(ctx, cfg.APIKey, signerOpts...)
	if err != nil {
		return nil, err
	}

	logger.Info("firebase authenticator enabled", zap.String("project", cfg.ProjectID))
	return NewFirebaseAuthenticator(signer, client, cfg.AdminRole), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
