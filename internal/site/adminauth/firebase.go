package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ErrCredentialsRejected is returned by a PasswordSigner when the identity provider
// refuses the email/password pair.
var ErrCredentialsRejected = errors.New("adminauth: credentials rejected")

// PasswordSigner exchanges an email/password pair for a Firebase ID token.
type PasswordSigner interface {
	SignInWithPassword(ctx context.Context, email, password string) (string, error)
}

// TokenVerifier abstracts the Firebase Admin SDK client for testability.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseAuthenticator signs the admin in with Firebase Authentication and
// requires the verified token to carry the admin role.
type FirebaseAuthenticator struct {
	signer    PasswordSigner
	verifier  TokenVerifier
	adminRole string
}

// NewFirebaseAuthenticator constructs a FirebaseAuthenticator.
func NewFirebaseAuthenticator(signer PasswordSigner, verifier TokenVerifier, adminRole string) *FirebaseAuthenticator {
	if signer == nil || verifier == nil {
		panic("adminauth: firebase signer and verifier are required")
	}
	adminRole = strings.TrimSpace(adminRole)
	if adminRole == "" {
		adminRole = "admin"
	}
	return &FirebaseAuthenticator{signer: signer, verifier: verifier, adminRole: adminRole}
}

// AdminLogin implements login.Authenticator.
func (f *FirebaseAuthenticator) AdminLogin(ctx context.Context, email, password string) (bool, error) {
	idToken, err := f.signer.SignInWithPassword(ctx, normalizeEmail(email), password)
	if errors.Is(err, ErrCredentialsRejected) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: firebase sign-in: %w", ErrUnavailable, err)
	}

	verified, err := f.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return false, fmt.Errorf("%w: verify id token: %w", ErrUnavailable, err)
	}
	return hasAdminClaim(verified.Claims, f.adminRole), nil
}

func hasAdminClaim(claims map[string]any, role string) bool {
	if b, ok := claims[role].(bool); ok && b {
		return true
	}
	for _, r := range claimStringSlice(claims["role"], claims["roles"]) {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func claimStringSlice(values ...any) []string {
	seen := make(map[string]struct{})
	var result []string

	appendValue := func(val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if _, ok := seen[val]; !ok {
			seen[val] = struct{}{}
			result = append(result, val)
		}
	}

	for _, value := range values {
		switch v := value.(type) {
		case string:
			appendValue(v)
		case []string:
			for _, item := range v {
				appendValue(item)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					appendValue(s)
				}
			}
		case map[string]any:
			for key, val := range v {
				if b, ok := val.(bool); ok && b {
					appendValue(key)
				}
			}
		}
	}
	return result
}
