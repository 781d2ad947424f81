package adminauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"
)

// Identity Toolkit error codes that mean the user supplied bad credentials
// rather than the service failing.
var rejectionCodes = []string{
	"EMAIL_NOT_FOUND",
	"INVALID_PASSWORD",
	"INVALID_LOGIN_CREDENTIALS",
	"INVALID_EMAIL",
	"MISSING_PASSWORD",
	"USER_DISABLED",
}

// IdentityToolkitSigner performs password sign-in against the Firebase Identity Toolkit API.
type IdentityToolkitSigner struct {
	svc *identitytoolkit.Service
}

// NewIdentityToolkitSigner constructs a signer authenticated with the project's web API key.
func NewIdentityToolkitSigner(ctx context.Context, apiKey string, opts ...option.ClientOption) (*IdentityToolkitSigner, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("adminauth: firebase web api key is required")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise identity toolkit: %w", err)
	}
	return &IdentityToolkitSigner{svc: svc}, nil
}

// SignInWithPassword implements PasswordSigner.
func (s *IdentityToolkitSigner) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	req := &identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}
	resp, err := s.svc.Relyingparty.VerifyPassword(req).Context(ctx).Do()
	if err != nil {
		if isCredentialRejection(err) {
			return "", ErrCredentialsRejected
		}
		return "", err
	}
	if resp.IdToken == "" {
		return "", errors.New("identity toolkit returned an empty id token")
	}
	return resp.IdToken, nil
}

func isCredentialRejection(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusBadRequest {
		return false
	}
	messages := []string{apiErr.Message}
	for _, item := range apiErr.Errors {
		messages = append(messages, item.Message)
	}
	for _, msg := range messages {
		code, _, _ := strings.Cut(strings.TrimSpace(msg), " ")
		for _, candidate := range rejectionCodes {
			if code == candidate {
				return true
			}
		}
	}
	return false
}
