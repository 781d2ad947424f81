package adminauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Account is one admin entry for the static backend.
type Account struct {
	Email        string
	PasswordHash string
}

// ParseAccounts reads comma separated "email:bcrypt-hash" pairs.
func ParseAccounts(raw string) ([]Account, error) {
	var accounts []Account
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		email, hash, ok := strings.Cut(entry, ":")
		email = normalizeEmail(email)
		hash = strings.TrimSpace(hash)
		if !ok || email == "" || hash == "" {
			return nil, fmt.Errorf("adminauth: malformed static account entry %q", redactEntry(entry))
		}
		accounts = append(accounts, Account{Email: email, PasswordHash: hash})
	}
	if len(accounts) == 0 {
		return nil, errors.New("adminauth: no static accounts configured")
	}
	return accounts, nil
}

func redactEntry(entry string) string {
	email, _, _ := strings.Cut(entry, ":")
	return strings.TrimSpace(email) + ":***"
}

// StaticAuthenticator checks credentials against bcrypt hashes held in memory.
type StaticAuthenticator struct {
	hashes map[string][]byte
	decoy  []byte
}

// NewStaticAuthenticator validates the hashes and builds the authenticator.
func NewStaticAuthenticator(accounts []Account) (*StaticAuthenticator, error) {
	if len(accounts) == 0 {
		return nil, errors.New("adminauth: no static accounts configured")
	}
	hashes := make(map[string][]byte, len(accounts))
	cost := bcrypt.DefaultCost
	for i, acct := range accounts {
		hash := []byte(acct.PasswordHash)
		c, err := bcrypt.Cost(hash)
		if err != nil {
			return nil, fmt.Errorf("adminauth: account %s: %w", normalizeEmail(acct.Email), err)
		}
		if i == 0 {
			cost = c
		}
		hashes[normalizeEmail(acct.Email)] = hash
	}

	// Unknown emails still pay for one comparison so response time does not reveal which accounts exist.
	decoy, err := bcrypt.GenerateFromPassword([]byte("meshfield-decoy"), cost)
	if err != nil {
		return nil, fmt.Errorf("adminauth: decoy hash: %w", err)
	}
	return &StaticAuthenticator{hashes: hashes, decoy: decoy}, nil
}

// AdminLogin implements login.Authenticator.
func (s *StaticAuthenticator) AdminLogin(ctx context.Context, email, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	hash, ok := s.hashes[normalizeEmail(email)]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(s.decoy, []byte(password))
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
}
