package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.io/infrasutra/mailbridge/internal/store"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a password
	// mismatch so callers cannot distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMailSecretMissing  = errors.New("no mail password configured")
	ErrInvalidMailSecret  = errors.New("invalid mail password")
)

// HashSecret produces a salted one-way hash suitable for storage. The
// plaintext is never persisted.
func HashSecret(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// Verifier checks supplied secrets against the hashes on stored user
// records.
type Verifier struct {
	store *store.Store
}

func NewVerifier(s *store.Store) *Verifier {
	return &Verifier{store: s}
}

// Login resolves the user by email and compares the login password.
// Unknown email and wrong password return the identical error.
func (v *Verifier) Login(ctx context.Context, email, password string) (store.User, error) {
	user, err := v.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// MailSecret resolves the user by email and compares the supplied
// mail-provider password against the stored hash. A missing user surfaces
// as store.ErrUserNotFound so the caller can report it distinctly.
func (v *Verifier) MailSecret(ctx context.Context, email, secret string) (store.User, error) {
	user, err := v.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, err
	}
	if !user.HasMailPassword() {
		return store.User{}, ErrMailSecretMissing
	}
	if bcrypt.CompareHashAndPassword([]byte(user.MailPasswordHash), []byte(secret)) != nil {
		return store.User{}, ErrInvalidMailSecret
	}
	return user, nil
}

// NormalizeEmail lowercases, trims and validates an address.
func NormalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" {
		return "", errors.New("email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", errors.New("email must be valid")
	}
	return strings.ToLower(addr.Address), nil
}
