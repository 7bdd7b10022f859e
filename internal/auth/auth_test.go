package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailbridge/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))
	return st
}

func registerUser(t *testing.T, st *store.Store, email, password, mailPassword string) store.User {
	t.Helper()
	passwordHash, err := HashSecret(password)
	require.NoError(t, err)
	mailHash := ""
	if mailPassword != "" {
		mailHash, err = HashSecret(mailPassword)
		require.NoError(t, err)
	}
	user, err := st.CreateUser(context.Background(), store.User{
		Username:         "tester",
		Email:            email,
		PasswordHash:     passwordHash,
		MailPasswordHash: mailHash,
	})
	require.NoError(t, err)
	return user
}

func TestHashSecretNeverStoresPlaintext(t *testing.T) {
	hash, err := HashSecret("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	again, err := HashSecret("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "bcrypt hashes must be salted")
}

func TestLoginSuccess(t *testing.T) {
	st := newTestStore(t)
	registerUser(t, st, "alice@example.com", "secret", "")

	verifier := NewVerifier(st)
	user, err := verifier.Login(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	st := newTestStore(t)
	registerUser(t, st, "alice@example.com", "secret", "")

	verifier := NewVerifier(st)
	_, wrongPassword := verifier.Login(context.Background(), "alice@example.com", "not-it")
	_, unknownUser := verifier.Login(context.Background(), "nobody@example.com", "secret")

	require.Error(t, wrongPassword)
	require.Error(t, unknownUser)
	assert.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	assert.ErrorIs(t, unknownUser, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())
}

func TestMailSecret(t *testing.T) {
	st := newTestStore(t)
	registerUser(t, st, "alice@example.com", "secret", "app-password")
	registerUser(t, st, "bob@example.com", "secret", "")

	verifier := NewVerifier(st)
	ctx := context.Background()

	user, err := verifier.MailSecret(ctx, "alice@example.com", "app-password")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)

	_, err = verifier.MailSecret(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidMailSecret)

	_, err = verifier.MailSecret(ctx, "bob@example.com", "anything")
	assert.ErrorIs(t, err, ErrMailSecretMissing)

	_, err = verifier.MailSecret(ctx, "nobody@example.com", "anything")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestNormalizeEmail(t *testing.T) {
	email, err := NormalizeEmail("  Alice@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = NormalizeEmail("")
	assert.Error(t, err)

	_, err = NormalizeEmail("not-an-address")
	assert.Error(t, err)
}
