package inbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/store"
)

func newTestVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureSchema(ctx))

	passwordHash, err := auth.HashSecret("login-password")
	require.NoError(t, err)
	mailHash, err := auth.HashSecret("app-password")
	require.NoError(t, err)
	_, err = st.CreateUser(ctx, store.User{
		Username:         "alice",
		Email:            "alice@example.com",
		PasswordHash:     passwordHash,
		MailPasswordHash: mailHash,
	})
	require.NoError(t, err)
	return auth.NewVerifier(st)
}

func TestFetchRejectsBadSecretBeforeDialing(t *testing.T) {
	dials := 0
	dial := func(_ context.Context) (Client, error) {
		dials++
		return &fakeClient{}, nil
	}
	fetcher := NewFetcher(newTestVerifier(t), dial, discardLogger())

	_, err := fetcher.Fetch(context.Background(), "alice@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidMailSecret)
	assert.Zero(t, dials, "no network activity before the credential check passes")
}

func TestFetchUnknownUser(t *testing.T) {
	fetcher := NewFetcher(newTestVerifier(t), clientDialer(&fakeClient{}), discardLogger())

	_, err := fetcher.Fetch(context.Background(), "nobody@example.com", "app-password")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestFetchReturnsMessages(t *testing.T) {
	client := &fakeClient{
		seqs: []uint32{1, 2},
		raws: []RawMessage{
			rawTextMessage(1, "hello", "bob@x.com", "alice@example.com", "hi"),
			rawTextMessage(2, "again", "carol@x.com", "alice@example.com", "hey"),
		},
	}
	fetcher := NewFetcher(newTestVerifier(t), clientDialer(client), discardLogger())

	messages, err := fetcher.Fetch(context.Background(), "alice@example.com", "app-password")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "hello", messages[0].Subject)
	assert.Equal(t, "again", messages[1].Subject)
	assert.Equal(t, 1, client.closeCalls)
}
