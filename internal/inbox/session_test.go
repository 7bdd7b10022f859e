package inbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	seqs      []uint32
	raws      []RawMessage

	loginCalls  int
	selectCalls int
	searchCalls int
	fetchCalls  int
	closeCalls  int
}

func (c *fakeClient) Login(_, _ string) error {
	c.loginCalls++
	return c.loginErr
}

func (c *fakeClient) SelectInbox() error {
	c.selectCalls++
	return c.selectErr
}

func (c *fakeClient) SearchAll() ([]uint32, error) {
	c.searchCalls++
	return c.seqs, c.searchErr
}

func (c *fakeClient) FetchRaw(_ []uint32) ([]RawMessage, error) {
	c.fetchCalls++
	return c.raws, c.fetchErr
}

func (c *fakeClient) Close() error {
	c.closeCalls++
	return nil
}

func clientDialer(client Client) DialFunc {
	return func(_ context.Context) (Client, error) { return client, nil }
}

func failingDialer(err error) DialFunc {
	return func(_ context.Context) (Client, error) { return nil, err }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawTextMessage(seq uint32, subject, from, to, body string) RawMessage {
	raw := ""
	if subject != "" {
		raw += "Subject: " + subject + "\r\n"
	}
	if from != "" {
		raw += "From: " + from + "\r\n"
	}
	if to != "" {
		raw += "To: " + to + "\r\n"
	}
	raw += "Date: Tue, 10 Feb 2026 10:00:00 +0000\r\n"
	raw += "Content-Type: text/plain; charset=utf-8\r\n\r\n" + body
	return RawMessage{Seq: seq, Body: []byte(raw)}
}

func TestSessionConnectFailure(t *testing.T) {
	session := NewSession(failingDialer(errors.New("no route to host")), discardLogger())

	_, err := session.Run(context.Background(), "alice@example.com", "secret")
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, StateFailed, session.State())
}

func TestSessionAuthFailureReleasesConnectionOnce(t *testing.T) {
	client := &fakeClient{loginErr: errors.New("LOGIN failed")}
	session := NewSession(clientDialer(client), discardLogger())

	_, err := session.Run(context.Background(), "alice@example.com", "secret")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, StateFailed, session.State())

	assert.Zero(t, client.selectCalls, "never selects after a failed login")
	assert.Zero(t, client.fetchCalls, "never fetches after a failed login")
	assert.Equal(t, 1, client.closeCalls, "connection released exactly once")
}

func TestSessionMailboxOpenFailure(t *testing.T) {
	client := &fakeClient{selectErr: errors.New("no such mailbox")}
	session := NewSession(clientDialer(client), discardLogger())

	_, err := session.Run(context.Background(), "alice@example.com", "secret")
	assert.ErrorIs(t, err, ErrMailboxOpen)
	assert.Zero(t, client.searchCalls)
	assert.Equal(t, 1, client.closeCalls)
}

func TestSessionEmptyMailbox(t *testing.T) {
	client := &fakeClient{}
	session := NewSession(clientDialer(client), discardLogger())

	messages, err := session.Run(context.Background(), "alice@example.com", "secret")
	require.NoError(t, err, "an empty mailbox is not an error")
	assert.NotNil(t, messages)
	assert.Empty(t, messages)
	assert.Equal(t, StateDisconnected, session.State())
	assert.Equal(t, 1, client.closeCalls)
}

func TestSessionFetchFailureDiscardsBatch(t *testing.T) {
	client := &fakeClient{
		seqs:     []uint32{1, 2},
		fetchErr: errors.New("connection reset"),
	}
	session := NewSession(clientDialer(client), discardLogger())

	messages, err := session.Run(context.Background(), "alice@example.com", "secret")
	assert.ErrorIs(t, err, ErrFetch)
	assert.Nil(t, messages, "a torn stream yields no partial results")
	assert.Equal(t, 1, client.closeCalls)
}

func TestSessionPreservesProviderOrder(t *testing.T) {
	client := &fakeClient{
		seqs: []uint32{3, 7, 9},
		raws: []RawMessage{
			rawTextMessage(3, "first", "a@x.com", "me@x.com", "one"),
			rawTextMessage(7, "second", "b@x.com", "me@x.com", "two"),
			rawTextMessage(9, "third", "c@x.com", "me@x.com", "three"),
		},
	}
	session := NewSession(clientDialer(client), discardLogger())

	messages, err := session.Run(context.Background(), "me@x.com", "secret")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, uint32(3), messages[0].Seq)
	assert.Equal(t, "first", messages[0].Subject)
	assert.Equal(t, uint32(7), messages[1].Seq)
	assert.Equal(t, uint32(9), messages[2].Seq)
	assert.Equal(t, "one", messages[0].Body)
}

func TestSessionDropsUnparseableMessage(t *testing.T) {
	// A stream whose first header line has no colon cannot be opened at all.
	broken := RawMessage{Seq: 5, Body: []byte("this is not a mail header\r\n\r\nbody")}
	client := &fakeClient{
		seqs: []uint32{5, 6},
		raws: []RawMessage{
			broken,
			rawTextMessage(6, "still here", "a@x.com", "me@x.com", "intact"),
		},
	}
	session := NewSession(clientDialer(client), discardLogger())

	messages, err := session.Run(context.Background(), "me@x.com", "secret")
	require.NoError(t, err, "one bad message never fails the batch")
	require.Len(t, messages, 1)
	assert.Equal(t, uint32(6), messages[0].Seq)
	assert.Equal(t, "still here", messages[0].Subject)
}
