// Package inbox fetches and normalizes a user's mail from the provider's
// retrieval endpoint. A Session walks the protocol's stateful lifecycle
// (connect, authenticate, select, search, fetch) as an explicit state
// machine; the Fetcher composes it with credential verification.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// State identifies where a session is in the protocol lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateMailboxSelected
	StateSearching
	StateFetching
	StateFailed
)

var (
	ErrConnection     = errors.New("mail server connection failed")
	ErrAuthentication = errors.New("mail server authentication failed")
	ErrMailboxOpen    = errors.New("mailbox could not be opened")
	ErrFetch          = errors.New("message fetch failed")
)

// RawMessage is one fetched message before parsing. Seq is the
// provider-assigned sequence number, only meaningful within this session.
type RawMessage struct {
	Seq  uint32
	Body []byte
}

// Client is the protocol surface a session drives. The production
// implementation wraps an IMAP client; tests substitute a recorder.
type Client interface {
	Login(username, password string) error
	SelectInbox() error
	SearchAll() ([]uint32, error)
	FetchRaw(seqs []uint32) ([]RawMessage, error)
	Close() error
}

// DialFunc opens a connection to the configured retrieval endpoint.
type DialFunc func(ctx context.Context) (Client, error)

// Session drives one connection through the retrieval lifecycle. Each
// transition is a discrete step; Run composes them and guarantees the
// connection is released exactly once on every path.
type Session struct {
	dial   DialFunc
	logger *slog.Logger
	state  State
	client Client
}

func NewSession(dial DialFunc, logger *slog.Logger) *Session {
	return &Session{dial: dial, logger: logger, state: StateDisconnected}
}

func (s *Session) State() State {
	return s.state
}

// Run executes the full lifecycle and returns the parsed messages in
// provider sequence order. An empty mailbox yields an empty slice, not an
// error. The password is used only for this session.
func (s *Session) Run(ctx context.Context, username, password string) ([]Message, error) {
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var (
		seqs     []uint32
		messages []Message
	)
	for {
		var err error
		switch s.state {
		case StateAuthenticating:
			err = s.authenticate(username, password)
		case StateMailboxSelected:
			err = s.openMailbox()
		case StateSearching:
			seqs, err = s.search()
		case StateFetching:
			messages, err = s.fetch(seqs)
		case StateDisconnected:
			return messages, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Session) connect(ctx context.Context) error {
	s.state = StateConnecting
	client, err := s.dial(ctx)
	if err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	s.client = client
	s.state = StateAuthenticating
	return nil
}

func (s *Session) authenticate(username, password string) error {
	if err := s.client.Login(username, password); err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	s.state = StateMailboxSelected
	return nil
}

func (s *Session) openMailbox() error {
	if err := s.client.SelectInbox(); err != nil {
		s.state = StateFailed
		return fmt.Errorf("%w: %v", ErrMailboxOpen, err)
	}
	s.state = StateSearching
	return nil
}

func (s *Session) search() ([]uint32, error) {
	seqs, err := s.client.SearchAll()
	if err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	s.state = StateFetching
	return seqs, nil
}

// fetch streams each matched message and parses it. A message the parser
// cannot read at all is dropped with a warning; a torn transport fails the
// whole batch since a partial stream cannot be trusted.
func (s *Session) fetch(seqs []uint32) ([]Message, error) {
	raws, err := s.client.FetchRaw(seqs)
	if err != nil {
		s.state = StateFailed
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	messages := make([]Message, 0, len(raws))
	for _, raw := range raws {
		message, err := parseMessage(raw.Seq, raw.Body)
		if err != nil {
			s.logger.Warn("dropping unparseable message", "seq", raw.Seq, "error", err)
			continue
		}
		messages = append(messages, message)
	}
	s.state = StateDisconnected
	return messages, nil
}

// release closes the underlying connection once. It preserves a Failed
// state and otherwise leaves the session Disconnected.
func (s *Session) release() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close mail session", "error", err)
	}
	s.client = nil
	if s.state != StateFailed {
		s.state = StateDisconnected
	}
}
