package inbox

import (
	"context"
	"log/slog"

	"github.io/infrasutra/mailbridge/internal/auth"
)

// Fetcher verifies a user's mail credentials and retrieves their inbox
// through a single mailbox session per call.
type Fetcher struct {
	verifier *auth.Verifier
	dial     DialFunc
	logger   *slog.Logger
}

func NewFetcher(verifier *auth.Verifier, dial DialFunc, logger *slog.Logger) *Fetcher {
	return &Fetcher{verifier: verifier, dial: dial, logger: logger}
}

// Fetch checks the mail password against the stored hash, then drives one
// session against the configured provider. Messages come back in provider
// sequence order; an empty inbox is an empty slice. No network activity
// happens before the credential check passes.
func (f *Fetcher) Fetch(ctx context.Context, email, mailPassword string) ([]Message, error) {
	user, err := f.verifier.MailSecret(ctx, email, mailPassword)
	if err != nil {
		return nil, err
	}
	session := NewSession(f.dial, f.logger)
	return session.Run(ctx, user.Email, mailPassword)
}
