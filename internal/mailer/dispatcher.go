package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrEmptyRecipients = errors.New("recipient list is empty")
	ErrDeliveryFailed  = errors.New("delivery failed")
)

// Request is one outbound message. The sender's mail-provider password is
// deliberately not part of it; callers pass the plaintext per call so it
// never outlives the request.
type Request struct {
	From    string
	To      []string
	Subject string
	Body    string
}

type RecipientResult struct {
	Recipient string
	Err       error
}

// Outcome holds one result per requested recipient, in request order.
type Outcome struct {
	Results []RecipientResult
	SentAt  time.Time
}

// Delivered returns the recipients that were accepted, in request order.
func (o Outcome) Delivered() []string {
	var delivered []string
	for _, result := range o.Results {
		if result.Err == nil {
			delivered = append(delivered, result.Recipient)
		}
	}
	return delivered
}

// Failed returns the results of recipients that were rejected.
func (o Outcome) Failed() []RecipientResult {
	var failed []RecipientResult
	for _, result := range o.Results {
		if result.Err != nil {
			failed = append(failed, result)
		}
	}
	return failed
}

// Session is an authenticated mail-submission session. One is opened per
// dispatch and closed before Dispatch returns.
type Session interface {
	Send(from, recipient string, message []byte) error
	Close() error
}

// DialFunc opens a submission session authenticated as the given user.
type DialFunc func(ctx context.Context, username, password string) (Session, error)

// Dispatcher fans one outbound message out to its recipients over a single
// submission session, attempting each recipient independently.
type Dispatcher struct {
	dial   DialFunc
	logger *slog.Logger
}

func New(dial DialFunc, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{dial: dial, logger: logger}
}

// Dispatch opens one authenticated session and attempts delivery to each
// recipient in request order. A recipient failure does not block the
// remaining recipients. The session is released on every path. The
// mailPassword is used only for this session and never retained.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, mailPassword string) (Outcome, error) {
	if len(req.To) == 0 {
		return Outcome{}, ErrEmptyRecipients
	}

	session, err := d.dial(ctx, req.From, mailPassword)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer session.Close()

	outcome := Outcome{SentAt: time.Now()}
	for _, recipient := range req.To {
		message, err := buildMessage(req.From, recipient, req.Subject, req.Body, outcome.SentAt)
		if err == nil {
			err = session.Send(req.From, recipient, message)
		}
		if err != nil {
			d.logger.Warn("delivery failed", "from", req.From, "recipient", recipient, "error", err)
		}
		outcome.Results = append(outcome.Results, RecipientResult{Recipient: recipient, Err: err})
	}
	return outcome, nil
}
