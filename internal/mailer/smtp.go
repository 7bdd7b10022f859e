package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.io/infrasutra/mailbridge/internal/config"
)

// SMTPDialer returns the production DialFunc: it connects to the
// configured submission endpoint and authenticates with SASL PLAIN.
func SMTPDialer(cfg config.Config) DialFunc {
	return func(_ context.Context, username, password string) (Session, error) {
		addr := cfg.SMTPAddr()
		tlsCfg := &tls.Config{ServerName: cfg.SMTPHost}

		var client *smtp.Client
		var err error
		switch {
		case cfg.SMTPSSL:
			client, err = smtp.DialTLS(addr, tlsCfg)
		case cfg.SMTPStartTLS:
			client, err = smtp.DialStartTLS(addr, tlsCfg)
		default:
			client, err = smtp.Dial(addr)
		}
		if err != nil {
			return nil, fmt.Errorf("connect to smtp server %s: %w", addr, err)
		}
		client.CommandTimeout = cfg.MailTimeout
		client.SubmissionTimeout = cfg.MailTimeout

		if err := client.Auth(sasl.NewPlainClient("", username, password)); err != nil {
			client.Close()
			return nil, fmt.Errorf("smtp authentication failed: %w", err)
		}
		return &smtpSession{client: client}, nil
	}
}

type smtpSession struct {
	client *smtp.Client
}

func (s *smtpSession) Send(from, recipient string, message []byte) error {
	return s.client.SendMail(from, []string{recipient}, bytes.NewReader(message))
}

func (s *smtpSession) Close() error {
	return s.client.Quit()
}
