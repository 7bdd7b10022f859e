package mailer

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// buildMessage renders one plain-text RFC 5322 message addressed to a
// single recipient.
func buildMessage(from, recipient, subject, body string, date time.Time) ([]byte, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(date)
	header.SetSubject(sanitizeHeader(subject))
	header.SetAddressList("From", []*mail.Address{{Address: sanitizeHeader(from)}})
	header.SetAddressList("To", []*mail.Address{{Address: sanitizeHeader(recipient)}})
	header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	writer, err := mail.CreateSingleInlineWriter(&buf, header)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(writer, body); err != nil {
		writer.Close()
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finish message: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeHeader(value string) string {
	cleaned := strings.ReplaceAll(value, "\r", "")
	cleaned = strings.ReplaceAll(cleaned, "\n", "")
	return strings.TrimSpace(cleaned)
}
