package inbox

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Fallbacks used when a message is readable but a field is absent or
// malformed. One bad field never drops the message.
const (
	fallbackSubject   = "(No Subject)"
	fallbackSender    = "(Unknown Sender)"
	fallbackRecipient = "(Unknown Recipient)"
	fallbackBody      = "(No Content)"
)

// Message is one normalized fetched message.
type Message struct {
	Seq     uint32    `json:"seq"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// parseMessage turns one complete raw message stream into a Message.
// It returns an error only when the stream cannot be opened at all;
// individual missing fields fall back to their sentinels, and a missing
// date falls back to the current time.
func parseMessage(seq uint32, raw []byte) (Message, error) {
	message := Message{
		Seq:     seq,
		Subject: fallbackSubject,
		From:    fallbackSender,
		To:      fallbackRecipient,
		Body:    fallbackBody,
		Date:    time.Now(),
	}

	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return Message{}, err
	}
	defer reader.Close()

	if subject, err := reader.Header.Subject(); err == nil && strings.TrimSpace(subject) != "" {
		message.Subject = subject
	}
	if list, err := reader.Header.AddressList("From"); err == nil && len(list) > 0 {
		message.From = formatAddress(list[0])
	}
	if list, err := reader.Header.AddressList("To"); err == nil && len(list) > 0 {
		formatted := make([]string, 0, len(list))
		for _, addr := range list {
			formatted = append(formatted, formatAddress(addr))
		}
		message.To = strings.Join(formatted, ", ")
	}
	if date, err := reader.Header.Date(); err == nil && !date.IsZero() {
		message.Date = date
	}

	var textBody, htmlBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := header.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mediaType, "text/plain") || mediaType == "":
			if textBody == "" {
				textBody = string(body)
			}
		case strings.HasPrefix(mediaType, "text/html"):
			if htmlBody == "" {
				htmlBody = string(body)
			}
		}
	}

	// Plain text preferred, HTML second, sentinel last.
	switch {
	case strings.TrimSpace(textBody) != "":
		message.Body = textBody
	case strings.TrimSpace(htmlBody) != "":
		message.Body = htmlBody
	}
	return message, nil
}

func formatAddress(addr *mail.Address) string {
	if addr.Name != "" {
		return addr.Name + " <" + addr.Address + ">"
	}
	return addr.Address
}
