package store

import "time"

const (
	FolderSent  = "Sent"
	FolderInbox = "Inbox"
)

type User struct {
	ID               string
	Username         string
	Email            string
	PasswordHash     string
	MailPasswordHash string
	CreatedAt        time.Time
}

// HasMailPassword reports whether the user configured a mail-provider
// secret at registration.
func (u User) HasMailPassword() bool {
	return u.MailPasswordHash != ""
}

// MailRecord is one row of the local mirror: a "Sent" copy owned by the
// sender, or an "Inbox" copy owned by one delivered recipient.
type MailRecord struct {
	ID         string
	OwnerEmail string
	From       string
	Recipients []string
	Subject    string
	Body       string
	Folder     string
	CreatedAt  time.Time
}

// SendOutcome is what the delivery dispatcher hands over for persistence:
// the full message plus the subset of recipients that were delivered.
type SendOutcome struct {
	From       string
	Recipients []string
	Delivered  []string
	Subject    string
	Body       string
	SentAt     time.Time
}
