package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            username TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            mail_password_hash TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            owner_email TEXT NOT NULL,
            from_email TEXT NOT NULL,
            subject TEXT NOT NULL,
            body TEXT NOT NULL,
            folder TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS recipients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            message_id TEXT NOT NULL,
            email TEXT NOT NULL,
            FOREIGN KEY(message_id) REFERENCES messages(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_messages_owner_folder ON messages(owner_email, folder, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_message ON recipients(message_id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users
        (id, username, email, password_hash, mail_password_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?);`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.MailPasswordHash,
		user.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	var createdAt int64
	row := s.db.QueryRowContext(ctx, `SELECT id, username, email, password_hash, mail_password_hash, created_at
        FROM users WHERE email = ?;`, email)
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.MailPasswordHash,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	return user, nil
}

// SaveSendOutcome mirrors one dispatch into the local store: a single Sent
// record owned by the sender carrying the full recipient list, plus one
// Inbox record per recipient that was actually delivered. All rows commit
// in one transaction.
func (s *Store) SaveSendOutcome(ctx context.Context, outcome SendOutcome) error {
	if outcome.SentAt.IsZero() {
		outcome.SentAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := func(owner, folder string, recipients []string) error {
		id := uuid.NewString()
		_, err := tx.ExecContext(ctx, `INSERT INTO messages
            (id, owner_email, from_email, subject, body, folder, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?);`,
			id,
			owner,
			outcome.From,
			outcome.Subject,
			outcome.Body,
			folder,
			outcome.SentAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		for _, recipient := range recipients {
			_, err := tx.ExecContext(ctx, `INSERT INTO recipients (message_id, email)
                VALUES (?, ?);`, id, recipient)
			if err != nil {
				return fmt.Errorf("insert recipient: %w", err)
			}
		}
		return nil
	}

	if err := insert(outcome.From, FolderSent, outcome.Recipients); err != nil {
		return err
	}
	for _, recipient := range outcome.Delivered {
		if err := insert(recipient, FolderInbox, []string{recipient}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome: %w", err)
	}
	return nil
}

// ListMessages returns the owner's mirrored mail for one folder, newest
// first, along with the total row count for pagination.
func (s *Store) ListMessages(ctx context.Context, owner, folder string, offset, limit int32) ([]MailRecord, int32, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var totalCount int64
	countQuery := `SELECT COUNT(1) FROM messages WHERE owner_email = ? AND folder = ?;`
	if err := s.db.QueryRowContext(ctx, countQuery, owner, folder).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_email, from_email, subject, body, folder, created_at
        FROM messages
        WHERE owner_email = ? AND folder = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ? OFFSET ?;`, owner, folder, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var records []MailRecord
	var ids []string
	for rows.Next() {
		var record MailRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.OwnerEmail,
			&record.From,
			&record.Subject,
			&record.Body,
			&record.Folder,
			&createdAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		record.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, record)
		ids = append(ids, record.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}

	if len(ids) == 0 {
		return records, int32(totalCount), nil
	}

	recipients, err := s.listRecipients(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range records {
		records[i].Recipients = recipients[records[i].ID]
	}
	return records, int32(totalCount), nil
}

func (s *Store) listRecipients(ctx context.Context, messageIDs []string) (map[string][]string, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	query := fmt.Sprintf(`SELECT message_id, email FROM recipients WHERE message_id IN (%s) ORDER BY id;`, placeholders)

	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]string)
	for rows.Next() {
		var messageID string
		var email string
		if err := rows.Scan(&messageID, &email); err != nil {
			return nil, fmt.Errorf("list recipients: %w", err)
		}
		result[messageID] = append(result[messageID], email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return result, nil
}
