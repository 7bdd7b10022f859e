package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.io/infrasutra/mailbridge/internal/auth"
	"github.io/infrasutra/mailbridge/internal/events"
	"github.io/infrasutra/mailbridge/internal/inbox"
	"github.io/infrasutra/mailbridge/internal/mailer"
	"github.io/infrasutra/mailbridge/internal/pagination"
	"github.io/infrasutra/mailbridge/internal/store"
)

// Dispatcher sends one outbound message to its recipients.
type Dispatcher interface {
	Dispatch(ctx context.Context, req mailer.Request, mailPassword string) (mailer.Outcome, error)
}

// InboxFetcher retrieves a user's provider inbox.
type InboxFetcher interface {
	Fetch(ctx context.Context, email, mailPassword string) ([]inbox.Message, error)
}

// Store is the persistence surface the handlers need. *store.Store
// implements it; tests substitute a failing writer.
type Store interface {
	CreateUser(ctx context.Context, user store.User) (store.User, error)
	SaveSendOutcome(ctx context.Context, outcome store.SendOutcome) error
	ListMessages(ctx context.Context, owner, folder string, offset, limit int32) ([]store.MailRecord, int32, error)
}

type Server struct {
	store      Store
	verifier   *auth.Verifier
	dispatcher Dispatcher
	fetcher    InboxFetcher
	hub        *events.Hub
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewServer(st Store, verifier *auth.Verifier, dispatcher Dispatcher, fetcher InboxFetcher, hub *events.Hub, logger *slog.Logger) *Server {
	server := &Server{
		store:      st,
		verifier:   verifier,
		dispatcher: dispatcher,
		fetcher:    fetcher,
		hub:        hub,
		logger:     logger,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/register", server.handleRegister)
	mux.HandleFunc("/login", server.handleLogin)
	mux.HandleFunc("/send-email", server.handleSend)
	mux.HandleFunc("/inbox", server.handleInbox)
	mux.HandleFunc("/messages", server.handleMessages)
	mux.HandleFunc("/events", server.handleEvents)
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/ready", server.handleReady)
	server.mux = mux
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type registerRequest struct {
	Username      string `json:"username"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	EmailPassword string `json:"emailPassword"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	var payload registerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "Registration failed", "invalid JSON")
		return
	}
	email, err := auth.NormalizeEmail(payload.Email)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Registration failed", err.Error())
		return
	}
	if strings.TrimSpace(payload.Username) == "" {
		s.respondError(w, http.StatusBadRequest, "Registration failed", "username is required")
		return
	}
	if payload.Password == "" {
		s.respondError(w, http.StatusBadRequest, "Registration failed", "password is required")
		return
	}

	passwordHash, err := auth.HashSecret(payload.Password)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Registration failed", "unable to hash password")
		return
	}
	mailPasswordHash := ""
	if payload.EmailPassword != "" {
		mailPasswordHash, err = auth.HashSecret(payload.EmailPassword)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Registration failed", "unable to hash email password")
			return
		}
	}

	_, err = s.store.CreateUser(r.Context(), store.User{
		Username:         strings.TrimSpace(payload.Username),
		Email:            email,
		PasswordHash:     passwordHash,
		MailPasswordHash: mailPasswordHash,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			s.respondError(w, http.StatusBadRequest, "Registration failed", "email already registered")
			return
		}
		s.logger.Error("create user", "error", err)
		s.respondError(w, http.StatusBadRequest, "Registration failed", "unable to save user")
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "Authentication failed", "invalid JSON")
		return
	}
	if _, err := s.verifier.Login(r.Context(), strings.ToLower(strings.TrimSpace(payload.Email)), payload.Password); err != nil {
		s.respondError(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Login successful"})
}

type sendRequest struct {
	From          string   `json:"from"`
	To            []string `json:"to"`
	Subject       string   `json:"subject"`
	Body          string   `json:"body"`
	EmailPassword string   `json:"emailPassword"`
}

type recipientResult struct {
	Recipient string `json:"recipient"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

type sendResponse struct {
	Message string            `json:"message"`
	Results []recipientResult `json:"results"`
	Warning string            `json:"warning,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	var payload sendRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "Email sending failed", "invalid JSON")
		return
	}
	if len(payload.To) == 0 {
		s.respondError(w, http.StatusBadRequest, "`to` must be a non-empty array of email addresses", "")
		return
	}
	from, err := auth.NormalizeEmail(payload.From)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Email sending failed", "`from` must be a valid email address")
		return
	}
	// Recipients are normalized up front so the persisted copies use the
	// same canonical form the mirror is queried by.
	recipients := make([]string, 0, len(payload.To))
	for _, raw := range payload.To {
		recipient, err := auth.NormalizeEmail(raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "Email sending failed", "`to` contains an invalid email address")
			return
		}
		recipients = append(recipients, recipient)
	}

	// Credential checks happen before any network activity.
	if _, err := s.verifier.MailSecret(r.Context(), from, payload.EmailPassword); err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			s.respondError(w, http.StatusNotFound, "Sender email not found", "")
		case errors.Is(err, auth.ErrMailSecretMissing):
			s.respondError(w, http.StatusUnauthorized, "Invalid email password", "no email password configured for this account")
		case errors.Is(err, auth.ErrInvalidMailSecret):
			s.respondError(w, http.StatusUnauthorized, "Invalid email password", "")
		default:
			s.logger.Error("verify mail password", "error", err)
			s.respondError(w, http.StatusInternalServerError, "Email sending failed", "unable to verify credentials")
		}
		return
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), mailer.Request{
		From:    from,
		To:      recipients,
		Subject: payload.Subject,
		Body:    payload.Body,
	}, payload.EmailPassword)
	if err != nil {
		if errors.Is(err, mailer.ErrEmptyRecipients) {
			s.respondError(w, http.StatusBadRequest, "`to` must be a non-empty array of email addresses", "")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "Email sending failed", err.Error())
		return
	}

	delivered := outcome.Delivered()
	if len(delivered) == 0 {
		details := make([]string, 0, len(outcome.Results))
		for _, result := range outcome.Failed() {
			details = append(details, result.Recipient+": "+result.Err.Error())
		}
		s.respondError(w, http.StatusInternalServerError, "Email sending failed", strings.Join(details, "; "))
		return
	}

	response := sendResponse{Message: "Emails sent"}
	if len(delivered) < len(outcome.Results) {
		response.Message = "Emails partially sent"
	}
	for _, result := range outcome.Results {
		entry := recipientResult{Recipient: result.Recipient, Delivered: result.Err == nil}
		if result.Err != nil {
			entry.Error = result.Err.Error()
		}
		response.Results = append(response.Results, entry)
	}

	if err := s.store.SaveSendOutcome(r.Context(), store.SendOutcome{
		From:       from,
		Recipients: recipients,
		Delivered:  delivered,
		Subject:    payload.Subject,
		Body:       payload.Body,
		SentAt:     outcome.SentAt,
	}); err != nil {
		// Delivery already happened; surface the persistence failure as a
		// warning instead of masking it as a delivery failure.
		s.logger.Error("save send outcome", "from", from, "error", err)
		response.Warning = "emails were sent but the local copy was not fully saved"
	}

	for _, result := range outcome.Results {
		s.hub.Publish([]string{from, result.Recipient}, events.DeliveryEvent{
			From:      from,
			Recipient: result.Recipient,
			Delivered: result.Err == nil,
			Subject:   payload.Subject,
			At:        outcome.SentAt,
		})
	}

	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	query := r.URL.Query()
	email, err := auth.NormalizeEmail(query.Get("email"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Inbox fetch failed", "`email` must be a valid email address")
		return
	}
	mailPassword := query.Get("emailPassword")

	messages, err := s.fetcher.Fetch(r.Context(), email, mailPassword)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUserNotFound):
			s.respondError(w, http.StatusNotFound, "User not found", "")
		case errors.Is(err, auth.ErrMailSecretMissing):
			s.respondError(w, http.StatusUnauthorized, "Invalid email password", "no email password configured for this account")
		case errors.Is(err, auth.ErrInvalidMailSecret):
			s.respondError(w, http.StatusUnauthorized, "Invalid email password", "")
		default:
			s.respondError(w, http.StatusInternalServerError, "Inbox fetch failed", err.Error())
		}
		return
	}

	if messages == nil {
		messages = []inbox.Message{}
	}
	if query.Get("page") != "" || query.Get("limit") != "" {
		params := pagination.FromQuery(query)
		messages = paginate(messages, params.Offset, params.Limit)
	}
	s.respondJSON(w, http.StatusOK, messages)
}

type storedMessage struct {
	ID         string   `json:"id"`
	From       string   `json:"from"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Folder     string   `json:"folder"`
	CreatedAt  string   `json:"createdAt"`
}

// handleMessages lists the caller's local mirror of sent and received
// copies, authenticated with the login password.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	query := r.URL.Query()
	user, err := s.verifier.Login(r.Context(), strings.ToLower(strings.TrimSpace(query.Get("email"))), query.Get("password"))
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}

	folder := store.FolderInbox
	switch query.Get("box") {
	case "", "inbox":
	case "sent":
		folder = store.FolderSent
	default:
		s.respondError(w, http.StatusBadRequest, "invalid box", "`box` must be \"inbox\" or \"sent\"")
		return
	}

	params := pagination.FromQuery(query)
	records, total, err := s.store.ListMessages(r.Context(), user.Email, folder, params.Offset, params.Limit)
	if err != nil {
		s.logger.Error("list messages", "error", err)
		s.respondError(w, http.StatusInternalServerError, "unable to list messages", "")
		return
	}

	response := struct {
		Messages []storedMessage `json:"messages"`
		Total    int32           `json:"total"`
		Page     int32           `json:"page"`
		Limit    int32           `json:"limit"`
	}{
		Messages: make([]storedMessage, 0, len(records)),
		Total:    total,
		Page:     params.Page,
		Limit:    params.Limit,
	}
	for _, record := range records {
		response.Messages = append(response.Messages, storedMessage{
			ID:         record.ID,
			From:       record.From,
			Recipients: record.Recipients,
			Subject:    record.Subject,
			Body:       record.Body,
			Folder:     record.Folder,
			CreatedAt:  record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	query := r.URL.Query()
	user, err := s.verifier.Login(r.Context(), strings.ToLower(strings.TrimSpace(query.Get("email"))), query.Get("password"))
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "Invalid email or password", "")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.hub.Subscribe(user.Email)
	defer unsubscribe()

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: delivery\ndata: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.respondText(w, http.StatusOK, "ready")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message, details string) {
	payload := map[string]string{"error": message}
	if details != "" {
		payload["details"] = details
	}
	s.respondJSON(w, status, payload)
}

func (s *Server) respondText(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func paginate(messages []inbox.Message, offset, limit int32) []inbox.Message {
	start := int(offset)
	if start >= len(messages) {
		return []inbox.Message{}
	}
	end := start + int(limit)
	if end > len(messages) {
		end = len(messages)
	}
	return messages[start:end]
}
