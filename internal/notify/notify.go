// Package notify is the auth service's client for outbound email dispatch.
// Delivery itself is owned by the email service; this package only speaks its
// private HTTP API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender dispatches transactional mail for the auth flows.
type Sender interface {
	SendVerification(ctx context.Context, userID uuid.UUID, email string) error
	SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error
}

// HTTPSender posts to the email service over the private network.
type HTTPSender struct {
	baseURL       string
	internalToken string
	client        *http.Client
	logger        *slog.Logger
}

func NewHTTPSender(baseURL, internalToken string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		baseURL:       baseURL,
		internalToken: internalToken,
		client:        &http.Client{Timeout: 5 * time.Second},
		logger:        logger,
	}
}

func (s *HTTPSender) SendVerification(ctx context.Context, userID uuid.UUID, email string) error {
	return s.post(ctx, "/email/send-verification", map[string]any{
		"userId": userID,
		"email":  email,
	})
}

func (s *HTTPSender) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	return s.post(ctx, "/email/send-magic-link", map[string]any{
		"email":     email,
		"token":     token,
		"isNewUser": isNewUser,
	})
}

func (s *HTTPSender) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.internalToken != "" {
		req.Header.Set("X-Internal-Token", s.internalToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("email service returned %d for %s", resp.StatusCode, path)
	}
	return nil
}

// LogSender logs instead of dispatching. Used in development and tests.
// Registration dispatches from a goroutine, so captures are guarded.
type LogSender struct {
	Logger *slog.Logger

	mu            sync.Mutex
	verifications []uuid.UUID
	magicLinks    []string
}

func (s *LogSender) SendVerification(ctx context.Context, userID uuid.UUID, email string) error {
	s.mu.Lock()
	s.verifications = append(s.verifications, userID)
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Info("mail_skipped", "template", "verification", "user_id", userID)
	}
	return nil
}

func (s *LogSender) SendMagicLink(ctx context.Context, email, token string, isNewUser bool) error {
	s.mu.Lock()
	s.magicLinks = append(s.magicLinks, token)
	s.mu.Unlock()
	if s.Logger != nil {
		s.Logger.Info("mail_skipped", "template", "magic_link", "is_new_user", isNewUser)
	}
	return nil
}

// Verifications returns the captured verification dispatches.
func (s *LogSender) Verifications() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.verifications...)
}

// MagicLinks returns the captured magic-link tokens.
func (s *LogSender) MagicLinks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.magicLinks...)
}
