package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/storage"
)

// ErrSessionNotFound covers both missing and non-owned sessions so revocation
// never discloses whether another user's session id exists.
var ErrSessionNotFound = autherr.New(autherr.KindNotFound, "session not found")

// SessionSummary is the client-safe projection of a session. The raw refresh
// token never leaves the service.
type SessionSummary struct {
	ID             uuid.UUID `json:"id"`
	DeviceName     *string   `json:"deviceName,omitempty"`
	DeviceType     *string   `json:"deviceType,omitempty"`
	Browser        *string   `json:"browser,omitempty"`
	OS             *string   `json:"os,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	Country        *string   `json:"country,omitempty"`
	City           *string   `json:"city,omitempty"`
	Current        bool      `json:"current"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func summarizeSession(s storage.Session, currentRefreshToken string) SessionSummary {
	return SessionSummary{
		ID:             s.ID,
		DeviceName:     s.DeviceName,
		DeviceType:     s.DeviceType,
		Browser:        s.Browser,
		OS:             s.OS,
		IPAddress:      s.IPAddress,
		Country:        s.Country,
		City:           s.City,
		Current:        currentRefreshToken != "" && s.RefreshToken == currentRefreshToken,
		LastActivityAt: s.LastActivityAt,
		CreatedAt:      s.CreatedAt,
		ExpiresAt:      s.ExpiresAt,
	}
}

// ListActiveSessions returns the user's live sessions, most recently active
// first. The one backing currentRefreshToken is flagged.
func (s *Service) ListActiveSessions(ctx context.Context, userID uuid.UUID, currentRefreshToken string) ([]SessionSummary, error) {
	sessions, err := s.store.ListActiveSessions(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	out := make([]SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarizeSession(sess, currentRefreshToken))
	}
	return out, nil
}

// RevokeSession terminates one of the caller's own sessions.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID, rctx RequestContext) error {
	return s.store.WithTx(ctx, func(tx storage.Store) error {
		sess, err := tx.GetSessionByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if sess.UserID != userID {
			return ErrSessionNotFound
		}

		if err := tx.DeleteRefreshToken(ctx, sess.RefreshToken); err != nil {
			return err
		}
		if err := tx.DeactivateSession(ctx, sess.ID); err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.SessionRevoked,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"sessionId": sess.ID},
			Success:  true,
		})
		return nil
	})
}

// RevokeOtherSessions terminates every session except the one backing the
// presented refresh token. Returns the number revoked.
func (s *Service) RevokeOtherSessions(ctx context.Context, userID uuid.UUID, currentRefreshToken string, rctx RequestContext) (int64, error) {
	var revoked int64
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		if _, err := tx.DeleteOtherRefreshTokens(ctx, userID, currentRefreshToken); err != nil {
			return err
		}
		var err error
		revoked, err = tx.DeactivateOtherSessions(ctx, userID, currentRefreshToken)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.UserLogoutOtherDevices,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"revokedCount": revoked},
			Success:  true,
		})
		return nil
	})
	return revoked, err
}

// RevokeAllSessions terminates every session for the user, current included.
func (s *Service) RevokeAllSessions(ctx context.Context, userID uuid.UUID, rctx RequestContext) (int64, error) {
	var revoked int64
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		if _, err := tx.DeleteRefreshTokensByUser(ctx, userID); err != nil {
			return err
		}
		var err error
		revoked, err = tx.DeactivateSessionsByUser(ctx, userID)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.UserLogoutAllDevices,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"revokedCount": revoked},
			Success:  true,
		})
		return nil
	})
	return revoked, err
}
