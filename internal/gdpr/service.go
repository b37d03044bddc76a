// Package gdpr implements the data-subject rights: export, anonymization,
// permanent deletion and email change.
package gdpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/notify"
	"github.com/aegis-id/aegis/internal/storage"
)

// AnonymizeConfirmation is the literal a user must echo before their account
// is irreversibly scrubbed.
const AnonymizeConfirmation = "ANONYMIZE_MY_DATA"

var (
	ErrUserNotFound    = autherr.New(autherr.KindNotFound, "user not found")
	ErrSelfTarget      = autherr.New(autherr.KindInput, "cannot delete your own account")
	ErrBadConfirmation = autherr.New(autherr.KindInput, "confirmation phrase required")
	ErrWrongPassword   = autherr.New(autherr.KindAuth, "invalid credentials")
	ErrEmailTaken      = autherr.New(autherr.KindConflict, "email already registered")
)

// Export is the right-of-access document. Token values never appear; the
// refresh-token index carries ids and lifetimes only.
type Export struct {
	GeneratedAt time.Time            `json:"generatedAt"`
	Profile     Profile              `json:"profile"`
	Sessions    []SessionRecord      `json:"sessions"`
	AuditTrail  []AuditRecord        `json:"auditTrail"`
	TokenIndex  []RefreshTokenRecord `json:"refreshTokenIndex"`
}

type Profile struct {
	ID            uuid.UUID    `json:"id"`
	Email         string       `json:"email"`
	Role          storage.Role `json:"role"`
	EmailVerified bool         `json:"emailVerified"`
	LastLoginAt   *time.Time   `json:"lastLoginAt,omitempty"`
	LastLoginIP   *string      `json:"lastLoginIp,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

type SessionRecord struct {
	ID             uuid.UUID `json:"id"`
	Browser        *string   `json:"browser,omitempty"`
	OS             *string   `json:"os,omitempty"`
	DeviceType     *string   `json:"deviceType,omitempty"`
	IPAddress      *string   `json:"ipAddress,omitempty"`
	IsActive       bool      `json:"isActive"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type AuditRecord struct {
	ID        uuid.UUID      `json:"id"`
	Action    string         `json:"action"`
	Resource  *string        `json:"resource,omitempty"`
	IPAddress *string        `json:"ipAddress,omitempty"`
	UserAgent *string        `json:"userAgent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Success   bool           `json:"success"`
	CreatedAt time.Time      `json:"createdAt"`
}

type RefreshTokenRecord struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service implements the GDPR operations over the shared store.
type Service struct {
	store    storage.Store
	hasher   auth.PasswordHasher
	recorder *audit.Recorder
	mail     notify.Sender
	clock    auth.Clock
	logger   *slog.Logger
}

func NewService(
	store storage.Store,
	hasher auth.PasswordHasher,
	recorder *audit.Recorder,
	mail notify.Sender,
	clock auth.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		recorder: recorder,
		mail:     mail,
		clock:    clock,
		logger:   logger,
	}
}

// ExportData bundles everything held about the user into one document.
func (s *Service) ExportData(ctx context.Context, userID uuid.UUID, rctx auth.RequestContext) (*Export, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	sessions, err := s.store.ListSessionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.store.ListRefreshTokensByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	logs, _, err := s.store.ListAuditLogs(ctx, storage.AuditLogFilter{UserID: &userID, Limit: 1000})
	if err != nil {
		return nil, err
	}

	export := &Export{
		GeneratedAt: s.clock.Now(),
		Profile: Profile{
			ID:            user.ID,
			Email:         user.Email,
			Role:          user.Role,
			EmailVerified: user.EmailVerified,
			LastLoginAt:   user.LastLoginAt,
			LastLoginIP:   user.LastLoginIP,
			CreatedAt:     user.CreatedAt,
			UpdatedAt:     user.UpdatedAt,
		},
	}
	for _, sess := range sessions {
		export.Sessions = append(export.Sessions, SessionRecord{
			ID:             sess.ID,
			Browser:        sess.Browser,
			OS:             sess.OS,
			DeviceType:     sess.DeviceType,
			IPAddress:      sess.IPAddress,
			IsActive:       sess.IsActive,
			LastActivityAt: sess.LastActivityAt,
			CreatedAt:      sess.CreatedAt,
			ExpiresAt:      sess.ExpiresAt,
		})
	}
	for _, t := range tokens {
		export.TokenIndex = append(export.TokenIndex, RefreshTokenRecord{
			ID: t.ID, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt,
		})
	}
	for _, l := range logs {
		export.AuditTrail = append(export.AuditTrail, AuditRecord{
			ID:        l.ID,
			Action:    l.Action,
			Resource:  l.Resource,
			IPAddress: l.IPAddress,
			UserAgent: l.UserAgent,
			Metadata:  l.Metadata,
			Success:   l.Success,
			CreatedAt: l.CreatedAt,
		})
	}

	s.store.WithTx(ctx, func(tx storage.Store) error { //nolint:errcheck
		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.UserDataExported,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})
		return nil
	})

	return export, nil
}

// Anonymize irreversibly scrubs the user's identifying data while keeping the
// row for audit-trail referential integrity. The final audit record is
// written BEFORE the mutation so it survives as the last attributable event.
func (s *Service) Anonymize(ctx context.Context, userID uuid.UUID, confirmation, password string, rctx auth.RequestContext) error {
	if confirmation != AnonymizeConfirmation {
		return ErrBadConfirmation
	}

	return s.store.WithSerializable(ctx, func(tx storage.Store) error {
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
			return ErrWrongPassword
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.UserDataAnonymized,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})

		if _, err := tx.AnonymizeAuditLogs(ctx, userID); err != nil {
			return err
		}
		if err := tx.DeleteSessionsByUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.DeleteRefreshTokensByUser(ctx, userID); err != nil {
			return err
		}
		if err := tx.DeleteOOBTokensByUser(ctx, userID); err != nil {
			return err
		}

		anonEmail := fmt.Sprintf("anonymized_%s@deleted.local", userID)
		return tx.AnonymizeUser(ctx, userID, anonEmail, "anonymized")
	})
}

// PermanentDelete removes the user entirely, cascading all dependents. The
// audit record pins the deleted identifiers into metadata first, since the
// user's own rows vanish with the cascade.
func (s *Service) PermanentDelete(ctx context.Context, targetID, adminID uuid.UUID, rctx auth.RequestContext) error {
	if targetID == adminID {
		return ErrSelfTarget
	}

	return s.store.WithTx(ctx, func(tx storage.Store) error {
		user, err := tx.GetUserByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			PerformedBy: &adminID,
			Action:      audit.UserPermanentlyDeleted,
			IP:          rctx.IP,
			UserAgent:   rctx.UserAgent,
			Metadata:    map[string]any{"deletedUserId": user.ID, "deletedEmail": user.Email},
			Success:     true,
		})

		return tx.DeleteUser(ctx, targetID)
	})
}

// UpdateEmail changes the address, drops verification status and re-runs the
// verification flow against the new mailbox. The DB change stands even when
// the dispatch fails; the user can retry from the unverified state.
func (s *Service) UpdateEmail(ctx context.Context, userID uuid.UUID, newEmail string, rctx auth.RequestContext) error {
	var oldEmail string

	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		oldEmail = user.Email

		if other, err := tx.GetUserByEmail(ctx, newEmail); err == nil && other.ID != userID {
			return ErrEmailTaken
		}

		if err := tx.DeleteUnusedOOBTokens(ctx, userID, storage.OOBVerification); err != nil {
			return err
		}
		if err := tx.UpdateUserEmail(ctx, userID, newEmail); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrEmailTaken
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.mail.SendVerification(ctx, userID, newEmail); err != nil {
		s.logger.Error("email_update_verification_dispatch_failed", "user_id", userID, "error", err)
		s.store.WithTx(ctx, func(tx storage.Store) error { //nolint:errcheck
			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: &userID, Action: audit.EmailUpdateFailed,
				IP: rctx.IP, UserAgent: rctx.UserAgent,
				Metadata: map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
				Success:  false, ErrorMessage: "verification dispatch failed",
			})
			return nil
		})
		return autherr.Wrap(autherr.KindDependency, "email updated but verification dispatch failed, please retry", err)
	}

	return s.store.WithTx(ctx, func(tx storage.Store) error {
		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &userID, Action: audit.EmailUpdated,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"oldEmail": oldEmail, "newEmail": newEmail},
			Success:  true,
		})
		return nil
	})
}
