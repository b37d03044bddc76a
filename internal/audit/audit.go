// Package audit records every state transition to the append-only audit_logs
// table. A failed write never masks the primary operation; the entry falls
// back to the structured log instead.
package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/storage"
)

// Action identifies an auditable state transition.
type Action string

const (
	UserRegister           Action = "USER_REGISTER"
	UserLogin              Action = "USER_LOGIN"
	UserLogout             Action = "USER_LOGOUT"
	UserLogoutAllDevices   Action = "USER_LOGOUT_ALL_DEVICES"
	UserLogoutOtherDevices Action = "USER_LOGOUT_OTHER_DEVICES"
	EmailVerified          Action = "EMAIL_VERIFIED"
	PasswordResetRequested Action = "PASSWORD_RESET_REQUESTED"
	PasswordResetCompleted Action = "PASSWORD_RESET_COMPLETED"
	TokenRefreshed         Action = "TOKEN_REFRESHED"
	RoleChanged            Action = "ROLE_CHANGED"
	UserDeleted            Action = "USER_DELETED"
	UsersBulkDeleted       Action = "USERS_BULK_DELETED"
	SessionRevoked         Action = "SESSION_REVOKED"
	AccountLocked          Action = "ACCOUNT_LOCKED"
	AccountUnlocked        Action = "ACCOUNT_UNLOCKED"
	LoginFailed            Action = "LOGIN_FAILED"
	VerificationEmailSent  Action = "VERIFICATION_EMAIL_SENT"
	ResetEmailSent         Action = "RESET_EMAIL_SENT"
	MagicLinkRequested     Action = "MAGIC_LINK_REQUESTED"
	MagicLinkSent          Action = "MAGIC_LINK_SENT"
	MagicLinkLogin         Action = "MAGIC_LINK_LOGIN"
	MagicLinkFailed        Action = "MAGIC_LINK_FAILED"
	UserDataExported       Action = "USER_DATA_EXPORTED"
	UserDataAnonymized     Action = "USER_DATA_ANONYMIZED"
	UserPermanentlyDeleted Action = "USER_PERMANENTLY_DELETED"
	EmailUpdated           Action = "EMAIL_UPDATED"
	EmailUpdateFailed      Action = "EMAIL_UPDATE_FAILED"
)

// Entry is one audit record before persistence.
type Entry struct {
	UserID       *uuid.UUID
	PerformedBy  *uuid.UUID
	Action       Action
	Resource     string
	IP           string
	UserAgent    string
	Metadata     map[string]any
	Success      bool
	ErrorMessage string
}

// Recorder appends entries through whatever store view the caller holds, so a
// record emitted inside a transaction lands in that transaction.
type Recorder struct {
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Record appends e via store. Errors are logged, never returned: the domain
// action has already happened by the time the audit attempt is made.
func (r *Recorder) Record(ctx context.Context, store storage.AuditStore, e Entry) {
	_, err := store.AppendAuditLog(ctx, storage.AppendAuditLogParams{
		UserID:       e.UserID,
		PerformedBy:  e.PerformedBy,
		Action:       string(e.Action),
		Resource:     optional(e.Resource),
		IPAddress:    optional(e.IP),
		UserAgent:    optional(e.UserAgent),
		Metadata:     e.Metadata,
		Success:      e.Success,
		ErrorMessage: optional(e.ErrorMessage),
	})
	if err != nil {
		r.logger.Error("audit_append_failed",
			"action", e.Action,
			"user_id", e.UserID,
			"error", err,
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
