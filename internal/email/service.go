// Package email implements the email service core: transactional delivery
// plus the stateful out-of-band tokens behind verification and reset.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/mailer"
	"github.com/aegis-id/aegis/internal/storage"
)

var (
	ErrVerificationInvalid = autherr.New(autherr.KindAuth, "invalid verification token")
	ErrVerificationExpired = autherr.New(autherr.KindAuth, "verification token expired")
	ErrAlreadyVerified     = autherr.New(autherr.KindConflict, "email already verified")
	ErrResetInvalid        = autherr.New(autherr.KindAuth, "invalid reset token")
	ErrResetExpired        = autherr.New(autherr.KindAuth, "reset token expired")
	ErrResetUsed           = autherr.New(autherr.KindAuth, "reset token already used")
	ErrUserNotFound        = autherr.New(autherr.KindNotFound, "user not found")
	ErrMailDispatch        = autherr.New(autherr.KindDependency, "failed to dispatch email")
)

// ResetRequestMessage is returned whether or not the address exists.
const ResetRequestMessage = "If the email exists, a reset link has been sent."

// ResetCompletedMessage tells the user every session died with the password.
const ResetCompletedMessage = "Password updated. All existing sessions have been terminated; please log in again."

// Service coordinates out-of-band tokens with the SMTP transport.
type Service struct {
	store     storage.Store
	oob       *auth.OOBIssuer
	hasher    auth.PasswordHasher
	mail      mailer.Mailer
	templates *mailer.Templates
	auditor   AuditReporter
	clock     auth.Clock
	logger    *slog.Logger
	clientURL string
}

func NewService(
	store storage.Store,
	oob *auth.OOBIssuer,
	hasher auth.PasswordHasher,
	mail mailer.Mailer,
	templates *mailer.Templates,
	auditor AuditReporter,
	clock auth.Clock,
	logger *slog.Logger,
	clientURL string,
) *Service {
	return &Service{
		store:     store,
		oob:       oob,
		hasher:    hasher,
		mail:      mail,
		templates: templates,
		auditor:   auditor,
		clock:     clock,
		logger:    logger,
		clientURL: clientURL,
	}
}

func displayName(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

// SendVerification mints a verification token for the user and mails the
// confirmation link.
func (s *Service) SendVerification(ctx context.Context, userID uuid.UUID, emailAddr string) error {
	var token storage.OOBToken
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		var err error
		token, err = s.oob.Mint(ctx, tx, userID, storage.OOBVerification)
		return err
	})
	if err != nil {
		return err
	}

	link := fmt.Sprintf("%s/verify-email?token=%s", s.clientURL, token.Token)
	subject, body, err := s.templates.Verification(mailer.TemplateData{
		Link:        link,
		DisplayName: displayName(emailAddr),
	})
	if err != nil {
		return err
	}

	if err := s.mail.Send(ctx, emailAddr, subject, body); err != nil {
		s.logger.Error("mail_dispatch_failed", "template", "verification", "error", err)
		return autherr.Wrap(autherr.KindDependency, ErrMailDispatch.Message, err)
	}

	s.auditor.Report(ctx, audit.Entry{
		UserID: &userID, Action: audit.VerificationEmailSent, Success: true,
	})
	return nil
}

// VerifyEmail consumes a verification token and flips emailVerified. The
// token row is deleted on success.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	var userID uuid.UUID
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		row, err := s.oob.Consume(ctx, tx, rawToken, storage.OOBVerification)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrOOBExpired):
				return ErrVerificationExpired
			case errors.Is(err, auth.ErrOOBNotFound), errors.Is(err, auth.ErrOOBUsed):
				return ErrVerificationInvalid
			default:
				return err
			}
		}

		user, err := tx.GetUserByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if user.EmailVerified {
			return ErrAlreadyVerified
		}

		if err := tx.SetEmailVerified(ctx, user.ID, true); err != nil {
			return err
		}
		if err := tx.DeleteOOBToken(ctx, row.ID); err != nil {
			return err
		}
		userID = user.ID
		return nil
	})
	if err != nil {
		return err
	}

	s.auditor.Report(ctx, audit.Entry{
		UserID: &userID, Action: audit.EmailVerified, Success: true,
	})
	return nil
}

// ResendVerification re-issues the confirmation mail for an existing,
// still-unverified user.
func (s *Service) ResendVerification(ctx context.Context, emailAddr string) error {
	user, err := s.store.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}
	return s.SendVerification(ctx, user.ID, user.Email)
}

// SendPasswordReset mints a reset token and mails the link. Unknown addresses
// get the identical response, so the endpoint cannot enumerate accounts.
func (s *Service) SendPasswordReset(ctx context.Context, emailAddr string, rctx auth.RequestContext) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ResetRequestMessage, nil
		}
		return "", err
	}

	var token storage.OOBToken
	err = s.store.WithTx(ctx, func(tx storage.Store) error {
		token, err = s.oob.Mint(ctx, tx, user.ID, storage.OOBPasswordReset)
		return err
	})
	if err != nil {
		return "", err
	}

	link := fmt.Sprintf("%s/reset-password?token=%s", s.clientURL, token.Token)
	subject, body, err := s.templates.PasswordReset(mailer.TemplateData{
		Link:        link,
		DisplayName: displayName(user.Email),
	})
	if err != nil {
		return "", err
	}

	if err := s.mail.Send(ctx, user.Email, subject, body); err != nil {
		s.logger.Error("mail_dispatch_failed", "template", "password_reset", "error", err)
		return "", autherr.Wrap(autherr.KindDependency, ErrMailDispatch.Message, err)
	}

	s.auditor.Report(ctx, audit.Entry{
		UserID: &user.ID, Action: audit.PasswordResetRequested,
		IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
	})
	s.auditor.Report(ctx, audit.Entry{
		UserID: &user.ID, Action: audit.ResetEmailSent, Success: true,
	})
	return ResetRequestMessage, nil
}

// ResetPassword consumes a reset token and applies the new hash. In the same
// transaction the lockout state is cleared, tokenVersion is bumped (globally
// invalidating every issued JWT) and all refresh tokens and sessions die.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string, rctx auth.RequestContext) (string, error) {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", autherr.Wrap(autherr.KindInternal, "password reset failed", err)
	}

	var userID uuid.UUID
	err = s.store.WithSerializable(ctx, func(tx storage.Store) error {
		row, err := s.oob.Consume(ctx, tx, rawToken, storage.OOBPasswordReset)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrOOBUsed):
				return ErrResetUsed
			case errors.Is(err, auth.ErrOOBExpired):
				return ErrResetExpired
			case errors.Is(err, auth.ErrOOBNotFound):
				return ErrResetInvalid
			default:
				return err
			}
		}

		if err := tx.MarkOOBTokenUsed(ctx, row.ID, s.clock.Now(), rctx.IP, rctx.UserAgent); err != nil {
			return err
		}
		if err := tx.ResetUserPassword(ctx, row.UserID, hash); err != nil {
			return err
		}
		if _, err := tx.DeleteRefreshTokensByUser(ctx, row.UserID); err != nil {
			return err
		}
		if _, err := tx.DeactivateSessionsByUser(ctx, row.UserID); err != nil {
			return err
		}
		userID = row.UserID
		return nil
	})
	if err != nil {
		return "", err
	}

	s.auditor.Report(ctx, audit.Entry{
		UserID: &userID, Action: audit.PasswordResetCompleted,
		IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
	})
	return ResetCompletedMessage, nil
}

// SendMagicLink renders and delivers a magic-link token minted by the auth
// service. isNewUser switches the greeting and security notice.
func (s *Service) SendMagicLink(ctx context.Context, emailAddr, token string, isNewUser bool) error {
	link := fmt.Sprintf("%s/magic-login?token=%s", s.clientURL, token)
	subject, body, err := s.templates.MagicLink(mailer.TemplateData{
		Link:        link,
		DisplayName: displayName(emailAddr),
		IsNewUser:   isNewUser,
	})
	if err != nil {
		return err
	}

	if err := s.mail.Send(ctx, emailAddr, subject, body); err != nil {
		s.logger.Error("mail_dispatch_failed", "template", "magic_link", "error", err)
		return autherr.Wrap(autherr.KindDependency, ErrMailDispatch.Message, err)
	}
	return nil
}
