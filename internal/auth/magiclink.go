package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/storage"
)

var (
	ErrMagicLinkInvalid = autherr.New(autherr.KindAuth, "invalid magic link")
	ErrMagicLinkExpired = autherr.New(autherr.KindAuth, "magic link expired, request a new one")
	ErrMagicLinkUsed    = autherr.New(autherr.KindAuth, "magic link already used")
)

// MagicLinkMessage is the uniform response for every magic-link request so
// the endpoint cannot be used to probe which addresses have accounts.
const MagicLinkMessage = "If the email address is valid, a magic link has been sent."

// RequestMagicLink mints a one-shot login token and hands it to the email
// service. Unknown addresses silently become unverified accounts.
func (s *Service) RequestMagicLink(ctx context.Context, email string, rctx RequestContext) (string, error) {
	var (
		user      storage.User
		token     storage.OOBToken
		isNewUser bool
	)

	err := s.store.WithSerializable(ctx, func(tx storage.Store) error {
		var err error
		user, err = tx.GetUserByEmail(ctx, email)
		if errors.Is(err, storage.ErrNotFound) {
			// Passwordless signup: the placeholder hash is random and never
			// disclosed, so the account stays magic-link-only until a reset.
			secret, err := GenerateSecureToken(32)
			if err != nil {
				return err
			}
			hash, err := s.hasher.Hash(secret)
			if err != nil {
				return err
			}
			user, err = tx.CreateUser(ctx, storage.CreateUserParams{
				Email:        email,
				PasswordHash: hash,
				Role:         storage.RoleUser,
			})
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			isNewUser = true

			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: &user.ID, Action: audit.UserRegister,
				IP: rctx.IP, UserAgent: rctx.UserAgent,
				Metadata: map[string]any{"method": "magic_link"},
				Success:  true,
			})
		} else if err != nil {
			return err
		}

		if IsLocked(user, s.clock.Now()) {
			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: &user.ID, Action: audit.MagicLinkFailed,
				IP: rctx.IP, UserAgent: rctx.UserAgent,
				Success: false, ErrorMessage: "account locked",
			})
			return autherr.Locked(*user.AccountLockedUntil)
		}

		token, err = s.oob.Mint(ctx, tx, user.ID, storage.OOBMagicLink)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &user.ID, Action: audit.MagicLinkRequested,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"isNewUser": isNewUser},
			Success:  true,
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := s.mail.SendMagicLink(ctx, user.Email, token.Token, isNewUser); err != nil {
		s.logger.Error("magic_link_dispatch_failed", "user_id", user.ID, "error", err)
		return "", autherr.Wrap(autherr.KindDependency, "failed to send magic link", err)
	}

	s.store.WithTx(ctx, func(tx storage.Store) error { //nolint:errcheck
		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &user.ID, Action: audit.MagicLinkSent,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})
		return nil
	})

	return MagicLinkMessage, nil
}

// RedeemMagicLink consumes a magic-link token, verifying the email address
// as a side effect, and logs the holder in.
func (s *Service) RedeemMagicLink(ctx context.Context, rawToken string, rctx RequestContext) (*LoginResult, error) {
	var result *LoginResult

	err := s.store.WithSerializable(ctx, func(tx storage.Store) error {
		now := s.clock.Now()

		row, err := s.oob.Consume(ctx, tx, rawToken, storage.OOBMagicLink)
		if err != nil {
			var userID *uuid.UUID
			if row.UserID != uuid.Nil {
				userID = &row.UserID
			}
			flowErr := ErrMagicLinkInvalid
			switch {
			case errors.Is(err, ErrOOBUsed):
				flowErr = ErrMagicLinkUsed
			case errors.Is(err, ErrOOBExpired):
				flowErr = ErrMagicLinkExpired
			case errors.Is(err, ErrOOBNotFound):
			default:
				return err
			}
			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: userID, Action: audit.MagicLinkFailed,
				IP: rctx.IP, UserAgent: rctx.UserAgent,
				Success: false, ErrorMessage: flowErr.Message,
			})
			return flowErr
		}

		user, err := tx.GetUserByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if IsLocked(user, now) {
			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: &user.ID, Action: audit.MagicLinkFailed,
				IP: rctx.IP, UserAgent: rctx.UserAgent,
				Success: false, ErrorMessage: "account locked",
			})
			return autherr.Locked(*user.AccountLockedUntil)
		}

		if err := tx.MarkOOBTokenUsed(ctx, row.ID, now, rctx.IP, rctx.UserAgent); err != nil {
			return err
		}

		// Possession of the link proves control of the mailbox.
		if !user.EmailVerified {
			if err := tx.SetEmailVerified(ctx, user.ID, true); err != nil {
				return err
			}
			user.EmailVerified = true
		}
		if err := tx.RecordLoginSuccess(ctx, user.ID, now, rctx.IP); err != nil {
			return err
		}

		result, err = s.issueTokens(ctx, tx, user, rctx)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &user.ID, Action: audit.MagicLinkLogin,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
