package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/notify"
	"github.com/aegis-id/aegis/internal/storage"
)

var (
	ErrEmailTaken       = autherr.New(autherr.KindConflict, "email already registered")
	ErrUserNotFound     = autherr.New(autherr.KindNotFound, "user not found")
	ErrInvalidPassword  = autherr.New(autherr.KindAuth, "invalid credentials")
	ErrEmailNotVerified = autherr.New(autherr.KindAuth, "email not verified")
	ErrRefreshNotFound  = autherr.New(autherr.KindAuth, "invalid or expired token")
	ErrRefreshExpired   = autherr.New(autherr.KindAuth, "invalid or expired token")
	ErrTokenInvalidated = autherr.New(autherr.KindAuth, "invalid or expired token")
)

// RequestContext carries the request metadata that flows into sessions and
// audit rows. Handlers build it once and pass it down explicitly.
type RequestContext struct {
	IP        string
	UserAgent string
}

// UserSummary is the client-safe projection of a user.
type UserSummary struct {
	ID            uuid.UUID    `json:"id"`
	Email         string       `json:"email"`
	Role          storage.Role `json:"role"`
	EmailVerified bool         `json:"emailVerified"`
	CreatedAt     time.Time    `json:"createdAt"`
}

func Summarize(u storage.User) UserSummary {
	return UserSummary{
		ID:            u.ID,
		Email:         u.Email,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

// LoginResult carries the freshly minted token pair.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         UserSummary
}

// UserClaims is what the auth middleware exposes to downstream handlers.
type UserClaims struct {
	UserID uuid.UUID
	Role   storage.Role
}

// Service orchestrates the authentication state machine.
// It is agnostic of HTTP transport (chi) and database implementation (pgx).
type Service struct {
	store    storage.Store
	hasher   PasswordHasher
	codec    *TokenCodec
	oob      *OOBIssuer
	recorder *audit.Recorder
	mail     notify.Sender
	clock    Clock
	logger   *slog.Logger
}

func NewService(
	store storage.Store,
	hasher PasswordHasher,
	codec *TokenCodec,
	oob *OOBIssuer,
	recorder *audit.Recorder,
	mail notify.Sender,
	clock Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		oob:      oob,
		recorder: recorder,
		mail:     mail,
		clock:    clock,
		logger:   logger,
	}
}

// Register creates an unverified user and kicks off the verification email.
// A failed dispatch is logged but never rolls back the registration.
func (s *Service) Register(ctx context.Context, email, password string, role storage.Role, rctx RequestContext) (UserSummary, error) {
	if role == "" {
		role = storage.RoleUser
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return UserSummary{}, autherr.Wrap(autherr.KindInternal, "registration failed", err)
	}

	var user storage.User
	err = s.store.WithTx(ctx, func(tx storage.Store) error {
		user, err = tx.CreateUser(ctx, storage.CreateUserParams{
			Email:        email,
			PasswordHash: hash,
			Role:         role,
		})
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrEmailTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID:    &user.ID,
			Action:    audit.UserRegister,
			IP:        rctx.IP,
			UserAgent: rctx.UserAgent,
			Metadata:  map[string]any{"email": user.Email},
			Success:   true,
		})
		return nil
	})
	if err != nil {
		return UserSummary{}, err
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mail.SendVerification(sendCtx, user.ID, user.Email); err != nil {
			s.logger.Error("verification_email_dispatch_failed", "user_id", user.ID, "error", err)
		}
	}()

	return Summarize(user), nil
}

// Login runs the credential state machine: lockout check, bcrypt compare,
// counter transition and token issuance, all in one serializable transaction.
func (s *Service) Login(ctx context.Context, email, password string, rctx RequestContext) (*LoginResult, error) {
	var result *LoginResult

	err := s.store.WithSerializable(ctx, func(tx storage.Store) error {
		now := s.clock.Now()

		user, err := tx.GetUserByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.recordLoginFailed(ctx, tx, nil, rctx, "user not found")
				return ErrUserNotFound
			}
			return err
		}

		if !user.EmailVerified {
			s.recordLoginFailed(ctx, tx, &user.ID, rctx, "email not verified")
			return ErrEmailNotVerified
		}

		if IsLocked(user, now) {
			s.recordLoginFailed(ctx, tx, &user.ID, rctx, "account locked")
			return autherr.Locked(*user.AccountLockedUntil)
		}
		if LockExpired(user, now) {
			if err := tx.ClearLock(ctx, user.ID); err != nil {
				return fmt.Errorf("failed to clear lock: %w", err)
			}
			user.FailedLoginAttempts = 0
			user.AccountLockedUntil = nil
			s.recorder.Record(ctx, tx, audit.Entry{
				UserID: &user.ID, Action: audit.AccountUnlocked,
				IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
			})
		}

		if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
			attempts, lockedUntil := NextFailure(user.FailedLoginAttempts, now)
			if err := tx.RecordLoginFailure(ctx, user.ID, attempts, lockedUntil); err != nil {
				return fmt.Errorf("failed to record login failure: %w", err)
			}
			if lockedUntil != nil {
				s.recorder.Record(ctx, tx, audit.Entry{
					UserID: &user.ID, Action: audit.AccountLocked,
					IP: rctx.IP, UserAgent: rctx.UserAgent,
					Metadata: map[string]any{"lockedUntil": lockedUntil, "attempts": attempts},
					Success:  true,
				})
				return autherr.Locked(*lockedUntil)
			}
			s.recordLoginFailed(ctx, tx, &user.ID, rctx, "invalid credentials")
			return ErrInvalidPassword
		}

		if err := tx.RecordLoginSuccess(ctx, user.ID, now, rctx.IP); err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}

		result, err = s.issueTokens(ctx, tx, user, rctx)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &user.ID, Action: audit.UserLogin,
			IP: rctx.IP, UserAgent: rctx.UserAgent,
			Metadata: map[string]any{"method": "password"},
			Success:  true,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh rotates a refresh token: the old token dies and its session row is
// kept, now carrying the new refresh token; the new pair is minted with the
// user's current role and tokenVersion.
func (s *Service) Refresh(ctx context.Context, refreshToken string, rctx RequestContext) (*LoginResult, error) {
	var result *LoginResult

	err := s.store.WithSerializable(ctx, func(tx storage.Store) error {
		now := s.clock.Now()

		row, err := tx.GetRefreshToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrRefreshNotFound
			}
			return err
		}

		if row.ExpiresAt.Before(now) {
			if err := tx.DeleteRefreshToken(ctx, refreshToken); err != nil {
				return err
			}
			if err := tx.DeactivateSessionByToken(ctx, refreshToken); err != nil {
				return err
			}
			return ErrRefreshExpired
		}

		user, err := tx.GetUserByID(ctx, row.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		claims, err := s.codec.Verify(refreshToken, TokenRefresh)
		if err != nil || claims.TokenVersion != user.TokenVersion {
			if err := tx.DeleteRefreshToken(ctx, refreshToken); err != nil {
				return err
			}
			if err := tx.DeactivateSessionByToken(ctx, refreshToken); err != nil {
				return err
			}
			return ErrTokenInvalidated
		}

		if err := tx.DeleteRefreshToken(ctx, refreshToken); err != nil {
			return err
		}

		accessToken, _, err := s.codec.Sign(TokenAccess, user.ID, user.Role, user.TokenVersion)
		if err != nil {
			return err
		}
		newRefresh, refreshExpiry, err := s.codec.Sign(TokenRefresh, user.ID, user.Role, user.TokenVersion)
		if err != nil {
			return err
		}

		if _, err := tx.CreateRefreshToken(ctx, storage.CreateRefreshTokenParams{
			UserID:    user.ID,
			Token:     newRefresh,
			ExpiresAt: refreshExpiry,
		}); err != nil {
			return fmt.Errorf("failed to store rotated token: %w", err)
		}

		// The session carries over: same row, new credential.
		err = tx.RotateSessionToken(ctx, refreshToken, newRefresh, refreshExpiry, now)
		if errors.Is(err, storage.ErrNotFound) {
			_, err = s.createSession(ctx, tx, user.ID, newRefresh, refreshExpiry, rctx)
		}
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: &user.ID, Action: audit.TokenRefreshed,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})

		result = &LoginResult{
			AccessToken:  accessToken,
			RefreshToken: newRefresh,
			ExpiresAt:    refreshExpiry,
			User:         Summarize(user),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logout revokes the presented refresh token. Unknown and absent tokens
// succeed: logout is idempotent.
func (s *Service) Logout(ctx context.Context, refreshToken string, rctx RequestContext) error {
	return s.store.WithTx(ctx, func(tx storage.Store) error {
		var userID *uuid.UUID
		if refreshToken != "" {
			if row, err := tx.GetRefreshToken(ctx, refreshToken); err == nil {
				userID = &row.UserID
			}
			if err := tx.DeleteRefreshToken(ctx, refreshToken); err != nil {
				return err
			}
			if err := tx.DeactivateSessionByToken(ctx, refreshToken); err != nil {
				return err
			}
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID: userID, Action: audit.UserLogout,
			IP: rctx.IP, UserAgent: rctx.UserAgent, Success: true,
		})
		return nil
	})
}

// VerifyAccess is the middleware contract: signature check, then a live
// tokenVersion comparison against the stored user.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (UserClaims, error) {
	claims, err := s.codec.Verify(accessToken, TokenAccess)
	if err != nil {
		return UserClaims{}, autherr.Wrap(autherr.KindAuth, "invalid or expired token", err)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return UserClaims{}, ErrUserNotFound
		}
		return UserClaims{}, err
	}

	if claims.TokenVersion != user.TokenVersion {
		return UserClaims{}, ErrTokenInvalidated
	}

	return UserClaims{UserID: user.ID, Role: user.Role}, nil
}

// Profile returns the caller's own summary.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (UserSummary, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return UserSummary{}, ErrUserNotFound
		}
		return UserSummary{}, err
	}
	return Summarize(user), nil
}

// issueTokens mints the pair and persists the refresh row plus session.
func (s *Service) issueTokens(ctx context.Context, tx storage.Store, user storage.User, rctx RequestContext) (*LoginResult, error) {
	accessToken, _, err := s.codec.Sign(TokenAccess, user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, err
	}
	refreshToken, refreshExpiry, err := s.codec.Sign(TokenRefresh, user.ID, user.Role, user.TokenVersion)
	if err != nil {
		return nil, err
	}

	if _, err := tx.CreateRefreshToken(ctx, storage.CreateRefreshTokenParams{
		UserID:    user.ID,
		Token:     refreshToken,
		ExpiresAt: refreshExpiry,
	}); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if _, err := s.createSession(ctx, tx, user.ID, refreshToken, refreshExpiry, rctx); err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    refreshExpiry,
		User:         Summarize(user),
	}, nil
}

func (s *Service) createSession(ctx context.Context, tx storage.Store, userID uuid.UUID, refreshToken string, expiresAt time.Time, rctx RequestContext) (storage.Session, error) {
	device := ParseUserAgent(rctx.UserAgent)

	sess, err := tx.CreateSession(ctx, storage.CreateSessionParams{
		UserID:       userID,
		RefreshToken: refreshToken,
		DeviceType:   optional(device.DeviceType),
		Browser:      optional(device.Browser),
		OS:           optional(device.OS),
		IPAddress:    optional(rctx.IP),
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return storage.Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

func (s *Service) recordLoginFailed(ctx context.Context, tx storage.Store, userID *uuid.UUID, rctx RequestContext, reason string) {
	s.recorder.Record(ctx, tx, audit.Entry{
		UserID:       userID,
		Action:       audit.LoginFailed,
		IP:           rctx.IP,
		UserAgent:    rctx.UserAgent,
		Success:      false,
		ErrorMessage: reason,
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
