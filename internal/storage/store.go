package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique-constraint violations (email, token).
	ErrConflict = errors.New("conflict")
)

// Store is the narrow transactional interface to the identity entities.
// Postgres implements it over pgx; memory.Store implements it for tests.
//
// WithSerializable runs fn against a SERIALIZABLE transaction-bound view of
// the store and retries on serialization failure. WithTx runs fn once at
// READ COMMITTED, without retries. Inside fn, only the passed-in store must
// be used.
type Store interface {
	UserStore
	SessionStore
	RefreshTokenStore
	OOBTokenStore
	AuditStore

	WithSerializable(ctx context.Context, fn func(Store) error) error
	WithTx(ctx context.Context, fn func(Store) error) error
}

type UserStore interface {
	CreateUser(ctx context.Context, arg CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]User, int, error)

	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
	RecordLoginFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error
	ClearLock(ctx context.Context, id uuid.UUID) error

	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error
	UpdateUserRole(ctx context.Context, id uuid.UUID, role Role) (User, error)
	UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error

	// ResetUserPassword swaps the hash, zeroes the lockout state and bumps
	// tokenVersion in one statement.
	ResetUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	AnonymizeUser(ctx context.Context, id uuid.UUID, email, passwordHash string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	DeleteAllNonAdmins(ctx context.Context) (int64, error)
	DeleteAllUsersExcept(ctx context.Context, keep uuid.UUID) (int64, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error)
	GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error)
	GetSessionByRefreshToken(ctx context.Context, token string) (Session, error)
	ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error)
	ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)

	RotateSessionToken(ctx context.Context, oldToken, newToken string, expiresAt, lastActivity time.Time) error
	DeactivateSession(ctx context.Context, id uuid.UUID) error
	DeactivateSessionByToken(ctx context.Context, token string) error
	DeactivateSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error)
	DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error
}

type RefreshTokenStore interface {
	CreateRefreshToken(ctx context.Context, arg CreateRefreshTokenParams) (RefreshToken, error)
	GetRefreshToken(ctx context.Context, token string) (RefreshToken, error)
	ListRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type OOBTokenStore interface {
	CreateOOBToken(ctx context.Context, arg CreateOOBTokenParams) (OOBToken, error)
	GetOOBToken(ctx context.Context, token string) (OOBToken, error)
	DeleteOOBToken(ctx context.Context, id uuid.UUID) error
	DeleteUnusedOOBTokens(ctx context.Context, userID uuid.UUID, kind OOBKind) error
	MarkOOBTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent string) error
	DeleteOOBTokensByUser(ctx context.Context, userID uuid.UUID) error

	// SweepOOBTokens deletes expired rows of every kind, plus used magic-link
	// rows older than usedRetention.
	SweepOOBTokens(ctx context.Context, now time.Time, usedRetention time.Duration) (int64, error)
}

type AuditStore interface {
	AppendAuditLog(ctx context.Context, arg AppendAuditLogParams) (AuditLog, error)
	ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLog, int, error)
	AnonymizeAuditLogs(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
