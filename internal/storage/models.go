package storage

import (
	"time"

	"github.com/google/uuid"
)

// Role is the access level of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// OOBKind distinguishes the single-use out-of-band token families.
type OOBKind string

const (
	OOBVerification  OOBKind = "VERIFICATION"
	OOBPasswordReset OOBKind = "PASSWORD_RESET"
	OOBMagicLink     OOBKind = "MAGIC_LINK"
)

// User is the identity root.
type User struct {
	ID                  uuid.UUID
	Email               string
	PasswordHash        string
	Role                Role
	EmailVerified       bool
	FailedLoginAttempts int
	AccountLockedUntil  *time.Time
	TokenVersion        int
	LastLoginAt         *time.Time
	LastLoginIP         *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Session records one refresh-token-bearing login.
type Session struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	RefreshToken   string
	DeviceName     *string
	DeviceType     *string
	Browser        *string
	OS             *string
	IPAddress      *string
	Country        *string
	City           *string
	IsActive       bool
	LastActivityAt time.Time
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// RefreshToken is the bare credential index alongside Session.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// OOBToken is a single-use out-of-band credential (verification, password
// reset or magic link). Verification tokens are consumed by deletion; the
// other kinds flip Used and are retained for audit until swept.
type OOBToken struct {
	ID        uuid.UUID
	Kind      OOBKind
	Token     string
	UserID    uuid.UUID
	Used      bool
	UsedAt    *time.Time
	IPAddress *string
	UserAgent *string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// AuditLog is an append-only record of a state transition.
type AuditLog struct {
	ID           uuid.UUID      `json:"id"`
	UserID       *uuid.UUID     `json:"userId,omitempty"`
	PerformedBy  *uuid.UUID     `json:"performedBy,omitempty"`
	Action       string         `json:"action"`
	Resource     *string        `json:"resource,omitempty"`
	IPAddress    *string        `json:"ipAddress,omitempty"`
	UserAgent    *string        `json:"userAgent,omitempty"`
	Metadata     map[string]any `json:"metadata"`
	Success      bool           `json:"success"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

type CreateUserParams struct {
	Email         string
	PasswordHash  string
	Role          Role
	EmailVerified bool
}

type CreateSessionParams struct {
	UserID       uuid.UUID
	RefreshToken string
	DeviceName   *string
	DeviceType   *string
	Browser      *string
	OS           *string
	IPAddress    *string
	Country      *string
	City         *string
	ExpiresAt    time.Time
}

type CreateRefreshTokenParams struct {
	UserID    uuid.UUID
	Token     string
	ExpiresAt time.Time
}

type CreateOOBTokenParams struct {
	Kind      OOBKind
	Token     string
	UserID    uuid.UUID
	ExpiresAt time.Time
}

type AppendAuditLogParams struct {
	UserID       *uuid.UUID
	PerformedBy  *uuid.UUID
	Action       string
	Resource     *string
	IPAddress    *string
	UserAgent    *string
	Metadata     map[string]any
	Success      bool
	ErrorMessage *string
}

// AuditLogFilter narrows the admin audit query. Zero values mean "any".
type AuditLogFilter struct {
	UserID  *uuid.UUID
	Action  string
	Success *bool
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}
