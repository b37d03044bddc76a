package auth

import (
	"time"

	"github.com/aegis-id/aegis/internal/storage"
)

// Lockout policy. Transitions always run inside the same transaction as the
// password-check outcome so two concurrent failures cannot both slip past
// the threshold.
const (
	MaxFailedAttempts = 5
	LockDuration      = 30 * time.Minute
)

// IsLocked reports whether the user is currently locked out.
func IsLocked(u storage.User, now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// LockExpired reports whether a past lock is present and has elapsed.
func LockExpired(u storage.User, now time.Time) bool {
	return u.AccountLockedUntil != nil && !u.AccountLockedUntil.After(now)
}

// NextFailure computes the counter and lock state after one more failed
// attempt. lockedUntil is non-nil when the attempt crosses the threshold.
func NextFailure(attempts int, now time.Time) (int, *time.Time) {
	attempts++
	if attempts >= MaxFailedAttempts {
		until := now.Add(LockDuration)
		return attempts, &until
	}
	return attempts, nil
}
