package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/audit"
	"github.com/aegis-id/aegis/internal/autherr"
	"github.com/aegis-id/aegis/internal/storage"
)

// BulkDeleteConfirmation is the literal a client must echo before the
// everything-but-me wipe runs.
const BulkDeleteConfirmation = "DELETE_ALL_USERS"

var (
	ErrSelfTarget      = autherr.New(autherr.KindInput, "cannot perform this action on your own account")
	ErrBadConfirmation = autherr.New(autherr.KindInput, "confirmation phrase required")
)

// ListUsers returns a page of users for the admin console.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]UserSummary, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	users, total, err := s.store.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, Summarize(u))
	}
	return out, total, nil
}

// ChangeRole updates a user's role. Admins cannot change their own.
func (s *Service) ChangeRole(ctx context.Context, targetID uuid.UUID, newRole storage.Role, adminID uuid.UUID, rctx RequestContext) (UserSummary, error) {
	if targetID == adminID {
		return UserSummary{}, ErrSelfTarget
	}

	var updated storage.User
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		current, err := tx.GetUserByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updated, err = tx.UpdateUserRole(ctx, targetID, newRole)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			UserID:      &targetID,
			PerformedBy: &adminID,
			Action:      audit.RoleChanged,
			IP:          rctx.IP,
			UserAgent:   rctx.UserAgent,
			Metadata:    map[string]any{"oldRole": current.Role, "newRole": newRole},
			Success:     true,
		})
		return nil
	})
	if err != nil {
		return UserSummary{}, err
	}
	return Summarize(updated), nil
}

// DeleteUser removes a user and, by cascade, all their sessions and tokens.
// Admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, targetID, adminID uuid.UUID, rctx RequestContext) error {
	if targetID == adminID {
		return ErrSelfTarget
	}

	return s.store.WithTx(ctx, func(tx storage.Store) error {
		if _, err := tx.GetUserByID(ctx, targetID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Written before the delete: the cascade clears the row's user_id but
		// the metadata keeps the target pinned.
		s.recorder.Record(ctx, tx, audit.Entry{
			UserID:      &targetID,
			PerformedBy: &adminID,
			Action:      audit.UserDeleted,
			IP:          rctx.IP,
			UserAgent:   rctx.UserAgent,
			Metadata:    map[string]any{"deletedUserId": targetID},
			Success:     true,
		})

		return tx.DeleteUser(ctx, targetID)
	})
}

// DeleteAllNonAdmins wipes every non-admin account.
func (s *Service) DeleteAllNonAdmins(ctx context.Context, adminID uuid.UUID, rctx RequestContext) (int64, error) {
	var count int64
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		var err error
		count, err = tx.DeleteAllNonAdmins(ctx)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			PerformedBy: &adminID,
			Action:      audit.UsersBulkDeleted,
			IP:          rctx.IP,
			UserAgent:   rctx.UserAgent,
			Metadata:    map[string]any{"scope": "non_admins", "count": count},
			Success:     true,
		})
		return nil
	})
	return count, err
}

// DeleteAllUsers wipes every account except the caller's. The confirmation
// literal must match exactly.
func (s *Service) DeleteAllUsers(ctx context.Context, adminID uuid.UUID, confirmation string, rctx RequestContext) (int64, error) {
	if confirmation != BulkDeleteConfirmation {
		return 0, ErrBadConfirmation
	}

	var count int64
	err := s.store.WithTx(ctx, func(tx storage.Store) error {
		var err error
		count, err = tx.DeleteAllUsersExcept(ctx, adminID)
		if err != nil {
			return err
		}

		s.recorder.Record(ctx, tx, audit.Entry{
			PerformedBy: &adminID,
			Action:      audit.UsersBulkDeleted,
			IP:          rctx.IP,
			UserAgent:   rctx.UserAgent,
			Metadata:    map[string]any{"scope": "all_except_caller", "count": count},
			Success:     true,
		})
		return nil
	})
	return count, err
}
