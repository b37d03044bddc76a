// Package memory provides an in-memory storage.Store used by the test suites.
// Transactions are modelled as a store-wide mutex; rollback is not simulated.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-id/aegis/internal/storage"
)

type data struct {
	users    map[uuid.UUID]storage.User
	sessions map[uuid.UUID]storage.Session
	refresh  map[string]storage.RefreshToken
	oob      map[string]storage.OOBToken
	audits   []storage.AuditLog
}

// Store implements storage.Store in memory.
type Store struct {
	mu   *sync.Mutex
	inTx bool
	d    *data
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		d: &data{
			users:    make(map[uuid.UUID]storage.User),
			sessions: make(map[uuid.UUID]storage.Session),
			refresh:  make(map[string]storage.RefreshToken),
			oob:      make(map[string]storage.OOBToken),
		},
	}
}

func (s *Store) enter() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) WithSerializable(ctx context.Context, fn func(storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Store{mu: s.mu, inTx: true, d: s.d})
}

func (s *Store) WithTx(ctx context.Context, fn func(storage.Store) error) error {
	return s.WithSerializable(ctx, fn)
}

// Users

func (s *Store) CreateUser(ctx context.Context, arg storage.CreateUserParams) (storage.User, error) {
	defer s.enter()()
	email := strings.ToLower(arg.Email)
	for _, u := range s.d.users {
		if u.Email == email {
			return storage.User{}, storage.ErrConflict
		}
	}
	now := time.Now().UTC()
	u := storage.User{
		ID:            uuid.New(),
		Email:         email,
		PasswordHash:  arg.PasswordHash,
		Role:          arg.Role,
		EmailVerified: arg.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.d.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.User, error) {
	defer s.enter()()
	email = strings.ToLower(email)
	for _, u := range s.d.users {
		if u.Email == email {
			return u, nil
		}
	}
	return storage.User{}, storage.ErrNotFound
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (storage.User, error) {
	defer s.enter()()
	u, ok := s.d.users[id]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]storage.User, int, error) {
	defer s.enter()()
	all := make([]storage.User, 0, len(s.d.users))
	for _, u := range s.d.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) mutateUser(id uuid.UUID, fn func(*storage.User)) error {
	u, ok := s.d.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.d.users[id] = u
	return nil
}

func (s *Store) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
		u.LastLoginAt = &at
		u.LastLoginIP = &ip
	})
}

func (s *Store) RecordLoginFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.FailedLoginAttempts = attempts
		u.AccountLockedUntil = lockedUntil
	})
}

func (s *Store) ClearLock(ctx context.Context, id uuid.UUID) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
	})
}

func (s *Store) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) { u.EmailVerified = verified })
}

func (s *Store) UpdateUserRole(ctx context.Context, id uuid.UUID, role storage.Role) (storage.User, error) {
	defer s.enter()()
	if err := s.mutateUser(id, func(u *storage.User) { u.Role = role }); err != nil {
		return storage.User{}, err
	}
	return s.d.users[id], nil
}

func (s *Store) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.Email = strings.ToLower(email)
		u.EmailVerified = false
	})
}

func (s *Store) ResetUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.PasswordHash = passwordHash
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
		u.TokenVersion++
	})
}

func (s *Store) AnonymizeUser(ctx context.Context, id uuid.UUID, email, passwordHash string) error {
	defer s.enter()()
	return s.mutateUser(id, func(u *storage.User) {
		u.Email = email
		u.PasswordHash = passwordHash
		u.EmailVerified = false
		u.FailedLoginAttempts = 0
		u.AccountLockedUntil = nil
		u.LastLoginAt = nil
		u.LastLoginIP = nil
	})
}

func (s *Store) deleteUserCascade(id uuid.UUID) {
	delete(s.d.users, id)
	for sid, sess := range s.d.sessions {
		if sess.UserID == id {
			delete(s.d.sessions, sid)
		}
	}
	for tok, rt := range s.d.refresh {
		if rt.UserID == id {
			delete(s.d.refresh, tok)
		}
	}
	for tok, ot := range s.d.oob {
		if ot.UserID == id {
			delete(s.d.oob, tok)
		}
	}
}

func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	defer s.enter()()
	if _, ok := s.d.users[id]; !ok {
		return storage.ErrNotFound
	}
	s.deleteUserCascade(id)
	return nil
}

func (s *Store) DeleteAllNonAdmins(ctx context.Context) (int64, error) {
	defer s.enter()()
	var n int64
	for id, u := range s.d.users {
		if u.Role != storage.RoleAdmin {
			s.deleteUserCascade(id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAllUsersExcept(ctx context.Context, keep uuid.UUID) (int64, error) {
	defer s.enter()()
	var n int64
	for id := range s.d.users {
		if id != keep {
			s.deleteUserCascade(id)
			n++
		}
	}
	return n, nil
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, arg storage.CreateSessionParams) (storage.Session, error) {
	defer s.enter()()
	for _, sess := range s.d.sessions {
		if sess.RefreshToken == arg.RefreshToken {
			return storage.Session{}, storage.ErrConflict
		}
	}
	now := time.Now().UTC()
	sess := storage.Session{
		ID:             uuid.New(),
		UserID:         arg.UserID,
		RefreshToken:   arg.RefreshToken,
		DeviceName:     arg.DeviceName,
		DeviceType:     arg.DeviceType,
		Browser:        arg.Browser,
		OS:             arg.OS,
		IPAddress:      arg.IPAddress,
		Country:        arg.Country,
		City:           arg.City,
		IsActive:       true,
		LastActivityAt: now,
		CreatedAt:      now,
		ExpiresAt:      arg.ExpiresAt,
	}
	s.d.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSessionByID(ctx context.Context, id uuid.UUID) (storage.Session, error) {
	defer s.enter()()
	sess, ok := s.d.sessions[id]
	if !ok {
		return storage.Session{}, storage.ErrNotFound
	}
	return sess, nil
}

func (s *Store) GetSessionByRefreshToken(ctx context.Context, token string) (storage.Session, error) {
	defer s.enter()()
	for _, sess := range s.d.sessions {
		if sess.RefreshToken == token {
			return sess, nil
		}
	}
	return storage.Session{}, storage.ErrNotFound
}

func (s *Store) ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]storage.Session, error) {
	defer s.enter()()
	var out []storage.Session
	for _, sess := range s.d.sessions {
		if sess.UserID == userID && sess.IsActive && !sess.ExpiresAt.Before(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	return out, nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]storage.Session, error) {
	defer s.enter()()
	var out []storage.Session
	for _, sess := range s.d.sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RotateSessionToken(ctx context.Context, oldToken, newToken string, expiresAt, lastActivity time.Time) error {
	defer s.enter()()
	for id, sess := range s.d.sessions {
		if sess.RefreshToken == oldToken && sess.IsActive {
			sess.RefreshToken = newToken
			sess.ExpiresAt = expiresAt
			sess.LastActivityAt = lastActivity
			s.d.sessions[id] = sess
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	defer s.enter()()
	sess, ok := s.d.sessions[id]
	if !ok {
		return nil
	}
	sess.IsActive = false
	s.d.sessions[id] = sess
	return nil
}

func (s *Store) DeactivateSessionByToken(ctx context.Context, token string) error {
	defer s.enter()()
	for id, sess := range s.d.sessions {
		if sess.RefreshToken == token {
			sess.IsActive = false
			s.d.sessions[id] = sess
		}
	}
	return nil
}

func (s *Store) DeactivateSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.enter()()
	var n int64
	for id, sess := range s.d.sessions {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			s.d.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	defer s.enter()()
	var n int64
	for id, sess := range s.d.sessions {
		if sess.UserID == userID && sess.IsActive && sess.RefreshToken != keepToken {
			sess.IsActive = false
			s.d.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	defer s.enter()()
	var n int64
	for id, sess := range s.d.sessions {
		if sess.IsActive && sess.ExpiresAt.Before(now) {
			sess.IsActive = false
			s.d.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error {
	defer s.enter()()
	for id, sess := range s.d.sessions {
		if sess.UserID == userID {
			delete(s.d.sessions, id)
		}
	}
	return nil
}

// Refresh tokens

func (s *Store) CreateRefreshToken(ctx context.Context, arg storage.CreateRefreshTokenParams) (storage.RefreshToken, error) {
	defer s.enter()()
	if _, ok := s.d.refresh[arg.Token]; ok {
		return storage.RefreshToken{}, storage.ErrConflict
	}
	t := storage.RefreshToken{
		ID:        uuid.New(),
		UserID:    arg.UserID,
		Token:     arg.Token,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	s.d.refresh[t.Token] = t
	return t, nil
}

func (s *Store) GetRefreshToken(ctx context.Context, token string) (storage.RefreshToken, error) {
	defer s.enter()()
	t, ok := s.d.refresh[token]
	if !ok {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]storage.RefreshToken, error) {
	defer s.enter()()
	var out []storage.RefreshToken
	for _, t := range s.d.refresh {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	defer s.enter()()
	delete(s.d.refresh, token)
	return nil
}

func (s *Store) DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.enter()()
	var n int64
	for tok, t := range s.d.refresh {
		if t.UserID == userID {
			delete(s.d.refresh, tok)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	defer s.enter()()
	var n int64
	for tok, t := range s.d.refresh {
		if t.UserID == userID && tok != keepToken {
			delete(s.d.refresh, tok)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	defer s.enter()()
	var n int64
	for tok, t := range s.d.refresh {
		if t.ExpiresAt.Before(now) {
			delete(s.d.refresh, tok)
			n++
		}
	}
	return n, nil
}

// Out-of-band tokens

func (s *Store) CreateOOBToken(ctx context.Context, arg storage.CreateOOBTokenParams) (storage.OOBToken, error) {
	defer s.enter()()
	if _, ok := s.d.oob[arg.Token]; ok {
		return storage.OOBToken{}, storage.ErrConflict
	}
	t := storage.OOBToken{
		ID:        uuid.New(),
		Kind:      arg.Kind,
		Token:     arg.Token,
		UserID:    arg.UserID,
		ExpiresAt: arg.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	s.d.oob[t.Token] = t
	return t, nil
}

func (s *Store) GetOOBToken(ctx context.Context, token string) (storage.OOBToken, error) {
	defer s.enter()()
	t, ok := s.d.oob[token]
	if !ok {
		return storage.OOBToken{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) DeleteOOBToken(ctx context.Context, id uuid.UUID) error {
	defer s.enter()()
	for tok, t := range s.d.oob {
		if t.ID == id {
			delete(s.d.oob, tok)
		}
	}
	return nil
}

func (s *Store) DeleteUnusedOOBTokens(ctx context.Context, userID uuid.UUID, kind storage.OOBKind) error {
	defer s.enter()()
	for tok, t := range s.d.oob {
		if t.UserID == userID && t.Kind == kind && !t.Used {
			delete(s.d.oob, tok)
		}
	}
	return nil
}

func (s *Store) MarkOOBTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent string) error {
	defer s.enter()()
	for tok, t := range s.d.oob {
		if t.ID == id {
			t.Used = true
			t.UsedAt = &usedAt
			t.IPAddress = &ip
			t.UserAgent = &userAgent
			s.d.oob[tok] = t
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) DeleteOOBTokensByUser(ctx context.Context, userID uuid.UUID) error {
	defer s.enter()()
	for tok, t := range s.d.oob {
		if t.UserID == userID {
			delete(s.d.oob, tok)
		}
	}
	return nil
}

func (s *Store) SweepOOBTokens(ctx context.Context, now time.Time, usedRetention time.Duration) (int64, error) {
	defer s.enter()()
	var n int64
	for tok, t := range s.d.oob {
		expired := t.ExpiresAt.Before(now)
		staleUsed := t.Kind == storage.OOBMagicLink && t.Used && t.UsedAt != nil && t.UsedAt.Before(now.Add(-usedRetention))
		if expired || staleUsed {
			delete(s.d.oob, tok)
			n++
		}
	}
	return n, nil
}

// FindOOBToken returns the newest token for (user, kind). Test helper; not
// part of storage.Store.
func (s *Store) FindOOBToken(ctx context.Context, userID uuid.UUID, kind storage.OOBKind) (storage.OOBToken, error) {
	defer s.enter()()
	var (
		found storage.OOBToken
		ok    bool
	)
	for _, t := range s.d.oob {
		if t.UserID == userID && t.Kind == kind {
			if !ok || t.CreatedAt.After(found.CreatedAt) {
				found = t
				ok = true
			}
		}
	}
	if !ok {
		return storage.OOBToken{}, storage.ErrNotFound
	}
	return found, nil
}

// Audit logs

func (s *Store) AppendAuditLog(ctx context.Context, arg storage.AppendAuditLogParams) (storage.AuditLog, error) {
	defer s.enter()()
	metadata := arg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	a := storage.AuditLog{
		ID:           uuid.New(),
		UserID:       arg.UserID,
		PerformedBy:  arg.PerformedBy,
		Action:       arg.Action,
		Resource:     arg.Resource,
		IPAddress:    arg.IPAddress,
		UserAgent:    arg.UserAgent,
		Metadata:     metadata,
		Success:      arg.Success,
		ErrorMessage: arg.ErrorMessage,
		CreatedAt:    time.Now().UTC(),
	}
	s.d.audits = append(s.d.audits, a)
	return a, nil
}

func (s *Store) ListAuditLogs(ctx context.Context, filter storage.AuditLogFilter) ([]storage.AuditLog, int, error) {
	defer s.enter()()
	var matched []storage.AuditLog
	for _, a := range s.d.audits {
		if filter.UserID != nil && (a.UserID == nil || *a.UserID != *filter.UserID) {
			continue
		}
		if filter.Action != "" && a.Action != filter.Action {
			continue
		}
		if filter.Success != nil && a.Success != *filter.Success {
			continue
		}
		if filter.From != nil && a.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && a.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	offset := filter.Offset
	if offset >= total {
		return nil, total, nil
	}
	end := offset + filter.Limit
	if filter.Limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *Store) AnonymizeAuditLogs(ctx context.Context, userID uuid.UUID) (int64, error) {
	defer s.enter()()
	sentinel := "anonymized"
	var n int64
	for i, a := range s.d.audits {
		if a.UserID != nil && *a.UserID == userID {
			a.Resource = &sentinel
			a.IPAddress = &sentinel
			a.UserAgent = &sentinel
			a.Metadata = map[string]any{"anonymized": true}
			s.d.audits[i] = a
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.enter()()
	kept := s.d.audits[:0]
	var n int64
	for _, a := range s.d.audits {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.d.audits = kept
	return n, nil
}
