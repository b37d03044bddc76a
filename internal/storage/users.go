package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, role, email_verified, failed_login_attempts,
	account_locked_until, token_version, last_login_at, last_login_ip, created_at, updated_at`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.EmailVerified, &u.FailedLoginAttempts,
		&u.AccountLockedUntil, &u.TokenVersion, &u.LastLoginAt, &u.LastLoginIP, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, mapError(err)
}

func (p *Postgres) CreateUser(ctx context.Context, arg CreateUserParams) (User, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, email_verified)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		strings.ToLower(arg.Email), arg.PasswordHash, arg.Role, arg.EmailVerified)
	return scanUser(row)
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := p.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email))
	return scanUser(row)
}

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := p.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *Postgres) ListUsers(ctx context.Context, limit, offset int) ([]User, int, error) {
	var total int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	rows, err := p.db.Query(ctx, `
		SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, mapError(rows.Err())
}

func (p *Postgres) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, account_locked_until = NULL,
			last_login_at = $2, last_login_ip = $3, updated_at = now()
		WHERE id = $1`, id, at, ip)
	return mapError(err)
}

func (p *Postgres) RecordLoginFailure(ctx context.Context, id uuid.UUID, attempts int, lockedUntil *time.Time) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = $2, account_locked_until = $3, updated_at = now()
		WHERE id = $1`, id, attempts, lockedUntil)
	return mapError(err)
}

func (p *Postgres) ClearLock(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET failed_login_attempts = 0, account_locked_until = NULL, updated_at = now()
		WHERE id = $1`, id)
	return mapError(err)
}

func (p *Postgres) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET email_verified = $2, updated_at = now() WHERE id = $1`, id, verified)
	return mapError(err)
}

func (p *Postgres) UpdateUserRole(ctx context.Context, id uuid.UUID, role Role) (User, error) {
	row := p.db.QueryRow(ctx, `
		UPDATE users SET role = $2, updated_at = now() WHERE id = $1
		RETURNING `+userColumns, id, role)
	return scanUser(row)
}

func (p *Postgres) UpdateUserEmail(ctx context.Context, id uuid.UUID, email string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET email = $2, email_verified = FALSE, updated_at = now()
		WHERE id = $1`, id, strings.ToLower(email))
	return mapError(err)
}

func (p *Postgres) ResetUserPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET password_hash = $2, failed_login_attempts = 0,
			account_locked_until = NULL, token_version = token_version + 1, updated_at = now()
		WHERE id = $1`, id, passwordHash)
	return mapError(err)
}

func (p *Postgres) AnonymizeUser(ctx context.Context, id uuid.UUID, email, passwordHash string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE users SET email = $2, password_hash = $3, email_verified = FALSE,
			failed_login_attempts = 0, account_locked_until = NULL,
			last_login_at = NULL, last_login_ip = NULL, updated_at = now()
		WHERE id = $1`, id, email, passwordHash)
	return mapError(err)
}

func (p *Postgres) DeleteUser(ctx context.Context, id uuid.UUID) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteAllNonAdmins(ctx context.Context) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM users WHERE role <> $1`, RoleAdmin)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeleteAllUsersExcept(ctx context.Context, keep uuid.UUID) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM users WHERE id <> $1`, keep)
	return tag.RowsAffected(), mapError(err)
}
