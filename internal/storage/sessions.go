package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const sessionColumns = `id, user_id, refresh_token, device_name, device_type, browser, os,
	ip_address, country, city, is_active, last_activity_at, created_at, expires_at`

func scanSession(row interface{ Scan(dest ...any) error }) (Session, error) {
	var s Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.RefreshToken, &s.DeviceName, &s.DeviceType, &s.Browser, &s.OS,
		&s.IPAddress, &s.Country, &s.City, &s.IsActive, &s.LastActivityAt, &s.CreatedAt, &s.ExpiresAt,
	)
	return s, mapError(err)
}

func (p *Postgres) CreateSession(ctx context.Context, arg CreateSessionParams) (Session, error) {
	row := p.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, refresh_token, device_name, device_type, browser, os,
			ip_address, country, city, is_active, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, now(), $10)
		RETURNING `+sessionColumns,
		arg.UserID, arg.RefreshToken, arg.DeviceName, arg.DeviceType, arg.Browser, arg.OS,
		arg.IPAddress, arg.Country, arg.City, arg.ExpiresAt)
	return scanSession(row)
}

func (p *Postgres) GetSessionByID(ctx context.Context, id uuid.UUID) (Session, error) {
	row := p.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (p *Postgres) GetSessionByRefreshToken(ctx context.Context, token string) (Session, error) {
	row := p.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = $1`, token)
	return scanSession(row)
}

func (p *Postgres) ListActiveSessions(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND is_active = TRUE AND expires_at >= $2
		ORDER BY last_activity_at DESC`, userID, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, mapError(rows.Err())
}

func (p *Postgres) ListSessionsByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, mapError(rows.Err())
}

func (p *Postgres) RotateSessionToken(ctx context.Context, oldToken, newToken string, expiresAt, lastActivity time.Time) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions SET refresh_token = $2, expires_at = $3, last_activity_at = $4
		WHERE refresh_token = $1 AND is_active = TRUE`, oldToken, newToken, expiresAt, lastActivity)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE id = $1`, id)
	return mapError(err)
}

func (p *Postgres) DeactivateSessionByToken(ctx context.Context, token string) error {
	_, err := p.db.Exec(ctx, `UPDATE sessions SET is_active = FALSE WHERE refresh_token = $1`, token)
	return mapError(err)
}

func (p *Postgres) DeactivateSessionsByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE`, userID)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeactivateOtherSessions(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE AND refresh_token <> $2`, userID, keepToken)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeactivateExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE sessions SET is_active = FALSE WHERE is_active = TRUE AND expires_at < $1`, now)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeleteSessionsByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return mapError(err)
}
