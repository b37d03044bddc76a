package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
)

func (p *Postgres) CreateRefreshToken(ctx context.Context, arg CreateRefreshTokenParams) (RefreshToken, error) {
	var t RefreshToken
	err := p.db.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, token, expires_at, created_at`,
		arg.UserID, arg.Token, arg.ExpiresAt,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	return t, mapError(err)
}

func (p *Postgres) GetRefreshToken(ctx context.Context, token string) (RefreshToken, error) {
	var t RefreshToken
	err := p.db.QueryRow(ctx, `
		SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens WHERE token = $1`, token,
	).Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	return t, mapError(err)
}

func (p *Postgres) ListRefreshTokensByUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, user_id, token, expires_at, created_at FROM refresh_tokens
		WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tokens []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Token, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		tokens = append(tokens, t)
	}
	return tokens, mapError(rows.Err())
}

func (p *Postgres) DeleteRefreshToken(ctx context.Context, token string) error {
	_, err := p.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, token)
	return mapError(err)
}

func (p *Postgres) DeleteRefreshTokensByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeleteOtherRefreshTokens(ctx context.Context, userID uuid.UUID, keepToken string) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE user_id = $1 AND token <> $2`, userID, keepToken)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) CreateOOBToken(ctx context.Context, arg CreateOOBTokenParams) (OOBToken, error) {
	var t OOBToken
	err := p.db.QueryRow(ctx, `
		INSERT INTO oob_tokens (kind, token, user_id, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, kind, token, user_id, used, used_at, ip_address, user_agent, expires_at, created_at`,
		arg.Kind, arg.Token, arg.UserID, arg.ExpiresAt,
	).Scan(&t.ID, &t.Kind, &t.Token, &t.UserID, &t.Used, &t.UsedAt, &t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.CreatedAt)
	return t, mapError(err)
}

func (p *Postgres) GetOOBToken(ctx context.Context, token string) (OOBToken, error) {
	var t OOBToken
	err := p.db.QueryRow(ctx, `
		SELECT id, kind, token, user_id, used, used_at, ip_address, user_agent, expires_at, created_at
		FROM oob_tokens WHERE token = $1`, token,
	).Scan(&t.ID, &t.Kind, &t.Token, &t.UserID, &t.Used, &t.UsedAt, &t.IPAddress, &t.UserAgent, &t.ExpiresAt, &t.CreatedAt)
	return t, mapError(err)
}

func (p *Postgres) DeleteOOBToken(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.Exec(ctx, `DELETE FROM oob_tokens WHERE id = $1`, id)
	return mapError(err)
}

func (p *Postgres) DeleteUnusedOOBTokens(ctx context.Context, userID uuid.UUID, kind OOBKind) error {
	_, err := p.db.Exec(ctx, `
		DELETE FROM oob_tokens WHERE user_id = $1 AND kind = $2 AND used = FALSE`, userID, kind)
	return mapError(err)
}

func (p *Postgres) MarkOOBTokenUsed(ctx context.Context, id uuid.UUID, usedAt time.Time, ip, userAgent string) error {
	_, err := p.db.Exec(ctx, `
		UPDATE oob_tokens SET used = TRUE, used_at = $2, ip_address = $3, user_agent = $4
		WHERE id = $1`, id, usedAt, ip, userAgent)
	return mapError(err)
}

func (p *Postgres) DeleteOOBTokensByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := p.db.Exec(ctx, `DELETE FROM oob_tokens WHERE user_id = $1`, userID)
	return mapError(err)
}

func (p *Postgres) SweepOOBTokens(ctx context.Context, now time.Time, usedRetention time.Duration) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		DELETE FROM oob_tokens
		WHERE expires_at < $1
		   OR (kind = $2 AND used = TRUE AND used_at < $3)`,
		now, OOBMagicLink, now.Add(-usedRetention))
	return tag.RowsAffected(), mapError(err)
}
