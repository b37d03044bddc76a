package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const auditColumns = `id, user_id, performed_by, action, resource, ip_address, user_agent,
	metadata, success, error_message, created_at`

func scanAuditLog(row interface{ Scan(dest ...any) error }) (AuditLog, error) {
	var a AuditLog
	err := row.Scan(
		&a.ID, &a.UserID, &a.PerformedBy, &a.Action, &a.Resource, &a.IPAddress, &a.UserAgent,
		&a.Metadata, &a.Success, &a.ErrorMessage, &a.CreatedAt,
	)
	return a, mapError(err)
}

func (p *Postgres) AppendAuditLog(ctx context.Context, arg AppendAuditLogParams) (AuditLog, error) {
	metadata := arg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	row := p.db.QueryRow(ctx, `
		INSERT INTO audit_logs (user_id, performed_by, action, resource, ip_address, user_agent,
			metadata, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+auditColumns,
		arg.UserID, arg.PerformedBy, arg.Action, arg.Resource, arg.IPAddress, arg.UserAgent,
		metadata, arg.Success, arg.ErrorMessage)
	return scanAuditLog(row)
}

func (p *Postgres) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]AuditLog, int, error) {
	where := " WHERE TRUE"
	args := []any{}
	add := func(clause string, val any) {
		args = append(args, val)
		where += fmt.Sprintf(" AND "+clause, len(args))
	}

	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	var total int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT `+auditColumns+` FROM audit_logs`+where+
		` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, a)
	}
	return logs, total, mapError(rows.Err())
}

func (p *Postgres) AnonymizeAuditLogs(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := p.db.Exec(ctx, `
		UPDATE audit_logs SET resource = 'anonymized', ip_address = 'anonymized',
			user_agent = 'anonymized', metadata = '{"anonymized": true}'::jsonb
		WHERE user_id = $1`, userID)
	return tag.RowsAffected(), mapError(err)
}

func (p *Postgres) DeleteAuditLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	return tag.RowsAffected(), mapError(err)
}
