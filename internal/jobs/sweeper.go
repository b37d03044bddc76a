// Package jobs runs the periodic cleanup tasks behind the token and audit
// retention rules.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aegis-id/aegis/internal/auth"
	"github.com/aegis-id/aegis/internal/storage"
)

// Sweeper owns the cron schedule: hourly token sweep, daily audit retention.
type Sweeper struct {
	cron          *cron.Cron
	store         storage.Store
	clock         auth.Clock
	logger        *slog.Logger
	auditRetained time.Duration
}

func NewSweeper(store storage.Store, clock auth.Clock, logger *slog.Logger, auditRetentionDays int) *Sweeper {
	return &Sweeper{
		cron:          cron.New(),
		store:         store,
		clock:         clock,
		logger:        logger,
		auditRetained: time.Duration(auditRetentionDays) * 24 * time.Hour,
	}
}

// Start registers the schedules and launches the cron loop.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.runTokenSweep); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.runAuditRetention); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("sweeper_started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweeper_stopped")
}

func (s *Sweeper) runTokenSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := s.SweepTokens(ctx); err != nil {
		s.logger.Error("token_sweep_failed", "error", err)
	}
}

func (s *Sweeper) runAuditRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.SweepAuditLogs(ctx); err != nil {
		s.logger.Error("audit_retention_sweep_failed", "error", err)
	}
}

// SweepTokens deletes expired out-of-band and refresh tokens, retires stale
// used magic-link rows and deactivates expired sessions.
func (s *Sweeper) SweepTokens(ctx context.Context) error {
	now := s.clock.Now()

	oob, err := s.store.SweepOOBTokens(ctx, now, auth.UsedMagicLinkRetention)
	if err != nil {
		return err
	}
	refresh, err := s.store.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		return err
	}
	sessions, err := s.store.DeactivateExpiredSessions(ctx, now)
	if err != nil {
		return err
	}

	s.logger.Info("token_sweep_complete",
		"oob_deleted", oob,
		"refresh_deleted", refresh,
		"sessions_deactivated", sessions,
	)
	return nil
}

// SweepAuditLogs enforces the audit retention window.
func (s *Sweeper) SweepAuditLogs(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-s.auditRetained)
	deleted, err := s.store.DeleteAuditLogsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	s.logger.Info("audit_retention_sweep_complete", "deleted", deleted, "cutoff", cutoff)
	return nil
}
