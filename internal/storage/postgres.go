package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on top of a pgx connection pool.
type Postgres struct {
	db   DBTX
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps a pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool, pool: pool}
}

// withDB returns a transaction-bound copy.
func (p *Postgres) withDB(db DBTX) *Postgres {
	return &Postgres{db: db, pool: p.pool}
}

const serializableRetries = 3

// WithSerializable runs fn inside a SERIALIZABLE transaction, retrying on
// serialization failures and deadlocks. Calls nested inside a transaction
// reuse it.
func (p *Postgres) WithSerializable(ctx context.Context, fn func(Store) error) error {
	if p.inTx() {
		return fn(p)
	}

	var err error
	for attempt := 0; attempt < serializableRetries; attempt++ {
		err = p.runTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
		if !retryableTxError(err) {
			return err
		}
	}
	return err
}

// WithTx runs fn inside a READ COMMITTED transaction.
func (p *Postgres) WithTx(ctx context.Context, fn func(Store) error) error {
	if p.inTx() {
		return fn(p)
	}
	return p.runTx(ctx, pgx.TxOptions{}, fn)
}

func (p *Postgres) inTx() bool {
	_, ok := p.db.(pgx.Tx)
	return ok
}

func (p *Postgres) runTx(ctx context.Context, opts pgx.TxOptions, fn func(Store) error) error {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Safe to call after Commit.

	if err := fn(p.withDB(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// mapError translates pgx errors into the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}
