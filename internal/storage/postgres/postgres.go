// Package postgres implements the marketplace stores on PostgreSQL.
//
// Repositories share a DB. When a context produced by DB.InTx is passed to a
// repository method, the statement runs inside that transaction; otherwise
// it runs on the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/marketplace-checkout/db"
	"github.com/xenking/marketplace-checkout/internal/domain/apperr"
)

// SQLSTATE codes treated as transient contention.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the embedded DDL schema against the pool.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, db.Schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// DB runs statements on a pool or inside a transaction carried by the context.
type DB struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewDB wraps pool. A positive lockTimeout bounds how long a transaction
// waits for a row lock before failing with Conflict.
func NewDB(pool *pgxpool.Pool, lockTimeout time.Duration) *DB {
	return &DB{pool: pool, lockTimeout: lockTimeout}
}

// Pool returns the underlying pool.
func (d *DB) Pool() *pgxpool.Pool { return d.pool }

func (d *DB) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return d.pool
}

// InTx runs fn in a READ COMMITTED transaction. The transaction commits when
// fn returns nil and rolls back otherwise. Calls nested in fn join the outer
// transaction. Contention failures are returned as apperr Conflict.
func (d *DB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()

	if d.lockTimeout > 0 {
		ms := strconv.FormatInt(d.lockTimeout.Milliseconds(), 10) + "ms"
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms); err != nil {
			return classify(fmt.Errorf("set lock timeout: %w", err))
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// classify turns contention failures into apperr Conflict and leaves every
// other error untouched.
func classify(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Conflict(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeQueryCanceled:
			return apperr.Conflict(err)
		}
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == codeUniqueViolation &&
		pgErr.ConstraintName == constraint
}
