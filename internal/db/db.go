package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"carbonmap/core-go/internal/sqlcgen"
)

type Pool struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, databaseURL string) (*Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Verify connectivity early.
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}

	return &Pool{pool: p}, nil
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

func (p *Pool) Queries() *sqlcgen.Queries {
	return sqlcgen.New(p.pool)
}

// InTx runs fn inside a transaction opened with opts. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (p *Pool) InTx(ctx context.Context, opts pgx.TxOptions, fn func(q *sqlcgen.Queries) error) error {
	tx, err := p.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(p.Queries().WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isInvalidUUID(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == "22P02"
}

func isUniqueViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.Code == "23505"
}

// foreignKeyViolation returns the violated constraint name, if any.
func foreignKeyViolation(err error) (string, bool) {
	pgErr, ok := pgError(err)
	if !ok || pgErr.Code != "23503" {
		return "", false
	}
	return pgErr.ConstraintName, true
}
