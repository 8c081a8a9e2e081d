package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-booking/internal/apperr"
	"ms-booking/internal/logger"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// DB is the persistence layer. Every method takes the bun.IDB to run on so the
// same query works inside or outside a transaction; a nil idb means d.Bun.
type DB struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func New(bunDB *bun.DB, log *logger.Logger) *DB {
	return &DB{Bun: bunDB, Logger: log}
}

// RunInTx runs fn in a transaction. Domain errors are returned as they are. Any
// other failure is retried once and then reported as apperr.ErrTransientFailure.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	err := d.runOnce(ctx, fn)
	if err == nil || apperr.IsDomain(err) || ctx.Err() != nil {
		return err
	}

	d.Logger.LogDatabase("RETRY", "transaction", fmt.Sprintf("failed, retrying once: %v", err))
	err = d.runOnce(ctx, fn)
	if err == nil || apperr.IsDomain(err) {
		return err
	}

	d.Logger.Error("DATABASE", fmt.Sprintf("transaction failed after retry: %v", err))
	return apperr.Transient(err)
}

func (d *DB) runOnce(ctx context.Context, fn func(ctx context.Context, tx bun.IDB) error) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (d *DB) conn(idb bun.IDB) bun.IDB {
	if idb == nil {
		return d.Bun
	}
	return idb
}

// forUpdate adds a row lock where the dialect supports one. SQLite serialises
// writers on its own.
func forUpdate(idb bun.IDB, q *bun.SelectQuery) *bun.SelectQuery {
	if idb.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}

func notFound(err error, target *apperr.Error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return err
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func utc(t time.Time) time.Time {
	return t.UTC()
}
