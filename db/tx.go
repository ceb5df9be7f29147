package db

import (
	"context"
	"database/sql"
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transactions
// ─────────────────────────────────────────────────────────────────────────────

// Tx mirrors the DB statement API inside one transaction so repository
// code accepts either through Querier. A Tx is only valid inside the
// ExecTx callback that received it.
type Tx struct {
	runner
}

// ExecTx starts a transaction, executes fn, and commits on success or rolls
// back on error or panic. The default timeout bounds the whole transaction.
// Nested calls are not supported; code that must compose with an outer
// transaction takes a Querier.
//
//	err := d.ExecTx(ctx, func(tx *db.Tx) error {
//	    spot, err := repo.NewSpotRepo(tx).FirstFree(ctx, lotID)
//	    if err != nil {
//	        return err
//	    }
//	    _, err = repo.NewSpotRepo(tx).MarkOccupied(ctx, spot.ID)
//	    return err
//	})
func (d *DB) ExecTx(ctx context.Context, fn func(*Tx) error) (err error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	sqltx, err := d.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return d.mapErr(err)
	}
	tx := &Tx{runner: runner{
		conn:    sqltx,
		dialect: d.dialect,
		errMap:  d.errMap,
		hooks:   d.hooks,
		inTx:    true,
	}}

	defer func() {
		if p := recover(); p != nil {
			_ = sqltx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqltx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				err = fmt.Errorf("parkd/db: rollback failed (%v) after original error: %w", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return d.mapErr(err)
	}
	if err = sqltx.Commit(); err != nil {
		return d.mapErr(err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Querier
// ─────────────────────────────────────────────────────────────────────────────

// Querier is the statement API shared by *DB and *Tx. Repositories are
// built on a Querier so they work unchanged inside transactions.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *Row
	Prepare(ctx context.Context, query string) (*Stmt, error)
	Dialect() Dialect
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)
