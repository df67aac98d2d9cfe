package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	txKey    contextKey = "db_tx"
	hooksKey contextKey = "db_commit_hooks"
)

// Queryable is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// TxRunner runs fn so that every repository call made with the derived
// context commits or rolls back together.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext returns the transaction opened by PoolTx.InTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Conn returns the transaction in ctx, or the pool when none is open.
func Conn(ctx context.Context, pool *pgxpool.Pool) Queryable {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// CommitHooks collects callbacks that must only run once the surrounding
// unit of work is durable.
type CommitHooks struct {
	mu  sync.Mutex
	fns []func(context.Context)
}

// WithCommitHooks attaches a fresh hook list to ctx.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	h := &CommitHooks{}
	return context.WithValue(ctx, hooksKey, h), h
}

// Run executes the collected hooks in registration order.
func (h *CommitHooks) Run(ctx context.Context) {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

// AfterCommit defers fn until the unit of work in ctx commits. Outside a
// unit of work fn runs immediately.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	h, ok := ctx.Value(hooksKey).(*CommitHooks)
	if !ok {
		fn(ctx)
		return
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
}

// PoolTx is the Postgres TxRunner.
type PoolTx struct {
	pool *pgxpool.Pool
}

func NewPoolTx(pool *pgxpool.Pool) *PoolTx {
	return &PoolTx{pool: pool}
}

// InTx joins an already open transaction instead of nesting.
func (p *PoolTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	txCtx, hooks := WithCommitHooks(context.WithValue(ctx, txKey, tx))
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	hooks.Run(context.WithoutCancel(ctx))
	return nil
}

const journalKey contextKey = "db_undo_journal"

type undoJournal struct {
	mu    sync.Mutex
	undos []func()
}

// RecordUndo registers fn to reverse an in-memory write if the unit of work
// in ctx fails. Outside a MemoryTx unit of work it is a no-op.
func RecordUndo(ctx context.Context, fn func()) {
	j, ok := ctx.Value(journalKey).(*undoJournal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undos = append(j.undos, fn)
	j.mu.Unlock()
}

// MemoryTx is the TxRunner for the in-memory stores. It gives atomicity
// (writes are undone in reverse order on failure) but not isolation.
type MemoryTx struct{}

func (MemoryTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey).(*undoJournal); ok {
		return fn(ctx)
	}

	j := &undoJournal{}
	txCtx, hooks := WithCommitHooks(context.WithValue(ctx, journalKey, j))
	if err := fn(txCtx); err != nil {
		j.mu.Lock()
		undos := j.undos
		j.undos = nil
		j.mu.Unlock()
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
		return err
	}
	hooks.Run(context.WithoutCancel(ctx))
	return nil
}
