package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type ctxKeyTx struct{}

// Transactor runs units of work on a single *sql.Tx. The transaction rides on
// the context handed to fn, so an InTx call made with that context joins it.
type Transactor struct {
	db *sql.DB
}

func NewTransactor(db *sql.DB) *Transactor {
	if db == nil {
		return nil
	}
	return &Transactor{db: db}
}

func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context, stores repo.Stores) error) (err error) {
	if t == nil || t.db == nil {
		return errors.New("transactor not initialized")
	}
	if tx, ok := ctx.Value(ctxKeyTx{}).(*sql.Tx); ok {
		return fn(ctx, StoresFor(tx))
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(context.WithValue(ctx, ctxKeyTx{}, tx), StoresFor(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	committed = true
	return nil
}

// StoresFor binds every repository to db, which may be a pool or a tx.
func StoresFor(db DB) repo.Stores {
	return repo.Stores{
		Processes:    NewProcessStore(db),
		Subprocesses: NewSubprocessStore(db),
		Units:        NewUnitStore(db),
		Audit:        auditlog.NewSQLAppender(db),
	}
}
