// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package store

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Transactor runs functions inside a database transaction.
type Transactor struct {
	db DB
}

// NewTransactor creates a Transactor over db.
func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// InTransaction runs fn in a transaction carried by the ctx it passes to fn.
// The transaction commits if fn returns nil and rolls back otherwise. When
// ctx already carries a transaction fn joins it.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return oops.Code("STORE_TX_BEGIN_FAILED").With("operation", "begin transaction").Wrap(err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // panic takes precedence
			panic(p)
		}
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, oops.Code("STORE_TX_ROLLBACK_FAILED").Wrap(rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("STORE_TX_COMMIT_FAILED").With("operation", "commit transaction").Wrap(err)
	}
	return nil
}
