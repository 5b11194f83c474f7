package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/internal/pubsub"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// PersistenceError marks a failed database operation. The sync worker
// aborts the pass and surfaces it as an account-level sync error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store exposes typed repositories over one database handle. Concurrent
// writers serialize through SQL transactions; the store never assumes
// single-writer access.
type Store struct {
	db        *sql.DB
	masterKey string
	publisher pubsub.Publisher
	logger    *logrus.Logger
}

// withTx runs fn inside one SQL transaction. Transactions recorded through
// rec become rows in the same commit; their deltas are published after the
// commit succeeds, in commit order.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx, rec *recorder) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	rec := &recorder{}
	if err := fn(tx, rec); err != nil {
		tx.Rollback() //nolint:errcheck
		if _, ok := err.(*PersistenceError); ok {
			return err
		}
		return &PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}

	s.broadcast(rec)
	return nil
}

func (s *Store) broadcast(rec *recorder) {
	if s.publisher == nil {
		return
	}
	for i := range rec.committed {
		delta := types.DeltaFor(&rec.committed[i])
		if err := s.publisher.PublishDelta(delta); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"account_id": delta.AccountID,
				"cursor":     delta.Cursor,
			}).Warn("Failed to publish delta")
		}
	}
}
