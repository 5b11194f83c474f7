package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// ignoredFields lists per-object fields whose changes are transient
// bookkeeping. A mutation touching only ignored fields produces no
// transaction and therefore no delta.
var ignoredFields = map[string]map[string]struct{}{
	types.ObjectFolder:  {"sync_state": {}},
	types.ObjectAccount: {"updated_at": {}},
}

// recorder accumulates the transaction rows created inside one SQL
// transaction so their deltas can be broadcast after commit, in order.
type recorder struct {
	committed []types.Transaction
}

// log appends one transaction row for a mutation. Changes to a Transaction
// itself are never logged, and neither are mutations whose changed fields
// are all on the ignore list.
func (r *recorder) log(ctx context.Context, tx *sql.Tx, event, object, objectID, accountID string, changedFields []string) error {
	if object == types.ObjectTransaction {
		return nil
	}
	changed := filterIgnored(object, changedFields)
	if event == types.EventModify && len(changed) == 0 {
		return nil
	}

	changedJSON, err := types.EncodeStrings(changed)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (account_id, event, object, object_id, changed_fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, accountID, event, object, objectID, changedJSON, now)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("transaction id: %w", err)
	}

	r.committed = append(r.committed, types.Transaction{
		ID:            id,
		AccountID:     accountID,
		Event:         event,
		Object:        object,
		ObjectID:      objectID,
		ChangedFields: changed,
		CreatedAt:     now,
	})
	return nil
}

func filterIgnored(object string, fields []string) []string {
	ignored := ignoredFields[object]
	if len(ignored) == 0 {
		return fields
	}
	kept := fields[:0:0]
	for _, f := range fields {
		if _, ok := ignored[f]; !ok {
			kept = append(kept, f)
		}
	}
	return kept
}

// TransactionsSince returns up to limit transactions for an account with a
// cursor greater than since, oldest first. This is the replay surface
// consumers use after reconnecting.
func (s *Store) TransactionsSince(ctx context.Context, accountID string, since int64, limit int) ([]types.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, event, object, object_id, changed_fields, created_at
		FROM transactions
		WHERE account_id = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, accountID, since, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "list transactions", Err: err}
	}
	defer rows.Close()

	var txs []types.Transaction
	for rows.Next() {
		var t types.Transaction
		var changedJSON string
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Event, &t.Object, &t.ObjectID, &changedJSON, &t.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "scan transaction", Err: err}
		}
		if t.ChangedFields, err = types.DecodeStrings(changedJSON); err != nil {
			return nil, &PersistenceError{Op: "decode transaction", Err: err}
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
