package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// UpsertFolder creates or updates a folder by (account, name). SyncState is
// not written here; it has its own serialized update path.
func (s *Store) UpsertFolder(ctx context.Context, folder *types.Folder) error {
	if folder.ID == "" {
		folder.ID = uuid.NewString()
	}

	return s.withTx(ctx, "upsert folder", func(tx *sql.Tx, rec *recorder) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `
			SELECT id FROM folders WHERE account_id = ? AND name = ?
		`, folder.AccountID, folder.Name).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			stateJSON, err := types.EncodeSyncState(folder.SyncState)
			if err != nil {
				return err
			}
			folder.Version = 1
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO folders (id, account_id, name, role, sync_state, version)
				VALUES (?, ?, ?, ?, ?, ?)
			`, folder.ID, folder.AccountID, folder.Name, folder.Role, stateJSON, folder.Version); err != nil {
				return fmt.Errorf("insert folder: %w", err)
			}
			return rec.log(ctx, tx, types.EventCreate, types.ObjectFolder, folder.ID, folder.AccountID, []string{"name", "role"})
		case err != nil:
			return fmt.Errorf("find folder: %w", err)
		default:
			folder.ID = existingID
			folder.Version++
			if _, err := tx.ExecContext(ctx, `
				UPDATE folders SET role = ?, version = version + 1 WHERE id = ?
			`, folder.Role, folder.ID); err != nil {
				return fmt.Errorf("update folder: %w", err)
			}
			return rec.log(ctx, tx, types.EventModify, types.ObjectFolder, folder.ID, folder.AccountID, []string{"role"})
		}
	})
}

// GetFolder loads one folder by id.
func (s *Store) GetFolder(ctx context.Context, id string) (*types.Folder, error) {
	return s.scanFolder(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, name, role, sync_state, version FROM folders WHERE id = ?
	`, id))
}

// ListFolders returns all folders of an account.
func (s *Store) ListFolders(ctx context.Context, accountID string) ([]*types.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, name, role, sync_state, version
		FROM folders WHERE account_id = ? ORDER BY name
	`, accountID)
	if err != nil {
		return nil, &PersistenceError{Op: "list folders", Err: err}
	}
	defer rows.Close()

	var folders []*types.Folder
	for rows.Next() {
		f, err := s.scanFolder(rows)
		if err != nil {
			return nil, err
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanFolder(row rowScanner) (*types.Folder, error) {
	var f types.Folder
	var role sql.NullString
	var stateJSON string
	if err := row.Scan(&f.ID, &f.AccountID, &f.Name, &role, &stateJSON, &f.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "scan folder", Err: err}
	}
	f.Role = role.String
	var err error
	if f.SyncState, err = types.DecodeSyncState(stateJSON); err != nil {
		return nil, &PersistenceError{Op: "decode sync state", Err: err}
	}
	return &f, nil
}

// UpdateFolderSyncState persists a folder's protocol checkpoint. The write
// is a single transaction keyed by folder id so concurrent passes over
// different folders cannot clobber each other, and it is on the transaction
// log ignore list: no delta is broadcast for bookkeeping.
func (s *Store) UpdateFolderSyncState(ctx context.Context, folderID string, state types.SyncState) error {
	stateJSON, err := types.EncodeSyncState(state)
	if err != nil {
		return &PersistenceError{Op: "update sync state", Err: err}
	}

	return s.withTx(ctx, "update sync state", func(tx *sql.Tx, rec *recorder) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE folders SET sync_state = ? WHERE id = ?
		`, stateJSON, folderID)
		if err != nil {
			return fmt.Errorf("update sync state: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		var accountID string
		if err := tx.QueryRowContext(ctx, `SELECT account_id FROM folders WHERE id = ?`, folderID).Scan(&accountID); err != nil {
			return fmt.Errorf("folder account: %w", err)
		}
		// Recorded for completeness; filtered out by the ignore list.
		return rec.log(ctx, tx, types.EventModify, types.ObjectFolder, folderID, accountID, []string{"sync_state"})
	})
}
