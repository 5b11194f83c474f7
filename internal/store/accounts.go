package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// UpsertAccount creates or updates an account, sealing its credentials at
// rest. A missing ID is assigned.
func (s *Store) UpsertAccount(ctx context.Context, account *types.Account, creds types.Credentials) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}

	sealed, err := sealCredentials(s.masterKey, creds)
	if err != nil {
		return &PersistenceError{Op: "upsert account", Err: err}
	}
	settingsJSON, err := json.Marshal(account.Settings)
	if err != nil {
		return &PersistenceError{Op: "upsert account", Err: err}
	}
	policyJSON, err := types.EncodeSyncPolicy(account.SyncPolicy)
	if err != nil {
		return &PersistenceError{Op: "upsert account", Err: err}
	}
	errJSON, err := types.EncodeSyncError(account.SyncError)
	if err != nil {
		return &PersistenceError{Op: "upsert account", Err: err}
	}

	return s.withTx(ctx, "upsert account", func(tx *sql.Tx, rec *recorder) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM accounts WHERE id = ?`, account.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check account: %w", err)
		}

		now := time.Now().UTC()
		account.Version++
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, name, email_address, provider, settings, credentials, sync_policy, sync_error, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				email_address = excluded.email_address,
				provider = excluded.provider,
				settings = excluded.settings,
				credentials = excluded.credentials,
				sync_policy = excluded.sync_policy,
				version = excluded.version,
				updated_at = excluded.updated_at
		`, account.ID, account.Name, account.EmailAddress, account.Provider,
			string(settingsJSON), sealed, policyJSON, nullable(errJSON), account.Version, now, now)
		if err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}

		event := types.EventCreate
		fields := []string{"name", "email_address", "provider", "settings", "sync_policy"}
		if exists {
			event = types.EventModify
			fields = []string{"settings", "sync_policy"}
		}
		return rec.log(ctx, tx, event, types.ObjectAccount, account.ID, account.ID, fields)
	})
}

// GetAccount loads an account without decrypting its credentials.
func (s *Store) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email_address, provider, settings, sync_policy, sync_error, version, created_at, updated_at
		FROM accounts WHERE id = ?
	`, id)

	var a types.Account
	var settingsJSON, policyJSON string
	var errJSON sql.NullString
	if err := row.Scan(&a.ID, &a.Name, &a.EmailAddress, &a.Provider, &settingsJSON, &policyJSON, &errJSON, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "get account", Err: err}
	}

	if err := json.Unmarshal([]byte(settingsJSON), &a.Settings); err != nil {
		return nil, &PersistenceError{Op: "decode account settings", Err: err}
	}
	var err error
	if a.SyncPolicy, err = types.DecodeSyncPolicy(policyJSON); err != nil {
		return nil, &PersistenceError{Op: "decode sync policy", Err: err}
	}
	if a.SyncError, err = types.DecodeSyncError(errJSON.String); err != nil {
		return nil, &PersistenceError{Op: "decode sync error", Err: err}
	}
	return &a, nil
}

// Credentials decrypts an account's stored credentials on demand.
func (s *Store) Credentials(ctx context.Context, accountID string) (types.Credentials, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT credentials FROM accounts WHERE id = ?`, accountID).Scan(&sealed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Credentials{}, ErrNotFound
		}
		return types.Credentials{}, &PersistenceError{Op: "load credentials", Err: err}
	}
	creds, err := openCredentials(s.masterKey, sealed)
	if err != nil {
		return types.Credentials{}, &PersistenceError{Op: "load credentials", Err: err}
	}
	return creds, nil
}

// SetSyncError records a persistent account-level failure. Consumers render
// it; the delta is broadcast like any other modification.
func (s *Store) SetSyncError(ctx context.Context, accountID string, syncErr *types.SyncError) error {
	errJSON, err := types.EncodeSyncError(syncErr)
	if err != nil {
		return &PersistenceError{Op: "set sync error", Err: err}
	}

	return s.withTx(ctx, "set sync error", func(tx *sql.Tx, rec *recorder) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts SET sync_error = ?, version = version + 1, updated_at = ? WHERE id = ?
		`, nullable(errJSON), time.Now().UTC(), accountID)
		if err != nil {
			return fmt.Errorf("update sync error: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return rec.log(ctx, tx, types.EventModify, types.ObjectAccount, accountID, accountID, []string{"sync_error"})
	})
}

// ClearSyncError removes a previously recorded sync error, if any.
func (s *Store) ClearSyncError(ctx context.Context, accountID string) error {
	return s.withTx(ctx, "clear sync error", func(tx *sql.Tx, rec *recorder) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts SET sync_error = NULL, version = version + 1, updated_at = ?
			WHERE id = ? AND sync_error IS NOT NULL
		`, time.Now().UTC(), accountID)
		if err != nil {
			return fmt.Errorf("clear sync error: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil // nothing to clear, no delta
		}
		return rec.log(ctx, tx, types.EventModify, types.ObjectAccount, accountID, accountID, []string{"sync_error"})
	})
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
