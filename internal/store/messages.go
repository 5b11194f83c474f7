package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// messageCreateFields are the changed fields reported for a message create.
var messageCreateFields = []string{
	"thread_id", "folder_id", "uid", "subject", "snippet", "body",
	"from", "to", "cc", "bcc", "date", "unread", "starred",
}

// MessageFlagAttrs is the slim projection used by flag reconciliation scans.
type MessageFlagAttrs struct {
	ID       string
	ThreadID string
	UID      uint32
	Unread   bool
	Starred  bool
}

// SaveMessageWithThread persists one newly-ingested message together with
// its (new or updated) thread inside a single transaction. threadCreated
// selects the thread's event type. A message id already present is a
// rediscovery and takes the relink path instead; the passed thread is left
// untouched so its counters stay consistent. Each call commits
// independently, so a later pass abort keeps everything already ingested.
func (s *Store) SaveMessageWithThread(ctx context.Context, msg *types.Message, thread *types.Thread, threadCreated bool) error {
	if msg.AccountID == "" || thread == nil {
		return &PersistenceError{Op: "save message", Err: fmt.Errorf("message requires account and thread")}
	}
	msg.ThreadID = thread.ID

	return s.withTx(ctx, "save message", func(tx *sql.Tx, rec *recorder) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) > 0 FROM messages WHERE id = ?`, msg.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check message: %w", err)
		}
		if exists {
			return relinkMessage(ctx, tx, rec, msg)
		}

		if err := upsertThread(ctx, tx, rec, thread, threadCreated); err != nil {
			return err
		}

		fromJSON, toJSON, ccJSON, bccJSON, err := encodeParticipantColumns(msg)
		if err != nil {
			return err
		}

		msg.Version = 1
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, account_id, thread_id, folder_id, uid, remote_thread_id,
				header_message_id, subject, snippet, body,
				from_participants, to_participants, cc_participants, bcc_participants,
				date, unread, starred, is_draft, is_sent, has_attachments, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.AccountID, msg.ThreadID, nullable(msg.FolderID), nullableUID(msg.UID),
			nullable(msg.RemoteThreadID), nullable(msg.HeaderMessageID), msg.Subject, msg.Snippet, msg.Body,
			fromJSON, toJSON, ccJSON, bccJSON,
			msg.Date.UTC(), msg.Unread, msg.Starred, msg.IsDraft, msg.IsSent, msg.HasAttachments, msg.Version); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return rec.log(ctx, tx, types.EventCreate, types.ObjectMessage, msg.ID, msg.AccountID, messageCreateFields)
	})
}

// RelinkMessage reattaches a rediscovered message to a folder and UID and
// applies the remote flags, folding any unread/starred delta into the owning
// thread's counters. Content and thread membership stay as first written.
func (s *Store) RelinkMessage(ctx context.Context, msg *types.Message) error {
	return s.withTx(ctx, "relink message", func(tx *sql.Tx, rec *recorder) error {
		return relinkMessage(ctx, tx, rec, msg)
	})
}

func relinkMessage(ctx context.Context, tx *sql.Tx, rec *recorder, msg *types.Message) error {
	var prevUnread, prevStarred bool
	var threadID sql.NullString
	err := tx.QueryRowContext(ctx, `
		SELECT unread, starred, thread_id FROM messages WHERE id = ?
	`, msg.ID).Scan(&prevUnread, &prevStarred, &threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load flags: %w", err)
	}
	if threadID.Valid {
		msg.ThreadID = threadID.String
	}

	msg.Version++
	if _, err := tx.ExecContext(ctx, `
		UPDATE messages SET folder_id = ?, uid = ?, unread = ?, starred = ?, version = version + 1
		WHERE id = ?
	`, nullable(msg.FolderID), nullableUID(msg.UID), msg.Unread, msg.Starred, msg.ID); err != nil {
		return fmt.Errorf("relink message: %w", err)
	}

	if threadID.Valid && (prevUnread != msg.Unread || prevStarred != msg.Starred) {
		if _, err := tx.ExecContext(ctx, `
			UPDATE threads SET
				unread_count = unread_count + ?,
				starred_count = starred_count + ?,
				version = version + 1
			WHERE id = ?
		`, boolDelta(msg.Unread, prevUnread), boolDelta(msg.Starred, prevStarred), threadID.String); err != nil {
			return fmt.Errorf("update thread counters: %w", err)
		}
		if err := rec.log(ctx, tx, types.EventModify, types.ObjectThread, threadID.String, msg.AccountID,
			[]string{"unread_count", "starred_count"}); err != nil {
			return err
		}
	}
	return rec.log(ctx, tx, types.EventModify, types.ObjectMessage, msg.ID, msg.AccountID,
		[]string{"folder_id", "uid", "unread", "starred"})
}

// UpdateMessageFlags persists flag changes found by a reconciliation scan
// and folds the unread/starred deltas into the owning thread's counters.
func (s *Store) UpdateMessageFlags(ctx context.Context, accountID, messageID string, unread, starred bool) error {
	return s.withTx(ctx, "update flags", func(tx *sql.Tx, rec *recorder) error {
		var prevUnread, prevStarred bool
		var threadID sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT unread, starred, thread_id FROM messages WHERE id = ?
		`, messageID).Scan(&prevUnread, &prevStarred, &threadID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load flags: %w", err)
		}
		if prevUnread == unread && prevStarred == starred {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET unread = ?, starred = ?, version = version + 1 WHERE id = ?
		`, unread, starred, messageID); err != nil {
			return fmt.Errorf("update flags: %w", err)
		}

		if threadID.Valid {
			if _, err := tx.ExecContext(ctx, `
				UPDATE threads SET
					unread_count = unread_count + ? ,
					starred_count = starred_count + ?,
					version = version + 1
				WHERE id = ?
			`, boolDelta(unread, prevUnread), boolDelta(starred, prevStarred), threadID.String); err != nil {
				return fmt.Errorf("update thread counters: %w", err)
			}
			if err := rec.log(ctx, tx, types.EventModify, types.ObjectThread, threadID.String, accountID,
				[]string{"unread_count", "starred_count"}); err != nil {
				return err
			}
		}
		return rec.log(ctx, tx, types.EventModify, types.ObjectMessage, messageID, accountID, []string{"unread", "starred"})
	})
}

// UnlinkFolderMessages clears the folder/UID linkage for every message in a
// folder. Used by UID-invalidity recovery; message content rows survive.
func (s *Store) UnlinkFolderMessages(ctx context.Context, accountID, folderID string) error {
	return s.unlink(ctx, accountID, `SELECT id FROM messages WHERE folder_id = ?`, folderID)
}

// UnlinkMessagesByUIDs clears the folder/UID linkage for specific UIDs that
// a deep scan found missing remotely. Content rows survive.
func (s *Store) UnlinkMessagesByUIDs(ctx context.Context, accountID, folderID string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	query := `SELECT id FROM messages WHERE folder_id = ? AND uid IN (`
	args := []interface{}{folderID}
	for i, uid := range uids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, uid)
	}
	query += ")"
	return s.unlink(ctx, accountID, query, args...)
}

func (s *Store) unlink(ctx context.Context, accountID, idQuery string, args ...interface{}) error {
	return s.withTx(ctx, "unlink messages", func(tx *sql.Tx, rec *recorder) error {
		rows, err := tx.QueryContext(ctx, idQuery, args...)
		if err != nil {
			return fmt.Errorf("find messages to unlink: %w", err)
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close() //nolint:errcheck
				return fmt.Errorf("scan message id: %w", err)
			}
			ids = append(ids, id)
		}
		rows.Close() //nolint:errcheck
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET folder_id = NULL, uid = NULL, version = version + 1 WHERE id = ?
			`, id); err != nil {
				return fmt.Errorf("unlink message: %w", err)
			}
			if err := rec.log(ctx, tx, types.EventModify, types.ObjectMessage, id, accountID, []string{"folder_id", "uid"}); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE id = ?`, id))
}

// FolderMessageAttrs returns the flag projection for every message linked
// to a folder, the local side of a reconciliation diff.
func (s *Store) FolderMessageAttrs(ctx context.Context, folderID string) ([]MessageFlagAttrs, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(thread_id, ''), uid, unread, starred
		FROM messages WHERE folder_id = ? AND uid IS NOT NULL
	`, folderID)
	if err != nil {
		return nil, &PersistenceError{Op: "folder attrs", Err: err}
	}
	defer rows.Close()

	var attrs []MessageFlagAttrs
	for rows.Next() {
		var a MessageFlagAttrs
		if err := rows.Scan(&a.ID, &a.ThreadID, &a.UID, &a.Unread, &a.Starred); err != nil {
			return nil, &PersistenceError{Op: "scan folder attrs", Err: err}
		}
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// MessagesForThread returns all messages of a thread, oldest first.
func (s *Store) MessagesForThread(ctx context.Context, threadID string) ([]*types.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageSelect+` WHERE thread_id = ? ORDER BY date`, threadID)
	if err != nil {
		return nil, &PersistenceError{Op: "thread messages", Err: err}
	}
	defer rows.Close()

	var msgs []*types.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessageInThread returns the newest message of a thread, or
// ErrNotFound for an empty thread.
func (s *Store) LatestMessageInThread(ctx context.Context, threadID string) (*types.Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE thread_id = ? ORDER BY date DESC LIMIT 1`, threadID))
}

const messageSelect = `
	SELECT id, account_id, COALESCE(thread_id, ''), COALESCE(folder_id, ''), COALESCE(uid, 0),
		COALESCE(remote_thread_id, ''), COALESCE(header_message_id, ''), subject, snippet, body,
		from_participants, to_participants, cc_participants, bcc_participants,
		date, unread, starred, is_draft, is_sent, has_attachments, version
	FROM messages`

func scanMessage(row rowScanner) (*types.Message, error) {
	var m types.Message
	var fromJSON, toJSON, ccJSON, bccJSON string
	err := row.Scan(&m.ID, &m.AccountID, &m.ThreadID, &m.FolderID, &m.UID,
		&m.RemoteThreadID, &m.HeaderMessageID, &m.Subject, &m.Snippet, &m.Body,
		&fromJSON, &toJSON, &ccJSON, &bccJSON,
		&m.Date, &m.Unread, &m.Starred, &m.IsDraft, &m.IsSent, &m.HasAttachments, &m.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "scan message", Err: err}
	}

	if m.From, err = types.DecodeParticipants(fromJSON); err != nil {
		return nil, &PersistenceError{Op: "decode message", Err: err}
	}
	if m.To, err = types.DecodeParticipants(toJSON); err != nil {
		return nil, &PersistenceError{Op: "decode message", Err: err}
	}
	if m.CC, err = types.DecodeParticipants(ccJSON); err != nil {
		return nil, &PersistenceError{Op: "decode message", Err: err}
	}
	if m.BCC, err = types.DecodeParticipants(bccJSON); err != nil {
		return nil, &PersistenceError{Op: "decode message", Err: err}
	}
	return &m, nil
}

func encodeParticipantColumns(msg *types.Message) (from, to, cc, bcc string, err error) {
	if from, err = types.EncodeParticipants(msg.From); err != nil {
		return
	}
	if to, err = types.EncodeParticipants(msg.To); err != nil {
		return
	}
	if cc, err = types.EncodeParticipants(msg.CC); err != nil {
		return
	}
	bcc, err = types.EncodeParticipants(msg.BCC)
	return
}

func nullableUID(uid uint32) interface{} {
	if uid == 0 {
		return nil
	}
	return uid
}

func boolDelta(now, before bool) int {
	switch {
	case now && !before:
		return 1
	case !now && before:
		return -1
	default:
		return 0
	}
}
