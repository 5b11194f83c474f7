package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

var threadAggregateFields = []string{
	"subject", "snippet", "participants", "unread_count", "starred_count",
	"message_count", "has_attachments", "first_message_date", "last_message_date",
	"last_message_sent_date", "last_message_received_date",
}

// GetThread loads one thread by id.
func (s *Store) GetThread(ctx context.Context, id string) (*types.Thread, error) {
	return scanThread(s.db.QueryRowContext(ctx, threadSelect+` WHERE id = ?`, id))
}

// GetThreadByRemoteID finds the thread carrying a provider-native thread id.
func (s *Store) GetThreadByRemoteID(ctx context.Context, accountID, remoteThreadID string) (*types.Thread, error) {
	// A capped thread can share a remote id with its successor; prefer the
	// one still accepting messages.
	return scanThread(s.db.QueryRowContext(ctx,
		threadSelect+` WHERE account_id = ? AND remote_thread_id = ?
		ORDER BY (message_count >= ?), last_message_date DESC LIMIT 1`,
		accountID, remoteThreadID, types.MaxThreadLength))
}

// ThreadsBySubject returns up to limit threads with the given (already
// normalized) subject, most recent first.
func (s *Store) ThreadsBySubject(ctx context.Context, accountID, subject string, limit int) ([]*types.Thread, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, threadSelect+`
		WHERE account_id = ? AND subject = ?
		ORDER BY last_message_date DESC, id DESC
		LIMIT ?
	`, accountID, subject, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "threads by subject", Err: err}
	}
	defer rows.Close()

	var threads []*types.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// RecomputeThread rebuilds a thread's aggregates from its full message set
// and persists the result. Repair/backfill path; must converge with the
// incremental aggregates.
func (s *Store) RecomputeThread(ctx context.Context, threadID string) (*types.Thread, error) {
	thread, err := s.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := s.MessagesForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	thread.Recompute(messages)

	err = s.withTx(ctx, "recompute thread", func(tx *sql.Tx, rec *recorder) error {
		return upsertThread(ctx, tx, rec, thread, false)
	})
	if err != nil {
		return nil, err
	}
	return thread, nil
}

func upsertThread(ctx context.Context, tx *sql.Tx, rec *recorder, thread *types.Thread, created bool) error {
	participantsJSON, err := types.EncodeParticipants(thread.Participants)
	if err != nil {
		return err
	}

	thread.Version++
	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, account_id, remote_thread_id, subject, snippet, participants,
			unread_count, starred_count, message_count, has_attachments,
			first_message_date, last_message_date, last_message_sent_date, last_message_received_date, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			remote_thread_id = excluded.remote_thread_id,
			subject = excluded.subject,
			snippet = excluded.snippet,
			participants = excluded.participants,
			unread_count = excluded.unread_count,
			starred_count = excluded.starred_count,
			message_count = excluded.message_count,
			has_attachments = excluded.has_attachments,
			first_message_date = excluded.first_message_date,
			last_message_date = excluded.last_message_date,
			last_message_sent_date = excluded.last_message_sent_date,
			last_message_received_date = excluded.last_message_received_date,
			version = excluded.version
	`, thread.ID, thread.AccountID, nullable(thread.RemoteThreadID), thread.Subject, thread.Snippet, participantsJSON,
		thread.UnreadCount, thread.StarredCount, thread.MessageCount, thread.HasAttachments,
		nullableTime(thread.FirstMessageDate), nullableTime(thread.LastMessageDate),
		nullableTime(thread.LastMessageSentDate), nullableTime(thread.LastMessageReceivedDate), thread.Version)
	if err != nil {
		return fmt.Errorf("upsert thread: %w", err)
	}

	event := types.EventModify
	if created {
		event = types.EventCreate
	}
	return rec.log(ctx, tx, event, types.ObjectThread, thread.ID, thread.AccountID, threadAggregateFields)
}

const threadSelect = `
	SELECT id, account_id, COALESCE(remote_thread_id, ''), subject, snippet, participants,
		unread_count, starred_count, message_count, has_attachments,
		first_message_date, last_message_date, last_message_sent_date, last_message_received_date, version
	FROM threads`

func scanThread(row rowScanner) (*types.Thread, error) {
	var t types.Thread
	var participantsJSON string
	var first, last, lastSent, lastReceived sql.NullTime
	err := row.Scan(&t.ID, &t.AccountID, &t.RemoteThreadID, &t.Subject, &t.Snippet, &participantsJSON,
		&t.UnreadCount, &t.StarredCount, &t.MessageCount, &t.HasAttachments,
		&first, &last, &lastSent, &lastReceived, &t.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &PersistenceError{Op: "scan thread", Err: err}
	}

	if t.Participants, err = types.DecodeParticipants(participantsJSON); err != nil {
		return nil, &PersistenceError{Op: "decode thread", Err: err}
	}
	t.FirstMessageDate = first.Time
	t.LastMessageDate = last.Time
	t.LastMessageSentDate = lastSent.Time
	t.LastMessageReceivedDate = lastReceived.Time
	return &t, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
