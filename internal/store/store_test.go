package store

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nylas/nylas-mail-sub003/internal/pubsub"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

const testAccountID = "acc-1"

func newTestStore(t *testing.T) (*Store, <-chan types.Delta) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	publisher := pubsub.NewMemoryPublisher()
	t.Cleanup(publisher.Close)
	deltas := publisher.Subscribe(testAccountID)

	st, err := OpenMemoryStore("test-master-key", publisher, logger)
	require.NoError(t, err)
	return st, deltas
}

func drainDeltas(ch <-chan types.Delta) []types.Delta {
	var out []types.Delta
	for {
		select {
		case d := <-ch:
			out = append(out, d)
		default:
			return out
		}
	}
}

func testAccount() *types.Account {
	return &types.Account{
		ID:           testAccountID,
		Name:         "work",
		EmailAddress: "me@example.com",
		Provider:     "imap",
		Settings:     types.ConnectionSettings{IMAPHost: "imap.example.com", IMAPPort: 993},
	}
}

func TestAccountCredentialsSealedAtRest(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	creds := types.Credentials{Username: "me@example.com", Password: "hunter2"}

	require.NoError(t, st.UpsertAccount(ctx, testAccount(), creds))

	// The stored column is ciphertext, not the password.
	var sealed []byte
	require.NoError(t, st.db.QueryRow(`SELECT credentials FROM accounts WHERE id = ?`, testAccountID).Scan(&sealed))
	require.NotContains(t, string(sealed), "hunter2")

	got, err := st.Credentials(ctx, testAccountID)
	require.NoError(t, err)
	require.Equal(t, creds, got)

	// GetAccount never carries credentials.
	acc, err := st.GetAccount(ctx, testAccountID)
	require.NoError(t, err)
	require.Equal(t, "me@example.com", acc.EmailAddress)
	require.Nil(t, acc.SyncError)
}

func TestSyncErrorLifecycle(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertAccount(ctx, testAccount(), types.Credentials{Username: "u", Password: "p"}))
	drainDeltas(deltas)

	require.NoError(t, st.SetSyncError(ctx, testAccountID, &types.SyncError{
		Message: "timeout budget spent", Kind: "connection_timeout", OccurredAt: time.Now(),
	}))
	acc, err := st.GetAccount(ctx, testAccountID)
	require.NoError(t, err)
	require.NotNil(t, acc.SyncError)
	require.Equal(t, "connection_timeout", acc.SyncError.Kind)

	got := drainDeltas(deltas)
	require.Len(t, got, 1)
	require.Equal(t, []string{"sync_error"}, got[0].ChangedFields)

	require.NoError(t, st.ClearSyncError(ctx, testAccountID))
	acc, err = st.GetAccount(ctx, testAccountID)
	require.NoError(t, err)
	require.Nil(t, acc.SyncError)
	require.Len(t, drainDeltas(deltas), 1)

	// Clearing an already-clear error is silent.
	require.NoError(t, st.ClearSyncError(ctx, testAccountID))
	require.Empty(t, drainDeltas(deltas))
}

func TestFolderSyncStateProducesNoDelta(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()

	folder := &types.Folder{AccountID: testAccountID, Name: "INBOX", Role: types.RoleInbox}
	require.NoError(t, st.UpsertFolder(ctx, folder))
	require.Len(t, drainDeltas(deltas), 1, "folder create is broadcast")

	state := types.SyncState{UIDNext: 42, UIDValidity: 7, HighestModSeq: 100}
	require.NoError(t, st.UpdateFolderSyncState(ctx, folder.ID, state))
	require.Empty(t, drainDeltas(deltas), "sync_state is ignored bookkeeping")

	got, err := st.GetFolder(ctx, folder.ID)
	require.NoError(t, err)
	require.Equal(t, state, got.SyncState)
}

func ingestMessage(t *testing.T, st *Store, id, folderID string, uid uint32, unread bool) *types.Message {
	t.Helper()
	msg := &types.Message{
		ID:        id,
		AccountID: testAccountID,
		FolderID:  folderID,
		UID:       uid,
		Subject:   "hello",
		From:      []types.Participant{{Email: "x@a.com"}},
		To:        []types.Participant{{Email: "y@b.com"}},
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Unread:    unread,
	}
	thread := &types.Thread{ID: "t:" + id, AccountID: testAccountID, Subject: "hello"}
	thread.ApplyMessage(msg)
	require.NoError(t, st.SaveMessageWithThread(context.Background(), msg, thread, true))
	return msg
}

func TestTransactionCursorStrictlyIncreasing(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()

	ingestMessage(t, st, "m1", "f1", 1, true)
	ingestMessage(t, st, "m2", "f1", 2, false)
	require.NoError(t, st.UpdateMessageFlags(ctx, testAccountID, "m1", false, true))

	got := drainDeltas(deltas)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].Cursor, got[i-1].Cursor)
	}

	// Replay from the middle returns exactly the tail, in order.
	mid := got[len(got)/2].Cursor
	replayed, err := st.TransactionsSince(ctx, testAccountID, mid, 0)
	require.NoError(t, err)
	require.Len(t, replayed, len(got)-len(got)/2-1)
	for i, tx := range replayed {
		require.Equal(t, got[len(got)/2+1+i].Cursor, tx.ID)
	}
}

func TestSaveMessageLogsCreateOnce(t *testing.T) {
	st, deltas := newTestStore(t)
	ingestMessage(t, st, "m1", "f1", 1, true)

	got := drainDeltas(deltas)
	require.Len(t, got, 2, "one thread create, one message create")
	require.Equal(t, types.ObjectThread, got[0].Object)
	require.Equal(t, types.EventCreate, got[0].Event)
	require.Equal(t, types.ObjectMessage, got[1].Object)
	require.Equal(t, types.EventCreate, got[1].Event)
}

func TestUpdateMessageFlagsIsIdempotent(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	ingestMessage(t, st, "m1", "f1", 1, true)
	drainDeltas(deltas)

	require.NoError(t, st.UpdateMessageFlags(ctx, testAccountID, "m1", false, false))
	first := drainDeltas(deltas)
	require.Len(t, first, 2, "thread counters and message flags both change")

	require.NoError(t, st.UpdateMessageFlags(ctx, testAccountID, "m1", false, false))
	require.Empty(t, drainDeltas(deltas), "identical flags produce no transaction")

	thread, err := st.GetThread(ctx, "t:m1")
	require.NoError(t, err)
	require.Equal(t, 0, thread.UnreadCount)
}

func TestUnlinkKeepsMessageRows(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	ingestMessage(t, st, "m1", "f1", 1, true)
	ingestMessage(t, st, "m2", "f1", 2, false)
	drainDeltas(deltas)

	require.NoError(t, st.UnlinkFolderMessages(ctx, testAccountID, "f1"))

	attrs, err := st.FolderMessageAttrs(ctx, "f1")
	require.NoError(t, err)
	require.Empty(t, attrs, "no message keeps a UID in the folder")

	for _, id := range []string{"m1", "m2"} {
		msg, err := st.GetMessage(ctx, id)
		require.NoError(t, err, "content row survives unlinking")
		require.Empty(t, msg.FolderID)
		require.Zero(t, msg.UID)
		require.Equal(t, "hello", msg.Subject)
	}
	require.Len(t, drainDeltas(deltas), 2, "one transaction per unlinked message")
}

func TestUnlinkByUIDs(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()
	ingestMessage(t, st, "m1", "f1", 1, true)
	ingestMessage(t, st, "m2", "f1", 2, false)

	require.NoError(t, st.UnlinkMessagesByUIDs(ctx, testAccountID, "f1", []uint32{2}))

	attrs, err := st.FolderMessageAttrs(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Equal(t, "m1", attrs[0].ID)
}

func TestRelinkedMessageKeepsContent(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	msg := ingestMessage(t, st, "m1", "f1", 1, true)
	require.NoError(t, st.UnlinkFolderMessages(ctx, testAccountID, "f1"))
	drainDeltas(deltas)

	before, err := st.GetThread(ctx, msg.ThreadID)
	require.NoError(t, err)

	// Same message rediscovered in another folder under a new UID.
	msg.FolderID = "f2"
	msg.UID = 99
	require.NoError(t, st.RelinkMessage(ctx, msg))

	got, err := st.GetMessage(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "f2", got.FolderID)
	require.EqualValues(t, 99, got.UID)
	require.Equal(t, "hello", got.Subject)

	// Unchanged flags: the thread is not rewritten and emits no delta.
	after, err := st.GetThread(ctx, msg.ThreadID)
	require.NoError(t, err)
	require.Equal(t, before.Version, after.Version)
	require.Equal(t, before.UnreadCount, after.UnreadCount)

	deltasGot := drainDeltas(deltas)
	require.Len(t, deltasGot, 1)
	require.Equal(t, types.EventModify, deltasGot[0].Event)
	require.Equal(t, types.ObjectMessage, deltasGot[0].Object)
	require.Contains(t, deltasGot[0].ChangedFields, "folder_id")
}

func TestRelinkFoldsFlagDeltaIntoThread(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	msg := ingestMessage(t, st, "m1", "f1", 1, true)
	require.NoError(t, st.UnlinkFolderMessages(ctx, testAccountID, "f1"))
	drainDeltas(deltas)

	// Read remotely while it was unlinked.
	msg.FolderID = "f1"
	msg.UID = 7
	msg.Unread = false
	require.NoError(t, st.RelinkMessage(ctx, msg))

	thread, err := st.GetThread(ctx, msg.ThreadID)
	require.NoError(t, err)
	require.Zero(t, thread.UnreadCount)

	recomputed, err := st.RecomputeThread(ctx, msg.ThreadID)
	require.NoError(t, err)
	require.Equal(t, thread.UnreadCount, recomputed.UnreadCount)
	require.Equal(t, thread.StarredCount, recomputed.StarredCount)

	deltasGot := drainDeltas(deltas)
	require.Len(t, deltasGot, 3, "thread counter delta, message delta, recompute delta")
	require.Equal(t, types.ObjectThread, deltasGot[0].Object)
	require.Contains(t, deltasGot[0].ChangedFields, "unread_count")
}

func TestSaveExistingMessageTakesRelinkPath(t *testing.T) {
	st, deltas := newTestStore(t)
	ctx := context.Background()
	msg := ingestMessage(t, st, "m1", "f1", 1, true)
	drainDeltas(deltas)

	thread, err := st.GetThread(ctx, msg.ThreadID)
	require.NoError(t, err)
	msg.FolderID = "f2"
	msg.UID = 50
	msg.Unread = false
	require.NoError(t, st.SaveMessageWithThread(ctx, msg, thread, false))

	got, err := st.GetThread(ctx, msg.ThreadID)
	require.NoError(t, err)
	require.Zero(t, got.UnreadCount)
}

func TestRecomputeThreadMatchesIncremental(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	thread := &types.Thread{ID: "tA", AccountID: testAccountID, Subject: "hello"}
	for i, m := range []*types.Message{
		{ID: "m1", AccountID: testAccountID, ThreadID: "tA", Subject: "hello", Unread: true,
			From: []types.Participant{{Email: "x@a.com"}},
			Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "m2", AccountID: testAccountID, ThreadID: "tA", Subject: "Re: hello", Starred: true,
			From: []types.Participant{{Email: "y@b.com"}},
			Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	} {
		thread.ApplyMessage(m)
		require.NoError(t, st.SaveMessageWithThread(ctx, m, thread, i == 0))
	}

	recomputed, err := st.RecomputeThread(ctx, "tA")
	require.NoError(t, err)
	require.Equal(t, thread.MessageCount, recomputed.MessageCount)
	require.Equal(t, thread.UnreadCount, recomputed.UnreadCount)
	require.Equal(t, thread.StarredCount, recomputed.StarredCount)
	require.Equal(t, thread.Participants, recomputed.Participants)
}
