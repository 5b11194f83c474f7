package threading

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nylas/nylas-mail-sub003/internal/store"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

func TestCleanSubject(t *testing.T) {
	cases := map[string]string{
		"Re: Re: FWD: hello":   "hello",
		"hello":                "hello",
		"RE: budget":           "budget",
		"Fwd: aw: wg: plans":   "plans",
		"Undeliverable: hello": "hello",
		"real estate":          "real estate",
	}
	for in, want := range cases {
		require.Equal(t, want, CleanSubject(in), "input %q", in)
	}
}

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st, err := store.OpenMemoryStore("test-key", nil, logger)
	require.NoError(t, err)
	return NewResolver(st, logger), st
}

// seedThread persists a thread holding a single message.
func seedThread(t *testing.T, st *store.Store, thread *types.Thread, msg *types.Message) {
	t.Helper()
	thread.ApplyMessage(msg)
	require.NoError(t, st.SaveMessageWithThread(context.Background(), msg, thread, true))
}

func TestResolveAttachesOnParticipantOverlap(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seedThread(t, st, &types.Thread{ID: "tA", AccountID: "acc", Subject: "Loved your work"}, &types.Message{
		ID:        "m1",
		AccountID: "acc",
		Subject:   "Loved your work",
		From:      []types.Participant{{Email: "x@a.com"}},
		To:        []types.Participant{{Email: "y@b.com"}, {Email: "z@c.com"}},
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	reply := &types.Message{
		ID:        "m2",
		AccountID: "acc",
		Subject:   "Re: Loved your work",
		From:      []types.Participant{{Email: "y@b.com"}},
		To:        []types.Participant{{Email: "x@a.com"}},
		Date:      time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err := r.Resolve(ctx, reply)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "tA", thread.ID)
}

func TestResolveCreatesThreadBelowOverlapThreshold(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seedThread(t, st, &types.Thread{ID: "tA", AccountID: "acc", Subject: "hello"}, &types.Message{
		ID:        "m1",
		AccountID: "acc",
		Subject:   "hello",
		From:      []types.Participant{{Email: "x@a.com"}},
		To:        []types.Participant{{Email: "y@b.com"}},
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	stranger := &types.Message{
		ID:        "m2",
		AccountID: "acc",
		Subject:   "Re: hello",
		From:      []types.Participant{{Email: "q@q.com"}},
		To:        []types.Participant{{Email: "x@a.com"}},
		Date:      time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err := r.Resolve(ctx, stranger)
	require.NoError(t, err)
	require.True(t, created, "one shared address is not enough")
	require.Equal(t, "t:m2", thread.ID)
	require.Equal(t, "hello", thread.Subject)
}

func TestResolveSelfSentAttachesBySubject(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seedThread(t, st, &types.Thread{ID: "tA", AccountID: "acc", Subject: "notes"}, &types.Message{
		ID:        "m1",
		AccountID: "acc",
		Subject:   "notes",
		From:      []types.Participant{{Email: "x@a.com"}},
		To:        []types.Participant{{Email: "y@b.com"}},
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	note := &types.Message{
		ID:        "m2",
		AccountID: "acc",
		Subject:   "Re: notes",
		From:      []types.Participant{{Email: "me@self.com"}},
		To:        []types.Participant{{Email: "Me@Self.com"}},
		Date:      time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err := r.Resolve(ctx, note)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "tA", thread.ID)
}

func TestResolveByRemoteThreadID(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seedThread(t, st, &types.Thread{ID: "tG", AccountID: "acc", RemoteThreadID: "9001", Subject: "gmail"}, &types.Message{
		ID:             "m1",
		AccountID:      "acc",
		RemoteThreadID: "9001",
		Subject:        "gmail",
		From:           []types.Participant{{Email: "x@a.com"}},
		Date:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})

	followup := &types.Message{
		ID:             "m2",
		AccountID:      "acc",
		RemoteThreadID: "9001",
		Subject:        "completely different subject",
		From:           []types.Participant{{Email: "q@q.com"}},
		Date:           time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err := r.Resolve(ctx, followup)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "tG", thread.ID)

	unknown := &types.Message{
		ID:             "m3",
		AccountID:      "acc",
		RemoteThreadID: "9002",
		Subject:        "gmail",
		Date:           time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err = r.Resolve(ctx, unknown)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "9002", thread.RemoteThreadID)
}

func TestResolveSkipsThreadAtCapacity(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	full := &types.Thread{
		ID:        "tFull",
		AccountID: "acc",
		Subject:   "busy",
		// Pre-inflated counter stands in for 500 real rows.
		MessageCount: types.MaxThreadLength - 1,
	}
	seedThread(t, st, full, &types.Message{
		ID:        "m1",
		AccountID: "acc",
		Subject:   "busy",
		From:      []types.Participant{{Email: "x@a.com"}},
		To:        []types.Participant{{Email: "y@b.com"}},
		Date:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.True(t, full.AtCapacity())

	reply := &types.Message{
		ID:        "m2",
		AccountID: "acc",
		Subject:   "Re: busy",
		From:      []types.Participant{{Email: "y@b.com"}},
		To:        []types.Participant{{Email: "x@a.com"}},
		Date:      time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	thread, created, err := r.Resolve(ctx, reply)
	require.NoError(t, err)
	require.True(t, created, "a full thread spawns a successor")
	require.NotEqual(t, "tFull", thread.ID)
}
