package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(n int) time.Time {
	return time.Date(2024, 3, n, 12, 0, 0, 0, time.UTC)
}

func sampleMessages() []*Message {
	return []*Message{
		{
			ID:      "m1",
			Subject: "Loved your work",
			Snippet: "first",
			From:    []Participant{{Email: "x@a.com"}},
			To:      []Participant{{Email: "y@b.com"}, {Email: "z@c.com"}},
			Date:    day(1),
			Unread:  true,
		},
		{
			ID:      "m2",
			Subject: "Re: Loved your work",
			Snippet: "second",
			From:    []Participant{{Email: "y@b.com"}},
			To:      []Participant{{Email: "X@A.com"}},
			Date:    day(2),
			Starred: true,
			IsSent:  true,
		},
		{
			ID:             "m3",
			Subject:        "Re: Re: Loved your work",
			Snippet:        "third",
			From:           []Participant{{Email: "z@c.com"}},
			To:             []Participant{{Email: "x@a.com"}},
			Date:           day(3),
			Unread:         true,
			HasAttachments: true,
		},
	}
}

func TestThreadIncrementalMatchesRecompute(t *testing.T) {
	msgs := sampleMessages()

	incremental := &Thread{ID: "t1"}
	for _, m := range msgs {
		incremental.ApplyMessage(m)
	}

	recomputed := &Thread{ID: "t1"}
	// Aggregates are order independent; feed the recompute path reversed.
	recomputed.Recompute([]*Message{msgs[2], msgs[0], msgs[1]})

	require.Equal(t, incremental.Participants, recomputed.Participants)
	require.Equal(t, incremental.UnreadCount, recomputed.UnreadCount)
	require.Equal(t, incremental.StarredCount, recomputed.StarredCount)
	require.Equal(t, incremental.MessageCount, recomputed.MessageCount)
	require.Equal(t, incremental.HasAttachments, recomputed.HasAttachments)
	require.Equal(t, incremental.Snippet, recomputed.Snippet)
	require.Equal(t, incremental.FirstMessageDate, recomputed.FirstMessageDate)
	require.Equal(t, incremental.LastMessageDate, recomputed.LastMessageDate)
	require.Equal(t, incremental.LastMessageSentDate, recomputed.LastMessageSentDate)
	require.Equal(t, incremental.LastMessageReceivedDate, recomputed.LastMessageReceivedDate)
}

func TestThreadAggregates(t *testing.T) {
	th := &Thread{ID: "t1"}
	for _, m := range sampleMessages() {
		th.ApplyMessage(m)
	}

	require.Equal(t, 3, th.MessageCount)
	require.Equal(t, 2, th.UnreadCount)
	require.Equal(t, 1, th.StarredCount)
	require.True(t, th.HasAttachments)

	// Participants dedupe by normalized email.
	emails := make([]string, 0, len(th.Participants))
	for _, p := range th.Participants {
		emails = append(emails, p.Email)
	}
	require.ElementsMatch(t, []string{"x@a.com", "y@b.com", "z@c.com"}, emails)

	require.Equal(t, day(1), th.FirstMessageDate)
	require.Equal(t, day(3), th.LastMessageDate)
	require.Equal(t, "third", th.Snippet)
	require.Equal(t, day(2), th.LastMessageSentDate)
	require.Equal(t, day(3), th.LastMessageReceivedDate)
}

func TestThreadSkipsDrafts(t *testing.T) {
	th := &Thread{ID: "t1"}
	th.ApplyMessage(&Message{ID: "d1", IsDraft: true, Unread: true, Date: day(1)})

	require.Equal(t, 0, th.MessageCount)
	require.Equal(t, 0, th.UnreadCount)
	require.True(t, th.LastMessageDate.IsZero())
}

func TestThreadAtCapacity(t *testing.T) {
	th := &Thread{MessageCount: MaxThreadLength - 1}
	require.False(t, th.AtCapacity())
	th.MessageCount++
	require.True(t, th.AtCapacity())
}
