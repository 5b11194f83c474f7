package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageBodyImmutableAfterSend(t *testing.T) {
	draft := &Message{ID: "m1", IsDraft: true, Body: "v1"}
	require.NoError(t, draft.SetBody("v2"))
	require.Equal(t, "v2", draft.Body)

	draft.MarkSent()
	require.False(t, draft.IsDraft)
	require.True(t, draft.IsSent)

	err := draft.SetBody("v3")
	require.ErrorIs(t, err, ErrBodyImmutable)
	require.Equal(t, "v2", draft.Body)
}

func TestMessageApplyFlags(t *testing.T) {
	m := &Message{Unread: true}
	require.False(t, m.ApplyFlags(true, false), "identical flags are a no-op")
	require.True(t, m.ApplyFlags(false, true))
	require.False(t, m.Unread)
	require.True(t, m.Starred)
}

func TestMessageUnlinkKeepsContent(t *testing.T) {
	m := &Message{ID: "m1", FolderID: "f1", UID: 42, Subject: "hello", Body: "body"}
	m.Unlink()
	require.Empty(t, m.FolderID)
	require.Zero(t, m.UID)
	require.Equal(t, "hello", m.Subject)
	require.Equal(t, "body", m.Body)
}

func TestMessageIDForHeadersIsStable(t *testing.T) {
	a := MessageIDForHeaders("acc1", "<abc@example.com>")
	b := MessageIDForHeaders("acc1", "<abc@example.com>")
	require.Equal(t, a, b)
	require.NotEqual(t, a, MessageIDForHeaders("acc2", "<abc@example.com>"))
	require.NotEqual(t, a, MessageIDForHeaders("acc1", "<def@example.com>"))
}

func TestNonBCCEmailsExcludesBCC(t *testing.T) {
	m := &Message{
		From: []Participant{{Email: "a@x.com"}},
		To:   []Participant{{Email: "B@Y.com"}},
		CC:   []Participant{{Email: "c@z.com"}},
		BCC:  []Participant{{Email: "hidden@q.com"}},
	}
	set := m.NonBCCEmails()
	require.Len(t, set, 3)
	require.Contains(t, set, "b@y.com")
	require.NotContains(t, set, "hidden@q.com")
}
