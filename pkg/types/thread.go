package types

import "time"

// MaxThreadLength caps how many messages a single thread accumulates.
// Once at the cap, new matches spawn a fresh thread instead.
const MaxThreadLength = 500

// Thread groups messages that share a provider thread id or a
// heuristically-matched subject and participant set. Every aggregate field
// is a pure function of the thread's current message set: ApplyMessage
// maintains them incrementally, Recompute rebuilds them from scratch, and
// both must land on the same values for the same final message set.
type Thread struct {
	ID                      string        `json:"id"`
	AccountID               string        `json:"account_id"`
	RemoteThreadID          string        `json:"remote_thread_id,omitempty"`
	Subject                 string        `json:"subject"`
	Snippet                 string        `json:"snippet,omitempty"`
	Participants            []Participant `json:"participants"`
	UnreadCount             int           `json:"unread_count"`
	StarredCount            int           `json:"starred_count"`
	MessageCount            int           `json:"message_count"`
	HasAttachments          bool          `json:"has_attachments"`
	FirstMessageDate        time.Time     `json:"first_message_date,omitempty"`
	LastMessageDate         time.Time     `json:"last_message_date,omitempty"`
	LastMessageSentDate     time.Time     `json:"last_message_sent_date,omitempty"`
	LastMessageReceivedDate time.Time     `json:"last_message_received_date,omitempty"`
	Version                 int           `json:"version"`
}

// AtCapacity reports whether the thread refuses further messages.
func (t *Thread) AtCapacity() bool {
	return t.MessageCount >= MaxThreadLength
}

// ApplyMessage folds one newly-attached message into the aggregates.
// Drafts contribute nothing until they are sent.
func (t *Thread) ApplyMessage(m *Message) {
	if m.IsDraft {
		return
	}

	t.Participants = MergeParticipants(t.Participants, m.Participants())

	if m.Unread {
		t.UnreadCount++
	}
	if m.Starred {
		t.StarredCount++
	}
	if m.HasAttachments {
		t.HasAttachments = true
	}
	t.MessageCount++

	if t.LastMessageDate.IsZero() || m.Date.After(t.LastMessageDate) {
		t.LastMessageDate = m.Date
		t.Snippet = m.Snippet
	}
	if t.FirstMessageDate.IsZero() || m.Date.Before(t.FirstMessageDate) {
		t.FirstMessageDate = m.Date
	}

	if m.IsSent {
		if t.LastMessageSentDate.IsZero() || m.Date.After(t.LastMessageSentDate) {
			t.LastMessageSentDate = m.Date
		}
	} else {
		if t.LastMessageReceivedDate.IsZero() || m.Date.After(t.LastMessageReceivedDate) {
			t.LastMessageReceivedDate = m.Date
		}
	}
}

// Recompute rebuilds every aggregate from the full message set. Used for
// repair and backfill; must converge with the incremental path.
func (t *Thread) Recompute(messages []*Message) {
	t.Participants = nil
	t.UnreadCount = 0
	t.StarredCount = 0
	t.MessageCount = 0
	t.HasAttachments = false
	t.Snippet = ""
	t.FirstMessageDate = time.Time{}
	t.LastMessageDate = time.Time{}
	t.LastMessageSentDate = time.Time{}
	t.LastMessageReceivedDate = time.Time{}

	for _, m := range messages {
		t.ApplyMessage(m)
	}
}
