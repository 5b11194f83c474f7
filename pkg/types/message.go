package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrBodyImmutable is returned when something tries to rewrite the body of a
// message that is no longer a draft.
var ErrBodyImmutable = errors.New("message body is immutable after send")

// Message content is immutable after creation; only flags and folder/UID
// linkage change afterwards. Drafts are the one exception: their body may be
// rewritten until MarkSent seals them.
type Message struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	ThreadID       string `json:"thread_id,omitempty"`
	FolderID       string `json:"folder_id,omitempty"`
	UID            uint32 `json:"uid,omitempty"`
	RemoteThreadID string `json:"remote_thread_id,omitempty"`
	// HeaderMessageID is the RFC 5322 Message-Id header.
	HeaderMessageID string        `json:"header_message_id,omitempty"`
	Subject         string        `json:"subject"`
	Snippet         string        `json:"snippet,omitempty"`
	Body            string        `json:"body,omitempty"`
	From            []Participant `json:"from"`
	To              []Participant `json:"to"`
	CC              []Participant `json:"cc,omitempty"`
	BCC             []Participant `json:"bcc,omitempty"`
	Date            time.Time     `json:"date"`
	Unread          bool          `json:"unread"`
	Starred         bool          `json:"starred"`
	IsDraft         bool          `json:"is_draft,omitempty"`
	IsSent          bool          `json:"is_sent,omitempty"`
	HasAttachments  bool          `json:"has_attachments,omitempty"`
	Version         int           `json:"version"`
}

// MessageIDForHeaders derives a stable message id from the account and the
// Message-Id header, so the same message rediscovered under a new UID maps
// to the same row.
func MessageIDForHeaders(accountID, headerMessageID string) string {
	sum := sha256.Sum256([]byte(accountID + "\x00" + headerMessageID))
	return hex.EncodeToString(sum[:16])
}

// SetBody rewrites the body; permitted pre-send for drafts only.
func (m *Message) SetBody(body string) error {
	if !m.IsDraft {
		return ErrBodyImmutable
	}
	m.Body = body
	return nil
}

// MarkSent transitions a draft to sent state and seals its content.
func (m *Message) MarkSent() {
	m.IsDraft = false
	m.IsSent = true
}

// ApplyFlags updates the mutable flag bits. Reports whether anything
// actually changed so callers can skip no-op persistence.
func (m *Message) ApplyFlags(unread, starred bool) bool {
	if m.Unread == unread && m.Starred == starred {
		return false
	}
	m.Unread = unread
	m.Starred = starred
	return true
}

// Unlink clears the folder/UID association without touching content. Used
// when UIDVALIDITY changes or a deep scan finds the UID gone remotely.
func (m *Message) Unlink() {
	m.FolderID = ""
	m.UID = 0
}

// Participants returns from/to/cc/bcc concatenated.
func (m *Message) Participants() []Participant {
	all := make([]Participant, 0, len(m.From)+len(m.To)+len(m.CC)+len(m.BCC))
	all = append(all, m.From...)
	all = append(all, m.To...)
	all = append(all, m.CC...)
	all = append(all, m.BCC...)
	return all
}

// NonBCCEmails is the participant set used by the threading heuristics.
// BCC recipients are excluded from consideration.
func (m *Message) NonBCCEmails() map[string]struct{} {
	all := make([]Participant, 0, len(m.From)+len(m.To)+len(m.CC))
	all = append(all, m.From...)
	all = append(all, m.To...)
	all = append(all, m.CC...)
	return EmailSet(all)
}
