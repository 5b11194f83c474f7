package types

import "time"

// Folder roles the engine cares about. Sent matters for thread date
// bookkeeping, inbox/all for choosing which folder to watch first.
const (
	RoleInbox = "inbox"
	RoleSent  = "sent"
	RoleAll   = "all"
	RoleSpam  = "spam"
	RoleTrash = "trash"
)

// SyncState is the per-folder protocol checkpoint. It is persisted after
// every successful pass so a restart resumes from the last known-good point.
type SyncState struct {
	UIDNext           uint32    `json:"uidnext,omitempty"`
	UIDValidity       uint32    `json:"uidvalidity,omitempty"`
	HighestModSeq     uint64    `json:"highestmodseq,omitempty"`
	FetchedMin        uint32    `json:"fetchedmin,omitempty"`
	FetchedMax        uint32    `json:"fetchedmax,omitempty"`
	TimeDeepScan      time.Time `json:"time_deep_scan,omitempty"`
	TimeShallowScan   time.Time `json:"time_shallow_scan,omitempty"`
	TimeFetchedUnseen time.Time `json:"time_fetched_unseen,omitempty"`
}

// Folder is one remote mailbox (a.k.a. category) of an account.
type Folder struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Role      string    `json:"role,omitempty"`
	SyncState SyncState `json:"sync_state"`
	Version   int       `json:"version"`
}
