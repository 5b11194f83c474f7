package types

import "time"

// Transaction events.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// Object names recorded in the transaction log.
const (
	ObjectAccount     = "account"
	ObjectFolder      = "folder"
	ObjectMessage     = "message"
	ObjectThread      = "thread"
	ObjectTransaction = "transaction"
)

// Transaction is the append-only record of one persisted mutation. Its ID is
// the delta cursor: strictly increasing within an account.
type Transaction struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"account_id"`
	Event         string    `json:"event"`
	Object        string    `json:"object"`
	ObjectID      string    `json:"object_id"`
	ChangedFields []string  `json:"changed_fields"`
	CreatedAt     time.Time `json:"created_at"`
}

// Delta is the wire payload broadcast for one committed transaction.
type Delta struct {
	Event         string   `json:"event"`
	Object        string   `json:"object"`
	ObjectID      string   `json:"objectId"`
	AccountID     string   `json:"accountId"`
	ChangedFields []string `json:"changedFields"`
	Cursor        int64    `json:"cursor"`
}

// DeltaFor converts a committed transaction into its broadcast payload.
func DeltaFor(tx *Transaction) Delta {
	return Delta{
		Event:         tx.Event,
		Object:        tx.Object,
		ObjectID:      tx.ObjectID,
		AccountID:     tx.AccountID,
		ChangedFields: tx.ChangedFields,
		Cursor:        tx.ID,
	}
}
