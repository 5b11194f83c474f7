package types

import "time"

// ConnectionSettings holds what the engine needs to reach a provider.
// Credentials live separately so they can be encrypted at rest.
type ConnectionSettings struct {
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
}

// Credentials are decrypted on demand and must never be logged.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SyncPolicy bounds how aggressively an account is synced.
type SyncPolicy struct {
	// FetchLimit caps how far back the first unseen fetch reaches
	// (lower bound = max(1, uidnext-FetchLimit)).
	FetchLimit uint32 `json:"fetch_limit"`
	// Interval between scheduled folder passes.
	Interval time.Duration `json:"interval"`
	// DeepFolderScanInterval is the cadence of full UID reconciliation.
	DeepFolderScanInterval time.Duration `json:"deep_folder_scan_interval"`
	SocketTimeout          time.Duration `json:"socket_timeout"`
	DesiredConnections     int           `json:"desired_connections"`
	MaxTimeoutErrors       int           `json:"max_timeout_errors"`
}

// DefaultSyncPolicy mirrors the defaults the sync worker runs with when an
// account has no explicit policy stored.
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		FetchLimit:             200,
		Interval:               5 * time.Minute,
		DeepFolderScanInterval: 5 * time.Minute,
		SocketTimeout:          30 * time.Second,
		DesiredConnections:     3,
		MaxTimeoutErrors:       5,
	}
}

// SyncError is the account-level error surfaced to consumers when a pass
// exhausts its retry budget or persistence fails.
type SyncError struct {
	Message    string    `json:"message"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Account is the identity plus connection settings for one mailbox.
type Account struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	EmailAddress string             `json:"email_address"`
	Provider     string             `json:"provider"`
	Settings     ConnectionSettings `json:"settings"`
	SyncPolicy   SyncPolicy         `json:"sync_policy"`
	SyncError    *SyncError         `json:"sync_error,omitempty"`
	Version      int                `json:"version"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Policy returns the stored sync policy with zero fields filled from the
// defaults, so partially-specified policies stay usable.
func (a *Account) Policy() SyncPolicy {
	p := a.SyncPolicy
	def := DefaultSyncPolicy()
	if p.FetchLimit == 0 {
		p.FetchLimit = def.FetchLimit
	}
	if p.Interval == 0 {
		p.Interval = def.Interval
	}
	if p.DeepFolderScanInterval == 0 {
		p.DeepFolderScanInterval = def.DeepFolderScanInterval
	}
	if p.SocketTimeout == 0 {
		p.SocketTimeout = def.SocketTimeout
	}
	if p.DesiredConnections == 0 {
		p.DesiredConnections = def.DesiredConnections
	}
	if p.MaxTimeoutErrors == 0 {
		p.MaxTimeoutErrors = def.MaxTimeoutErrors
	}
	return p
}
