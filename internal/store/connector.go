package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nylas/nylas-mail-sub003/internal/pubsub"
)

// Connector hands out database handles. Depending on configuration each
// account gets its own database file (a-<id>.db) or every account shares
// one. Handles are cached and reused for the process lifetime.
type Connector struct {
	dir       string
	shared    bool
	masterKey string
	publisher pubsub.Publisher
	logger    *logrus.Logger

	mu    sync.Mutex
	cache map[string]*Store
}

// Options configures a Connector.
type Options struct {
	// Dir is where database files live.
	Dir string
	// Shared selects one multi-tenant database instead of per-account files.
	Shared bool
	// MasterKey is the passphrase credentials are sealed with at rest.
	MasterKey string
	// Publisher receives a delta for every committed transaction. May be
	// nil, in which case transactions are recorded but not broadcast.
	Publisher pubsub.Publisher
	Logger    *logrus.Logger
}

// NewConnector creates a connector; no database is opened until ForAccount.
func NewConnector(opts Options) *Connector {
	return &Connector{
		dir:       opts.Dir,
		shared:    opts.Shared,
		masterKey: opts.MasterKey,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		cache:     make(map[string]*Store),
	}
}

// ForAccount returns the cached store for an account, opening and migrating
// the database on first use.
func (c *Connector) ForAccount(accountID string) (*Store, error) {
	if accountID == "" {
		return nil, fmt.Errorf("store: accountID is required")
	}

	key := accountID
	if c.shared {
		key = "shared"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[key]; ok {
		return s, nil
	}

	db, err := c.open(key)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:        db,
		masterKey: c.masterKey,
		publisher: c.publisher,
		logger:    c.logger,
	}
	c.cache[key] = s
	return s, nil
}

func (c *Connector) open(key string) (*sql.DB, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	name := fmt.Sprintf("a-%s.db", key)
	if c.shared {
		name = "shared.db"
	}
	path := filepath.Join(c.dir, name)

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(Schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	c.logger.WithField("path", path).Info("Database initialized")
	return db, nil
}

// Close closes every cached handle.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for key, s := range c.cache {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.cache, key)
	}
	return firstErr
}

// OpenMemoryStore opens a standalone in-memory store. Test helper.
func OpenMemoryStore(masterKey string, publisher pubsub.Publisher, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, masterKey: masterKey, publisher: publisher, logger: logger}, nil
}
