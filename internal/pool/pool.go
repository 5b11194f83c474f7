// Package pool owns every live IMAP socket in the process. Sync operations
// borrow connections through WithConnections and never dial directly.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/internal/imapx"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// maxIdlePerAccount caps how many released connections are kept warm for an
// account; anything beyond that is retired.
const maxIdlePerAccount = 3

// Options controls one WithConnections call.
type Options struct {
	DesiredCount  int
	SocketTimeout time.Duration
	// OnConnected receives the borrowed connections and a done func.
	// done releases the connections back to the pool; the pool also
	// releases them itself on every exit path, including panics, so
	// forgetting to call done leaks nothing.
	OnConnected func(conns []*imapx.Client, done func()) error
	// OnTimeout is invoked with the current socket timeout when no
	// connection could be established in time, before the typed
	// ConnectionTimeoutError is returned to the caller.
	OnTimeout func(timeout time.Duration)
}

// Pool acquires, reuses, and retires provider connections per account.
type Pool struct {
	logger *logrus.Logger

	mu   sync.Mutex
	idle map[string][]*imapx.Client
}

// New creates an empty pool.
func New(logger *logrus.Logger) *Pool {
	return &Pool{
		logger: logger,
		idle:   make(map[string][]*imapx.Client),
	}
}

// WithConnections acquires up to DesiredCount live connections for the
// account, invokes OnConnected, and guarantees release on every exit path.
// A connection that cannot be established within SocketTimeout triggers
// OnTimeout and surfaces a *imapx.ConnectionTimeoutError; the caller decides
// whether to retry with a wider timeout.
func (p *Pool) WithConnections(ctx context.Context, account *types.Account, creds types.Credentials, opts Options) (err error) {
	if opts.DesiredCount < 1 {
		opts.DesiredCount = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conns, err := p.acquire(account, creds, opts)
	if err != nil {
		return err
	}

	var once sync.Once
	done := func() {
		once.Do(func() { p.release(account.ID, conns) })
	}
	defer func() {
		if r := recover(); r != nil {
			// Sockets in an unknown state are not worth reusing.
			once.Do(func() { p.retire(conns) })
			panic(r)
		}
		done()
	}()

	return opts.OnConnected(conns, done)
}

func (p *Pool) acquire(account *types.Account, creds types.Credentials, opts Options) ([]*imapx.Client, error) {
	conns := make([]*imapx.Client, 0, opts.DesiredCount)

	for len(conns) < opts.DesiredCount {
		conn := p.takeIdle(account.ID)
		if conn == nil {
			conn = imapx.NewClient(account.Settings, creds, opts.SocketTimeout, p.logger)
		}
		if err := conn.Connect(); err != nil {
			p.retire(conns)
			if imapx.IsTimeout(err) {
				if opts.OnTimeout != nil {
					opts.OnTimeout(opts.SocketTimeout)
				}
				return nil, err
			}
			return nil, fmt.Errorf("acquire connection for account %s: %w", account.ID, err)
		}
		conns = append(conns, conn)
	}

	p.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"count":      len(conns),
	}).Debug("Acquired connections")
	return conns, nil
}

func (p *Pool) takeIdle(accountID string) *imapx.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	idle := p.idle[accountID]
	for len(idle) > 0 {
		conn := idle[len(idle)-1]
		idle = idle[:len(idle)-1]
		if conn.Connected() {
			p.idle[accountID] = idle
			return conn
		}
		// A dead client still holds its reader; close it before dropping.
		conn.Close() //nolint:errcheck
	}
	p.idle[accountID] = idle
	return nil
}

func (p *Pool) release(accountID string, conns []*imapx.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range conns {
		if !conn.Connected() || len(p.idle[accountID]) >= maxIdlePerAccount {
			conn.Close() //nolint:errcheck
			continue
		}
		p.idle[accountID] = append(p.idle[accountID], conn)
	}
}

func (p *Pool) retire(conns []*imapx.Client) {
	for _, conn := range conns {
		conn.Close() //nolint:errcheck
	}
}

// Shutdown closes every idle connection.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for accountID, conns := range p.idle {
		for _, conn := range conns {
			conn.Close() //nolint:errcheck
		}
		delete(p.idle, accountID)
	}
}
