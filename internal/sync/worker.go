package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nylas/nylas-mail-sub003/internal/imapx"
	"github.com/nylas/nylas-mail-sub003/internal/pool"
	"github.com/nylas/nylas-mail-sub003/internal/store"
	"github.com/nylas/nylas-mail-sub003/internal/threading"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// Worker drives synchronization for one account: it discovers folders,
// borrows connections from the pool, and runs folder passes on a schedule.
// Timeout errors are retried with exponential backoff up to the policy's
// MaxTimeoutErrors; exhausting the budget records a fatal account-level
// sync error and stops the worker.
type Worker struct {
	account  *types.Account
	store    *store.Store
	pool     *pool.Pool
	resolver *threading.Resolver
	logger   *logrus.Logger
	backoff  *BackoffScheduler

	timeoutErrors int
}

// NewWorker builds a worker for one account.
func NewWorker(account *types.Account, st *store.Store, p *pool.Pool, logger *logrus.Logger) *Worker {
	return &Worker{
		account:  account,
		store:    st,
		pool:     p,
		resolver: threading.NewResolver(st, logger),
		logger:   logger,
		backoff:  NewBackoffScheduler(0, 0),
	}
}

// Run loops until the context is cancelled or the retry budget is spent.
// The first pass starts immediately; subsequent passes follow the policy
// interval.
func (w *Worker) Run(ctx context.Context) error {
	policy := w.account.Policy()
	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for {
		if err := w.syncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fatal, werr := w.handleFailure(ctx, err, policy)
			if fatal {
				return werr
			}
		} else {
			w.timeoutErrors = 0
			w.backoff.Reset()
			if err := w.store.ClearSyncError(ctx, w.account.ID); err != nil {
				w.logger.WithError(err).WithField("account_id", w.account.ID).Warn("Failed to clear sync error")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleFailure classifies a pass error. Timeouts consume retry budget and
// back off in-line; persistence failures surface as a sync error but keep
// the schedule; protocol errors just wait for the next tick.
func (w *Worker) handleFailure(ctx context.Context, err error, policy types.SyncPolicy) (fatal bool, _ error) {
	log := w.logger.WithError(err).WithField("account_id", w.account.ID)

	if imapx.IsTimeout(err) {
		w.timeoutErrors++
		if w.timeoutErrors > policy.MaxTimeoutErrors {
			log.Error("Timeout retry budget exhausted, marking account errored")
			serr := &types.SyncError{
				Message:    err.Error(),
				Kind:       "connection_timeout",
				OccurredAt: time.Now(),
			}
			if perr := w.store.SetSyncError(ctx, w.account.ID, serr); perr != nil {
				log.WithError(perr).Error("Failed to record sync error")
			}
			return true, err
		}
		delay := w.backoff.NextDelay()
		log.WithFields(logrus.Fields{
			"attempt": w.timeoutErrors,
			"delay":   delay.String(),
		}).Warn("Connection timed out, backing off")
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(delay):
		}
		return false, nil
	}

	var perr *store.PersistenceError
	if errors.As(err, &perr) {
		log.Error("Persistence failure during pass")
		serr := &types.SyncError{
			Message:    err.Error(),
			Kind:       "persistence",
			OccurredAt: time.Now(),
		}
		if serr2 := w.store.SetSyncError(ctx, w.account.ID, serr); serr2 != nil {
			log.WithError(serr2).Error("Failed to record sync error")
		}
		return false, nil
	}

	log.Warn("Pass aborted, will retry on next schedule")
	return false, nil
}

// syncOnce runs one full pass: borrow connections, refresh the folder list,
// and sync every folder, spreading folders across the borrowed connections.
func (w *Worker) syncOnce(ctx context.Context) error {
	creds, err := w.store.Credentials(ctx, w.account.ID)
	if err != nil {
		return err
	}
	policy := w.account.Policy()

	// Each retry widens the timeout window.
	timeout := policy.SocketTimeout * time.Duration(1+w.timeoutErrors)

	return w.pool.WithConnections(ctx, w.account, creds, pool.Options{
		DesiredCount:  policy.DesiredConnections,
		SocketTimeout: timeout,
		OnTimeout: func(t time.Duration) {
			w.logger.WithFields(logrus.Fields{
				"account_id": w.account.ID,
				"timeout":    t.String(),
			}).Warn("Connection attempt timed out")
		},
		OnConnected: func(conns []*imapx.Client, done func()) error {
			defer done()

			folders, err := w.refreshFolders(ctx, conns[0])
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			for i, conn := range conns {
				conn := conn
				var share []*types.Folder
				for j := i; j < len(folders); j += len(conns) {
					share = append(share, folders[j])
				}
				g.Go(func() error {
					for _, folder := range share {
						op := NewFolderSync(conn, w.store, w.resolver, w.account, folder, w.logger)
						if err := op.Run(gctx); err != nil {
							return err
						}
					}
					return nil
				})
			}
			return g.Wait()
		},
	})
}

type folderLister interface {
	ListFolders() ([]imapx.FolderInfo, error)
}

// refreshFolders lists the remote folders, upserts them locally, and
// returns the syncable set with fresh sync state loaded.
func (w *Worker) refreshFolders(ctx context.Context, conn folderLister) ([]*types.Folder, error) {
	infos, err := conn.ListFolders()
	if err != nil {
		return nil, err
	}

	for _, info := range infos {
		if hasAttribute(info.Attributes, `\Noselect`) {
			continue
		}
		folder := &types.Folder{
			AccountID: w.account.ID,
			Name:      info.Name,
			Role:      detectRole(info),
		}
		if err := w.store.UpsertFolder(ctx, folder); err != nil {
			return nil, err
		}
	}

	return w.store.ListFolders(ctx, w.account.ID)
}

// detectRole maps SPECIAL-USE attributes, falling back to well-known names.
func detectRole(info imapx.FolderInfo) string {
	switch {
	case hasAttribute(info.Attributes, `\Sent`):
		return types.RoleSent
	case hasAttribute(info.Attributes, `\All`):
		return types.RoleAll
	case hasAttribute(info.Attributes, `\Junk`):
		return types.RoleSpam
	case hasAttribute(info.Attributes, `\Trash`):
		return types.RoleTrash
	}

	switch strings.ToLower(info.Name) {
	case "inbox":
		return types.RoleInbox
	case "sent", "sent items", "sent mail":
		return types.RoleSent
	case "spam", "junk":
		return types.RoleSpam
	case "trash", "deleted items":
		return types.RoleTrash
	}
	return ""
}

func hasAttribute(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
