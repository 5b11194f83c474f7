// Package sync runs mailbox synchronization: per-folder passes over an IMAP
// connection, account workers that schedule them, and the retry policy
// around provider timeouts.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/internal/imapx"
	"github.com/nylas/nylas-mail-sub003/internal/store"
	"github.com/nylas/nylas-mail-sub003/internal/threading"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// shallowScanUIDCount bounds how far back a shallow reconciliation reaches.
const shallowScanUIDCount = 1000

// Mailbox is the slice of the IMAP client a folder pass consumes. The pool
// hands out *imapx.Client values, which satisfy it.
type Mailbox interface {
	OpenBox(name string) (*imapx.Box, error)
	FetchMessages(lo, hi uint32, fn func(*imapx.ParsedMessage) error) error
	FetchUIDAttributes(lo, hi uint32, changedSince uint64) (map[uint32]imapx.UIDAttributes, error)
	SupportsCondstore() bool
}

// FolderSync is one per-folder pass of the protocol state machine:
// open box, check UIDVALIDITY, fetch unseen, reconcile changes. In-flight
// state lives only for the duration of the pass; everything that must
// survive is persisted as the folder's SyncState.
type FolderSync struct {
	client   Mailbox
	store    *store.Store
	resolver *threading.Resolver
	account  *types.Account
	folder   *types.Folder
	policy   types.SyncPolicy
	logger   *logrus.Entry
	now      func() time.Time
}

// NewFolderSync builds a pass for one folder over an already-connected
// client. The client stays owned by the pool.
func NewFolderSync(client Mailbox, st *store.Store, resolver *threading.Resolver,
	account *types.Account, folder *types.Folder, logger *logrus.Logger) *FolderSync {
	return &FolderSync{
		client:   client,
		store:    st,
		resolver: resolver,
		account:  account,
		folder:   folder,
		policy:   account.Policy(),
		logger: logger.WithFields(logrus.Fields{
			"account_id": account.ID,
			"folder":     folder.Name,
		}),
		now: time.Now,
	}
}

// Run executes one pass. UID-validity check always precedes fetch-unseen,
// which always precedes fetch-changes. Each ingested message commits
// independently, so an abort keeps all progress made so far.
func (s *FolderSync) Run(ctx context.Context) error {
	box, err := s.client.OpenBox(s.folder.Name)
	if err != nil {
		return err
	}

	state := &s.folder.SyncState
	if state.UIDValidity != 0 && state.UIDValidity != box.UIDValidity {
		if err := s.recoverFromInvalidity(ctx, box); err != nil {
			return err
		}
	}

	if err := s.fetchUnseen(ctx, box); err != nil {
		return err
	}
	if err := s.backfill(ctx); err != nil {
		return err
	}
	return s.fetchChanges(ctx, box)
}

// recoverFromInvalidity clears every local UID mapping for the folder in
// one transaction. Message content rows survive; if the same messages are
// rediscovered under new UIDs they relink to their existing rows.
func (s *FolderSync) recoverFromInvalidity(ctx context.Context, box *imapx.Box) error {
	state := &s.folder.SyncState
	s.logger.WithFields(logrus.Fields{
		"stored_uidvalidity": state.UIDValidity,
		"remote_uidvalidity": box.UIDValidity,
	}).Warn("UIDVALIDITY changed, unlinking folder messages")

	if err := s.store.UnlinkFolderMessages(ctx, s.account.ID, s.folder.ID); err != nil {
		return err
	}
	*state = types.SyncState{UIDValidity: box.UIDValidity}
	return s.saveState(ctx)
}

// fetchUnseen pulls messages the folder has never seen, from the stored
// uidnext (or a bounded window behind the remote uidnext on first contact)
// up to the end of the folder. No-op when the stored uidnext already equals
// the remote one.
func (s *FolderSync) fetchUnseen(ctx context.Context, box *imapx.Box) error {
	state := &s.folder.SyncState
	if state.UIDNext == box.UIDNext {
		s.logger.WithField("uidnext", box.UIDNext).Debug("No unseen messages")
		return nil
	}

	lo := state.UIDNext
	if lo == 0 {
		lo = 1
		if box.UIDNext > s.policy.FetchLimit {
			lo = box.UIDNext - s.policy.FetchLimit
		}
	}

	count := 0
	err := s.client.FetchMessages(lo, 0, func(pm *imapx.ParsedMessage) error {
		if err := s.ingest(ctx, pm); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	state.UIDNext = box.UIDNext
	state.UIDValidity = box.UIDValidity
	state.HighestModSeq = box.HighestModSeq
	state.TimeFetchedUnseen = s.now()
	if state.FetchedMin == 0 || lo < state.FetchedMin {
		state.FetchedMin = lo
	}
	if box.UIDNext > 1 && box.UIDNext-1 > state.FetchedMax {
		state.FetchedMax = box.UIDNext - 1
	}

	s.logger.WithFields(logrus.Fields{
		"fetched": count,
		"uidnext": box.UIDNext,
	}).Info("Fetched unseen messages")
	return s.saveState(ctx)
}

// backfill extends the fetched window one batch deeper into the folder's
// history. One batch per pass keeps each pass bounded; the window reaches
// UID 1 after enough passes and backfill becomes a no-op.
func (s *FolderSync) backfill(ctx context.Context) error {
	state := &s.folder.SyncState
	if state.FetchedMin <= 1 {
		return nil
	}

	hi := state.FetchedMin - 1
	lo := uint32(1)
	if hi > s.policy.FetchLimit {
		lo = hi - s.policy.FetchLimit + 1
	}

	count := 0
	err := s.client.FetchMessages(lo, hi, func(pm *imapx.ParsedMessage) error {
		if err := s.ingest(ctx, pm); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	state.FetchedMin = lo
	s.logger.WithFields(logrus.Fields{
		"fetched":     count,
		"fetched_min": lo,
	}).Info("Backfilled older messages")
	return s.saveState(ctx)
}

// ingest materializes one fetched message: resolve its thread, fold it into
// the thread aggregates, and persist both in one transaction. A message
// rediscovered under a new UID relinks to its existing row; only a flag
// delta reaches its thread's counters.
func (s *FolderSync) ingest(ctx context.Context, pm *imapx.ParsedMessage) error {
	headerID := pm.HeaderMessageID
	if headerID == "" {
		// Some servers omit Message-Id; fall back to a folder-scoped key.
		headerID = fmt.Sprintf("%s/%d/%d", s.folder.ID, s.folder.SyncState.UIDValidity, pm.UID)
	}
	id := types.MessageIDForHeaders(s.account.ID, headerID)

	existing, err := s.store.GetMessage(ctx, id)
	switch {
	case err == nil:
		existing.FolderID = s.folder.ID
		existing.UID = pm.UID
		existing.ApplyFlags(pm.Unread, pm.Starred)
		return s.store.RelinkMessage(ctx, existing)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	body := pm.BodyHTML
	if body == "" {
		body = pm.BodyText
	}
	msg := &types.Message{
		ID:              id,
		AccountID:       s.account.ID,
		FolderID:        s.folder.ID,
		UID:             pm.UID,
		RemoteThreadID:  pm.RemoteThreadID,
		HeaderMessageID: pm.HeaderMessageID,
		Subject:         pm.Subject,
		Snippet:         pm.Snippet,
		Body:            body,
		From:            pm.From,
		To:              pm.To,
		CC:              pm.CC,
		BCC:             pm.BCC,
		Date:            pm.Date,
		Unread:          pm.Unread,
		Starred:         pm.Starred,
		IsSent:          s.folder.Role == types.RoleSent,
		HasAttachments:  pm.HasAttachments,
	}

	thread, created, err := s.resolver.Resolve(ctx, msg)
	if err != nil {
		return err
	}
	msg.ThreadID = thread.ID
	thread.ApplyMessage(msg)
	return s.store.SaveMessageWithThread(ctx, msg, thread, created)
}

// fetchChanges reconciles flags and deletions for already-known UIDs. The
// deep scan takes priority whenever its interval has elapsed, even when the
// server could serve a cheaper shallow scan.
func (s *FolderSync) fetchChanges(ctx context.Context, box *imapx.Box) error {
	state := &s.folder.SyncState
	if s.now().Sub(state.TimeDeepScan) > s.policy.DeepFolderScanInterval {
		return s.deepScan(ctx, box)
	}
	return s.shallowScan(ctx, box)
}

// deepScan fetches the full UID-attribute map for the fetched window, diffs
// it against every locally known UID, updates flags for matches, and
// unlinks local messages whose UID is gone remotely.
func (s *FolderSync) deepScan(ctx context.Context, box *imapx.Box) error {
	state := &s.folder.SyncState
	lo := state.FetchedMin
	if lo == 0 {
		lo = 1
	}

	remote, err := s.client.FetchUIDAttributes(lo, 0, 0)
	if err != nil {
		return err
	}
	known, err := s.store.FolderMessageAttrs(ctx, s.folder.ID)
	if err != nil {
		return err
	}

	var gone []uint32
	updated := 0
	for _, local := range known {
		attrs, ok := remote[local.UID]
		if !ok {
			// Only UIDs inside the scanned range are known to be gone.
			if local.UID >= lo {
				gone = append(gone, local.UID)
			}
			continue
		}
		if attrs.Unread != local.Unread || attrs.Starred != local.Starred {
			if err := s.store.UpdateMessageFlags(ctx, s.account.ID, local.ID, attrs.Unread, attrs.Starred); err != nil {
				return err
			}
			updated++
		}
	}
	if len(gone) > 0 {
		if err := s.store.UnlinkMessagesByUIDs(ctx, s.account.ID, s.folder.ID, gone); err != nil {
			return err
		}
	}

	now := s.now()
	state.TimeDeepScan = now
	state.TimeShallowScan = now
	state.HighestModSeq = box.HighestModSeq

	s.logger.WithFields(logrus.Fields{
		"updated":  updated,
		"unlinked": len(gone),
	}).Info("Deep scan complete")
	return s.saveState(ctx)
}

// shallowScan reconciles flags only. With CONDSTORE it fetches just the
// UIDs changed since the stored highestmodseq and no-ops when that value is
// unchanged; without it, it falls back to a bounded recent-UID fetch. It
// never unlinks.
func (s *FolderSync) shallowScan(ctx context.Context, box *imapx.Box) error {
	state := &s.folder.SyncState
	condstore := s.client.SupportsCondstore() && box.HighestModSeq > 0

	if condstore && state.HighestModSeq == box.HighestModSeq {
		s.logger.WithField("highestmodseq", box.HighestModSeq).Debug("No changes since last scan")
		return nil
	}

	lo := uint32(1)
	if box.UIDNext > shallowScanUIDCount {
		lo = box.UIDNext - shallowScanUIDCount
	}
	var changedSince uint64
	if condstore {
		changedSince = state.HighestModSeq
	}

	remote, err := s.client.FetchUIDAttributes(lo, 0, changedSince)
	if err != nil {
		return err
	}
	known, err := s.store.FolderMessageAttrs(ctx, s.folder.ID)
	if err != nil {
		return err
	}

	updated := 0
	for _, local := range known {
		attrs, ok := remote[local.UID]
		if !ok {
			continue
		}
		if attrs.Unread != local.Unread || attrs.Starred != local.Starred {
			if err := s.store.UpdateMessageFlags(ctx, s.account.ID, local.ID, attrs.Unread, attrs.Starred); err != nil {
				return err
			}
			updated++
		}
	}

	state.TimeShallowScan = s.now()
	state.HighestModSeq = box.HighestModSeq

	s.logger.WithField("updated", updated).Debug("Shallow scan complete")
	return s.saveState(ctx)
}

// saveState persists the folder's checkpoint. The write is its own
// transaction keyed by folder id, so concurrent passes over other folders
// cannot clobber it.
func (s *FolderSync) saveState(ctx context.Context) error {
	return s.store.UpdateFolderSyncState(ctx, s.folder.ID, s.folder.SyncState)
}
