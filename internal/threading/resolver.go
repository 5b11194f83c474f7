// Package threading assigns newly-ingested messages to threads using a
// provider-native thread id when available, and subject/participant
// heuristics otherwise.
package threading

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/internal/store"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// candidateLimit bounds how many same-subject threads are considered,
// newest first.
const candidateLimit = 10

// minParticipantOverlap is how many shared non-BCC addresses a message must
// have with a candidate thread's latest message to attach.
const minParticipantOverlap = 2

var subjectPrefixes = regexp.MustCompile(`(?i)^((re|fw|fwd|aw|wg|undeliverable|undelivered):\s*)+`)

// CleanSubject strips a leading run of reply/forward prefixes, repeated,
// case-insensitive. "Re: Re: FWD: hello" becomes "hello".
func CleanSubject(subject string) string {
	return strings.TrimSpace(subjectPrefixes.ReplaceAllString(subject, ""))
}

// ThreadStore is the slice of the persistence layer the resolver reads.
type ThreadStore interface {
	GetThreadByRemoteID(ctx context.Context, accountID, remoteThreadID string) (*types.Thread, error)
	ThreadsBySubject(ctx context.Context, accountID, subject string, limit int) ([]*types.Thread, error)
	LatestMessageInThread(ctx context.Context, threadID string) (*types.Message, error)
}

// Resolver decides thread membership. It never fails on ambiguity: the
// heuristics always produce a deterministic choice.
type Resolver struct {
	store  ThreadStore
	logger *logrus.Logger
}

// NewResolver creates a resolver reading through the given store.
func NewResolver(ts ThreadStore, logger *logrus.Logger) *Resolver {
	return &Resolver{store: ts, logger: logger}
}

// Resolve returns the thread the message belongs to, creating one when no
// existing thread qualifies. The second return reports whether the thread
// is new. The caller applies the message to the thread and persists both.
func (r *Resolver) Resolve(ctx context.Context, msg *types.Message) (*types.Thread, bool, error) {
	if msg.RemoteThreadID != "" {
		return r.resolveByRemoteID(ctx, msg)
	}
	return r.resolveByMatching(ctx, msg)
}

func (r *Resolver) resolveByRemoteID(ctx context.Context, msg *types.Message) (*types.Thread, bool, error) {
	thread, err := r.store.GetThreadByRemoteID(ctx, msg.AccountID, msg.RemoteThreadID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return r.newThread(msg), true, nil
	case err != nil:
		return nil, false, err
	case thread.AtCapacity():
		// At the cap a new thread takes over; it keeps the remote id so
		// lookups keep preferring the thread with room.
		return r.newThread(msg), true, nil
	default:
		return thread, false, nil
	}
}

func (r *Resolver) resolveByMatching(ctx context.Context, msg *types.Message) (*types.Thread, bool, error) {
	subject := CleanSubject(msg.Subject)
	candidates, err := r.store.ThreadsBySubject(ctx, msg.AccountID, subject, candidateLimit)
	if err != nil {
		return nil, false, err
	}

	msgEmails := msg.NonBCCEmails()
	selfSent := isSelfSent(msg)

	for _, candidate := range candidates {
		if candidate.AtCapacity() {
			continue
		}

		if selfSent {
			// Sender talking to themselves: the subject match is the
			// strongest signal available, take the newest candidate.
			r.logger.WithFields(logrus.Fields{
				"account_id": msg.AccountID,
				"thread_id":  candidate.ID,
			}).Info("Attaching self-sent message by subject match")
			return candidate, false, nil
		}

		latest, err := r.store.LatestMessageInThread(ctx, candidate.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if overlap(msgEmails, latest.NonBCCEmails()) >= minParticipantOverlap {
			return candidate, false, nil
		}
	}

	return r.newThread(msg), true, nil
}

func (r *Resolver) newThread(msg *types.Message) *types.Thread {
	return &types.Thread{
		// Message ids are unique within an account, so any message's id
		// can seed its thread's id.
		ID:             "t:" + msg.ID,
		AccountID:      msg.AccountID,
		RemoteThreadID: msg.RemoteThreadID,
		Subject:        CleanSubject(msg.Subject),
	}
}

// isSelfSent reports a message with exactly one recipient where the sender
// and the recipient are the same single participant.
func isSelfSent(msg *types.Message) bool {
	if len(msg.From) != 1 || len(msg.To) != 1 || len(msg.CC) != 0 {
		return false
	}
	from := types.NormalizeEmail(msg.From[0].Email)
	return from != "" && from == types.NormalizeEmail(msg.To[0].Email)
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for e := range a {
		if _, ok := b[e]; ok {
			n++
		}
	}
	return n
}
