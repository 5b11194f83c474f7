package imapx

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

const snippetLength = 100

// ParsedMessage is one fetched message after MIME parsing, ready for the
// threading resolver and the persistence layer.
type ParsedMessage struct {
	UID             uint32
	HeaderMessageID string
	RemoteThreadID  string
	Subject         string
	From            []types.Participant
	To              []types.Participant
	CC              []types.Participant
	BCC             []types.Participant
	Date            time.Time
	BodyText        string
	BodyHTML        string
	Snippet         string
	Unread          bool
	Starred         bool
	HasAttachments  bool
}

func parseMessage(msg *imap.Message, logger *logrus.Logger) (*ParsedMessage, error) {
	if msg.Envelope == nil {
		return nil, fmt.Errorf("message %d has no envelope", msg.Uid)
	}

	parsed := &ParsedMessage{
		UID:             msg.Uid,
		HeaderMessageID: msg.Envelope.MessageId,
		Subject:         msg.Envelope.Subject,
		From:            toParticipants(msg.Envelope.From),
		To:              toParticipants(msg.Envelope.To),
		CC:              toParticipants(msg.Envelope.Cc),
		BCC:             toParticipants(msg.Envelope.Bcc),
		Date:            msg.Envelope.Date,
		Unread:          !hasFlag(msg.Flags, imap.SeenFlag),
		Starred:         hasFlag(msg.Flags, imap.FlaggedFlag),
	}
	if parsed.Date.IsZero() {
		parsed.Date = msg.InternalDate
	}
	if thrid := toUint64(msg.Items[fetchGmThrID]); thrid != 0 {
		parsed.RemoteThreadID = fmt.Sprintf("%d", thrid)
	}

	if raw := readBody(msg); len(raw) > 0 {
		env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
		if err != nil {
			logger.WithError(err).WithField("uid", msg.Uid).Debug("MIME parse failed, keeping raw body")
			parsed.BodyText = string(raw)
		} else {
			parsed.BodyText = env.Text
			parsed.BodyHTML = env.HTML
			parsed.HasAttachments = len(env.Attachments) > 0
		}
	}
	parsed.Snippet = makeSnippet(parsed.BodyText)

	return parsed, nil
}

func toParticipants(addrs []*imap.Address) []types.Participant {
	ps := make([]types.Participant, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		email := types.NormalizeEmail(a.Address())
		if email == "" {
			continue
		}
		ps = append(ps, types.Participant{Name: a.PersonalName, Email: email})
	}
	return ps
}

// readBody pulls the RFC822 literal out of the fetch response. Servers key
// the section differently, so try the likely keys in order.
func readBody(msg *imap.Message) []byte {
	if msg.Body == nil {
		return nil
	}
	if literal, ok := msg.Body[nil]; ok {
		return readLiteral(literal)
	}
	for _, literal := range msg.Body {
		if raw := readLiteral(literal); len(raw) > 0 {
			return raw
		}
	}
	return nil
}

func readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}
	raw, err := io.ReadAll(literal)
	if err != nil {
		return nil
	}
	return raw
}

// makeSnippet collapses whitespace and truncates to the snippet length,
// cutting at a rune boundary so multi-byte text stays valid UTF-8.
func makeSnippet(text string) string {
	joined := strings.Join(strings.Fields(text), " ")
	runes := []rune(joined)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength])
	}
	return joined
}
