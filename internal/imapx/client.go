package imapx

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// statusHighestModSeq is the CONDSTORE status item (RFC 7162).
const statusHighestModSeq = imap.StatusItem("HIGHESTMODSEQ")

// fetchModSeq and fetchGmThrID are extension fetch items. Plain RFC 3501
// servers reject unknown items with BAD, so they are only requested when the
// server advertises the extension.
const (
	fetchModSeq  = imap.FetchItem("MODSEQ")
	fetchGmThrID = imap.FetchItem("X-GM-THRID")
)

func messageFetchItems(gmailExt bool) []imap.FetchItem {
	items := []imap.FetchItem{
		imap.FetchEnvelope, imap.FetchFlags, imap.FetchInternalDate,
		imap.FetchUid, imap.FetchRFC822,
	}
	if gmailExt {
		items = append(items, fetchGmThrID)
	}
	return items
}

func attributeFetchItems(condstore bool) []imap.FetchItem {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}
	if condstore {
		items = append(items, fetchModSeq)
	}
	return items
}

// Box describes an opened mailbox.
type Box struct {
	Name          string
	UIDNext       uint32
	UIDValidity   uint32
	HighestModSeq uint64
}

// UIDAttributes is one entry of a UID-attribute map fetch.
type UIDAttributes struct {
	UID     uint32
	Unread  bool
	Starred bool
	ModSeq  uint64
}

// FolderInfo is one entry of a folder listing.
type FolderInfo struct {
	Name       string
	Attributes []string
}

// Client wraps one IMAP connection. The connection pool is the sole owner
// of Client instances; nothing else dials the provider directly.
type Client struct {
	settings  types.ConnectionSettings
	creds     types.Credentials
	timeout   time.Duration
	logger    *logrus.Logger
	client    *client.Client
	connected bool
}

// NewClient creates a client without connecting.
func NewClient(settings types.ConnectionSettings, creds types.Credentials, socketTimeout time.Duration, logger *logrus.Logger) *Client {
	return &Client{
		settings: settings,
		creds:    creds,
		timeout:  socketTimeout,
		logger:   logger,
	}
}

// Connect dials the server over TLS and logs in.
func (c *Client) Connect() error {
	if c.connected && c.client != nil {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", c.settings.IMAPHost, c.settings.IMAPPort)
	dialer := &net.Dialer{Timeout: c.timeout}

	cl, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{
		ServerName: c.settings.IMAPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return convertError("dial", c.timeout, err)
	}
	cl.Timeout = c.timeout
	c.client = cl

	if err := c.client.Login(c.creds.Username, c.creds.Password); err != nil {
		c.client.Logout() //nolint:errcheck
		c.client = nil
		return convertError("login", c.timeout, err)
	}

	c.connected = true
	c.logger.WithField("host", c.settings.IMAPHost).Debug("Connected to IMAP server")
	return nil
}

// Connected reports whether the underlying connection is live.
func (c *Client) Connected() bool {
	return c.connected && c.client != nil
}

// Close logs out and drops the connection.
func (c *Client) Close() error {
	if c.client != nil {
		err := c.client.Logout()
		c.client = nil
		c.connected = false
		if err != nil {
			return convertError("logout", c.timeout, err)
		}
	}
	return nil
}

// SupportsCondstore reports whether the server advertises CONDSTORE.
func (c *Client) SupportsCondstore() bool {
	return c.supports("CONDSTORE")
}

// SupportsGmailExtensions reports whether the server advertises the Gmail
// IMAP extensions (X-GM-EXT-1), which carry the provider thread id.
func (c *Client) SupportsGmailExtensions() bool {
	return c.supports("X-GM-EXT-1")
}

func (c *Client) supports(capability string) bool {
	if err := c.Connect(); err != nil {
		return false
	}
	ok, err := c.client.Support(capability)
	if err != nil {
		return false
	}
	return ok
}

// ListFolders lists all folders with their attributes.
func (c *Client) ListFolders() ([]FolderInfo, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.List("", "*", mailboxes)
	}()

	var folders []FolderInfo
	for m := range mailboxes {
		folders = append(folders, FolderInfo{Name: m.Name, Attributes: m.Attributes})
	}
	if err := <-done; err != nil {
		return nil, convertError("list", c.timeout, err)
	}
	return folders, nil
}

// OpenBox opens a folder read-only and reports its UID state.
func (c *Client) OpenBox(name string) (*Box, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(name, true)
	if err != nil {
		return nil, convertError("select", c.timeout, err)
	}

	box := &Box{
		Name:        name,
		UIDNext:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}
	if c.SupportsCondstore() {
		box.HighestModSeq = c.statusModSeq(name)
	}
	return box, nil
}

// statusModSeq asks for HIGHESTMODSEQ via STATUS. Zero when the server does
// not report one.
func (c *Client) statusModSeq(name string) uint64 {
	status, err := c.client.Status(name, []imap.StatusItem{statusHighestModSeq})
	if err != nil {
		return 0
	}
	return toUint64(status.Items[statusHighestModSeq])
}

// FetchMessages fetches and parses full messages for the half-open UID
// range lo:hi (hi == 0 means "*"). Parsed messages are handed to fn in
// server order; fetching uses a bounded channel so slow consumers exert
// backpressure on the wire.
func (c *Client) FetchMessages(lo, hi uint32, fn func(*ParsedMessage) error) error {
	if err := c.Connect(); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lo, hi)

	items := messageFetchItems(c.SupportsGmailExtensions())

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var fnErr error
	for msg := range messages {
		if fnErr != nil {
			continue // drain the channel after the first consumer failure
		}
		parsed, err := parseMessage(msg, c.logger)
		if err != nil {
			c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Skipping unparseable message")
			continue
		}
		fnErr = fn(parsed)
	}
	if err := <-done; err != nil {
		return convertError("fetch", c.timeout, err)
	}
	return fnErr
}

// FetchUIDAttributes fetches the UID-to-flags map for lo:hi (hi == 0 means
// "*"). When changedSince is non-zero, only entries whose MODSEQ exceeds it
// are returned; this relies on the server advertising CONDSTORE.
func (c *Client) FetchUIDAttributes(lo, hi uint32, changedSince uint64) (map[uint32]UIDAttributes, error) {
	if err := c.Connect(); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(lo, hi)

	items := attributeFetchItems(c.SupportsCondstore())

	messages := make(chan *imap.Message, 50)
	done := make(chan error, 1)
	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	attrs := make(map[uint32]UIDAttributes)
	for msg := range messages {
		modseq := toUint64(msg.Items[fetchModSeq])
		if changedSince > 0 && modseq <= changedSince {
			continue
		}
		attrs[msg.Uid] = UIDAttributes{
			UID:     msg.Uid,
			Unread:  !hasFlag(msg.Flags, imap.SeenFlag),
			Starred: hasFlag(msg.Flags, imap.FlaggedFlag),
			ModSeq:  modseq,
		}
	}
	if err := <-done; err != nil {
		return nil, convertError("fetch attributes", c.timeout, err)
	}
	return attrs, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// toUint64 tolerates the shapes extension item values arrive in: bare
// numbers, strings, or singleton lists.
func toUint64(v interface{}) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		if x < 0 {
			return 0
		}
		return uint64(x)
	case uint32:
		return uint64(x)
	case string:
		var n uint64
		fmt.Sscanf(x, "%d", &n) //nolint:errcheck
		return n
	case []interface{}:
		if len(x) > 0 {
			return toUint64(x[0])
		}
	}
	return 0
}
