package imapx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestConvertErrorClassification(t *testing.T) {
	require.Nil(t, convertError("fetch", time.Second, nil))

	err := convertError("fetch", time.Second, timeoutErr{})
	require.True(t, IsTimeout(err))

	err = convertError("fetch", time.Second, context.DeadlineExceeded)
	require.True(t, IsTimeout(err))

	err = convertError("select", time.Second, fmt.Errorf("NO mailbox unavailable"))
	require.False(t, IsTimeout(err))
	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "select", perr.Op)
}

func TestMakeSnippet(t *testing.T) {
	require.Equal(t, "", makeSnippet(""))
	require.Equal(t, "one two three", makeSnippet("  one\n\ttwo   three  "))

	long := strings.Repeat("word ", 50)
	snippet := makeSnippet(long)
	require.LessOrEqual(t, len(snippet), snippetLength)

	// Truncation must not split a multi-byte rune.
	multi := strings.Repeat("é", snippetLength+10)
	snippet = makeSnippet(multi)
	require.True(t, utf8.ValidString(snippet))
	require.Equal(t, snippetLength, utf8.RuneCountInString(snippet))
}

func TestExtensionFetchItemsAreCapabilityGated(t *testing.T) {
	require.NotContains(t, messageFetchItems(false), fetchGmThrID)
	require.Contains(t, messageFetchItems(true), fetchGmThrID)
	require.Contains(t, messageFetchItems(false), imap.FetchRFC822)

	require.NotContains(t, attributeFetchItems(false), fetchModSeq)
	require.Contains(t, attributeFetchItems(true), fetchModSeq)
	require.Contains(t, attributeFetchItems(false), imap.FetchFlags)
}

func TestHasFlag(t *testing.T) {
	flags := []string{imap.SeenFlag, imap.FlaggedFlag}
	require.True(t, hasFlag(flags, imap.SeenFlag))
	require.False(t, hasFlag(flags, imap.DeletedFlag))
	require.False(t, hasFlag(nil, imap.SeenFlag))
}

func TestToUint64Tolerance(t *testing.T) {
	require.EqualValues(t, 42, toUint64(uint64(42)))
	require.EqualValues(t, 42, toUint64(int64(42)))
	require.EqualValues(t, 42, toUint64(uint32(42)))
	require.EqualValues(t, 42, toUint64("42"))
	require.EqualValues(t, 42, toUint64([]interface{}{uint64(42)}))
	require.Zero(t, toUint64(nil))
	require.Zero(t, toUint64("garbage"))
}

func TestToParticipantsNormalizes(t *testing.T) {
	addrs := []*imap.Address{
		{PersonalName: "Jo", MailboxName: "Jo.Smith", HostName: "Example.COM"},
		nil,
	}
	ps := toParticipants(addrs)
	require.Len(t, ps, 1)
	require.Equal(t, "Jo", ps[0].Name)
	require.Equal(t, "jo.smith@example.com", ps[0].Email)
}
