package sync

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nylas/nylas-mail-sub003/internal/imapx"
	"github.com/nylas/nylas-mail-sub003/internal/pool"
	"github.com/nylas/nylas-mail-sub003/internal/store"
	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

func TestDetectRole(t *testing.T) {
	cases := []struct {
		info imapx.FolderInfo
		want string
	}{
		{imapx.FolderInfo{Name: "INBOX"}, types.RoleInbox},
		{imapx.FolderInfo{Name: "Anywhere", Attributes: []string{`\Sent`}}, types.RoleSent},
		{imapx.FolderInfo{Name: "Anywhere", Attributes: []string{`\HasNoChildren`, `\All`}}, types.RoleAll},
		{imapx.FolderInfo{Name: "Junk"}, types.RoleSpam},
		{imapx.FolderInfo{Name: "Deleted Items"}, types.RoleTrash},
		{imapx.FolderInfo{Name: "Sent Mail"}, types.RoleSent},
		{imapx.FolderInfo{Name: "Receipts"}, ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, detectRole(c.info), "folder %q %v", c.info.Name, c.info.Attributes)
	}
}

type fakeLister struct {
	infos []imapx.FolderInfo
}

func (f *fakeLister) ListFolders() ([]imapx.FolderInfo, error) { return f.infos, nil }

func TestRefreshFoldersSkipsNoselect(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	st, err := store.OpenMemoryStore("test-key", nil, logger)
	require.NoError(t, err)

	account := &types.Account{ID: "acc-1"}
	w := NewWorker(account, st, pool.New(logger), logger)

	folders, err := w.refreshFolders(context.Background(), &fakeLister{infos: []imapx.FolderInfo{
		{Name: "INBOX"},
		{Name: "[Gmail]", Attributes: []string{`\Noselect`}},
		{Name: "[Gmail]/Sent Mail", Attributes: []string{`\Sent`}},
	}})
	require.NoError(t, err)
	require.Len(t, folders, 2)

	byName := make(map[string]*types.Folder)
	for _, f := range folders {
		byName[f.Name] = f
	}
	require.Contains(t, byName, "INBOX")
	require.Equal(t, types.RoleInbox, byName["INBOX"].Role)
	require.Equal(t, types.RoleSent, byName["[Gmail]/Sent Mail"].Role)

	// Rediscovery keeps the same rows.
	again, err := w.refreshFolders(context.Background(), &fakeLister{infos: []imapx.FolderInfo{{Name: "INBOX"}}})
	require.NoError(t, err)
	require.Len(t, again, 2)
}
