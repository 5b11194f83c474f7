package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/mailsync-test
master_key: sekrit
log_level: debug
accounts:
  - name: work
    email: me@example.com
    imap_host: imap.example.com
    username: me@example.com
    password: hunter2
    sync_interval: 2m
    connections: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/mailsync-test", cfg.DataDir)
	require.Equal(t, "debug", cfg.LogLevel)
	require.False(t, cfg.SharedDatabase)
	require.Equal(t, []string{"work"}, cfg.AccountNames())

	acc := cfg.Accounts[0]
	require.Equal(t, 993, acc.IMAPPort, "port defaults to 993")
	require.Equal(t, 2*time.Minute, acc.SyncInterval)

	account, creds := acc.Account()
	require.Equal(t, "imap.example.com", account.Settings.IMAPHost)
	require.Equal(t, 2, account.SyncPolicy.DesiredConnections)
	require.Equal(t, "hunter2", creds.Password)
}

func TestLoadRejectsMissingMasterKey(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/mailsync-test
accounts:
  - name: work
    imap_host: imap.example.com
    username: u
    password: p
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "master_key")
}

func TestLoadRejectsAccountWithoutCredentials(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/mailsync-test
master_key: sekrit
accounts:
  - name: work
    imap_host: imap.example.com
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "username and password")
}
