// Package config loads the daemon configuration from a config file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nylas/nylas-mail-sub003/pkg/types"
)

// Config holds the daemon configuration.
type Config struct {
	// DataDir is where the per-account databases live.
	DataDir string `mapstructure:"data_dir"`
	// SharedDatabase keeps every account in one database file instead of
	// one file per account.
	SharedDatabase bool `mapstructure:"shared_database"`
	// MasterKey encrypts account credentials at rest. Required.
	MasterKey string `mapstructure:"master_key"`
	// NATSURL enables the NATS delta broadcaster; empty keeps deltas
	// in-process only.
	NATSURL  string `mapstructure:"nats_url"`
	LogLevel string `mapstructure:"log_level"`

	Accounts []AccountConfig `mapstructure:"accounts"`
}

// AccountConfig configures one synced account.
type AccountConfig struct {
	Name     string `mapstructure:"name"`
	Email    string `mapstructure:"email"`
	Provider string `mapstructure:"provider"`

	IMAPHost string `mapstructure:"imap_host"`
	IMAPPort int    `mapstructure:"imap_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Optional sync policy overrides; zero values take the defaults.
	FetchLimit       uint32        `mapstructure:"fetch_limit"`
	SyncInterval     time.Duration `mapstructure:"sync_interval"`
	DeepScanInterval time.Duration `mapstructure:"deep_scan_interval"`
	SocketTimeout    time.Duration `mapstructure:"socket_timeout"`
	Connections      int           `mapstructure:"connections"`
	MaxTimeoutErrors int           `mapstructure:"max_timeout_errors"`
}

// Load reads the configuration from the given file (or the default search
// path when empty) with MAILSYNC_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("mailsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/mailsync")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetDefault("data_dir", "/var/lib/mailsync")
	v.SetDefault("shared_database", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MasterKey == "" {
		cfg.MasterKey = v.GetString("master_key")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for the mistakes that would otherwise
// only surface mid-sync.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MasterKey == "" {
		return fmt.Errorf("master_key is required (credentials are encrypted at rest)")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
	}

	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: imap_host is required", acc.Name)
		}
		if acc.IMAPPort == 0 {
			acc.IMAPPort = 993
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid imap_port", acc.Name)
		}
		if acc.Username == "" || acc.Password == "" {
			return fmt.Errorf("account %s: username and password are required", acc.Name)
		}
	}
	return nil
}

// Account converts one account entry into the domain model plus its
// credentials. The credentials are returned separately so they can be
// sealed before they ever touch the database.
func (a *AccountConfig) Account() (*types.Account, types.Credentials) {
	account := &types.Account{
		Name:         a.Name,
		EmailAddress: a.Email,
		Provider:     a.Provider,
		Settings: types.ConnectionSettings{
			IMAPHost: a.IMAPHost,
			IMAPPort: a.IMAPPort,
		},
		SyncPolicy: types.SyncPolicy{
			FetchLimit:             a.FetchLimit,
			Interval:               a.SyncInterval,
			DeepFolderScanInterval: a.DeepScanInterval,
			SocketTimeout:          a.SocketTimeout,
			DesiredConnections:     a.Connections,
			MaxTimeoutErrors:       a.MaxTimeoutErrors,
		},
	}
	creds := types.Credentials{
		Username: a.Username,
		Password: a.Password,
	}
	return account, creds
}

// AccountNames returns the configured account names, in order.
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
