package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nylas/nylas-mail-sub003/internal/config"
	"github.com/nylas/nylas-mail-sub003/internal/pool"
	"github.com/nylas/nylas-mail-sub003/internal/pubsub"
	"github.com/nylas/nylas-mail-sub003/internal/store"
	mailsync "github.com/nylas/nylas-mail-sub003/internal/sync"
)

var (
	version     = "dev"
	configPath  = flag.String("config", "", "Path to config file")
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("syncd version %s\n", version)
		os.Exit(0)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithField("accounts", cfg.AccountNames()).Info("Starting mailbox sync daemon")

	var publisher pubsub.Publisher
	if cfg.NATSURL != "" {
		publisher, err = pubsub.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect delta broadcaster")
		}
	} else {
		publisher = pubsub.NewMemoryPublisher()
	}
	defer publisher.Close()

	connector := store.NewConnector(store.Options{
		Dir:       cfg.DataDir,
		Shared:    cfg.SharedDatabase,
		MasterKey: cfg.MasterKey,
		Publisher: publisher,
		Logger:    logger,
	})
	defer connector.Close() //nolint:errcheck

	connPool := pool.New(logger)
	defer connPool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Accounts {
		acc := cfg.Accounts[i]
		account, creds := acc.Account()
		// A stable id keeps database files and delta channels addressable
		// across restarts.
		account.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailsync/"+acc.Name)).String()

		st, err := connector.ForAccount(account.ID)
		if err != nil {
			logger.WithError(err).WithField("account", acc.Name).Fatal("Failed to open account database")
		}
		if err := st.UpsertAccount(ctx, account, creds); err != nil {
			logger.WithError(err).WithField("account", acc.Name).Fatal("Failed to register account")
		}

		worker := mailsync.NewWorker(account, st, connPool, logger)
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && gctx.Err() == nil {
				// A worker that spends its retry budget stops alone; the
				// other accounts keep syncing.
				logger.WithError(err).WithField("account", acc.Name).Error("Account worker stopped")
			}
			return nil
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal")
	cancel()
	g.Wait() //nolint:errcheck

	logger.Info("Sync daemon stopped")
}
