package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/db"
	"github.com/zulandar/misunderstood/internal/logging"
	"github.com/zulandar/misunderstood/internal/metrics"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/notify"
	"github.com/zulandar/misunderstood/internal/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review API",
		Long: `Starts the review API, the /metrics endpoint and, when notify.platform is
set, chat notifications and the scheduled digest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	gormDB, err := db.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	rec, err := metrics.NewRecorder()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooks := []misunderstood.Hook{rec}
	var notifier *notify.Notifier
	if cfg.Notify.Platform != "" {
		adapter, err := createAdapter(cfg.Notify, log)
		if err != nil {
			return err
		}
		if err := adapter.Connect(ctx); err != nil {
			return err
		}
		defer adapter.Close()

		notifier, err = notify.NewNotifier(notify.NotifierOpts{
			Adapter:   adapter,
			ChannelID: cfg.Notify.ChannelID,
			Events:    cfg.Notify.Events,
			QueueSize: cfg.Notify.QueueSize,
			OnDrop:    rec.NotificationDropped,
			Logger:    log,
		})
		if err != nil {
			return err
		}
		hooks = append(hooks, notifier)
		log.Info("notifications enabled",
			zap.String("platform", cfg.Notify.Platform),
			zap.String("channel_id", cfg.Notify.ChannelID))
	}

	store, err := misunderstood.NewStore(misunderstood.StoreOpts{
		DB:     gormDB,
		Hooks:  hooks,
		Logger: log,
	})
	if err != nil {
		return err
	}
	if err := store.Initialize(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if notifier != nil {
		g.Go(func() error {
			notifier.Run(ctx)
			return nil
		})
		g.Go(func() error {
			notify.RunDigestScheduler(ctx, notify.DigestOpts{
				Notifier: notifier,
				Counter:  store,
				Config:   cfg.Notify.Digest,
				Logger:   log,
			})
			return nil
		})
	}
	g.Go(func() error {
		return server.Start(ctx, server.StartOpts{
			RouterOpts: server.RouterOpts{
				Store:   store,
				Metrics: rec,
				Logger:  log,
			},
			Port: cfg.Server.Port,
			Out:  cmd.OutOrStdout(),
		})
	})

	err = g.Wait()
	log.Info("shut down")
	return err
}
