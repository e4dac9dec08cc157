package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/misunderstood/internal/config"
	"github.com/zulandar/misunderstood/internal/db"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/notify"
	discordadapter "github.com/zulandar/misunderstood/internal/notify/discord"
	slackadapter "github.com/zulandar/misunderstood/internal/notify/slack"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func addConfigFlag(cmd *cobra.Command, configPath *string) {
	cmd.Flags().StringVarP(configPath, "config", "c", config.DefaultPath, "path to misunderstood config file")
}

// connectFromConfig loads the config and opens the database. GORM stays
// silent when log is nil.
func connectFromConfig(configPath string, log *zap.Logger) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// openStore connects and returns a store over the configured database.
// The returned cleanup closes the connection.
func openStore(configPath string) (*config.Config, *misunderstood.Store, func(), error) {
	cfg, gormDB, err := connectFromConfig(configPath, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := misunderstood.NewStore(misunderstood.StoreOpts{DB: gormDB})
	if err != nil {
		db.Close(gormDB)
		return nil, nil, nil, err
	}
	return cfg, store, func() { db.Close(gormDB) }, nil
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg config.NotifyConfig, log *zap.Logger) (notify.Adapter, error) {
	switch cfg.Platform {
	case config.PlatformSlack:
		return slackadapter.New(slackadapter.AdapterOpts{
			BotToken:  cfg.Slack.BotToken,
			ChannelID: cfg.ChannelID,
		})
	case config.PlatformDiscord:
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Discord.BotToken,
			ChannelID: cfg.ChannelID,
			Logger:    log,
		})
	default:
		return nil, fmt.Errorf("notify: unsupported platform %q", cfg.Platform)
	}
}
