package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/misunderstood/internal/notify"
)

func newDigestCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Build and send the flag digest now",
		Long: `Counts flags for every scope under notify.digest.scopes and posts one
summary to the notification channel. Nothing is sent when every count is zero.
With --dry-run the digest is printed instead of sent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDigest(cmd, configPath, dryRun)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the digest instead of sending it")
	return cmd
}

func runDigest(cmd *cobra.Command, configPath string, dryRun bool) error {
	out := cmd.OutOrStdout()
	cfg, store, cleanup, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	scopes := cfg.Notify.Digest.Scopes
	if len(scopes) == 0 {
		return fmt.Errorf("digest: no scopes configured under notify.digest.scopes")
	}
	ctx := context.Background()

	if dryRun {
		report, err := notify.BuildDigest(ctx, store, scopes, time.Now())
		if err != nil {
			return err
		}
		if report == nil {
			fmt.Fprintln(out, "No flags in any scope; digest would be suppressed.")
			return nil
		}
		formatted := notify.FormatDigest(report)
		fmt.Fprintln(out, formatted.Title)
		fmt.Fprintln(out, formatted.Body)
		return nil
	}

	if cfg.Notify.Platform == "" {
		return fmt.Errorf("digest: notify.platform is not configured")
	}
	adapter, err := createAdapter(cfg.Notify, nil)
	if err != nil {
		return err
	}
	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	defer adapter.Close()

	notifier, err := notify.NewNotifier(notify.NotifierOpts{
		Adapter:   adapter,
		ChannelID: cfg.Notify.ChannelID,
	})
	if err != nil {
		return err
	}
	sent, err := notify.SendDigest(ctx, notifier, store, scopes, time.Now())
	if err != nil {
		return err
	}
	if !sent {
		fmt.Fprintln(out, "No flags in any scope; digest suppressed.")
		return nil
	}
	fmt.Fprintf(out, "Digest sent to %s %s\n", cfg.Notify.Platform, cfg.Notify.ChannelID)
	return nil
}
