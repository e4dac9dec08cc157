package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/misunderstood/internal/db"
	"github.com/zulandar/misunderstood/internal/misunderstood"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var (
		configPath string
		eventLog   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the misunderstood table",
		Long: `Creates the misunderstood table if it does not exist.

With --event-log, also creates the events table. Use this only for local
and test databases; production event logs belong to the bot runtime.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath, eventLog)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&eventLog, "event-log", false, "also create the events table (dev only)")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string, eventLog bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath, nil)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	fmt.Fprintf(out, "Connected to %s database %s\n", cfg.Database.Driver, databaseLabel(cfg.Database.Name, cfg.Database.Path))

	store, err := misunderstood.NewStore(misunderstood.StoreOpts{DB: gormDB})
	if err != nil {
		return err
	}
	if err := store.Initialize(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Table %s ready\n", misunderstood.TableName)

	if eventLog {
		if err := db.MigrateEventLog(gormDB); err != nil {
			return err
		}
		fmt.Fprintln(out, "Table events ready")
	}
	return nil
}

func databaseLabel(name, path string) string {
	if path != "" && name == "" {
		return path
	}
	return name
}
