package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/misunderstood/internal/misunderstood"
	"github.com/zulandar/misunderstood/internal/models"
	"gorm.io/datatypes"
)

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Flagged message commands",
	}

	cmd.AddCommand(newFlagAddCmd())
	cmd.AddCommand(newFlagListCmd())
	cmd.AddCommand(newFlagCountCmd())
	cmd.AddCommand(newFlagShowCmd())
	cmd.AddCommand(newFlagStatusCmd())
	return cmd
}

func newFlagAddCmd() *cobra.Command {
	var (
		configPath string
		event      models.FlaggedEvent
		reason     string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Flag a message as misunderstood",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			event.Reason = models.Reason(reason)
			if err := store.AddEvent(context.Background(), &event); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flagged %s as #%d (%s)\n", event.EventID, event.ID, event.Status)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&event.BotID, "bot", "", "bot ID (required)")
	cmd.Flags().StringVar(&event.EventID, "event", "", "incoming event ID (required)")
	cmd.Flags().StringVar(&event.Language, "language", "", "message language (required)")
	cmd.Flags().StringVar(&event.Preview, "preview", "", "message text")
	cmd.Flags().StringVar(&reason, "reason", string(models.ReasonManual), "flag reason")
	cmd.MarkFlagRequired("bot")
	cmd.MarkFlagRequired("event")
	cmd.MarkFlagRequired("language")
	return cmd
}

func newFlagListCmd() *cobra.Command {
	var (
		configPath string
		botID      string
		language   string
		status     string
		start      string
		end        string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flagged messages, most recently updated first",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := misunderstood.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			_, store, cleanup, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			events, err := store.ListEvents(context.Background(), botID, language, models.Status(status), rng)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No flagged messages found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEVENT\tREASON\tUPDATED\tPREVIEW")
			for _, e := range events {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					e.ID, e.EventID, e.Reason, e.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
					truncate(misunderstood.StripMarkup(e.Preview), 50))
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&botID, "bot", "", "bot ID (required)")
	cmd.Flags().StringVar(&language, "language", "", "language (required)")
	cmd.Flags().StringVar(&status, "status", string(models.StatusNew), "status to list")
	cmd.Flags().StringVar(&start, "start", "", "earliest updatedAt (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "latest updatedAt (RFC3339 or YYYY-MM-DD, inclusive)")
	cmd.MarkFlagRequired("bot")
	cmd.MarkFlagRequired("language")
	return cmd
}

func newFlagCountCmd() *cobra.Command {
	var (
		configPath string
		botID      string
		language   string
		start      string
		end        string
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count flagged messages per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := misunderstood.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			_, store, cleanup, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			counts, err := store.CountEvents(context.Background(), botID, language, rng)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STATUS\tCOUNT")
			for _, st := range models.Statuses {
				fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
			}
			w.Flush()
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&botID, "bot", "", "bot ID (required)")
	cmd.Flags().StringVar(&language, "language", "", "language (required)")
	cmd.Flags().StringVar(&start, "start", "", "earliest updatedAt (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "latest updatedAt (RFC3339 or YYYY-MM-DD, inclusive)")
	cmd.MarkFlagRequired("bot")
	cmd.MarkFlagRequired("language")
	return cmd
}

func newFlagShowCmd() *cobra.Command {
	var (
		configPath string
		botID      string
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a flagged message with its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFlagID(args[0])
			if err != nil {
				return err
			}
			_, store, cleanup, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			details, err := store.GetEventDetails(context.Background(), botID, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if details == nil {
				fmt.Fprintf(out, "Flag #%d: conversation not found in the event log.\n", id)
				return nil
			}
			printDetails(out, details)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&botID, "bot", "", "bot ID (required)")
	cmd.MarkFlagRequired("bot")
	return cmd
}

func newFlagStatusCmd() *cobra.Command {
	var (
		configPath     string
		botID          string
		status         string
		resolutionType string
		resolution     string
		params         string
	)

	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Change the status of a flagged message",
		Long: `Changes the status of a flagged message. The resolution flags are kept
only for --status pending; any other status clears them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseFlagID(args[0])
			if err != nil {
				return err
			}

			var res misunderstood.Resolution
			if cmd.Flags().Changed("resolution-type") {
				rt := models.ResolutionType(resolutionType)
				res.ResolutionType = &rt
			}
			if cmd.Flags().Changed("resolution") {
				res.Resolution = &resolution
			}
			if params != "" {
				res.ResolutionParams = json.RawMessage(params)
			}

			_, store, cleanup, err := openStore(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := store.UpdateStatus(context.Background(), botID, id, models.Status(status), &res)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if n == 0 {
				fmt.Fprintf(out, "No flag #%d for bot %s; nothing updated.\n", id, botID)
				return nil
			}
			fmt.Fprintf(out, "Flag #%d is now %s\n", id, status)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&botID, "bot", "", "bot ID (required)")
	cmd.Flags().StringVar(&status, "status", "", "new status: new, pending, resolved, applied, deleted (required)")
	cmd.Flags().StringVar(&resolutionType, "resolution-type", "", "qna or intent (pending only)")
	cmd.Flags().StringVar(&resolution, "resolution", "", "target QnA or intent name (pending only)")
	cmd.Flags().StringVar(&params, "params", "", "resolution parameters as JSON (pending only)")
	cmd.MarkFlagRequired("bot")
	cmd.MarkFlagRequired("status")
	return cmd
}

func parseFlagID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 0)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid flag id %q", s)
	}
	return uint(id), nil
}

func printDetails(out io.Writer, d *misunderstood.EventDetails) {
	fmt.Fprintf(out, "Flag:      #%d\n", d.ID)
	fmt.Fprintf(out, "Bot:       %s\n", d.BotID)
	fmt.Fprintf(out, "Event:     %s\n", d.EventID)
	fmt.Fprintf(out, "Language:  %s\n", d.Language)
	fmt.Fprintf(out, "Reason:    %s\n", d.Reason)
	fmt.Fprintf(out, "Status:    %s\n", d.Status)
	if d.ResolutionType != nil {
		fmt.Fprintf(out, "Resolve:   %s", *d.ResolutionType)
		if d.Resolution != nil {
			fmt.Fprintf(out, " -> %s", *d.Resolution)
		}
		fmt.Fprintln(out)
	}
	if len(d.ResolutionParams) > 0 {
		fmt.Fprintf(out, "Params:    %s\n", compactJSON(d.ResolutionParams))
	}
	if len(d.NLUContexts) > 0 {
		fmt.Fprintf(out, "Contexts:  %s\n", strings.Join(d.NLUContexts, ", "))
	}

	fmt.Fprintln(out, "\nConversation:")
	for _, m := range d.Context {
		marker := " "
		if m.IsCurrent {
			marker = ">"
		}
		fmt.Fprintf(out, "%s %-8s %s\n", marker, m.Direction, m.Preview)
	}
}

func compactJSON(raw datatypes.JSON) string {
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
