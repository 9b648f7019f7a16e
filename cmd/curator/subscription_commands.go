package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/app"
	"curator/internal/ledger"
)

func newSubscriptionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "Inspect and change the subscription ledger",
	}
	cmd.AddCommand(
		newSubscriptionsListCommand(ctx),
		newSubscriptionsApplyCommand(ctx),
		newSubscriptionsPauseCommand(ctx),
		newSubscriptionsReleaseCheckCommand(ctx),
		newSubscriptionsCountsCommand(ctx),
	)
	return cmd
}

func newSubscriptionsListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger records (active statuses by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				records, err := a.SubscriptionAPI.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.SubscriptionListResponse{Items: records})
				}
				printRecords(cmd, records)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable: wanted, subscribed, pending_release, ignored, none)")
	return cmd
}

func printRecords(cmd *cobra.Command, records []api.SubscriptionRecord) {
	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No subscriptions")
		return
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		season := ""
		if rec.Season != nil {
			season = strconv.Itoa(*rec.Season)
		}
		source := ""
		if n := len(rec.Sources); n > 0 {
			last := rec.Sources[n-1]
			source = last.Type
			if last.Detail != "" {
				source += ":" + last.Detail
			}
		}
		rows = append(rows, []string{
			strconv.FormatInt(rec.MediaID, 10),
			rec.ItemType,
			season,
			rec.Title,
			colorStatus(rec.Status, colorize),
			yesNo(rec.Paused),
			rec.ReleaseDate,
			source,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"TMDB", "Type", "Season", "Title", "Status", "Paused", "Release", "Last source"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight},
	))
}

func newSubscriptionsApplyCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a JSON batch of transitions",
		Long: `Apply a JSON array of transitions, for example:

  [{"mediaId": 603, "itemType": "movie", "newStatus": "wanted", "source": "user:alice"}]

Each item succeeds or fails on its own; the command exits non-zero when any item failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []api.TransitionItem
			if err := readJSONInput(cmd, file, &items); err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				resp, err := a.SubscriptionAPI.Apply(cmd.Context(), items)
				if err != nil {
					return err
				}
				return printTransitions(cmd, ctx, resp)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON transitions file (- for stdin)")
	return cmd
}

func printTransitions(cmd *cobra.Command, ctx *commandContext, resp api.TransitionResponse) error {
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, resp); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		rows := make([][]string, 0, len(resp.Items))
		for _, item := range resp.Items {
			status := ""
			if item.Record != nil {
				status = item.Record.Status
			}
			rows = append(rows, []string{
				strconv.Itoa(item.Index),
				strconv.FormatInt(item.MediaID, 10),
				item.ItemType,
				colorStatus(item.Outcome, colorize),
				colorStatus(status, colorize),
				item.Error,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"#", "TMDB", "Type", "Outcome", "Status", "Error"},
			rows,
			[]columnAlignment{alignRight, alignRight},
		))
		fmt.Fprintf(out, "%d succeeded, %d failed\n", resp.Succeeded, resp.Failed)
	}
	if resp.Failed > 0 {
		return fmt.Errorf("%d transition(s) failed", resp.Failed)
	}
	return nil
}

func newSubscriptionsPauseCommand(ctx *commandContext) *cobra.Command {
	var season int
	var resume bool
	cmd := &cobra.Command{
		Use:   "pause <media-id>",
		Short: "Pause (or --resume) a subscribed series or season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid media id %q", args[0])
			}
			req := api.PauseRequest{MediaID: mediaID, ItemType: "series", Paused: !resume}
			if cmd.Flags().Changed("season") {
				req.Season = &season
			}
			return ctx.withApp(func(a *app.App) error {
				rec, err := a.SubscriptionAPI.SetPaused(cmd.Context(), req)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, rec)
				}
				state := "paused"
				if !rec.Paused {
					state = "resumed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Series %d %s\n", rec.MediaID, state)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&season, "season", 0, "Season number (omit for the whole series)")
	cmd.Flags().BoolVar(&resume, "resume", false, "Resume instead of pausing")
	return cmd
}

func newSubscriptionsReleaseCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release-check",
		Short: "Promote PENDING_RELEASE records whose release date has arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				resp, err := a.SubscriptionAPI.ReleaseCheck(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				if len(resp.Promoted) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No releases to promote")
					return nil
				}
				printRecords(cmd, resp.Promoted)
				return nil
			})
		},
	}
}

func newSubscriptionsCountsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Show the number of records per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				counts, err := a.SubscriptionAPI.Counts(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, counts)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(counts))
				for _, status := range ledger.AllStatuses() {
					rows = append(rows, []string{colorStatus(string(status), colorize), strconv.Itoa(counts[string(status)])})
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
