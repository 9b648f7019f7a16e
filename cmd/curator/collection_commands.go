package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/api"
	"curator/internal/app"
	"curator/internal/collection"
	"curator/internal/evaluator"
)

func newCollectionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "Manage collection definitions",
	}
	cmd.AddCommand(
		newCollectionsListCommand(ctx),
		newCollectionsShowCommand(ctx),
		newCollectionsCreateCommand(ctx),
		newCollectionsUpdateCommand(ctx),
		newCollectionsDeleteCommand(ctx),
		newCollectionsReorderCommand(ctx),
		newCollectionsItemsCommand(ctx),
		newCollectionsSubscribeMissingCommand(ctx),
	)
	return cmd
}

func newCollectionsListCommand(ctx *commandContext) *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List collections in display order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				defs, err := a.CollectionAPI.List(cmd.Context(), viewer)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.CollectionListResponse{Items: defs})
				}
				out := cmd.OutOrStdout()
				if len(defs) == 0 {
					fmt.Fprintln(out, "No collections")
					return nil
				}
				rows := make([][]string, 0, len(defs))
				for _, def := range defs {
					rows = append(rows, []string{
						strconv.Itoa(def.OrderIndex),
						def.ID,
						def.Name,
						string(def.Type),
						string(def.Status),
						string(def.SortKey) + " " + string(def.SortOrder),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"#", "ID", "Name", "Type", "Status", "Sort"},
					rows,
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "Only show collections visible to this viewer id")
	return cmd
}

func newCollectionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a collection definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				def, err := a.CollectionAPI.Get(cmd.Context(), args[0], "")
				if err != nil {
					return err
				}
				return writeJSON(cmd, def)
			})
		},
	}
}

func newCollectionsCreateCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a collection from a JSON definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			var def collection.Definition
			if err := readJSONInput(cmd, file, &def); err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				created, err := a.CollectionAPI.Create(cmd.Context(), def)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, created)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created collection %s (%s)\n", created.ID, created.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON definition file (- for stdin)")
	return cmd
}

func newCollectionsUpdateCommand(ctx *commandContext) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a collection definition from JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var def collection.Definition
			if err := readJSONInput(cmd, file, &def); err != nil {
				return err
			}
			return ctx.withApp(func(a *app.App) error {
				updated, err := a.CollectionAPI.Update(cmd.Context(), args[0], def)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, updated)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated collection %s\n", updated.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON definition file (- for stdin)")
	return cmd
}

func newCollectionsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				if err := a.CollectionAPI.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[0])
				return nil
			})
		},
	}
}

func newCollectionsReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Set the display order; every collection id must be listed once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				if err := a.CollectionAPI.Reorder(cmd.Context(), api.ReorderRequest{IDs: args}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reordered %d collection(s)\n", len(args))
				return nil
			})
		},
	}
}

func newCollectionsItemsCommand(ctx *commandContext) *cobra.Command {
	var viewer string
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "items <id>",
		Short: "Materialize a collection and print one page of items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				result, err := a.CollectionAPI.Items(cmd.Context(), args[0], api.ItemsQuery{
					ViewerID: viewer,
					Offset:   offset,
					Limit:    limit,
				})
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, result)
				}
				printItems(cmd, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "Evaluate dynamic rules for this viewer id")
	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many items")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (0 uses evaluation.default_page_size)")
	return cmd
}

func printItems(cmd *cobra.Command, result evaluator.Result) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(result.Items))
	for _, item := range result.Items {
		year := ""
		if item.Year > 0 {
			year = strconv.Itoa(item.Year)
		}
		id := ""
		if item.MediaID > 0 {
			id = strconv.FormatInt(item.MediaID, 10)
		}
		rows = append(rows, []string{
			strconv.Itoa(item.Rank),
			item.Title,
			year,
			string(item.ItemType),
			id,
			string(item.Status),
			colorStatus(string(item.LedgerStatus), colorize),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Rank", "Title", "Year", "Type", "TMDB", "Status", "Ledger"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight},
	))
	counts := make([]string, 0, len(result.Counts))
	for class, n := range result.Counts {
		counts = append(counts, fmt.Sprintf("%s=%d", class, n))
	}
	slices.Sort(counts)
	fmt.Fprintf(out, "Showing %d-%d of %d (%s) generated %s\n",
		min(result.Offset+1, result.Total), result.Offset+len(result.Items), result.Total,
		strings.Join(counts, " "), result.GeneratedAt.Format(time.RFC3339))
}

func newCollectionsSubscribeMissingCommand(ctx *commandContext) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "subscribe-missing <id>",
		Short: "Mark every missing item of a collection as WANTED or PENDING_RELEASE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(func(a *app.App) error {
				resp, err := a.CollectionAPI.SubscribeMissing(cmd.Context(), args[0], actor)
				if err != nil {
					return err
				}
				return printTransitions(cmd, ctx, resp)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "Actor recorded in provenance")
	return cmd
}
