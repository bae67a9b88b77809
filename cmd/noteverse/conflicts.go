package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteverse/noteverse/internal/schema"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "Inspect and resolve conflicts recorded under the manual policy",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored conflict records",
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		records, err := a.resolver.Conflicts(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		if len(records) == 0 {
			fmt.Println("No conflicts")
			return
		}

		for _, rec := range records {
			state := "unresolved"
			if rec.Resolved {
				state = "resolved"
			}
			fmt.Printf("%s  %s  recorded %s\n", rec.NoteID, state,
				rec.CreatedAt.Format(schema.TimeFormat))
			fmt.Printf("  local:  v%d %q (updated %s)\n", rec.Local.Version,
				rec.Local.Title, rec.Local.UpdatedAt.Format(schema.TimeFormat))
			fmt.Printf("  remote: v%d %q (updated %s)\n", rec.Remote.Version,
				rec.Remote.Title, rec.Remote.UpdatedAt.Format(schema.TimeFormat))
		}
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <note-id>",
	Short: "Resolve a conflict by keeping the local or remote version",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		ctx := context.Background()
		noteID := args[0]
		keep, _ := cmd.Flags().GetString("keep")

		records, err := a.resolver.Conflicts(ctx)
		if err != nil {
			fatal("%v", err)
		}

		var record *schema.ConflictRecord
		for _, rec := range records {
			if rec.NoteID == noteID && !rec.Resolved {
				record = rec
				break
			}
		}
		if record == nil {
			fatal("no unresolved conflict for note %s", noteID)
		}

		switch keep {
		case "local":
			// Re-author the local content so it wins the next push.
			patch := &schema.NotePatch{
				Title:   &record.Local.Title,
				Content: &record.Local.Content,
			}
			if _, err := a.store.UpdateNote(noteID, patch); err != nil {
				fatal("%v", err)
			}
		case "remote":
			if err := a.store.PutSynced(record.Remote); err != nil {
				fatal("%v", err)
			}
		default:
			fatal("--keep must be 'local' or 'remote' (got %q)", keep)
		}

		if err := a.resolver.MarkResolved(ctx, noteID); err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Resolved conflict for note %s: kept %s version\n", noteID, keep)
	},
}

var conflictsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete conflict records that have been resolved",
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		pruned, err := a.resolver.PruneResolved(context.Background())
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("Pruned %d resolved conflict records\n", pruned)
	},
}

func init() {
	conflictsResolveCmd.Flags().String("keep", "", "which version to keep: local or remote")
	_ = conflictsResolveCmd.MarkFlagRequired("keep")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	conflictsCmd.AddCommand(conflictsPruneCmd)
	rootCmd.AddCommand(conflictsCmd)
}
