package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noteverse/noteverse/internal/schema"
)

var noteCmd = &cobra.Command{
	Use:     "note",
	GroupID: "notes",
	Short:   "Create, inspect and edit notes",
}

var noteAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create a new note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		content, _ := cmd.Flags().GetString("content")
		category, _ := cmd.Flags().GetString("category")
		tags, _ := cmd.Flags().GetStringSlice("tags")

		note, err := a.store.CreateNote(&schema.Note{
			Title:    args[0],
			Content:  content,
			Category: category,
			Tags:     tags,
		})
		if err != nil {
			fatal("failed to create note: %v", err)
		}

		fmt.Printf("Created note %s (v%d, %s)\n", note.ID, note.Version, note.SyncStatus)
	},
}

var noteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all notes",
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		notes, err := a.store.ListNotes()
		if err != nil {
			fatal("failed to list notes: %v", err)
		}

		if len(notes) == 0 {
			fmt.Println("No notes")
			return
		}

		for _, n := range notes {
			fmt.Printf("%s  %-8s v%-3d [%s] %s\n",
				n.ID, n.SyncStatus, n.Version, n.Category, n.Title)
		}
	},
}

var noteShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a note with its attachments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		note, err := a.store.GetNote(args[0])
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("ID:       %s\n", note.ID)
		fmt.Printf("Title:    %s\n", note.Title)
		fmt.Printf("Category: %s\n", note.Category)
		if len(note.Tags) > 0 {
			fmt.Printf("Tags:     %s\n", strings.Join(note.Tags, ", "))
		}
		fmt.Printf("Status:   %s (v%d)\n", note.SyncStatus, note.Version)
		fmt.Printf("Updated:  %s\n", note.UpdatedAt.Format(schema.TimeFormat))
		if note.Content != "" {
			fmt.Printf("\n%s\n", note.Content)
		}
		if len(note.Attachments) > 0 {
			fmt.Println("\nAttachments:")
			for _, att := range note.Attachments {
				fmt.Printf("  %s: %s (%s)\n", att.SourceType, att.Title, att.SourceID)
			}
		}
	},
}

var noteEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Update fields of a note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		patch := &schema.NotePatch{}
		if cmd.Flags().Changed("title") {
			title, _ := cmd.Flags().GetString("title")
			patch.Title = &title
		}
		if cmd.Flags().Changed("content") {
			content, _ := cmd.Flags().GetString("content")
			patch.Content = &content
		}
		if cmd.Flags().Changed("category") {
			category, _ := cmd.Flags().GetString("category")
			patch.Category = &category
		}
		if cmd.Flags().Changed("tags") {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			patch.Tags = &tags
		}

		note, err := a.store.UpdateNote(args[0], patch)
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Updated note %s (v%d, %s)\n", note.ID, note.Version, note.SyncStatus)
	},
}

var noteDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a note and its attachments",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		deleted, err := a.store.DeleteNote(args[0])
		if err != nil {
			fatal("%v", err)
		}
		if !deleted {
			fmt.Printf("Note %s not found\n", args[0])
			return
		}
		fmt.Printf("Deleted note %s\n", args[0])
	},
}

var noteAttachCmd = &cobra.Command{
	Use:   "attach <note-id>",
	Short: "Attach an external reference to a note",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		sourceType, _ := cmd.Flags().GetString("type")
		sourceID, _ := cmd.Flags().GetString("source-id")
		title, _ := cmd.Flags().GetString("title")
		url, _ := cmd.Flags().GetString("url")

		att, err := a.store.AddAttachment(&schema.Attachment{
			NoteID:     args[0],
			SourceType: sourceType,
			SourceID:   sourceID,
			Title:      title,
			URL:        url,
		})
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Attached %s reference %s to note %s\n", att.SourceType, att.ID, att.NoteID)
	},
}

func init() {
	noteAddCmd.Flags().String("content", "", "note content")
	noteAddCmd.Flags().String("category", "", "note category")
	noteAddCmd.Flags().StringSlice("tags", nil, "comma-separated tags")

	noteEditCmd.Flags().String("title", "", "new title")
	noteEditCmd.Flags().String("content", "", "new content")
	noteEditCmd.Flags().String("category", "", "new category")
	noteEditCmd.Flags().StringSlice("tags", nil, "replacement tag set")

	noteAttachCmd.Flags().String("type", "url", "source type (spotify, pinterest, url)")
	noteAttachCmd.Flags().String("source-id", "", "source-specific identifier")
	noteAttachCmd.Flags().String("title", "", "display title")
	noteAttachCmd.Flags().String("url", "", "external URL")
	_ = noteAttachCmd.MarkFlagRequired("source-id")

	noteCmd.AddCommand(noteAddCmd)
	noteCmd.AddCommand(noteListCmd)
	noteCmd.AddCommand(noteShowCmd)
	noteCmd.AddCommand(noteEditCmd)
	noteCmd.AddCommand(noteDeleteCmd)
	noteCmd.AddCommand(noteAttachCmd)
	rootCmd.AddCommand(noteCmd)
}
