package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noteverse/noteverse/internal/schema"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle against the remote store",
	Long: `Run one full push/pull cycle:

  1. Push every pending note to the remote store
  2. Resolve server-reported conflicts per the configured policy
  3. Pull remote changes since the last successful sync
  4. Advance the last-sync timestamp`,
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		result := a.engine.Sync(context.Background())
		if result.Skipped {
			fmt.Println("Sync already in progress")
			return
		}

		fmt.Printf("Sync complete: pushed=%d conflicts=%d failed=%d pulled=%d\n",
			result.Pushed, result.Conflicts, result.PushFailed, result.Pulled)
		if result.PullErr != nil {
			fmt.Printf("Pull phase aborted: %v\n", result.PullErr)
		}
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state",
	Run: func(cmd *cobra.Command, args []string) {
		a, closeApp, err := openApp()
		if err != nil {
			fatal("%v", err)
		}
		defer closeApp()

		status, err := a.engine.Status(context.Background())
		if err != nil {
			fatal("%v", err)
		}

		fmt.Printf("Server:          %s\n", a.client.BaseURL())
		fmt.Printf("Device:          %s\n", a.engine.DeviceID())
		fmt.Printf("Policy:          %s\n", a.resolver.Policy())
		fmt.Printf("In progress:     %t\n", status.InProgress)
		fmt.Printf("Pending notes:   %d\n", status.Pending)
		fmt.Printf("Queued requests: %d\n", status.Queued)
		if status.LastSync.IsZero() {
			fmt.Println("Last sync:       never")
		} else {
			fmt.Printf("Last sync:       %s\n", status.LastSync.Format(schema.TimeFormat))
		}
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}
