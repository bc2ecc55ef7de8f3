package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/modvault/modvault/pkg/upload"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired upload slots and stale temporary files once",
	Run: func(cmd *cobra.Command, args []string) {
		_, logger, opts := setup()

		janitor := upload.NewJanitor(opts, upload.NewSlotRegistry(opts, logger), logger)
		stats, err := janitor.Sweep()
		if err != nil {
			log.Fatalf("Sweep failed: %s", err)
		}

		fmt.Printf("removed %d slots, %d orphaned files, %d cached files\n",
			stats.SlotsRemoved, stats.OrphansRemoved, stats.CacheRemoved)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
