package main

import (
	"github.com/spf13/cobra"

	"subforge/internal/logger"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop probe history of nodes that no longer exist",
	Long: `Removes latency records whose node is gone from every saved profile.
Nothing is removed when any profile document fails to load.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.svc.PruneHistory()
		if err != nil {
			return err
		}
		logger.Log.Infof("✅ History maintenance complete. Removed %d records.", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
