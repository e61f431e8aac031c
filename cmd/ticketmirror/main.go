// Command ticketmirror mirrors tickets from a remote issue tracker into
// a local SQLite cache and keeps the mirror fresh with scheduled
// incremental syncs.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirrorboard/ticketmirror/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ticketmirror",
	Short: "Mirror a remote issue tracker into a local SQLite cache",
	Long: `ticketmirror keeps a queryable local mirror of a remote issue tracker.

A full sync enumerates every project and pulls all matching tickets; an
incremental sync only touches projects with changes since the last run.
Sync state, progress, and errors are recorded per session, so interrupted
runs are inspectable afterwards.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"config file (default "+config.DefaultPath+")")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync Commands:"})
	rootCmd.AddGroup(&cobra.Group{ID: "query", Title: "Query Commands:"})
}

func main() {
	log.SetFlags(0)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
