package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/eshe-huli/ringforge/fem/internal/config"
)

var (
	version = "0.1.0"
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fem",
		Short: "fem is a per-file event monitor",
		Long: `fem watches individual files, gives each a stable numeric id, smooths
bursts of identical events and journals content changes to a local SQLite
database, optionally forwarding them over Phoenix Channels.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.fem.yaml)")
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(idsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>...",
		Short: "Watch files and journal their changes",
		Long:  "Watches the given files, fingerprints them with BLAKE3 on every admitted event and journals content changes. Runs until interrupted.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatch,
	}
}

func idsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ids",
		Short: "Print the persisted path to id table",
		Args:  cobra.NoArgs,
		RunE:  runIDs,
	}
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recently journaled events",
		Args:  cobra.NoArgs,
		RunE:  runEvents,
	}
	cmd.Flags().IntP("limit", "n", 20, "number of events to show")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show instance id, pending events and database size",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}
