package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "repairedge",
		Short:   "Repair cell controller: mover, repair controller and work queue",
		Version: version,
		Long: `repairedge runs one repair cell. It sends the mover to a side's hand-off
point, feeds the repair controller one work item at a time and returns the
mover to standby, recording progress in a local SQLite queue.

Running without a subcommand is the same as "repairedge serve".`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				log.SetFlags(log.LstdFlags | log.Lshortfile)
			}
		},
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "repairedge.yaml", "path to config file")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	addServeFlags(rootCmd)

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(coilCmd())
	rootCmd.AddCommand(simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
