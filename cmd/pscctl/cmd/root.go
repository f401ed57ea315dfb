package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mdavidsaver/pscdrv/pkg/pscio"
)

// cfgFile is the shared --config flag value, consumed by run and status.
// logJSON switches pscio's sink from console to JSON output.
var (
	cfgFile string
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "pscctl",
	Short: "pscctl manages a set of PSC peer engines from a declarative config",
	Long: `pscctl reads a YAML file naming tunables and a peer list, registers a
tcp, udp, or udpfast engine per peer, and connects them. "run" stays
headless and logs engine state; "status" shows a live terminal view of
every registered engine and its Blocks.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logJSON {
			pscio.SetOutput(os.Stderr, true)
		}
		return nil
	},
}

// Execute runs the root command, exiting the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pscctl:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root cobra.Command, for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML peer/tunables file")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs instead of the console format")
	pscio.SetLevel(zerolog.InfoLevel)
}
