package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pscctlVersion is set at build time via
// -ldflags "-X github.com/mdavidsaver/pscdrv/cmd/pscctl/cmd.pscctlVersion=x.y.z"
var pscctlVersion = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the pscctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "pscctl version %s\n", pscctlVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
