package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mdavidsaver/pscdrv/cmd/pscctl/tui"
	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/pscio"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect every configured peer and show a live status viewer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		if _, err := loadAndRegister(cfgFile); err != nil {
			return err
		}
		log := pscio.Logger()
		for _, err := range engine.StartAll() {
			log.Error().Err(err).Msg("connect failed")
		}
		defer engine.StopAll()

		p := tea.NewProgram(tui.New(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
