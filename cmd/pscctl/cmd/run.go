package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mdavidsaver/pscdrv/pkg/engine"
	"github.com/mdavidsaver/pscdrv/pkg/pscio"
)

var reportInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect every configured peer and run headless until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile == "" {
			return fmt.Errorf("--config is required")
		}
		file, err := loadAndRegister(cfgFile)
		if err != nil {
			return err
		}
		log := pscio.Logger()
		log.Info().Int("peers", len(file.Peers)).Msg("registered peers")

		for _, err := range engine.StartAll() {
			log.Error().Err(err).Msg("connect failed")
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for name, e := range engine.Snapshot() {
					log.Info().Str("engine", name).Msg(e.Report(1))
				}
			case s := <-sig:
				log.Info().Str("signal", s.String()).Msg("shutting down")
				engine.StopAll()
				return nil
			}
		}
	},
}

func init() {
	runCmd.Flags().DurationVar(&reportInterval, "report-interval", 10*time.Second, "how often to log each engine's Report(1) line")
	rootCmd.AddCommand(runCmd)
}
