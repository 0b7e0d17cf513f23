package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dense-identity/callsig/internal/config"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "callctl places and answers end-to-end sealed calls",
	Long: `callctl runs a call-signaling endpoint. Offers, answers, ICE candidates and
hangups are sealed for the peer and carried through a relay mailbox or NATS.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnv(); err != nil {
			return err
		}
		if logLevel == "" {
			logLevel = os.Getenv("LOG_LEVEL")
		}
		if logLevel != "" {
			lvl, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(lvl)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (default $LOG_LEVEL or info)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(historyCmd)
}
