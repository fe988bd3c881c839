package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/perturblabs/perturb/internal/logging"
)

var (
	logLevel string
	logger   *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "perturbctl",
	Short: "Gradient-free optimization from the command line",
	Long: `perturbctl runs perturbation-based optimization against the built-in
benchmark objectives, using the same optimizers as the perturbd service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(logging.ParseLevel(logLevel), os.Stderr)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
