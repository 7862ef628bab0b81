package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbose bool
	logger  *zap.Logger
	cfg     Config
)

var rootCmd = &cobra.Command{
	Use:   "fieldscan",
	Short: "Field scan analysis service and client",
	Long: `fieldscan drives field image analyses against the precision agriculture
backend: select or capture an image, analyse it, keep the latest result,
and read dashboard statistics and weather forecasts.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = loadConfig()

		config := zap.NewProductionConfig()
		if verbose || cfg.LogLevel == "debug" {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		} else if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			config.Level = zap.NewAtomicLevelAt(lvl)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, analyzeCmd, statsCmd, weatherCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
