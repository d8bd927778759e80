package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessiongate/config"
	"github.com/jmcleod/sessiongate/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sessiongate",
	Short: "SessionGate is a session authentication gateway",
	Long: `An authentication gateway that issues and verifies opaque session tokens,
admits clients by access key and opens AES-256-GCM request envelopes.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sessiongate.yaml", "Path to the YAML configuration file")
}

// loadConfig loads the configuration named by --config.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
}
