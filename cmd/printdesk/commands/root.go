package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/config"
	"github.com/orrn/printdesk/internal/logging"
)

// flag names
const (
	flagConfig = "config"
)

// environment variable names
const (
	envConfig = "PRINTDESK_CONFIG"
)

var configPath string

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, flagConfig, "c", "printdesk.yaml", "Path to the YAML config file (env: PRINTDESK_CONFIG)")

	RootCmd.AddCommand(GetServeCmd())
	RootCmd.AddCommand(GetSweepCmd())
	RootCmd.AddCommand(GetArchiveCmd())
	RootCmd.AddCommand(GetHashPasswordCmd())
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "printdesk",
	Short: "printdesk - print shop job lifecycle controller",
	Long: `printdesk accepts document uploads, confirms payment, moves paid documents to
durable storage and schedules them onto the shop's printers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if !cmd.Flags().Changed(flagConfig) {
			if v := os.Getenv(envConfig); v != "" {
				configPath = v
			}
		}
		if configPath == "" {
			return fmt.Errorf("config path cannot be empty")
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return RootCmd.Execute()
}

// loadConfig reads the config file, applies environment overrides and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}
