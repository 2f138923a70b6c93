package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rudransh-shrivastava/peerdrop/internal/config"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
)

var (
	configPath string
	logLevel   string
	relayURL   string
)

var rootCmd = &cobra.Command{
	Use:           "peerdrop",
	Short:         "share files and messages between nearby devices",
	Long:          `peerdrop sends files and messages directly between devices over WebRTC, using a relay for signaling and as a fallback`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "relay WebSocket URL")

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(discoverCmd)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "peerdrop.yaml"
	}
	return filepath.Join(dir, "peerdrop", "config.yaml")
}

// loadConfig reads the config file, applies flag overrides and persists a
// freshly generated device id.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.EnsureDeviceID() {
		if err := config.Save(configPath, cfg); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if relayURL != "" {
		cfg.Client.RelayURL = relayURL
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logrus.Logger {
	return logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
}
