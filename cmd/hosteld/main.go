package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hostel-allocation-backend/config"
	"hostel-allocation-backend/internal/logger"
)

func main() {
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "hosteld",
		Short:         "Hostel room allocation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $CONFIG_PATH or ./config/config.yaml)")

	load := func() (*config.Config, *zap.Logger, error) {
		path := configPath
		if path == "" {
			path = os.Getenv("CONFIG_PATH")
		}
		if path == "" {
			path = "./config/config.yaml"
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
		log, err := logger.New(&cfg.Log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("configuration loaded", zap.String("path", path))
		return cfg, log, nil
	}

	rootCmd.AddCommand(
		serveCmd(load),
		migrateCmd(load),
		reconcileCmd(load),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
