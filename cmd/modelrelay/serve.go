package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"modelrelay/internal/config"
	"modelrelay/internal/pkg/logger"
	"modelrelay/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the proxy server",
	Long:  `Load the configuration, compile the model routes, and begin accepting requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}

		log, err := logger.New(cfg.Logging.Level)
		if err != nil {
			return err
		}
		defer log.Sync()

		log.Info(fmt.Sprintf("Configuration loaded from %s with %d models", path, len(cfg.Models)))

		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}
		return srv.Start()
	},
}

// configPath resolves the config file: --config flag, then CONFIG_PATH, then
// the default.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return config.DefaultPath
}
