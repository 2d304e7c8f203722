package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modelrelay/internal/server"
)

// Process exit codes.
const (
	exitConfig = 1
	exitBind   = 2
	exitPanic  = 3
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "modelrelay",
	Short: "Protocol-aware LLM reverse proxy",
	Long: `modelrelay routes OpenAI- and Anthropic-dialect chat requests to
configured upstream providers, applying per-route header, regex, and
JSONPath transformations on the way through.`,
}

// Execute runs the CLI and maps failures to the documented exit codes.
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "panic: %v\n", r)
			os.Exit(exitPanic)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, server.ErrBind) {
			os.Exit(exitBind)
		}
		os.Exit(exitConfig)
	}
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or config/example-config.yaml)")

	rootCmd.AddCommand(serveCmd)
}

func initEnv() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	viper.SetEnvPrefix("MODELRELAY")
	viper.AutomaticEnv()
}
