package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/config"
)

var (
	cfgFile string
	envFile string
	verbose bool
	logger  *zap.Logger
	cfg     *config.Config

	closeLog = func() {}
)

func setupLogger(verbose bool, logCfg *config.LoggingConfig) error {
	l, closeFile, err := newLogSetup(verbose, logCfg).build()
	if err != nil {
		return err
	}
	logger, closeLog = l, closeFile
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "livetiming-relay",
		Short: "Relay F1 live timing to browser clients",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return setupLogger(verbose, nil)
			}

			// A missing .env is normal outside development.
			if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
				return fmt.Errorf("loading env file: %w", err)
			}

			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}

			return setupLogger(verbose, &cfg.Logging)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
			closeLog()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", os.Getenv("F1RELAY_CONFIG"), "config file path (or set F1RELAY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
