// cmd/server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/jason-s-yu/tourney/internal/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "tourney",
		Short:         "Tournament lobbies settled on an EVM ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.SetDefaults(v)
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env vars and .env are always read)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(newServeCmd(v), newKeygenCmd(), newTokenCmd(v))
	return root
}

// loadConfig reads the configuration and builds the logger it names.
func loadConfig(v *viper.Viper) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return cfg, nil, err
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return cfg, nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger.SetLevel(level)
	return cfg, logger, nil
}
