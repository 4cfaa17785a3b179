package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/pegvault/internal/config"
	"github.com/elys-network/pegvault/internal/logger"
	"github.com/elys-network/pegvault/internal/state"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "pegvault",
		Short:         "Multi-asset rebasing yield vault with a scheduled keeper",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), exportCommand(), versionCommand())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("pegvault failed")
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// loadEnvironment reads .env, loads the configuration and initializes the logger.
func loadEnvironment() error {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}
	if err := config.LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Initialize(config.LogLevel, config.LogFormat)
	return nil
}

func dbConfig() state.DBConfig {
	return state.DBConfig{
		Driver:   state.Dialect(config.DBDriver),
		Path:     config.DBPath,
		Host:     config.DBHost,
		Port:     config.DBPort,
		User:     config.DBUser,
		Password: config.DBPassword,
		DBName:   config.DBName,
		SSLMode:  config.DBSSLMode,
	}
}
