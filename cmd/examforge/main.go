package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	verbose     bool
	logLevel    string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "examforge",
		Short: "examforge - Topic-weighted exam question generator",
		Long: `examforge generates exam questions with LLMs, distributing a target count
across the topics of a course by weight, and maintains a bank of previous-year
questions with backfilled solutions.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to environment file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	pf.StringVar(&logLevel, "log-level", "info", "Console log level (debug, info, warn, error)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newSolveCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newExtractCmd())
	rootCmd.AddCommand(newTopicCmd())
	rootCmd.AddCommand(newPYQCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newCheckpointCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile loads environment variables from --env-file. A missing default
// file is ignored; a missing file named explicitly is an error.
func loadEnvFile(cmd *cobra.Command) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); os.IsNotExist(err) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}
