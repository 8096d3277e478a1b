// Package main provides the entry point for the resume screener API server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jonathan/resume-screener/internal/config"
	"github.com/jonathan/resume-screener/internal/observability"
)

var (
	configPath string

	// v holds defaults, environment bindings and bound flags
	v *viper.Viper
	// cfg and logger are populated before any subcommand runs
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "resume_screener",
	Short: "Resume Screener HTTP API server and CLI",
	Long: "Resume Screener turns a job description into weighted evaluation criteria, " +
		"scores uploaded resumes against them with a language model and ranks the candidates.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	var err error
	v, err = config.New()
	if err != nil {
		panic(err)
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML/JSON/TOML config file")
	flags.BoolP("debug", "d", false, "Verbose/debug output")
	flags.Bool("json", false, "JSON format for logging")
	_ = v.BindPFlag("log.debug", flags.Lookup("debug"))
	_ = v.BindPFlag("log.json", flags.Lookup("json"))
}

func loadConfig(_ *cobra.Command, _ []string) error {
	loaded, err := config.Load(v, configPath)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded

	logger, err = observability.NewLogger(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
