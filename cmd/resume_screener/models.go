package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-screener/internal/db"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the configured LLM provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		service, err := newService(cfg, db.NewMemoryStore(), logger, serviceOptions...)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer func() { _ = service.Shutdown(context.Background()) }()

		models, err := service.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		active := service.ProviderConfig()
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Provider: %s (default model %s)\n", active.Provider, active.Model)
		for _, m := range models {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", m)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
