package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-screener/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes the screening workflow: session start,
resume upload, criteria refinement, background processing and ranked results.

Sessions are stored in PostgreSQL when DATABASE_URL (or database_url in the
config file) is set, otherwise in memory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Address to listen on")
	serveCmd.Flags().String("db-url", "", "PostgreSQL connection URL (defaults to DATABASE_URL)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("database_url", serveCmd.Flags().Lookup("db-url"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	service, err := newService(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		RateLimit:       cfg.Server.RateLimit,
		RateBurst:       cfg.Server.RateBurst,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, service, logger)

	return srv.Start(ctx)
}
