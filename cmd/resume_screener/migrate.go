package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jonathan/resume-screener/internal/db"
)

var migratePrint bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the screening tables in PostgreSQL",
	Long: `Applies the screening schema to the database named by DATABASE_URL.
The DDL is idempotent. Use --print to write it to stdout instead, for review or
for an external migration tool.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if migratePrint {
			return printSchema(cmd.OutOrStdout())
		}
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL (or database_url in the config file) is required")
		}

		database, err := db.Connect(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.EnsureSchema(cmd.Context()); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
		return nil
	},
}

func printSchema(out io.Writer) error {
	_, err := io.WriteString(out, db.Schema())
	return err
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePrint, "print", false, "Print the schema DDL instead of applying it")
	rootCmd.AddCommand(migrateCmd)
}
