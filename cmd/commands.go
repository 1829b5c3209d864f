package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yungbote/paperbridge-backend/internal/app"
)

var rootCmd = &cobra.Command{
	Use:           "paperbridge",
	Short:         "Document ingestion and versioning service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, log)
		if err != nil {
			log.Sync()
			return err
		}
		defer a.Close()

		a.Start()
		return a.Run(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		defer log.Sync()
		if err := app.Migrate(log); err != nil {
			return err
		}
		cmd.Println("schema up to date")
		return nil
	},
}

var reprocessDescription string

var reprocessCmd = &cobra.Command{
	Use:   "reprocess <document-id>",
	Short: "Run the processing pipeline for a document and record a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid document id %q: %w", args[0], err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log, err := app.NewLogger()
		if err != nil {
			return err
		}
		a, err := app.New(ctx, log)
		if err != nil {
			log.Sync()
			return err
		}
		defer a.Close()

		out, err := a.Services.Processing.Process(ctx, id, reprocessDescription)
		if err != nil {
			return err
		}
		cmd.Printf("document %s now at version %d (%s)\n", id, out.Version.VersionNumber, out.Version.Locator)
		return nil
	},
}

func init() {
	rootCmd.SetContext(context.Background())
	rootCmd.RunE = serveCmd.RunE
	reprocessCmd.Flags().StringVarP(&reprocessDescription, "message", "m", "", "change description for the new version")
	rootCmd.AddCommand(serveCmd, migrateCmd, reprocessCmd)
}
