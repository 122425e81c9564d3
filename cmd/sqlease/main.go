package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "sqlease",
		Short: "Lease-based message queue over PostgreSQL",
		Long: "sqlease stores each queue as a PostgreSQL table and hands messages out " +
			"under time-bounded leases.",
		SilenceUsage: true,
	}

	// serve
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the receipt sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			createTables, _ := cmd.Flags().GetBool("create-tables")
			queues, _ := cmd.Flags().GetStringSlice("queue")
			return runServe(cmd.Context(), logger, createTables, queues)
		},
	}
	serveCmd.Flags().Bool("create-tables", false, "create the queue tables and indexes before serving")
	serveCmd.Flags().StringSlice("queue", nil, "queue tables to create with --create-tables (default: $QUEUE)")
	rootCmd.AddCommand(serveCmd)

	// work
	workCmd := &cobra.Command{
		Use:   "work",
		Short: "Consume the configured queue in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			forward, _ := cmd.Flags().GetString("forward")
			return runWork(cmd.Context(), logger, forward)
		},
	}
	workCmd.Flags().String("forward", "", "send a copy of every handled message to this queue")
	rootCmd.AddCommand(workCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.WithError(err).Error("sqlease failed")
		os.Exit(1)
	}
}
