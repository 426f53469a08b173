package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/queue"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(newDBMigrateCmd(), newDBStatsCmd(), newDBCleanupCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Println("Migrations up to date")
			return nil
		},
	}
}

func newDBStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts and job status breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			for _, table := range []string{"inventory_items", "state_transitions", "platform_listing_status", "schedules"} {
				var count int
				if err := conn.QueryRowContext(ctx,
					"SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
					return err
				}
				fmt.Printf("%-28s %d\n", table, count)
			}

			stats, err := queue.New(conn).Stats(ctx)
			if err != nil {
				return err
			}
			for _, status := range []queue.Status{queue.StatusPending, queue.StatusRunning, queue.StatusSucceeded, queue.StatusDead} {
				fmt.Printf("jobs/%-23s %d\n", status, stats[status])
			}
			return nil
		},
	}
}

func newDBCleanupCmd() *cobra.Command {
	var olderThan string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished jobs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, err := time.ParseDuration(olderThan)
			if err != nil {
				return err
			}

			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			deleted, err := queue.New(conn).Cleanup(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d jobs\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "168h", "retention window, e.g. 24h")
	return cmd
}
