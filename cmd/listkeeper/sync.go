package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/listing"
	"github.com/listkeeper/listkeeper/queue"
	"github.com/listkeeper/listkeeper/tracker"
)

// Sync commands only enqueue jobs; a running serve process picks them up
// from the shared database.
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fan listings out to marketplaces",
	}
	cmd.AddCommand(newSyncListCmd(), newSyncDelistCmd(), newSyncRelistCmd(), newSyncUpdateCmd(), newSyncStatusCmd())
	return cmd
}

func newManager(conn *sql.DB) *listing.Manager {
	return listing.NewManager(
		inventory.NewStore(conn),
		tracker.New(conn),
		queue.New(conn),
		cfg.EnabledPlatforms(),
	)
}

func reportJobs(verb string, jobs []listing.EnqueuedJob) {
	if len(jobs) == 0 {
		fmt.Printf("Nothing to %s\n", verb)
		return
	}
	for _, j := range jobs {
		fmt.Printf("%s %s: job %s\n", verb, j.Platform, j.Job.ID)
	}
}

func newSyncListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <item-id>",
		Short: "Publish an item on every enabled platform it is not already on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			jobs, err := newManager(conn).ListEverywhere(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reportJobs("publish", jobs)
			return nil
		},
	}
}

func newSyncDelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delist <item-id>",
		Short: "Remove an item's listings from every platform it is on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			jobs, err := newManager(conn).DelistEverywhere(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reportJobs("delist", jobs)
			return nil
		},
	}
}

func newSyncRelistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "relist <item-id>",
		Short: "Tear down and republish an item's listings, delist-first per platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			jobs, err := newManager(conn).RelistEverywhere(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			reportJobs("relist", jobs)
			return nil
		},
	}
}

func newSyncUpdateCmd() *cobra.Command {
	var fields, platforms []string
	cmd := &cobra.Command{
		Use:   "update <item-id>",
		Short: "Push changed fields to listed platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			jobs, err := newManager(conn).SyncListingUpdates(cmd.Context(), args[0], fields, platforms)
			if err != nil {
				return err
			}
			reportJobs("update", jobs)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "changed fields, e.g. title,price_cents")
	cmd.Flags().StringSliceVar(&platforms, "platforms", nil, "target platforms (default: all listed)")
	return cmd
}

func newSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <item-id>",
		Short: "Show per-platform listing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			statuses, err := newManager(conn).GetListingStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No sync history")
				return nil
			}
			for p, st := range statuses {
				fmt.Printf("%-12s %-10s attempts=%d", p, st.Status, st.AttemptCount)
				if st.RemoteListingID != "" {
					fmt.Printf(" remote=%s", st.RemoteListingID)
				}
				if st.LastError != "" {
					fmt.Printf(" error=%q", st.LastError)
				}
				fmt.Println()
			}
			return nil
		},
	}
}
