package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/queue"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage queue jobs",
	}
	cmd.AddCommand(newJobsLsCmd(), newJobsRetryCmd(), newJobsCancelCmd())
	return cmd
}

func newJobsLsCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			q := queue.New(conn)
			var jobs []*queue.Job
			if status == "" {
				jobs, err = q.ListRecent(cmd.Context(), limit)
			} else {
				if !queue.IsValidStatus(status) {
					return fmt.Errorf("unknown status %q", status)
				}
				jobs, err = q.ListByStatus(cmd.Context(), queue.Status(status), limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPRIORITY\tATTEMPTS\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
					j.ID, j.Type, j.Status, j.Priority, j.Attempts, j.MaxAttempts, j.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|running|succeeded|dead)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs to show")
	return cmd
}

func newJobsRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a dead job with a fresh attempt budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			job, err := queue.New(conn).Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Job %s requeued (%s)\n", job.ID, job.Type)
			return nil
		},
	}
}

func newJobsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job, or withdraw retries from a running one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := queue.New(conn).Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Job %s cancelled\n", args[0])
			return nil
		},
	}
}
