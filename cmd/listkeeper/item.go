package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/tracker"
)

func newItemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Manage inventory items",
	}
	cmd.AddCommand(newItemCreateCmd(), newItemLsCmd(), newItemShowCmd(), newItemTransitionCmd())
	return cmd
}

func newItemCreateCmd() *cobra.Command {
	var user, title, description string
	var priceCents int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft inventory item",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			item := inventory.NewItem(user, title, priceCents)
			item.Description = description
			if err := inventory.NewStore(conn).CreateItem(cmd.Context(), item); err != nil {
				return err
			}
			fmt.Println(item.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owning user id")
	cmd.Flags().StringVar(&title, "title", "", "listing title")
	cmd.Flags().StringVar(&description, "description", "", "listing description")
	cmd.Flags().Int64Var(&priceCents, "price", 0, "price in cents")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("title")
	return cmd
}

func newItemLsCmd() *cobra.Command {
	var user string
	var limit int
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List a user's items",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			items, err := inventory.NewStore(conn).ListItemsByUser(cmd.Context(), user, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tPRICE\tTITLE")
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", item.ID, item.State, item.PriceCents, item.Title)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owning user id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items to show")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newItemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item, its transition history and per-platform status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx := cmd.Context()
			store := inventory.NewStore(conn)
			item, err := store.GetItem(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("%s  %q  state=%s  price=%d\n", item.ID, item.Title, item.State, item.PriceCents)

			history, err := store.ListHistory(ctx, item.ID)
			if err != nil {
				return err
			}
			for _, rec := range history {
				fmt.Printf("  %s  %s -> %s  by %s (%s)\n",
					rec.CreatedAt.Format("2006-01-02 15:04:05"),
					rec.FromState, rec.ToState, rec.Actor, rec.Reason)
			}

			statuses, err := tracker.New(conn).GetStatus(ctx, item.ID)
			if err != nil {
				return err
			}
			for p, st := range statuses {
				line := fmt.Sprintf("  %s: %s", p, st.Status)
				if st.RemoteListingID != "" {
					line += "  remote=" + st.RemoteListingID
				}
				if st.LastError != "" {
					line += "  error=" + st.LastError
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func newItemTransitionCmd() *cobra.Command {
	var actor, reason string
	cmd := &cobra.Command{
		Use:   "transition <item-id> <target-state>",
		Short: "Move an item along its lifecycle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !inventory.IsValidState(args[1]) {
				return fmt.Errorf("unknown state %q", args[1])
			}

			conn, err := openDB()
			if err != nil {
				return err
			}
			defer conn.Close()

			rec, err := inventory.NewMachine(conn).Transition(cmd.Context(),
				args[0], inventory.State(args[1]), actor, reason)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s -> %s\n", args[0], rec.FromState, rec.ToState)
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "cli", "who is making the change")
	cmd.Flags().StringVar(&reason, "reason", "", "why")
	return cmd
}
