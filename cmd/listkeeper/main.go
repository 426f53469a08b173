// listkeeper keeps one local inventory record authoritative across every
// marketplace an item is listed on. The serve command runs the sync engine;
// the rest are operator tools against the same database.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/listkeeper/listkeeper/config"
	"github.com/listkeeper/listkeeper/db"
	"github.com/listkeeper/listkeeper/logger"
)

var (
	flagConfig   string
	flagJSONLogs bool

	cfg *config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "listkeeper",
		Short:         "Multi-marketplace listing synchronizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Initialize(flagJSONLogs); err != nil {
				return err
			}

			var err error
			if flagConfig != "" {
				cfg, err = config.LoadFromFile(flagConfig)
			} else {
				cfg, err = config.Load()
			}
			return err
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	root.PersistentFlags().BoolVar(&flagJSONLogs, "json-logs", false, "emit logs as JSON")

	root.AddCommand(
		newServeCmd(),
		newDBCmd(),
		newJobsCmd(),
		newItemCmd(),
		newSyncCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openDB opens the configured database and applies pending migrations
func openDB() (*sql.DB, error) {
	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(conn, logger.Logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
