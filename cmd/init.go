package cmd

import (
	"fmt"
	"log"

	"github.com/alG-N/alterGoldenBot-sub008/altergolden"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and verify the redis connection",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("database_type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"database not set (must be a valid database connection " +
					"string or sqlite file path)",
			)
		}

		out := cmd.OutOrStdout()

		db, err := altergolden.CreateDB(
			ctx,
			cfg.DatabaseType,
			cfg.Database,
			nil,
			cfg.DatabaseSlowThreshold,
		)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		sqlDB, err := db.DB()
		if err == nil {
			defer func() {
				_ = sqlDB.Close()
			}()
		}
		fmt.Fprintln(out, "Database migrations complete.")

		if cfg.Redis != nil && cfg.Redis.Enabled {
			store := altergolden.NewRedisStore(cfg.Redis, nil)
			if pingErr := store.Ping(ctx); pingErr != nil {
				log.Fatalf("Redis unreachable at %s: %v", cfg.Redis.Addr, pingErr)
			}
			_ = store.Close()
			fmt.Fprintln(out, "Redis connection OK.")
		} else {
			fmt.Fprintln(
				out,
				"Redis disabled: durable namespaces will run local-only.",
			)
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the "+
				"'run' subcommand.",
		)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
