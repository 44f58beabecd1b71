package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations and print their status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dbCfg := cfg.Database
		dbCfg.AutoMigrate = false

		conn, err := db.Open(ctx, dbCfg, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.Migrate(ctx, conn, logger); err != nil {
			return err
		}
		status, err := db.MigrationStatus(ctx, conn)
		if err != nil {
			return err
		}
		for _, s := range status {
			fmt.Fprintf(cmd.OutOrStdout(), "%-8s %s\n", s.State, s.Source.Path)
		}
		return nil
	},
}
