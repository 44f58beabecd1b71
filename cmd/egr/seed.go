package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZanzyTHEbar/episode-graphrag/egr/db"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/generation/embedding"
	"github.com/ZanzyTHEbar/episode-graphrag/egr/memory/service"
)

var seedEmbed bool

var seedCmd = &cobra.Command{
	Use:   "seed <fixture.json>",
	Short: "Load episodes, topics, people, resources and chunks from a fixture file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := service.LoadFixtureFile(args[0])
		if err != nil {
			return err
		}

		if seedEmbed {
			embedder, err := embedding.NewEmbedder(ctx, cfg.Embedding)
			if err != nil {
				return fmt.Errorf("failed to create embedder: %w", err)
			}
			n, err := service.EmbedMissing(ctx, f, embedder, 32)
			if err != nil {
				return err
			}
			logger.Info().Int("chunks", n).Msg("embedded chunks without vectors")
		}

		conn, err := db.Open(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer conn.Close()

		stats, err := service.NewSeeder(conn, logger).Seed(ctx, f)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

func init() {
	seedCmd.Flags().BoolVar(&seedEmbed, "embed", false, "embed chunks that carry no vector using the configured embedder")
}
