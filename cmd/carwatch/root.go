package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/carwatch/pkg/repo"
)

func newRootCmd(cfg *Config, log *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "carwatch",
		Short:         "Watches Leboncoin for used cars matching the configured criteria.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "directory holding criteria.yaml and exclusions.yaml")
	f.StringVar(&cfg.Store, "store", cfg.Store, "listing store: sqlite, neo4j or memory")
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")

	root.AddCommand(
		newRunCmd(cfg, log),
		newSearchCmd(cfg, log),
		newEvaluateCmd(cfg, log),
		newStatsCmd(cfg, log),
		newCriteriaCmd(cfg, log),
	)
	return root
}

// openStore opens the listing store named by cfg.Store.
func openStore(ctx context.Context, cfg Config) (repo.ListingStore, error) {
	switch cfg.Store {
	case "", "sqlite":
		s, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "neo4j":
		s, err := repo.OpenNeo4j(ctx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPass, "")
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return repo.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
