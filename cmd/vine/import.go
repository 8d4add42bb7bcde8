package main

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/vine/config"
	"github.com/Ramsey-B/vine/pkg/database"
	"github.com/Ramsey-B/vine/pkg/httpclient"
	"github.com/Ramsey-B/vine/pkg/models"
	"github.com/Ramsey-B/vine/pkg/redis"
	"github.com/Ramsey-B/vine/pkg/repositories"
	"github.com/Ramsey-B/vine/pkg/store"
)

var importModules []string

var importCmd = &cobra.Command{
	Use:   "import [chains.yaml]",
	Short: "Upsert chain definitions and module URLs into Postgres",
	Long: `Upsert chain definitions and module URLs into Postgres. When REDIS_ENABLED
is set the imported chains are dropped from the chain cache so running servers
pick up the new definitions.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().StringSliceVar(&importModules, "module", nil, "module base URL as name=url (repeatable)")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.DatabaseEnabled() {
		return fmt.Errorf("DB_HOST is required to import chains")
	}

	chains, err := store.LoadFile(args[0])
	if err != nil {
		return err
	}

	logger, sync, err := newLogger(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return err
	}
	defer sync()

	ctx := cmd.Context()
	postgres := database.NewPostgres(databaseConfig(cfg), &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	}, logger)
	if err := postgres.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = postgres.Stop(ctx) }()

	moduleRepo := repositories.NewModuleRepository(postgres.Instance(), logger)
	for _, flag := range importModules {
		parsed := httpclient.ParseModuleList(flag)
		if len(parsed) == 0 {
			return fmt.Errorf("invalid --module %q: expected name=url", flag)
		}
		for name, baseURL := range parsed {
			if err := moduleRepo.Upsert(ctx, &models.Module{Name: name, BaseURL: baseURL, Enabled: true}); err != nil {
				return fmt.Errorf("failed to import module %s: %w", name, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "module %s -> %s\n", name, baseURL)
		}
	}

	list, err := chains.ListChains(ctx, 0, 0)
	if err != nil {
		return err
	}

	chainRepo := repositories.NewChainRepository(postgres.Instance(), logger)
	for _, chain := range list {
		if err := chainRepo.Upsert(ctx, chain); err != nil {
			return fmt.Errorf("failed to import chain %s: %w", chain.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "chain %s (%d steps)\n", chain.ID, len(chain.Steps))
	}

	if cfg.RedisEnabled {
		client := redis.NewClient(redisConfig(cfg), logger)
		if err := client.Start(ctx); err != nil {
			logger.WithContext(ctx).WithError(err).Warn("Chain cache not invalidated, cached definitions expire after CHAIN_CACHE_TTL")
			return nil
		}
		defer func() { _ = client.Stop(ctx) }()

		cached := store.NewCached(chainRepo, client, cfg.ChainCacheTTL, logger)
		n := invalidateChains(ctx, cached, list, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d cached chains\n", n)
	}
	return nil
}

type chainInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// invalidateChains drops each chain from the cache and returns how many were
// dropped. Failures are logged, the import itself already succeeded.
func invalidateChains(ctx context.Context, cache chainInvalidator, chains []*models.ChainConfiguration, logger ectologger.Logger) int {
	dropped := 0
	for _, chain := range chains {
		if err := cache.Invalidate(ctx, chain.ID); err != nil {
			logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"chain_id": chain.ID,
			}).Warn("Failed to invalidate cached chain")
			continue
		}
		dropped++
	}
	return dropped
}
