// Package app builds the components shared by the territory binaries from Config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/territory/db/postgres/migrations"
	"example.com/territory/internal/config"
	"example.com/territory/internal/domain"
	"example.com/territory/internal/hexgrid"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/persistence/memory"
	"example.com/territory/internal/persistence/postgres"
	"example.com/territory/internal/territory"
)

// Stores bundles the repositories selected by STORE_DRIVER. Pool is nil in memory mode.
type Stores struct {
	Runs  domain.RunRepository
	Loops domain.LoopRepository
	Pool  *pgxpool.Pool
}

// Close releases the Postgres pool, if any.
func (s Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores connects the configured store. Postgres schemas are migrated before use.
func OpenStores(ctx context.Context, cfg config.Config) (Stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		store := memory.NewStore()
		return Stores{Runs: store, Loops: store}, nil
	}
	pool, err := OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		return Stores{}, err
	}
	repo := postgres.NewRepository(pool)
	return Stores{Runs: repo, Loops: repo, Pool: pool}, nil
}

// OpenPostgres connects, pings and migrates the database at url.
func OpenPostgres(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := postgres.Migrate(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// TerritoryConfig maps the TERRITORY_* settings onto the analyzer.
func TerritoryConfig(cfg config.Config) domain.TerritoryConfig {
	return domain.TerritoryConfig{
		MinLoopLength: cfg.Territory.MinLoopLength,
		Resolution:    cfg.Territory.Resolution,
		Timeout:       cfg.Territory.AnalysisTimeout,
	}
}

// NewTerritoryService builds the analyzer on the H3 grid.
func NewTerritoryService(cfg config.Config, stores Stores) *domain.TerritoryService {
	grid := hexgrid.New()
	resolver := territory.NewResolver(grid,
		territory.WithMaxBoundary(cfg.Territory.MaxBoundary),
		territory.WithMaxResolution(cfg.Territory.MaxResolution),
		territory.WithResolverLogger(logger.Named("area_resolver")),
	)
	return domain.NewTerritoryService(stores.Runs, stores.Loops, grid, resolver, TerritoryConfig(cfg))
}
