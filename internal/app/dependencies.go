package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drops/internal/clock"
	"github.com/vladislavdragonenkov/drops/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/drops/internal/health"
	"github.com/vladislavdragonenkov/drops/internal/storage/memory"
	"github.com/vladislavdragonenkov/drops/internal/storage/postgres"
)

// runtimeDependencies: хранилище и всё, что нужно для его проверки и закрытия.
type runtimeDependencies struct {
	store          domain.Store
	storageChecker healthcheck.Checker
	closeFn        func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			store: memory.NewStore(),
			storageChecker: healthcheck.NewSimpleChecker("storage", func(context.Context) error {
				return nil
			}),
		}, nil

	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, errors.New("postgres dsn is required for postgres storage driver")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
			logger.Info("postgres schema is up to date")
		}
		logger.Info("using postgres storage")
		return &runtimeDependencies{
			store:          store,
			storageChecker: healthcheck.NewPingChecker("storage", store, 0),
			closeFn:        store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// seedDrops создаёт дропы из конфигурации. Уже существующие пропускаются,
// поэтому повторный старт на том же Postgres не падает.
func seedDrops(ctx context.Context, store domain.Store, seeds []SeedDrop, c clock.Clock, logger *log.Entry) error {
	for _, seed := range seeds {
		_, err := store.GetDrop(ctx, seed.ID)
		switch {
		case err == nil:
			logger.WithField("drop_id", seed.ID).Debug("seed drop already exists")
			continue
		case !errors.Is(err, domain.ErrDropNotFound):
			return fmt.Errorf("check seed drop %s: %w", seed.ID, err)
		}

		if err := store.CreateDrop(ctx, seed.toDrop(c.Now())); err != nil {
			return fmt.Errorf("seed drop %s: %w", seed.ID, err)
		}
		logger.WithFields(log.Fields{"drop_id": seed.ID, "stock": seed.Stock}).Info("seed drop created")
	}
	return nil
}
