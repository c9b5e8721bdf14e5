package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Ensemble/internal/cache"
	"github.com/shaiso/Ensemble/internal/config"
	"github.com/shaiso/Ensemble/internal/mq"
	"github.com/shaiso/Ensemble/internal/repo"
)

// Resources — открытые подключения к инфраструктуре.
//
// Всё необязательно: недоступная БД или брокер только логируются,
// движок работает без хранения runs и без событий.
type Resources struct {
	Pool      *pgxpool.Pool
	Store     *repo.Store
	Conn      *mq.Connection
	Publisher *mq.Publisher
	Cache     *cache.OutcomeCache
}

// Open подключает БД, RabbitMQ и кэш по конфигурации.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) *Resources {
	res := &Resources{}

	if cfg.Database.URL != "" {
		res.openDatabase(ctx, cfg, logger)
	}

	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, events disabled", "error", err)
		} else {
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			res.Conn = conn
			res.Publisher = mq.NewPublisher(conn, logger)
		}
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.TTL)
		if err != nil {
			logger.Warn("outcome cache disabled", "error", err)
		} else {
			res.Cache = c
		}
	}

	return res
}

func (r *Resources) openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	if cfg.Database.Migrate {
		if err := repo.Migrate(ctx, cfg.Database.URL); err != nil {
			logger.Warn("migrations failed, run storage disabled", "error", err)
			return
		}
	}

	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		logger.Warn("database not available, run storage disabled", "error", err)
		return
	}
	logger.Info("database connected")

	r.Pool = pool
	r.Store = repo.NewStore(pool)
}

// Infra возвращает зависимости для orchestrator.
// Отсутствующие ресурсы становятся nil-интерфейсами, а не typed nil.
func (r *Resources) Infra() Infra {
	var infra Infra
	if r.Store != nil {
		infra.Store = r.Store
	}
	if r.Publisher != nil {
		infra.Publisher = r.Publisher
	}
	if r.Cache != nil {
		infra.Cache = r.Cache
	}
	return infra
}

// Close закрывает все открытые подключения.
func (r *Resources) Close() {
	if r.Cache != nil {
		r.Cache.Close()
	}
	if r.Conn != nil {
		_ = r.Conn.Close()
	}
	if r.Pool != nil {
		r.Pool.Close()
	}
}
