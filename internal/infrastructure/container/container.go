package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/infrastructure/config"
	"gasfeed/internal/infrastructure/storage"
	"gasfeed/internal/infrastructure/storage/composite"
	pgrepo "gasfeed/internal/infrastructure/storage/postgres"
	redisrepo "gasfeed/internal/infrastructure/storage/redis"
	sqliterepo "gasfeed/internal/infrastructure/storage/sqlite"
)

// Container 持有存储层依赖：各历史后端、Redis 客户端与组合仓储
type Container struct {
	cfg         *config.Config
	redisClient *redis.Client
	memoryRepo  *storage.MemoryRepo
	sqliteRepo  *sqliterepo.Repo
	pgRepo      *pgrepo.Repo
	redisRepo   *redisrepo.Repo
	history     *composite.Repo
	closeOnce   sync.Once
	closerChain []func() error
}

// New 按配置初始化存储；主后端排在组合仓储首位
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{
		cfg:         cfg,
		closerChain: make([]func() error, 0),
	}

	if err := c.initStorage(ctx); err != nil {
		// 清理已初始化的资源
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	st := c.cfg.Storage

	if st.Redis.Enabled {
		if err := c.initRedis(ctx); err != nil {
			return fmt.Errorf("redis init failed: %w", err)
		}
	}
	if st.SQLite.Enabled {
		if err := c.initSQLite(); err != nil {
			return fmt.Errorf("sqlite init failed: %w", err)
		}
	}
	if st.Postgres.Enabled {
		if err := c.initPostgres(ctx); err != nil {
			return fmt.Errorf("postgres init failed: %w", err)
		}
	}

	backends := map[string]port.HistoryRepository{}
	if c.redisRepo != nil {
		backends["redis"] = c.redisRepo
	}
	if c.sqliteRepo != nil {
		backends["sqlite"] = c.sqliteRepo
	}
	if c.pgRepo != nil {
		backends["postgres"] = c.pgRepo
	}
	if st.Primary == "memory" || len(backends) == 0 {
		c.memoryRepo = storage.NewMemoryRepo()
		backends["memory"] = c.memoryRepo
	}

	primary, ok := backends[st.Primary]
	if !ok {
		return fmt.Errorf("primary backend %q not initialized", st.Primary)
	}
	ordered := []port.HistoryRepository{primary}
	for _, name := range []string{"memory", "sqlite", "postgres", "redis"} {
		if r, ok := backends[name]; ok && name != st.Primary {
			ordered = append(ordered, r)
		}
	}
	c.history = composite.New(ordered...)

	log.Info().
		Str("primary", st.Primary).
		Int("backends", c.history.Len()).
		Msg("history storage ready")
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	rc := c.cfg.Storage.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	// 测试连接
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	c.redisClient = rdb
	c.redisRepo = redisrepo.New(rdb, rc.Prefix, rc.TTL, rc.Channel)

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", rc.Addr).
		Int("db", rc.DB).
		Msg("redis initialized")
	return nil
}

func (c *Container) initSQLite() error {
	repo, err := sqliterepo.New(c.cfg.Storage.SQLite.Path)
	if err != nil {
		return err
	}
	c.sqliteRepo = repo

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", c.cfg.Storage.SQLite.Path).
		Msg("sqlite initialized")
	return nil
}

func (c *Container) initPostgres(ctx context.Context) error {
	repo, err := pgrepo.New(c.cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := repo.GetDB().PingContext(pingCtx); err != nil {
		_ = repo.Close()
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	c.pgRepo = repo

	c.closerChain = append(c.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("postgres initialized")
	return nil
}

// History 组合后的历史仓储
func (c *Container) History() port.HistoryRepository {
	return c.history
}

// LatestMirror Redis 启用时返回最新价镜像，否则 nil
func (c *Container) LatestMirror() port.LatestMirror {
	if c.redisRepo == nil {
		return nil
	}
	return c.redisRepo
}

// RedisClient 获取 Redis 客户端
func (c *Container) RedisClient() *redis.Client {
	return c.redisClient
}

// PostgresRepo 获取 Postgres 仓储（pets 查询复用其连接）
func (c *Container) PostgresRepo() *pgrepo.Repo {
	return c.pgRepo
}

// Close 关闭所有资源（按后进先出顺序）
func (c *Container) Close() error {
	var err error
	c.closeOnce.Do(func() {
		for i := len(c.closerChain) - 1; i >= 0; i-- {
			if e := c.closerChain[i](); e != nil {
				log.Error().Err(e).Msg("error closing resource")
				if err == nil {
					err = e
				}
			}
		}
		log.Info().Msg("container closed")
	})
	return err
}
