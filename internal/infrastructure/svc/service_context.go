package svc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/application/service"
	"gasfeed/internal/application/session"
	"gasfeed/internal/application/subscription"
	"gasfeed/internal/domain"
	domainservice "gasfeed/internal/domain/service"
	"gasfeed/internal/infrastructure/auth"
	"gasfeed/internal/infrastructure/config"
	"gasfeed/internal/infrastructure/container"
	"gasfeed/internal/infrastructure/provider"
	"gasfeed/internal/infrastructure/subject"
	"gasfeed/internal/infrastructure/websocket"
	"gasfeed/internal/interfaces/console"
	"gasfeed/internal/interfaces/httpapi"
)

type ServiceContext struct {
	Config *config.Config

	// 基础设施层（第一层初始化）
	storage *container.Container

	// 应用组件
	Chain       *service.ProviderChain
	Cache       *service.PriceCache
	History     *service.HistoryWriter
	Pricer      *service.Pricer
	Registry    *subscription.Registry
	Sessions    *session.Manager
	Broadcaster *service.Broadcaster
	Scheduler   *service.Scheduler
	Queries     *service.QueryService

	// 接口层
	Handler http.Handler
	server  *http.Server

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext，按依赖顺序构建所有组件
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}
	if err := sc.initializeComponents(ctx); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

func (sc *ServiceContext) initializeComponents(ctx context.Context) error {
	cfg := sc.Config

	// 0. 存储层
	storage, err := container.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	sc.storage = storage
	sc.closerChain = append(sc.closerChain, storage.Close)

	// 1. 上游链
	chain, err := sc.buildProviderChain()
	if err != nil {
		return err
	}
	sc.Chain = chain

	// 2. 缓存与历史
	opts := make([]service.CacheOption, 0, len(cfg.Cache.TTL)+1)
	for network, ttl := range cfg.Cache.TTL {
		opts = append(opts, service.WithNetworkTTL(network, ttl))
	}
	if cfg.Cache.Mirror {
		if m := storage.LatestMirror(); m != nil {
			opts = append(opts, service.WithMirror(m))
		}
	}
	sc.Cache = service.NewPriceCache(chain, cfg.Cache.DefaultTTL, opts...)

	sc.History = service.NewHistoryWriter(storage.History(), cfg.Storage.QueueSize)
	sc.closerChain = append(sc.closerChain, sc.History.Close)

	// 3. 价格调整
	sc.Pricer = service.NewPricer(domainservice.NewAdjustmentCalculator(adjustmentConfig(cfg)), sc.buildLookup())
	sc.Queries = service.NewQueryService(sc.Cache, sc.History, sc.Pricer, chain)

	// 4. 连接与订阅
	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	sc.Registry = subscription.NewRegistry()
	sc.Sessions = session.NewManager(verifier, auth.NetworkAuthorizer{}, sc.Registry, chain,
		session.WithSnapshots(sc.Queries),
		session.WithInvalidator(sc.Cache),
	)
	sc.Broadcaster = service.NewBroadcaster(sc.Registry, sc.Pricer, sc.Sessions)

	// 5. 调度
	var publisher service.Publisher = sc.Broadcaster
	if cfg.App.Console {
		publisher = console.NewBoard(sc.Broadcaster, chain.Networks(), os.Stdout)
	}
	sc.Scheduler = service.NewScheduler(service.SchedulerConfig{
		Networks:       chain.Networks(),
		Interval:       cfg.App.RefreshInterval,
		MaxConcurrency: cfg.App.MaxConcurrency,
		Retention:      cfg.Storage.Retention,
		Prices:         sc.Cache,
		History:        sc.History,
		Pruner:         sc.History,
		Publisher:      publisher,
		Registry:       sc.Registry,
	})

	// 6. HTTP / WebSocket
	sc.Handler = httpapi.NewRouter(sc.Queries, websocket.NewServer(cfg.WS, sc.Sessions), sc.Sessions, sc.Registry)
	sc.server = &http.Server{
		Addr:              cfg.App.ListenAddr,
		Handler:           sc.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Strs("networks", chain.Networks()).
		Dur("refresh_interval", cfg.App.RefreshInterval).
		Str("listen", cfg.App.ListenAddr).
		Msg("✓ All components initialized")
	return nil
}

func (sc *ServiceContext) buildProviderChain() (*service.ProviderChain, error) {
	networks := make(map[string][]service.ChainEntry, len(sc.Config.Networks))
	for _, n := range sc.Config.Networks {
		entries := make([]service.ChainEntry, 0, len(n.Providers))
		for _, pc := range n.Providers {
			p, err := provider.New(providerConfig(pc))
			if err != nil {
				return nil, fmt.Errorf("%w: %s/%s: %v", ErrProviderInitFailed, n.Name, pc.Name, err)
			}
			if c, ok := p.(io.Closer); ok {
				sc.closerChain = append(sc.closerChain, c.Close)
			}
			entries = append(entries, service.ChainEntry{Provider: p, Timeout: pc.Timeout})
			log.Info().Str("network", n.Name).Str("provider", pc.Name).Str("kind", pc.Kind).Msg("provider configured")
		}
		networks[n.Name] = entries
	}
	return service.NewProviderChain(networks), nil
}

// buildLookup 配置文件中的对象优先，其次 pets 表
func (sc *ServiceContext) buildLookup() port.CharacteristicsLookup {
	static := make(subject.Static, len(sc.Config.Subjects))
	for id, attrs := range sc.Config.Subjects {
		static[id] = domain.Characteristics(attrs)
	}
	chain := subject.Chain{static}
	if sc.Config.Storage.Postgres.Pets && sc.storage.PostgresRepo() != nil {
		chain = append(chain, subject.NewPetStore(sc.storage.PostgresRepo().GetDB()))
	}
	return chain
}

// Run 启动调度器与 HTTP 服务，ctx 结束后优雅退出
func (sc *ServiceContext) Run(ctx context.Context) error {
	if err := sc.Scheduler.Start(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", sc.server.Addr).Msg("http server listening")
		if err := sc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	sc.shutdown()
	return runErr
}

// shutdown 停止调度 → 关闭连接 → 停止 HTTP
func (sc *ServiceContext) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), sc.Config.App.ShutdownTimeout)
	defer cancel()

	if err := sc.Scheduler.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler stop timed out")
	}
	sc.Sessions.CloseAll(session.CloseGoingAway)
	if err := sc.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	log.Info().Msg("service stopped")
}

// Close 按照相反的顺序关闭所有资源
func (sc *ServiceContext) Close() error {
	for i := len(sc.closerChain) - 1; i >= 0; i-- {
		if err := sc.closerChain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	sc.closerChain = nil
	return nil
}

func providerConfig(pc config.ProviderConfig) provider.Config {
	return provider.Config{
		Name:         pc.Name,
		Kind:         pc.Kind,
		URL:          pc.URL,
		Preset:       pc.Preset,
		BasePath:     pc.BasePath,
		PriorityPath: pc.PriorityPath,
		MaxPath:      pc.MaxPath,
		BlockPath:    pc.BlockPath,
		StatusPath:   pc.StatusPath,
		StatusOK:     pc.StatusOK,
		Unit:         pc.Unit,
		APIKey:       pc.APIKey,
		APIKeyParam:  pc.APIKeyParam,
		Headers:      pc.Headers,
		Base:         pc.Base,
		Priority:     pc.Priority,
		Max:          pc.Max,
		Timeout:      pc.Timeout,
	}
}

// adjustmentConfig 在默认值基础上叠加配置
func adjustmentConfig(cfg *config.Config) domainservice.AdjustmentConfig {
	out := domainservice.DefaultAdjustmentConfig()
	a := cfg.Adjustment

	if a.Mode != "" {
		out.Mode = domainservice.Mode(a.Mode)
	}
	if a.WeightDivisor > 0 {
		out.WeightDivisor = decimal.NewFromFloat(a.WeightDivisor)
	}
	if a.ActivityFactor > 0 {
		out.ActivityFactor = decimal.NewFromFloat(a.ActivityFactor)
	}
	for name, m := range a.Categories {
		out.Categories[name] = decimal.NewFromFloat(m)
	}
	if len(a.Weights) > 0 {
		out.Weights = make(map[domainservice.Strategy]decimal.Decimal, len(a.Weights))
		for s, w := range a.Weights {
			out.Weights[domainservice.Strategy(s)] = decimal.NewFromFloat(w)
		}
	}
	return out
}
