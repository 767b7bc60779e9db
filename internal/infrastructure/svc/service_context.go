package svc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"xoracle/internal/application/port"
	"xoracle/internal/application/service"
	"xoracle/internal/application/usecase/monitor"
	"xoracle/internal/infrastructure/auth"
	"xoracle/internal/infrastructure/config"
	"xoracle/internal/infrastructure/metrics"
	"xoracle/internal/infrastructure/storage"
	"xoracle/internal/infrastructure/storage/composite"
	postgresrepo "xoracle/internal/infrastructure/storage/postgres"
	redisrepo "xoracle/internal/infrastructure/storage/redis"
	sqliterepo "xoracle/internal/infrastructure/storage/sqlite"
	"xoracle/internal/infrastructure/upstream"
	"xoracle/internal/infrastructure/websocket"
	"xoracle/internal/interfaces/console"
	"xoracle/internal/interfaces/httpapi"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	store       port.HistoryStore
	redisClient *redisclient.Client
	redisRepo   *redisrepo.Repo
	hub         *websocket.Hub
	registry    *prometheus.Registry
	metrics     *metrics.LedgerMetrics
	roles       *auth.RoleTable
	tokens      *auth.Tokens
	upstream    port.Upstream

	// 应用业务组件（依赖基础设施）
	ledger   *service.PriceLedger
	notifier *composite.Notifier

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		closerChain: make([]func() error, 0),
	}

	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// NewStoreOnly 只打开历史存储，供离线命令（history）使用
func NewStoreOnly(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	sc := &ServiceContext{Ctx: ctx, Config: cfg}
	if err := sc.initializeStorage(); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化：存储 → 通知 → 权限 → 账本
func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInitFailed, err)
	}

	sc.registry = prometheus.NewRegistry()
	sc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sc.metrics = metrics.New(sc.registry)

	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	sc.hub = websocket.NewHub()

	var redisNotifier port.Notifier
	if sc.redisRepo != nil {
		redisNotifier = sc.redisRepo
	}
	sc.notifier = composite.New(composite.LogNotifier{}, sc.hub, redisNotifier)

	sc.roles = auth.NewRoleTable(sc.Config.Auth.Keepers, sc.Config.Auth.Admins)
	sc.tokens = auth.NewTokens(sc.Config.Auth.JWTSecret, sc.Config.Auth.Issuer, sc.Config.TokenTTL())
	sc.upstream = sc.buildUpstream()

	ledger, err := service.NewPriceLedger(service.LedgerDeps{
		Store:         sc.store,
		Auth:          sc.roles,
		Upstream:      sc.upstream,
		Notifier:      sc.notifier,
		Metrics:       sc.metrics,
		HeartbeatSec:  sc.Config.Ledger.HeartbeatSec,
		EventBuffer:   sc.Config.Ledger.EventBuffer,
		NotifyTimeout: sc.Config.NotifyTimeout(),
	})
	if err != nil {
		return err
	}
	// 先于 redis 关闭，排空队列中的事件
	sc.closerChain = append(sc.closerChain, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ledger.Close(ctx)
	})
	if err := ledger.Restore(sc.Ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}
	sc.ledger = ledger

	log.Info().
		Int("keepers", len(sc.Config.Auth.Keepers)).
		Int("admins", len(sc.Config.Auth.Admins)).
		Int("notifiers", sc.notifier.Len()).
		Bool("upstream", sc.Config.Upstream.Enabled).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 选择历史存储：postgres > sqlite > 内存
func (sc *ServiceContext) initializeStorage() error {
	switch {
	case sc.Config.Postgres.Enabled:
		return sc.initPostgres()
	case sc.Config.SQLite.Enabled:
		return sc.initSQLite()
	default:
		sc.store = storage.NewInMemoryStore()
		log.Warn().Msg("no database enabled, price history is kept in memory only")
		return nil
	}
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		sc.Config.RedisTTL(),
		sc.Config.Redis.EventStream,
		sc.Config.Redis.EventChannel,
	)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite() error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.store = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

func (sc *ServiceContext) initPostgres() error {
	repo, err := postgresrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}
	sc.store = repo

	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

func (sc *ServiceContext) buildUpstream() port.Upstream {
	if !sc.Config.Upstream.Enabled {
		return upstream.Noop{}
	}
	log.Info().
		Str("url", sc.Config.Upstream.URL).
		Float64("rate_per_sec", sc.Config.Upstream.RatePerSec).
		Msg("✓ Legacy oracle client initialized")
	return upstream.NewClient(sc.Config.Upstream.URL, sc.Config.UpstreamTimeout(), sc.Config.Upstream.RatePerSec)
}

// Ledger 获取价格账本
func (sc *ServiceContext) Ledger() *service.PriceLedger {
	return sc.ledger
}

// Store 获取历史存储
func (sc *ServiceContext) Store() port.HistoryStore {
	return sc.store
}

// Hub 获取 websocket 广播中心
func (sc *ServiceContext) Hub() *websocket.Hub {
	return sc.hub
}

// Tokens 获取令牌签发器
func (sc *ServiceContext) Tokens() *auth.Tokens {
	return sc.tokens
}

// BuildHTTPServer 构建 HTTP API
func (sc *ServiceContext) BuildHTTPServer() *httpapi.Server {
	return httpapi.NewServer(
		httpapi.Options{
			Addr:          sc.Config.HTTP.Addr,
			ReadTimeout:   sc.Config.ReadTimeout(),
			WriteTimeout:  sc.Config.WriteTimeout(),
			RateLimit:     sc.Config.HTTP.RateLimit,
			RateBurst:     sc.Config.HTTP.RateBurst,
			PriceDecimals: sc.Config.Ledger.PriceDecimals,
		},
		httpapi.Deps{
			Ledger:  sc.ledger,
			Roles:   sc.roles,
			Tokens:  sc.tokens,
			Events:  sc.hub,
			Metrics: sc.metrics,
			Scrape:  sc.scrapeHandler(),
		},
	)
}

// BuildMonitorService 构建过期监控
func (sc *ServiceContext) BuildMonitorService() *monitor.Service {
	deps := monitor.ServiceDeps{
		Ledger:   sc.ledger,
		Metrics:  sc.metrics,
		Schedule: sc.Config.Monitor.Schedule,
		Decimals: sc.Config.Ledger.PriceDecimals,
	}
	if sc.Config.Monitor.Console {
		deps.Sink = console.NewSink()
	}
	return monitor.NewService(deps)
}

func (sc *ServiceContext) scrapeHandler() http.Handler {
	return promhttp.HandlerFor(sc.registry, promhttp.HandlerOpts{})
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
