// Package app 提供应用程序的初始化、组装与运行功能.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yeisme/dedupvault/pkg/api"
	"github.com/yeisme/dedupvault/pkg/breaker"
	"github.com/yeisme/dedupvault/pkg/cache"
	"github.com/yeisme/dedupvault/pkg/configs"
	"github.com/yeisme/dedupvault/pkg/internal/cluster"
	"github.com/yeisme/dedupvault/pkg/internal/dedup"
	"github.com/yeisme/dedupvault/pkg/internal/embedding"
	"github.com/yeisme/dedupvault/pkg/internal/handle"
	"github.com/yeisme/dedupvault/pkg/internal/jobqueue"
	"github.com/yeisme/dedupvault/pkg/internal/jobs"
	"github.com/yeisme/dedupvault/pkg/internal/notify"
	"github.com/yeisme/dedupvault/pkg/internal/service"
	"github.com/yeisme/dedupvault/pkg/internal/storage"
	"github.com/yeisme/dedupvault/pkg/internal/store"
	"github.com/yeisme/dedupvault/pkg/internal/vectorindex"
	"github.com/yeisme/dedupvault/pkg/internal/worker"
	"github.com/yeisme/dedupvault/pkg/log"
	"github.com/yeisme/dedupvault/pkg/metrics"
	"github.com/yeisme/dedupvault/pkg/middleware"
	"github.com/yeisme/dedupvault/pkg/rule"
	"github.com/yeisme/dedupvault/pkg/scheduler"
	"github.com/yeisme/dedupvault/pkg/tracing"
)

// Mode 运行模式.
type Mode int

const (
	// ModeServe HTTP 服务，按配置同时运行 worker.
	ModeServe Mode = iota
	// ModeWorker 只运行 worker 与定时任务.
	ModeWorker
)

// App 持有全部组件，Run 阻塞到 ctx 取消.
type App struct {
	Engine *gin.Engine

	config    *configs.AppConfig
	mode      Mode
	storage   *storage.Manager
	queue     jobqueue.Queue
	scheduler *scheduler.Scheduler
	hub       *notify.Hub
	pool      *worker.Pool
	handlers  *handle.Handlers
	peers     http.Handler
}

// NewApp 按已加载的配置组装所有组件，调用前需要先执行 configs.InitConfig.
func NewApp(ctx context.Context, mode Mode) (*App, error) {
	config := configs.GetConfig()

	log.Init()
	rule.Engine()

	if err := tracing.InitTracer(config.Tracing); err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if err := metrics.InitMetrics(config.Metrics); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	manager, err := storage.New(ctx, config, metrics.GetRegistry())
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	a := &App{config: config, mode: mode, storage: manager}

	if err := a.build(ctx); err != nil {
		_ = manager.Close()
		return nil, err
	}

	return a, nil
}

// build 按依赖顺序组装流水线、服务与调度器.
func (a *App) build(ctx context.Context) error {
	cfg := a.config
	db := a.storage.DB.DB

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}

	idx, err := vectorindex.New(ctx, cfg.Index, db)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}

	a.queue, err = jobqueue.New(ctx, cfg.Queue, db, jobqueue.WithRowLocking(a.storage.DB.SupportsRowLocking()))
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}

	idx = vectorindex.WithBreaker(idx, breaker.New("vectorindex", cfg.CircuitBreaker))

	providers, err := embedding.NewProviders(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("init embedding: %w", err)
	}

	var cacheBytes int64
	if cfg.Embedding.Cache.Enabled {
		cacheBytes = cfg.Embedding.Cache.SizeBytes
	}

	embedder := embedding.NewEmbedder(providers, a.storage.S3, embedding.Options{
		MaxInputBytes: cfg.Embedding.MaxInputBytes,
		CacheBytes:    cacheBytes,
		Breaker:       breaker.New("embedding", cfg.CircuitBreaker),
		Observe: func(provider string, d time.Duration, err error) {
			metrics.ObserveEmbedding(provider, d.Seconds(), err)
		},
	})

	if cacheBytes > 0 && cfg.Embedding.Cache.Self != "" {
		a.peers = embedder.PeerHandler(cfg.Embedding.Cache.Self, cfg.Embedding.Cache.Peers)
	}

	st := store.New(db)
	clusters := cluster.NewManager(st, idx, cfg.Dedup, cluster.WithConflictHook(metrics.ClusterConflicts.Inc))
	engine := dedup.New(st, a.storage.S3, embedder, idx, clusters, cfg.Dedup,
		dedup.WithStepObserver(func(step string, d time.Duration) {
			metrics.PipelineStepDuration.WithLabelValues(step).Observe(d.Seconds())
		}),
	)

	publisher := notify.NewPublisher(a.storage.MQ.Publisher(), cfg.Events, configs.AppName)

	uploads := service.NewUploadService(cfg.Upload, cfg.S3.DocumentPrefix, a.storage.S3,
		cache.NewCache(a.storage.KV, service.UploadCachePrefix), st, a.queue, publisher)
	jobSvc := service.NewJobService(a.queue, publisher)

	a.handlers = &handle.Handlers{
		Uploads: uploads,
		Jobs:    jobSvc,
		Files:   service.NewFileService(st, clusters, idx, a.storage.S3, publisher),
	}

	if a.mode == ModeServe && cfg.Events.Enabled && cfg.Events.WS.Enabled {
		a.hub = notify.NewHub(cfg.Events.WS, a.queue)
		a.handlers.Hub = a.hub
	}

	if a.mode == ModeWorker || cfg.Worker.Enabled {
		a.pool = worker.NewPool(a.queue, engine, publisher, cfg.Worker, cfg.Queue)
	}

	if a.scheduler, err = scheduler.NewScheduler(); err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	if err := jobs.RegisterCronJobs(ctx, a.scheduler, jobs.Deps{Uploads: uploads, Queue: a.queue, Notifier: publisher}); err != nil {
		return err
	}

	if a.mode == ModeServe {
		a.Engine = a.newEngine()
	}

	return nil
}

// newEngine 创建 gin 引擎并挂载中间件与路由.
func (a *App) newEngine() *gin.Engine {
	cfg := a.config

	l := log.Logger()
	gin.DefaultWriter = log.NewGinWriter(l, zerolog.InfoLevel)
	gin.DefaultErrorWriter = log.NewGinWriter(l, zerolog.ErrorLevel)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.CORSMiddleware(cfg.Server, cfg.Auth),
		middleware.TracingMiddleware(),
		middleware.PrometheusMiddleware(),
		middleware.GinLoggerMiddleware(),
		middleware.InjectMiddleware(a.storage, a.scheduler),
	)

	if cfg.Server.Gzip {
		// websocket 握手不能被压缩
		engine.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))
	}

	api.RegisterRoutes(engine, a.handlers, api.Options{
		Auth:           cfg.Auth,
		CircuitBreaker: cfg.CircuitBreaker,
		Server:         cfg.Server,
		Peers:          a.peers,
	})

	if cfg.Metrics.Enabled {
		_ = metrics.StartMetricsServer(cfg.Metrics, engine)
	}

	return engine
}

// Run 启动 HTTP 服务、worker 与调度器，ctx 取消后在 ShutdownTimeout 内优雅退出.
func (a *App) Run(ctx context.Context) error {
	logger := log.Logger()

	g, gctx := errgroup.WithContext(ctx)

	a.scheduler.Start()

	if a.hub != nil {
		if err := a.hub.Start(gctx, a.storage.MQ); err != nil {
			a.shutdown()
			return err
		}
	}

	if a.pool != nil {
		g.Go(func() error { return a.pool.Run(gctx) })
	}

	if a.Engine != nil {
		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port),
			Handler:           a.Engine,
			ReadHeaderTimeout: a.config.Server.GetTimeoutDuration(),
		}

		g.Go(func() error {
			logger.Info().Str("addr", srv.Addr).Msg("http server listening")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.config.Server.GetShutdownTimeout())
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	a.shutdown()

	return err
}

// shutdown 释放调度器、追踪与存储连接.
func (a *App) shutdown() {
	logger := log.Logger()

	if err := a.scheduler.Stop(); err != nil {
		logger.Warn().Err(err).Msg("stop scheduler")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.GetShutdownTimeout())
	defer cancel()

	if err := tracing.ShutdownTracer(ctx); err != nil {
		logger.Warn().Err(err).Msg("shutdown tracer")
	}

	if err := a.storage.Close(); err != nil {
		logger.Warn().Err(err).Msg("close storage")
	}

	logger.Info().Msg("shutdown complete")
}
