package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"sudooom.planverse/internal/auth"
	"sudooom.planverse/internal/config"
	"sudooom.planverse/internal/feed"
	"sudooom.planverse/internal/feedsync"
	"sudooom.planverse/internal/friend"
	"sudooom.planverse/internal/functions"
	"sudooom.planverse/internal/handler"
	"sudooom.planverse/internal/health"
	"sudooom.planverse/internal/metrics"
	"sudooom.planverse/internal/notification"
	"sudooom.planverse/internal/presence"
	"sudooom.planverse/internal/promotion"
	"sudooom.planverse/internal/realtime"
	"sudooom.planverse/internal/repository"
	"sudooom.planverse/internal/router"
	"sudooom.planverse/internal/session"
	"sudooom.planverse/internal/storage"
	"sudooom.planverse/internal/task"
	"sudooom.planverse/internal/telemetry"
	"sudooom.planverse/shared/jwt"
	"sudooom.planverse/shared/snowflake"
)

// @title                       Planverse API
// @version                     1.0
// @description                 校园社交 BFF：私信、动态、好友和通知
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Planverse stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Planverse stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// 优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Environment: cfg.App.Mode,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 连接数据库
	db, err := repository.NewPool(ctx, cfg.Database.DSN(), int32(cfg.Database.MaxOpenConns))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.GetAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.GetAddr())

	// 连接 NATS，数据变更和云函数共用一条连接
	natsClient, err := realtime.NewClient(cfg.NATS)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 对象存储
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	// 时间轮同时作为全部定时器的时钟
	scheduler := task.NewScheduler(cfg.Scheduler.Tick, cfg.Scheduler.Slots, cfg.Scheduler.Workers)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()

	// 初始化雪花ID生成器
	sfNode, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		return fmt.Errorf("create snowflake node: %w", err)
	}

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	convRepo := repository.NewConversationRepository(db, natsClient)
	msgRepo := repository.NewMessageRepository(db, natsClient)
	postRepo := repository.NewPostRepository(db)
	promoRepo := repository.NewPromotionRepository(db)

	online := presence.NewOnline(redisClient, cfg.Session.PresenceTTL)

	// 通知：配置了 Kafka 时异步写入
	var producer *notification.Producer
	var publisher notification.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer = notification.NewProducer(cfg.Kafka)
		defer producer.Close()
		publisher = producer
	}
	notifySvc := notification.NewService(notification.Options{
		Store:     notification.NewRedisStore(redisClient),
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
	})

	// 会话管理
	manager := session.NewManager(session.ManagerOptions{
		Config: cfg.SessionConfig(),
		Platform: session.Platform{
			Messages:      msgRepo,
			Uploader:      store,
			Receipts:      msgRepo,
			Conversations: convRepo,
			Settings:      userRepo,
			Friends:       friendRepo,
			Notifications: notifySvc,
			Bus:           natsClient,
		},
		Clock:         scheduler,
		IDs:           sfNode,
		Metrics:       m,
		Logger:        logger,
		Online:        online,
		QueueSize:     cfg.Session.QueueSize,
		IdleTTL:       cfg.Session.IdleTTL,
		SweepInterval: cfg.Session.SweepInterval,
	})
	defer manager.StopAll()
	notifySvc.SetDeliverer(manager)

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire, cfg.JWT.RefreshExpire)
	authSvc := auth.NewService(userRepo, jwtService)
	authSvc.SetSettingsApplier(manager)

	friendSvc := friend.NewService(friend.Options{
		Store:         friendRepo,
		Users:         userRepo,
		Conversations: convRepo,
		Presence:      online,
		Notifier:      notifySvc,
		Refresher:     manager,
		Logger:        logger,
	})

	promoSvc := promotion.NewService(promotion.Options{
		Store:      promoRepo,
		Posts:      postRepo,
		Counter:    promotion.NewRedisCounter(redisClient),
		DefaultCPM: cfg.Feed.DefaultCPM,
		Metrics:    m,
		Logger:     logger,
	})
	feedSvc := feed.NewService(feed.Options{
		Store:         postRepo,
		Uploader:      store,
		Promotions:    promoSvc,
		Pusher:        manager,
		Notifier:      notifySvc,
		PromotedEvery: cfg.Feed.PromotedEvery,
		Metrics:       m,
		Logger:        logger,
	})

	// 离线私信通知
	watcher := notification.NewWatcher(notifySvc, online, cfg.Notification.OfflineQuiet)
	watchSub, err := watcher.Start(natsClient)
	if err != nil {
		return fmt.Errorf("start notification watcher: %w", err)
	}
	defer watchSub.Unsubscribe()

	// 云函数与动态同步
	fnClient := functions.NewClient(natsClient.Conn(), cfg.Functions, m)
	syncer, err := feedsync.New(cfg.FeedSync, fnClient, scheduler)
	if err != nil {
		return fmt.Errorf("create feed syncer: %w", err)
	}

	// 设置路由
	engine := router.SetupRouter(cfg, redisClient, logger, router.Handlers{
		Auth:          handler.NewAuthHandler(authSvc),
		Chat:          handler.NewChatHandler(manager, cfg.Storage.MaxBytes),
		Events:        handler.NewEventsHandler(manager, 0),
		Feed:          handler.NewFeedHandler(feedSvc, cfg.Storage.MaxBytes),
		Friend:        handler.NewFriendHandler(friendSvc),
		Notification:  handler.NewNotificationHandler(notifySvc),
		Promotion:     handler.NewPromotionHandler(promoSvc),
		TokenVerifier: authSvc,
	})

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           telemetry.Wrap(engine, "planverse.http"),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	// 健康检查与指标单独监听
	checker := health.NewChecker(cfg.App.Name).
		Critical("postgres", db.Ping).
		Critical("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }).
		Critical("nats", func(context.Context) error {
			if !natsClient.Connected() {
				return errors.New("nats disconnected")
			}
			return nil
		}).
		Optional("minio", store.Ping).
		WithSessions(manager).
		WithBreaker(fnClient.State)

	opsMux := http.NewServeMux()
	opsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	opsMux.Handle("/health", checker.LiveHandler())
	opsMux.Handle("/ready", checker)
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.OpsPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("API server started", "addr", apiServer.Addr, "mode", cfg.App.Mode)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Ops server started", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return syncer.Run(gctx) })
	if producer != nil {
		consumer := notification.NewConsumer(cfg.Kafka, notifySvc.Handle)
		g.Go(func() error { return consumer.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down servers...")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// SSE 连接不会自行结束，超时后直接关闭
		if err := apiServer.Shutdown(sctx); err != nil {
			_ = apiServer.Close()
		}
		return opsServer.Shutdown(sctx)
	})

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
