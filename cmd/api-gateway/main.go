package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "github.com/noah-isme/campus-feed-engine/api/swagger"
	"github.com/noah-isme/campus-feed-engine/internal/handler"
	internalmiddleware "github.com/noah-isme/campus-feed-engine/internal/middleware"
	"github.com/noah-isme/campus-feed-engine/internal/models"
	"github.com/noah-isme/campus-feed-engine/internal/repository"
	"github.com/noah-isme/campus-feed-engine/internal/service"
	"github.com/noah-isme/campus-feed-engine/pkg/cache"
	"github.com/noah-isme/campus-feed-engine/pkg/config"
	"github.com/noah-isme/campus-feed-engine/pkg/database"
	"github.com/noah-isme/campus-feed-engine/pkg/jobs"
	"github.com/noah-isme/campus-feed-engine/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-feed-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-feed-engine/pkg/middleware/requestid"
)

// @title Campus Feed Engine
// @version 1.0.0
// @description Notification fan-out, live dashboard signals and the hub digest
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db, logr); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Hub.CacheEnabled || cfg.Live.RelayEnabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	contentRepo := repository.NewContentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	dispatchRepo := repository.NewDispatchRepository(db)
	checkpointRepo := repository.NewCheckpointRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "campus_feed", logr)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Hub.CacheTTL, logr, cfg.Hub.CacheEnabled && cacheRepo != nil)

	directory := service.NewDirectoryService(userRepo, logr)
	broker := service.NewLiveBroker(cfg.Live.QueueSize, metrics, logr)
	defer broker.Close()

	dispatcher := service.NewFanOutDispatcher(directory, notificationRepo, dispatchRepo, metrics, logr, service.FanOutConfig{
		Workers:         cfg.FanOut.Workers,
		WriteTimeout:    cfg.FanOut.WriteTimeout,
		ResolveAttempts: cfg.FanOut.ResolveAttempts,
		ResolveBackoff:  cfg.FanOut.ResolveBackoff,
	})
	worker := service.NewFanOutWorker(contentRepo, dispatcher, broker, logr)
	queue := jobs.NewQueue("fanout", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.FanOut.QueueWorkers,
		BufferSize: cfg.FanOut.QueueBuffer,
		MaxRetries: cfg.FanOut.QueueRetries,
		RetryDelay: cfg.FanOut.QueueRetryDelay,
		JobTimeout: cfg.ChangeFeed.DispatchTimeout,
		OnGiveUp:   worker.GiveUp,
		Logger:     logr,
	})
	dispatcher.UseQueue(queue)
	dispatcher.UseInvalidator(cacheSvc)

	notificationSvc := service.NewNotificationService(notificationRepo, cacheSvc, validate, logr, service.NotificationServiceConfig{
		DefaultLimit:    cfg.Notification.DefaultLimit,
		MaxLimit:        cfg.Notification.MaxLimit,
		Retention:       cfg.Notification.Retention,
		CleanupInterval: cfg.Notification.CleanupInterval,
	})
	hubSvc := service.NewHubService(service.HubServiceParams{
		Content:       contentRepo,
		Notifications: notificationRepo,
		Cache:         cacheSvc,
		Logger:        logr,
		Config: service.HubServiceConfig{
			AssignmentsLimit:   cfg.Hub.AssignmentsLimit,
			AnnouncementsLimit: cfg.Hub.AnnouncementsLimit,
			StudyGroupsLimit:   cfg.Hub.StudyGroupsLimit,
			EventsLimit:        cfg.Hub.EventsLimit,
			NotificationsLimit: cfg.Hub.NotificationsLimit,
			SubmissionsLimit:   cfg.Hub.SubmissionsLimit,
			CandidateLimit:     cfg.Hub.CandidateLimit,
			CacheTTL:           cfg.Hub.CacheTTL,
		},
	})
	reconciler := service.NewReconciler(contentRepo, dispatchRepo, dispatcher, broker, metrics, logr, service.ReconcilerConfig{
		Interval: cfg.Reconcile.Interval,
		Window:   cfg.Reconcile.Window,
	})

	group, groupCtx := errgroup.WithContext(ctx)

	queue.Start(groupCtx)
	defer queue.Stop()

	if cfg.Live.RelayEnabled {
		relay := repository.NewRedisRelay(redisClient, cfg.Live.RelayChannel, logr)
		sub, err := relay.Subscribe(ctx)
		if err != nil {
			return err
		}
		broker.UseRelay(relay)
		group.Go(func() error { return ignoreCanceled(sub.Run(groupCtx, broker.Deliver)) })
	}

	var subscribers []*service.ChangeFeedSubscriber
	if cfg.ChangeFeed.Enabled {
		subscribers = startChangeFeeds(groupCtx, group, cfg, contentRepo, checkpointRepo, dispatcher, broker, metrics, logr)
	}
	if cfg.Reconcile.Enabled {
		group.Go(func() error {
			reconciler.Start(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		notificationSvc.StartCleanup(groupCtx)
		return nil
	})

	feeds := make([]handler.FeedStatus, 0, len(subscribers))
	for _, sub := range subscribers {
		feeds = append(feeds, sub)
	}
	router := buildRouter(cfg, logr, routerDeps{
		metrics:       metrics,
		tokens:        service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer),
		notifications: handler.NewNotificationHandler(notificationSvc),
		hub:           handler.NewHubHandler(hubSvc),
		live: handler.NewLiveHandler(broker, corsmiddleware.NewPolicy(cfg.CORS.AllowedOrigins), handler.LiveHandlerConfig{
			PingInterval: cfg.Live.PingInterval,
			WriteTimeout: cfg.Live.WriteTimeout,
		}, logr),
		admin:  handler.NewAdminHandler(reconciler, logr),
		health: handler.NewMetricsHandler(metrics).WithReadiness(db, feeds...),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	group.Go(func() error {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		broker.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func startChangeFeeds(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	content *repository.ContentRepository,
	checkpoints *repository.CheckpointRepository,
	dispatcher *service.FanOutDispatcher,
	broker *service.LiveBroker,
	metrics *service.MetricsService,
	logr *zap.Logger,
) []*service.ChangeFeedSubscriber {
	opener := repository.NewChangeStreamOpener(database.NewListenerDialer(cfg.Database), cfg.ChangeFeed.Channel)
	feedCfg := service.ChangeFeedConfig{
		PageSize:        cfg.ChangeFeed.PageSize,
		ReconnectDelay:  cfg.ChangeFeed.ReconnectDelay,
		DispatchTimeout: cfg.ChangeFeed.DispatchTimeout,
	}

	var subscribers []*service.ChangeFeedSubscriber
	for _, table := range cfg.ChangeFeed.Tables {
		ct, ok := models.ContentTypeForTable(table)
		if !ok {
			logr.Warn("unknown change feed table ignored", zap.String("table", table))
			continue
		}
		sub := service.NewChangeFeedSubscriber(ct, opener, content, checkpoints, dispatcher, broker, metrics, logr, feedCfg)
		subscribers = append(subscribers, sub)
		group.Go(func() error { return ignoreCanceled(sub.Start(ctx)) })
	}
	return subscribers
}

type routerDeps struct {
	metrics       *service.MetricsService
	tokens        internalmiddleware.TokenValidator
	notifications *handler.NotificationHandler
	hub           *handler.HubHandler
	live          *handler.LiveHandler
	admin         *handler.AdminHandler
	health        *handler.MetricsHandler
}

func buildRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(deps.metrics, "/metrics", cfg.APIPrefix+"/live"))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(deps.tokens))
	{
		feed := api.Group("")
		feed.Use(internalmiddleware.WithResponseMeta())
		feed.GET("/notifications", deps.notifications.List)
		feed.GET("/notifications/unread-count", deps.notifications.UnreadCount)
		feed.PUT("/notifications", deps.notifications.MarkRead)
		feed.DELETE("/notifications", deps.notifications.Delete)
		feed.GET("/hub", deps.hub.Digest)
	}
	api.GET("/live", deps.live.Stream)
	api.POST("/admin/reconcile", internalmiddleware.RequireRoles(models.RoleDean), deps.admin.Reconcile)

	return r
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
