package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"musicboxServer/backend/config"
	"musicboxServer/backend/internal/auth"
	"musicboxServer/backend/internal/broadcast"
	"musicboxServer/backend/internal/cache"
	"musicboxServer/backend/internal/httpapi/handlers"
	"musicboxServer/backend/internal/store"
	"musicboxServer/backend/internal/ws"
)

const (
	shutdownTimeout = 5 * time.Second
	// 成员集合只在有人加入时续期，过期只是兜底，真正的清理靠启动时的 Reset
	presenceTTL = 24 * time.Hour
)

// GetServeCmd 启动 HTTP + WebSocket 服务，收到 SIGINT/SIGTERM 后优雅退出
func GetServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log.Level, cfg.Log.Format)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	seq := broadcast.NewSequenceAllocator()
	opts := broadcast.Options{
		Config:    cfg.Sync,
		Sequences: seq,
		Logger:    logger.With("component", "engine"),
	}

	// Redis 可选：房间成员镜像 + 歌单快照缓存
	var rdb redis.UniversalClient
	if len(cfg.Redis.Addrs) > 0 {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		presence := cache.NewRoomPresence(rdb, presenceTTL)
		// 重启后内存里的订阅都没了，镜像也要清空
		if err := presence.Reset(ctx); err != nil {
			logger.Warn("reset room presence failed", "err", err)
		}
		opts.Presence = presence
	}

	// MySQL 可选：没有配置时不注册快照提供者，也不开放歌单写接口
	var (
		playlists *store.PlaylistStore
		sessions  *store.NFCStore
	)
	if cfg.Mysql.DSN != "" {
		db, err := store.OpenMySQL(cfg.Mysql.DSN)
		if err != nil {
			return fmt.Errorf("connect mysql: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		playlists = store.NewPlaylistStore(db)
		if err := playlists.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		sessions = store.NewNFCStore(db)
		opts.Providers.Playlists = playlists
		opts.Providers.Playlist = cache.NewSnapshotCache(rdb, playlists, seq, logger.With("component", "snapshot_cache"))
		opts.Providers.Session = sessions
	}

	// Kafka 可选：把已盖序号的事件导出给离线消费者
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := broadcast.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		exporter := broadcast.NewKafkaExporter(producer, cfg.Kafka.Topic, broadcast.DefaultKafkaExporterOptions(), logger.With("component", "kafka_exporter"))
		defer func() {
			if err := exporter.Close(); err != nil {
				logger.Warn("close kafka exporter", "err", err)
			}
		}()
		opts.Exporter = exporter
	}

	hub := ws.NewHub(logger.With("component", "hub"))
	opts.Transport = hub
	engine, err := broadcast.NewEngine(opts)
	if err != nil {
		return err
	}
	engine.Start(ctx)
	defer engine.Stop()

	var verifier *auth.Verifier
	if cfg.Auth.Secret != "" {
		verifier = auth.NewVerifier(cfg.Auth.Secret)
	} else {
		logger.Warn("auth.secret is empty, websocket and API are unauthenticated")
	}

	manager := ws.NewManager(hub, engine, cfg.Sync, logger.With("component", "ws"))
	r := newRouter(engine, manager, verifier, playlists, sessions, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newRouter(engine *broadcast.Engine, manager *ws.Manager, verifier *auth.Verifier,
	playlists *store.PlaylistStore, sessions *store.NFCStore, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		// 设备页面可能从局域网任意地址打开
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", handlers.Healthz)
	r.GET("/ws", auth.Middleware(verifier), manager.WebSocketConnect)

	v1 := r.Group("/v1")
	v1.Use(auth.Middleware(verifier))
	v1.GET("/sync/stats", handlers.SyncStats(engine))
	handlers.NewEventsHandler(engine).Routes(v1)
	if playlists != nil {
		handlers.NewPlaylistHandler(engine, playlists, logger.With("component", "playlists")).Routes(v1)
	}
	if sessions != nil {
		handlers.NewNFCHandler(engine, sessions).Routes(v1)
	}
	return r
}
