package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.study.sync/internal/api"
	"sudooom.study.sync/internal/auth"
	"sudooom.study.sync/internal/channel"
	"sudooom.study.sync/internal/config"
	"sudooom.study.sync/internal/listsync"
	"sudooom.study.sync/internal/model"
	"sudooom.study.sync/internal/poller"
	"sudooom.study.sync/internal/presence"
	"sudooom.study.sync/internal/server"
	"sudooom.study.sync/internal/store"
	"sudooom.study.sync/internal/transport"
	"sudooom.study.sync/internal/typing"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	// 解析 viewer 令牌
	claims, err := auth.NewParser(cfg.Auth.Secret).Parse(cfg.Auth.Token)
	if err != nil {
		logger.Error("Failed to parse viewer token", "error", err)
		os.Exit(1)
	}
	viewerUserID := claims.UserID
	logger.Info("Viewer resolved", "user_id", viewerUserID, "platform", claims.Platform)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接传输层
	conn, err := transport.Dial(cfg.NATS, logger)
	if err != nil {
		logger.Error("Failed to connect transport", "url", cfg.NATS.URL, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	tclient := transport.NewClient(conn, logger)
	logger.Info("Connected to transport", "url", cfg.NATS.URL)

	// 快照存储（可选）
	var redisClient *redis.Client
	snapshots := store.SnapshotStore(store.NoopStore{})
	if cfg.Redis.SnapshotEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
		snapshots = store.NewRedisStore(redisClient, cfg.Redis.SnapshotTTL)
		logger.Info("Snapshot store enabled", "addr", cfg.Redis.GetAddr())
	}

	// REST 后端
	backend := api.NewClient(cfg.API, cfg.Auth.Token)

	// 同步器 + 邮箱循环
	list := listsync.New(viewerUserID, backend, backend, cfg.Poll.QueueSize, logger)
	go list.Run(ctx)

	// 轮询驱动
	pool := poller.NewPool(cfg.Poll.Workers, cfg.Poll.QueueSize, logger)
	driver := poller.NewDriver(backend, list, pool, cfg.Poll.Interval, cfg.Poll.Jitter, logger)

	// 热启动：先用快照渲染，再做权威拉取
	if err := bootstrap(ctx, snapshots, list, driver, viewerUserID, logger); err != nil {
		logger.Error("Startup state load failed", "error", err)
		os.Exit(1)
	}

	// 推送通道：全局会话更新频道
	updates, err := tclient.Subscribe(channel.BuildUpdatesChannel(viewerUserID))
	if err != nil {
		logger.Error("Failed to subscribe conversation updates", "error", err)
		os.Exit(1)
	}
	updates.Bind(channel.EventNewMessage, func(data json.RawMessage) {
		var payload model.NewMessageEvent
		if err := json.Unmarshal(data, &payload); err != nil || payload.Message == nil || payload.ConversationID == "" {
			logger.Debug("Dropping malformed new-message event", "error", err)
			return
		}
		if err := list.ApplyIncomingMessage(payload.ConversationID, *payload.Message); err != nil {
			logger.Warn("Push apply failed", "conversation_id", payload.ConversationID, "error", err)
		}
	})

	// 在线状态与输入状态
	tracker := presence.NewTracker(tclient, logger)
	coordinator := typing.NewCoordinator(tclient, viewerUserID,
		cfg.Typing.Throttle, cfg.Typing.Expiry, cfg.Typing.SweepInterval, logger)
	go coordinator.Run(ctx)

	// 水位线推进时持久化快照
	driver.OnAdvance(func(watermark time.Time) {
		saveSnapshot(ctx, snapshots, list, viewerUserID, watermark, logger)
	})
	go driver.Run(ctx)

	// 本地 HTTP 服务
	session := server.NewSession(list, tracker, coordinator)
	handler := server.NewHandler(viewerUserID, list, tracker, coordinator, session, logger)
	health := server.NewHealthChecker(tclient, redisClient)
	router := server.SetupRouter(&cfg.HTTP, handler, health)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("Sync daemon started",
		"name", cfg.App.Name,
		"addr", cfg.HTTP.Addr)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown failed", "error", err)
	}

	// 退出前保存一次快照
	saveSnapshot(shutdownCtx, snapshots, list, viewerUserID, driver.Watermark(), logger)

	if err := session.Close(); err != nil && !errors.Is(err, listsync.ErrStopped) {
		logger.Debug("Session close failed", "error", err)
	}
	cancel()
	pool.Shutdown()
	logger.Info("Sync daemon stopped")
}

// bootstrap 启动期状态装载
// 先用快照热启动再做权威拉取；权威拉取失败且没有快照状态可退守时启动失败，
// 空列表起跑会让轮询和推送都无事可做，等于永远服务一个空列表
func bootstrap(ctx context.Context, snapshots store.SnapshotStore, list *listsync.Synchronizer, driver *poller.Driver, viewerUserID string, logger *slog.Logger) error {
	warmed := warmStart(ctx, snapshots, list, driver, viewerUserID, logger)

	if _, err := list.LoadInitial(ctx); err != nil {
		if !warmed {
			return err
		}
		// 快照还在，轮询会继续补数
		logger.Warn("Initial conversation fetch failed, continuing with snapshot state", "error", err)
	}
	return nil
}

// warmStart 尝试用上次的快照先把列表立起来
// 只有真的装入了会话才算热启动成功
func warmStart(ctx context.Context, snapshots store.SnapshotStore, list *listsync.Synchronizer, driver *poller.Driver, viewerUserID string, logger *slog.Logger) bool {
	snapshot, err := snapshots.Load(ctx, viewerUserID)
	if err != nil {
		logger.Warn("Snapshot load failed", "error", err)
		return false
	}
	if snapshot == nil || len(snapshot.Conversations) == 0 {
		return false
	}

	if err := list.Replace(snapshot.Conversations); err != nil {
		logger.Warn("Snapshot replace failed", "error", err)
		return false
	}
	driver.SetWatermark(snapshot.Watermark)
	logger.Info("Warm start from snapshot",
		"conversations", len(snapshot.Conversations),
		"watermark", snapshot.Watermark)
	return true
}

// saveSnapshot 持久化当前列表和水位线
func saveSnapshot(ctx context.Context, snapshots store.SnapshotStore, list *listsync.Synchronizer, viewerUserID string, watermark time.Time, logger *slog.Logger) {
	conversations, err := list.Snapshot()
	if err != nil {
		return
	}
	snapshot := &store.Snapshot{
		Conversations: conversations,
		Watermark:     watermark,
		SavedAt:       time.Now(),
	}
	if err := snapshots.Save(ctx, viewerUserID, snapshot); err != nil {
		logger.Warn("Snapshot save failed", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
