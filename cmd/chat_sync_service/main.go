package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/internal/chat/router"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"
	testtool "chat_sync_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatSyncService, config.EnvConfig.ChatSyncLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.ChatSync](config.EnvConfig.ChatSyncService, config.EnvConfig.ChatSyncYAML)
	if err != nil {
		logger.Log.Fatal("load config failed", zap.Error(err))
	}
	cfg.Normalize()
	if config.EnvConfig.ChatSyncPort != "" {
		cfg.Port = config.EnvConfig.ChatSyncPort
	}
	logger.Log.SetDebugMode(!config.IsProduction())
	testtool.StartPprof(":6060")

	ctx := context.Background()

	deps := app.Dependencies{Config: cfg}
	var publisher repository.Publisher

	switch cfg.Storage.Driver {
	case "memory":
		// 單機模式: 資料與 pub/sub 都在 process 內
		store := repository.NewMemoryStore()
		pubsub := repository.NewMemoryPubSub()
		deps.Conversations = store
		deps.Messages = store
		deps.Profiles = store
		deps.Transport = pubsub
		deps.ProfilePool = repository.NewMemoryProfilePool()
		publisher = pubsub
		logger.Log.Warn("using in-memory storage, data is lost on restart")

	default:
		// 1. 建立 Redis 連線 (Pub/Sub + bot profile pool)
		redisClient, err := connectRedis(cfg.Redis)
		if err != nil {
			logger.Log.Fatal("connect redis failed", zap.Error(err))
		}
		defer redisClient.Close()
		pubsub := repository.NewRedisPubSub(redisClient)
		deps.Transport = pubsub
		deps.ProfilePool = repository.NewRedisProfilePool(database.NewRedisRepository[[]domain.Profile](redisClient))
		publisher = pubsub

		// 2. Mongo 存對話與訊息
		uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
		mongo, err := database.NewMongoDB(ctx,
			database.Connection{
				ConnectStr:    uri,
				RetryCount:    cfg.MongoSQL.RetryCount,
				RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
			},
			cfg.MongoSQL.Database)
		if err != nil {
			logger.Log.Fatal(
				"Unable to connect to mongoDB database after retries",
				zap.String("address", fmt.Sprintf("[%s:%d]", cfg.MongoSQL.Host, cfg.MongoSQL.Port)),
				zap.Error(err),
			)
		}
		defer mongo.Close(ctx)

		// 3. PostgreSQL 存 profile
		pg, err := database.NewDatabaseConnection(ctx, database.Connection{
			ConnectStr: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
				cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database),
			RetryCount:    cfg.PostgreSQL.RetryCount,
			RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.Error(err))
		}
		defer pg.Close()

		deps.Conversations = repository.NewMongoConversationRepository(mongo.Database)
		deps.Messages = repository.NewMongoChatMessageRepository(mongo.Database)
		deps.Profiles = repository.NewProfileRepository(pg)
	}

	// 寫入成功後發布事件到 conv-<id> 與 chat-updates
	deps.Conversations = repository.NewNotifyingConversationRepository(deps.Conversations, publisher)
	deps.Messages = repository.NewNotifyingMessageRepository(deps.Messages, publisher)

	// 4. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatSyncLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))

	router.RegisterRoutes(r, app.NewChatWebsocketHandler(deps))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Log.Info("shutting down chat sync service")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("fiber shutdown", zap.Error(err))
		}
	}()

	port := ":" + cfg.Port
	logger.Log.Info("Chat Sync Service listening", zap.String("port", port))
	if err := r.Listen(port); err != nil {
		logger.Log.Error("Failed to start Fiber", zap.Error(err))
	}
}

// connectRedis 有 addr 走單機, 否則走 sentinel
func connectRedis(c config.RedisConfig) (*redis.Client, error) {
	if c.Addr != "" {
		return database.NewRedisStandaloneClient(c.Addr, c.RedisDB)
	}
	masterName, sentinel := config.GetRedisSetting()
	return database.NewRedisClient(masterName, sentinel, c.RedisDB)
}
