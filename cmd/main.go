package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Gopher0727/CineMatch/config"
	"github.com/Gopher0727/CineMatch/internal/catalog"
	"github.com/Gopher0727/CineMatch/internal/consumer"
	"github.com/Gopher0727/CineMatch/internal/handlers"
	"github.com/Gopher0727/CineMatch/internal/metrics"
	"github.com/Gopher0727/CineMatch/internal/repositories"
	"github.com/Gopher0727/CineMatch/internal/routers"
	"github.com/Gopher0727/CineMatch/internal/services"
	"github.com/Gopher0727/CineMatch/internal/storage"
	"github.com/Gopher0727/CineMatch/middleware/jwt"
	logger "github.com/Gopher0727/CineMatch/middleware/log"
	"github.com/Gopher0727/CineMatch/pkg/mq"
	"github.com/Gopher0727/CineMatch/pkg/ws"
	"github.com/Gopher0727/CineMatch/utils/ratelimit"
	"github.com/Gopher0727/CineMatch/utils/snowflake"
)

func main() {
	configPath := flag.String("config", "./config.toml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()
	zl := appLogger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化 PostgreSQL
	dsn := storage.BuildDSN(cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName)
	postgres, err := storage.InitPostgres(dsn, cfg.Postgres.MaxIdleConns, cfg.Postgres.MaxOpenConns, zl)
	if err != nil {
		zl.Fatal("postgres 初始化失败", zap.Error(err))
	}

	// 初始化 Redis
	redisClient, err := storage.InitRedis(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, cfg.Redis.MinIdleConns)
	if err != nil {
		zl.Fatal("redis 初始化失败", zap.Error(err))
	}
	defer redisClient.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	ids, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		zl.Fatal("snowflake 初始化失败", zap.Error(err))
	}

	// 目录服务，电影详情缓存在 Redis
	genres := catalog.NewGenres(catalog.DefaultGenres)
	tmdb := catalog.NewTMDBClient(cfg.TMDB.BaseURL, cfg.TMDB.APIKey, cfg.TMDB.Timeout, zl)
	movies := catalog.NewCachedGateway(tmdb, redisClient, cfg.TMDB.DetailsTTL, zl)

	// 初始化仓储层
	store := repositories.NewStore(postgres)
	userRepo := repositories.NewUserRepository(postgres, redisClient)
	deckCache := repositories.NewDeckCache(redisClient, cfg.Match.DeckTTL)

	// 初始化服务层
	hub := ws.NewHub(m, zl)
	tokens := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authService := services.NewAuthService(userRepo, tokens)
	chatService := services.NewChatService(store, hub, ids, cfg.Chat.HistoryLimit, cfg.Chat.MaxLength, m, zl)
	groupService := services.NewGroupService(store, userRepo, chatService, genres, cfg.Match.CodeLength, cfg.Match.CodeAttempts, zl)
	groupService.UseEvictor(hub)
	deckService := services.NewDeckService(store, deckCache, movies, genres, cfg.Match.DeckLimit, m, zl)
	swipeService := services.NewSwipeService(services.SwipeServiceDeps{
		Store:     store,
		Users:     userRepo,
		Deck:      deckService,
		Chat:      chatService,
		Catalog:   movies,
		Genres:    genres,
		Publisher: hub,
		IDs:       ids,
		Metrics:   m,
		Logger:    zl,
		Quota:     cfg.Match.RoundQuota,
		ImageBase: cfg.TMDB.ImageBase,
	})

	// 聊天消息经 Kafka 落库；未配置或不可用时直接写数据库
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, zl)
		if err != nil {
			zl.Warn("Kafka 生产者初始化失败，聊天消息将直接写入数据库", zap.Error(err))
		} else {
			defer producer.Close()
			msgConsumer := consumer.NewMessageConsumer(chatService, consumer.Options{
				MaxRetries:   cfg.Kafka.MaxRetries,
				RetryBackoff: cfg.Kafka.RetryBackoff,
				DLQTopic:     cfg.Kafka.DLQTopic,
				DeadLetter:   producer,
			}, zl)
			if err := consumer.StartConsumer(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic, msgConsumer); err != nil {
				zl.Warn("Kafka 消费者初始化失败，聊天消息将直接写入数据库", zap.Error(err))
			} else {
				chatService.UseProducer(producer)
			}
		}
	}

	gateway := ws.NewGateway(hub, tokens, groupService, chatService, swipeService, cfg.WS, cfg.Chat.HistoryLimit, zl)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	routers.SetupRoutes(r, routers.Deps{
		Config:   cfg,
		Logger:   appLogger,
		Tokens:   tokens,
		Limiter:  ratelimit.NewWindowLimiter(redisClient, zl, true),
		Gatherer: prometheus.DefaultGatherer,
		Auth:     handlers.NewAuthHandler(authService, zl),
		Groups:   handlers.NewGroupHandler(groupService, zl),
		Swipes:   handlers.NewSwipeHandler(swipeService, deckService, chatService, zl),
		Gateway:  gateway,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("正在启动服务器", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("服务器异常退出", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("正在关闭服务器")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("关闭服务器失败", zap.Error(err))
	}
}
