package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redisDriver "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"artifact-go/internal/arttypes"
	"artifact-go/internal/config"
	"artifact-go/internal/handlers/apiserver"
	appKafka "artifact-go/internal/kafka"
	"artifact-go/internal/logging"
	"artifact-go/internal/mimetypes"
	appRedis "artifact-go/internal/redis"
	"artifact-go/internal/services"
	"artifact-go/internal/storage"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.AppName)
	logger.Info().Str("version", cfg.AppVersion).Msg("制品服务器配置加载成功。")

	// 2. 初始化 NFS 存储
	if cfg.Storage.Type != "nfs" {
		log.Fatal().Str("type", cfg.Storage.Type).Msg("不支持的存储类型")
	}
	nfs, err := storage.NewNFSStorage(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("无法初始化 NFS 存储")
	}
	log.Info().Str("root", nfs.RootPath()).Msg("NFS 存储初始化成功。")

	// 3. 初始化数据库连接 (制品目录)
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("无法初始化数据库")
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Warn().Err(err).Msg("数据库表迁移可能失败")
	}
	artifactRepo := storage.NewGormArtifactRepository(db)

	// 4. 初始化路径锁
	var locker arttypes.PathLocker
	switch cfg.Storage.LockBackend {
	case "redis":
		redisClient := redisDriver.NewClient(&redisDriver.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("无法连接到 Redis")
		}
		locker = appRedis.NewRedisPathLocker(redisClient, cfg.Storage.LockTTL, cfg.Storage.LockWait)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("使用 Redis 路径锁")
	case "local", "":
		locker = storage.NewLocalPathLocker()
	default:
		log.Fatal().Str("backend", cfg.Storage.LockBackend).Msg("不支持的锁类型")
	}

	// 5. 初始化 Kafka Producer (可选)
	var producer appKafka.MessageProducer
	if cfg.Kafka.Enabled {
		producer, err = appKafka.NewConfluentKafkaProducer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("无法创建 Kafka 生产者")
		}
		defer producer.Close()
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.ArtifactEventsTopic).Msg("Kafka 生产者初始化成功。")
	}

	// 6. 初始化 Service 和 Handler
	artifactService := services.NewArtifactService(nfs, locker, artifactRepo, producer, cfg.Kafka)
	artifactHandler := apiserver.NewArtifactHandler(artifactService, mimetypes.NewHostResolver(true), cfg.Storage.MaxUploadBytes())

	// 7. 启动目录消费者 (Kafka 开启时)
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	var consumersWG sync.WaitGroup

	if cfg.Kafka.Enabled {
		catalogConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
		if err != nil {
			log.Fatal().Err(err).Msg("无法创建目录 Kafka 消费者")
		}
		defer catalogConsumer.Close()

		consumersWG.Add(1)
		go func() {
			defer consumersWG.Done()
			topics := []string{cfg.Kafka.ArtifactEventsTopic}
			log.Info().Str("topic", cfg.Kafka.ArtifactEventsTopic).Str("group_id", cfg.Kafka.ConsumerGroup).Msg("Kafka 目录消费者启动")
			err := catalogConsumer.Consume(consumerCtx, topics, cfg.Kafka.ConsumerGroup, artifactService.ProcessArtifactEvent)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Kafka 目录消费者错误")
			}
			log.Info().Msg("Kafka 目录消费者 goroutine 已停止。")
		}()
	}

	// 8. 设置 HTTP 路由
	r := apiserver.NewRouter(cfg.ArtifactEndpoint, artifactHandler, artifactService, logger)

	// 9. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      apiserver.WithCORS(cfg.APIServer.CORS, r),
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  cfg.APIServer.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", serverAddr).
			Str("store", cfg.ArtifactEndpoint.StoreArtifact).
			Str("get", cfg.ArtifactEndpoint.GetArtifact).
			Msg("制品服务器启动")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("制品服务器启动失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("收到关闭信号，正在关闭制品服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("制品服务器强制关闭")
	}

	// 先停 HTTP 再停消费者，保证已接收的上传事件都已发出
	cancelConsumers()
	consumersWG.Wait()

	log.Info().Msg("制品服务器已成功关闭")
}
