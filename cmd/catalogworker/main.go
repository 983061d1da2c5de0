package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"artifact-go/internal/config"
	appKafka "artifact-go/internal/kafka"
	"artifact-go/internal/logging"
	"artifact-go/internal/services"
	"artifact-go/internal/storage"
)

// catalogworker 消费 ArtifactStoredEvent 并写入制品目录，
// 用于 API 服务器之外单独扩展目录写入。
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
	logging.New(cfg.Log, cfg.AppName+"-catalogworker")
	log.Info().Msg("目录消费者配置加载成功。")

	// 2. 初始化数据库连接并迁移表结构
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("无法初始化数据库")
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatal().Err(err).Msg("无法迁移数据库表")
	}

	// 3. 初始化 Service (只用到目录部分)
	nfs, err := storage.NewNFSStorage(cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("无法初始化 NFS 存储")
	}
	artifactService := services.NewArtifactService(nfs, nil, storage.NewGormArtifactRepository(db), nil, cfg.Kafka)

	// 4. 初始化 Kafka 消费者
	consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("无法创建 Kafka 消费者")
	}
	defer consumer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	topics := []string{cfg.Kafka.ArtifactEventsTopic}
	log.Info().Strs("topics", topics).Str("group_id", cfg.Kafka.ConsumerGroup).Msg("Kafka 目录消费者启动")
	err = consumer.Consume(ctx, topics, cfg.Kafka.ConsumerGroup, artifactService.ProcessArtifactEvent)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Kafka 目录消费者错误")
		os.Exit(1)
	}
	log.Info().Msg("目录消费者已停止。")
}
