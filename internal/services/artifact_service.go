package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"artifact-go/internal/arttypes"
	"artifact-go/internal/config"
	appKafka "artifact-go/internal/kafka"
	"artifact-go/internal/models"
	"artifact-go/internal/storage"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const defaultPublishTimeout = 5 * time.Second

var (
	ErrCatalogDisabled      = errors.New("artifact catalog is not configured")
	ErrArtifactNotCataloged = errors.New("artifact is not in the catalog")
)

// ArtifactService 是 arttypes.FileStore 的生产实现，同时维护制品目录。
type ArtifactService interface {
	arttypes.FileStore

	// ProcessArtifactEvent 作为 Kafka 消费者回调，将 ArtifactStoredEvent 写入目录。
	ProcessArtifactEvent(ctx context.Context, kafkaMsg *confluentKafka.Message) error

	ListArtifacts(ctx context.Context, prefix string, limit int, offset int) ([]*models.Artifact, error)
	GetArtifact(ctx context.Context, artifactPath string) (*models.Artifact, error)

	// Ping 检查存储根目录是否可访问。
	Ping(ctx context.Context) error
}

// artifactService 是 ArtifactService 的实现。
type artifactService struct {
	nfs      *storage.NFSStorage
	locker   arttypes.PathLocker
	repo     storage.ArtifactRepository // 可为 nil，此时不维护目录
	producer appKafka.MessageProducer   // 可为 nil，此时直接写目录
	topic    string

	publishTimeout time.Duration
}

// NewArtifactService 创建一个新的 ArtifactService 实例。
func NewArtifactService(
	nfs *storage.NFSStorage,
	locker arttypes.PathLocker,
	repo storage.ArtifactRepository,
	producer appKafka.MessageProducer,
	kafkaCfg config.KafkaConfig,
) ArtifactService {
	if locker == nil {
		locker = storage.NewLocalPathLocker()
	}
	publishTimeout := kafkaCfg.PublishTimeout
	if publishTimeout <= 0 {
		publishTimeout = defaultPublishTimeout
	}
	return &artifactService{
		nfs:            nfs,
		locker:         locker,
		repo:           repo,
		producer:       producer,
		topic:          kafkaCfg.ArtifactEventsTopic,
		publishTimeout: publishTimeout,
	}
}

// StoreFile 校验路径、获取路径锁并写入文件，成功后发布 ArtifactStoredEvent。
// 事件或目录写入失败只记录日志，不影响已经落盘的上传。
func (s *artifactService) StoreFile(ctx context.Context, artifactPath string, content io.Reader, meta arttypes.RequestMeta) (string, error) {
	relPath, _, err := s.nfs.Resolve(artifactPath)
	if err != nil {
		return "", err
	}

	unlock, err := s.locker.Lock(ctx, relPath)
	if err != nil {
		return "", err
	}
	obj, err := s.nfs.Save(ctx, relPath, content)
	unlock()
	if err != nil {
		return "", err
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("artifact_path", obj.ArtifactPath).
		Int64("size", obj.Size).
		Str("digest", obj.Digest).
		Msg("artifact written")

	event := arttypes.ArtifactStoredEvent{
		ArtifactPath: obj.ArtifactPath,
		FileName:     obj.FileName,
		Size:         obj.Size,
		Digest:       obj.Digest,
		RequestID:    meta.RequestID,
		StoredAt:     obj.StoredAt,
	}
	if err := s.announce(ctx, event); err != nil {
		logger.Warn().Err(err).Str("artifact_path", obj.ArtifactPath).Msg("failed to record stored artifact")
	}
	return obj.FileName, nil
}

// LoadFileAsResource 返回 artifactPath 对应的文件。
func (s *artifactService) LoadFileAsResource(ctx context.Context, artifactPath string) (*arttypes.Resource, error) {
	return s.nfs.Stat(artifactPath)
}

// announce 不随请求取消 (文件已经落盘)，但最多等待 publishTimeout。
func (s *artifactService) announce(ctx context.Context, event arttypes.ArtifactStoredEvent) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if s.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("序列化 ArtifactStoredEvent 失败: %w", err)
		}
		if err := s.producer.SendMessage(ctx, s.topic, []byte(event.ArtifactPath), payload); err != nil {
			return fmt.Errorf("发送 ArtifactStoredEvent 到 Kafka 失败: %w", err)
		}
		return nil
	}
	if s.repo != nil {
		return s.record(ctx, event)
	}
	return nil
}

func (s *artifactService) record(ctx context.Context, event arttypes.ArtifactStoredEvent) error {
	if s.repo == nil {
		return ErrCatalogDisabled
	}
	artifact := &models.Artifact{
		Path:      event.ArtifactPath,
		FileName:  event.FileName,
		Size:      event.Size,
		Digest:    event.Digest,
		StoredAt:  event.StoredAt,
		RequestID: event.RequestID,
	}
	if err := s.repo.Upsert(ctx, artifact); err != nil {
		return fmt.Errorf("写入制品目录失败 %s: %w", event.ArtifactPath, err)
	}
	return nil
}

// ProcessArtifactEvent 处理从 Kafka 消费到的 ArtifactStoredEvent。
// 无法解析的消息会被跳过 (返回 nil)，以免阻塞分区。
func (s *artifactService) ProcessArtifactEvent(ctx context.Context, kafkaMsg *confluentKafka.Message) error {
	var event arttypes.ArtifactStoredEvent
	if err := json.Unmarshal(kafkaMsg.Value, &event); err != nil {
		log.Warn().Err(err).Str("value", string(kafkaMsg.Value)).Msg("skipping malformed artifact event")
		return nil
	}
	if event.ArtifactPath == "" {
		log.Warn().Str("value", string(kafkaMsg.Value)).Msg("skipping artifact event without path")
		return nil
	}
	return s.record(ctx, event)
}

// ListArtifacts 按路径前缀列出目录中的制品。
func (s *artifactService) ListArtifacts(ctx context.Context, prefix string, limit int, offset int) ([]*models.Artifact, error) {
	if s.repo == nil {
		return nil, ErrCatalogDisabled
	}
	return s.repo.List(ctx, prefix, limit, offset)
}

// GetArtifact 查询目录中的单个制品。
func (s *artifactService) GetArtifact(ctx context.Context, artifactPath string) (*models.Artifact, error) {
	if s.repo == nil {
		return nil, ErrCatalogDisabled
	}
	relPath, _, err := s.nfs.Resolve(artifactPath)
	if err != nil {
		return nil, err
	}
	artifact, err := s.repo.GetByPath(ctx, relPath)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotCataloged, relPath)
	}
	if err != nil {
		return nil, fmt.Errorf("查询制品 %s 失败: %w", relPath, err)
	}
	return artifact, nil
}

func (s *artifactService) Ping(ctx context.Context) error {
	return s.nfs.Ping()
}
