package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"artifact-go/internal/arterrors"
	"artifact-go/internal/arttypes"
	"artifact-go/internal/config"
	"artifact-go/internal/storage"
)

type sentMessage struct {
	topic   string
	key     []byte
	payload []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (p *fakeProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{topic: topic, key: key, payload: payload})
	return nil
}

func (p *fakeProducer) Close() {}

type lockerFunc func(ctx context.Context, artifactPath string) (func(), error)

func (f lockerFunc) Lock(ctx context.Context, artifactPath string) (func(), error) {
	return f(ctx, artifactPath)
}

type fixture struct {
	nfs  *storage.NFSStorage
	repo storage.ArtifactRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	nfs, err := storage.NewNFSStorage(config.StorageConfig{NFSRootPath: t.TempDir()})
	require.NoError(t, err)

	db, err := storage.InitDB(config.DatabaseConfig{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "catalog.db"),
		LogLevel:   "silent",
	})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrateTables(db))

	return fixture{nfs: nfs, repo: storage.NewGormArtifactRepository(db)}
}

func TestStoreFile_RoundTripAndDirectCatalog(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, f.repo, nil, config.KafkaConfig{})
	ctx := context.Background()

	name, err := svc.StoreFile(ctx, "models/42/weights.bin", bytes.NewReader([]byte{0, 1, 2}), arttypes.RequestMeta{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "weights.bin", name)

	res, err := svc.LoadFileAsResource(ctx, "models/42/weights.bin")
	require.NoError(t, err)
	rc, _, err := res.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)

	artifact, err := svc.GetArtifact(ctx, "models/42/weights.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(3), artifact.Size)
	assert.Equal(t, "req-1", artifact.RequestID)
	assert.Len(t, artifact.Digest, 64)
}

func TestStoreFile_PublishesEventWhenProducerConfigured(t *testing.T) {
	f := newFixture(t)
	producer := &fakeProducer{}
	svc := NewArtifactService(f.nfs, nil, f.repo, producer, config.KafkaConfig{ArtifactEventsTopic: "artifact-stored"})

	_, err := svc.StoreFile(context.Background(), "logs//run.txt", strings.NewReader("hello"), arttypes.RequestMeta{})
	require.NoError(t, err)

	require.Len(t, producer.sent, 1)
	msg := producer.sent[0]
	assert.Equal(t, "artifact-stored", msg.topic)
	assert.Equal(t, "logs/run.txt", string(msg.key))

	var event arttypes.ArtifactStoredEvent
	require.NoError(t, json.Unmarshal(msg.payload, &event))
	assert.Equal(t, "logs/run.txt", event.ArtifactPath)
	assert.Equal(t, "run.txt", event.FileName)
	assert.Equal(t, int64(5), event.Size)

	// 目录由消费者写入
	_, err = svc.GetArtifact(context.Background(), "logs/run.txt")
	require.ErrorIs(t, err, ErrArtifactNotCataloged)

	require.NoError(t, svc.ProcessArtifactEvent(context.Background(), &confluentKafka.Message{Value: msg.payload}))
	artifact, err := svc.GetArtifact(context.Background(), "logs/run.txt")
	require.NoError(t, err)
	assert.Equal(t, event.Digest, artifact.Digest)
}

func TestStoreFile_EventFailureDoesNotFailUpload(t *testing.T) {
	f := newFixture(t)
	producer := &fakeProducer{err: errors.New("broker down")}
	svc := NewArtifactService(f.nfs, nil, nil, producer, config.KafkaConfig{ArtifactEventsTopic: "t"})

	name, err := svc.StoreFile(context.Background(), "a.bin", strings.NewReader("x"), arttypes.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "a.bin", name)
}

// blockingProducer 模拟 broker 不可用：一直等到 ctx 结束。
type blockingProducer struct{}

func (blockingProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingProducer) Close() {}

func TestStoreFile_BrokerOutageDoesNotStallUpload(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, nil, blockingProducer{}, config.KafkaConfig{
		ArtifactEventsTopic: "t",
		PublishTimeout:      50 * time.Millisecond,
	})

	start := time.Now()
	name, err := svc.StoreFile(context.Background(), "a.bin", strings.NewReader("x"), arttypes.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "a.bin", name)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStoreFile_AnnounceSurvivesRequestCancel(t *testing.T) {
	f := newFixture(t)
	producer := &ctxCheckingProducer{}
	svc := NewArtifactService(f.nfs, nil, nil, producer, config.KafkaConfig{ArtifactEventsTopic: "t"})

	// 请求在文件写入后被取消，事件仍然要发出
	ctx, cancel := context.WithCancel(context.Background())
	content := &cancelAtEOF{r: strings.NewReader("x"), cancel: cancel}
	_, err := svc.StoreFile(ctx, "a.bin", content, arttypes.RequestMeta{})
	require.NoError(t, err)
	assert.NoError(t, producer.ctxErr)
	assert.True(t, producer.hasDeadline)
}

type ctxCheckingProducer struct {
	ctxErr      error
	hasDeadline bool
}

func (p *ctxCheckingProducer) SendMessage(ctx context.Context, topic string, key []byte, payload []byte) error {
	p.ctxErr = ctx.Err()
	_, p.hasDeadline = ctx.Deadline()
	return nil
}

func (p *ctxCheckingProducer) Close() {}

type cancelAtEOF struct {
	r      io.Reader
	cancel context.CancelFunc
}

func (c *cancelAtEOF) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err == io.EOF {
		c.cancel()
	}
	return n, err
}

func TestStoreFile_InvalidPath(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, nil, nil, config.KafkaConfig{})

	_, err := svc.StoreFile(context.Background(), "../../etc/passwd", strings.NewReader("x"), arttypes.RequestMeta{})
	de, ok := arterrors.AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, de.Code)
}

func TestStoreFile_LockErrorPropagates(t *testing.T) {
	f := newFixture(t)
	var lockedPath string
	locker := lockerFunc(func(ctx context.Context, artifactPath string) (func(), error) {
		lockedPath = artifactPath
		return nil, arterrors.Aborted("busy")
	})
	svc := NewArtifactService(f.nfs, locker, nil, nil, config.KafkaConfig{})

	_, err := svc.StoreFile(context.Background(), "./models/a.bin", strings.NewReader("x"), arttypes.RequestMeta{})
	require.Error(t, err)
	assert.Equal(t, "models/a.bin", lockedPath)
	assert.Equal(t, codes.Aborted, arterrors.Status(err).Code())

	_, err = svc.LoadFileAsResource(context.Background(), "models/a.bin")
	assert.Equal(t, codes.NotFound, arterrors.Status(err).Code())
}

func TestStoreFile_UnlocksOnWriteFailure(t *testing.T) {
	f := newFixture(t)
	unlocked := false
	locker := lockerFunc(func(ctx context.Context, artifactPath string) (func(), error) {
		return func() { unlocked = true }, nil
	})
	svc := NewArtifactService(f.nfs, locker, nil, nil, config.KafkaConfig{})

	_, err := svc.StoreFile(context.Background(), "a.bin", iotestErrReader{}, arttypes.RequestMeta{})
	require.Error(t, err)
	assert.False(t, arterrors.IsDomain(err))
	assert.True(t, unlocked)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestProcessArtifactEvent_SkipsMalformed(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, f.repo, nil, config.KafkaConfig{})

	require.NoError(t, svc.ProcessArtifactEvent(context.Background(), &confluentKafka.Message{Value: []byte("{not json")}))
	require.NoError(t, svc.ProcessArtifactEvent(context.Background(), &confluentKafka.Message{Value: []byte(`{"size":1}`)}))

	all, err := svc.ListArtifacts(context.Background(), "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCatalogDisabled(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, nil, nil, config.KafkaConfig{})

	_, err := svc.ListArtifacts(context.Background(), "", 10, 0)
	assert.ErrorIs(t, err, ErrCatalogDisabled)
	_, err = svc.GetArtifact(context.Background(), "a.bin")
	assert.ErrorIs(t, err, ErrCatalogDisabled)

	err = svc.ProcessArtifactEvent(context.Background(), &confluentKafka.Message{Value: []byte(`{"artifactPath":"a.bin"}`)})
	assert.ErrorIs(t, err, ErrCatalogDisabled)
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	svc := NewArtifactService(f.nfs, nil, nil, nil, config.KafkaConfig{})
	assert.NoError(t, svc.Ping(context.Background()))
}
