package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir())) // 确保找不到 ./config.yaml
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "artifact-go", cfg.AppName)
	assert.Equal(t, "8086", cfg.APIServer.Port)
	assert.Equal(t, "/api/v1/artifact/store", cfg.ArtifactEndpoint.StoreArtifact)
	assert.Equal(t, "/api/v1/artifact/get", cfg.ArtifactEndpoint.GetArtifact)
	assert.Equal(t, "nfs", cfg.Storage.Type)
	assert.Equal(t, "local", cfg.Storage.LockBackend)
	assert.Equal(t, 10*time.Minute, cfg.Storage.LockTTL)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, "artifact-stored", cfg.Kafka.ArtifactEventsTopic)
	assert.Equal(t, 5*time.Second, cfg.Kafka.PublishTimeout)
	assert.Contains(t, cfg.APIServer.CORS.ExposedHeaders, "FileName")
	assert.Equal(t, int64(0), cfg.Storage.MaxUploadBytes())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
api_server:
  port: "9090"
storage:
  nfs_root_path: /mnt/artifacts
  max_file_size_mb: 2
database:
  type: sqlite
kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))
	t.Setenv("STORAGE_LOCK_BACKEND", "redis")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.APIServer.Port)
	assert.Equal(t, "/mnt/artifacts", cfg.Storage.NFSRootPath)
	assert.Equal(t, int64(2<<20), cfg.Storage.MaxUploadBytes())
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis", cfg.Storage.LockBackend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
