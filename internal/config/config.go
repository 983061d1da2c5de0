package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host         string        `mapstructure:"HOST"`
	Port         string        `mapstructure:"PORT"`
	ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	CORS         CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// ArtifactEndpointConfig 定义上传/下载接口挂载的路径。
type ArtifactEndpointConfig struct {
	StoreArtifact string `mapstructure:"STORE_ARTIFACT"`
	GetArtifact   string `mapstructure:"GET_ARTIFACT"`
}

// RedisConfig holds configuration for Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"ADDR"`
	Password string `mapstructure:"PASSWORD"`
	DB       int    `mapstructure:"DB"`
}

// LogConfig 控制日志级别和输出格式。
type LogConfig struct {
	Level  string `mapstructure:"LEVEL"`
	Format string `mapstructure:"FORMAT"` // "json" 或 "console"
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	AppName          string                 `mapstructure:"APP_NAME"`
	AppVersion       string                 `mapstructure:"APP_VERSION"`
	Log              LogConfig              `mapstructure:"LOG"`
	APIServer        APIServerConfig        `mapstructure:"API_SERVER"`
	ArtifactEndpoint ArtifactEndpointConfig `mapstructure:"ARTIFACT_ENDPOINT"`
	Kafka            KafkaConfig            `mapstructure:"KAFKA"`
	Database         DatabaseConfig         `mapstructure:"DATABASE"`
	Storage          StorageConfig          `mapstructure:"STORAGE"`
	Redis            RedisConfig            `mapstructure:"REDIS"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled             bool     `mapstructure:"ENABLED"`
	Brokers             []string `mapstructure:"BROKERS"`
	ClientID            string   `mapstructure:"CLIENT_ID"`
	Protocol            string   `mapstructure:"PROTOCOL"`
	ArtifactEventsTopic string   `mapstructure:"ARTIFACT_EVENTS_TOPIC"` // 文件写入成功后发布的事件
	ConsumerGroup       string   `mapstructure:"CONSUMER_GROUP"`        // 目录消费者组

	// PublishTimeout 限制上传请求等待事件投递报告的时间
	PublishTimeout time.Duration `mapstructure:"PUBLISH_TIMEOUT"`
}

// DatabaseConfig holds configuration for the database.
type DatabaseConfig struct {
	Type       string `mapstructure:"TYPE"` // "postgres", "sqlite"
	Host       string `mapstructure:"HOST"`
	Port       int    `mapstructure:"PORT"`
	User       string `mapstructure:"USER"`
	Password   string `mapstructure:"PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	SSLMode    string `mapstructure:"SSL_MODE"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	LogLevel   string `mapstructure:"LOG_LEVEL"` // gorm logger: silent, error, warn, info
}

// StorageConfig holds configuration for file storage.
type StorageConfig struct {
	Type          string        `mapstructure:"TYPE"` // 目前只有 "nfs"
	NFSRootPath   string        `mapstructure:"NFS_ROOT_PATH"`
	MaxFileSizeMB int64         `mapstructure:"MAX_FILE_SIZE_MB"` // <= 0 表示不限制
	LockBackend   string        `mapstructure:"LOCK_BACKEND"`     // "local" 或 "redis"
	LockTTL       time.Duration `mapstructure:"LOCK_TTL"`
	LockWait      time.Duration `mapstructure:"LOCK_WAIT"`
}

// MaxUploadBytes returns the request body limit in bytes, 0 when unlimited.
func (s StorageConfig) MaxUploadBytes() int64 {
	if s.MaxFileSizeMB <= 0 {
		return 0
	}
	return s.MaxFileSizeMB << 20
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "artifact-go")
	v.SetDefault("APP_VERSION", "0.1.0")

	v.SetDefault("LOG.LEVEL", "info")
	v.SetDefault("LOG.FORMAT", "json")

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "8086")
	v.SetDefault("API_SERVER.READ_TIMEOUT", 0) // 上传大文件时不限制读取时间
	v.SetDefault("API_SERVER.WRITE_TIMEOUT", 0)
	v.SetDefault("API_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "PUT", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "Content-Disposition", "FileName"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", false)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Artifact endpoint paths
	v.SetDefault("ARTIFACT_ENDPOINT.STORE_ARTIFACT", "/api/v1/artifact/store")
	v.SetDefault("ARTIFACT_ENDPOINT.GET_ARTIFACT", "/api/v1/artifact/get")

	// Kafka Defaults
	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "artifact-go")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.ARTIFACT_EVENTS_TOPIC", "artifact-stored")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "artifact-catalog-group")
	v.SetDefault("KAFKA.PUBLISH_TIMEOUT", 5*time.Second)

	// Database Defaults
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "password")
	v.SetDefault("DATABASE.DB_NAME", "artifact_db")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.SQLITE_PATH", "./artifact-catalog.db")
	v.SetDefault("DATABASE.LOG_LEVEL", "warn")

	// Storage Defaults
	v.SetDefault("STORAGE.TYPE", "nfs")
	v.SetDefault("STORAGE.NFS_ROOT_PATH", "./artifact-store")
	v.SetDefault("STORAGE.MAX_FILE_SIZE_MB", 0)
	v.SetDefault("STORAGE.LOCK_BACKEND", "local")
	v.SetDefault("STORAGE.LOCK_TTL", 10*time.Minute)
	v.SetDefault("STORAGE.LOCK_WAIT", 30*time.Second)

	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Example: STORAGE_NFS_ROOT_PATH overrides Storage.NFSRootPath
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
