package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"artifact-go/internal/config"
)

// New 根据配置创建 zerolog.Logger，并将其设置为全局 logger。
// 无法识别的级别回退到 info。
func New(cfg config.LogConfig, appName string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return setup(out, cfg.Level, appName)
}

func setup(out io.Writer, level, appName string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(out).With().Timestamp().Str("app", appName).Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger
	return logger
}
