package apiserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"artifact-go/internal/config"
	"artifact-go/internal/middleware"
)

// Pinger 报告后端存储是否可用。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler 返回存储根目录的可用状态。
func HealthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := p.Ping(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			writeJSONResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// NewRouter 注册制品接口和健康检查路由，并挂载请求中间件。
func NewRouter(endpoints config.ArtifactEndpointConfig, artifactHandler *ArtifactHandler, pinger Pinger, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(recoverer(logger))
	for _, mw := range middleware.Chain(logger) {
		r.Use(mux.MiddlewareFunc(mw))
	}

	r.HandleFunc(endpoints.StoreArtifact, artifactHandler.StoreArtifactHandler).Methods(http.MethodPut)
	getPath := strings.TrimSuffix(endpoints.GetArtifact, "/") + "/{" + FileNameVar + "}"
	r.HandleFunc(getPath, artifactHandler.GetArtifactHandler).Methods(http.MethodGet)

	if pinger != nil {
		r.HandleFunc("/healthz", HealthHandler(pinger)).Methods(http.MethodGet)
	}
	return r
}

// WithCORS 按配置包装 CORS 中间件。
func WithCORS(cfg config.CORSConfig, h http.Handler) http.Handler {
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods(cfg.AllowedMethods),
		handlers.AllowedHeaders(cfg.AllowedHeaders),
		handlers.ExposedHeaders(cfg.ExposedHeaders),
		handlers.MaxAge(cfg.MaxAge),
	}
	if cfg.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	return handlers.CORS(corsOptions...)(h)
}

// recoverer 把 handler 中的 panic 转为 500 并记录日志。
func recoverer(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return handlers.RecoveryHandler(
			handlers.RecoveryLogger(panicLogger{logger: logger}),
		)(next)
	}
}

type panicLogger struct {
	logger zerolog.Logger
}

func (l panicLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("recovered from panic")
}
