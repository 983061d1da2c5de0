package apiserver

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"artifact-go/internal/arterrors"
	"artifact-go/internal/arttypes"
	"artifact-go/internal/middleware"
	"artifact-go/internal/mimetypes"
)

const (
	// ArtifactPathParam 是上传/下载接口中指定制品位置的查询参数。
	ArtifactPathParam = "artifact_path"
	// FileNameVar 是下载路由中显示文件名的路径变量。
	FileNameVar = "FileName"

	defaultContentType = "application/octet-stream"
)

// ArtifactHandler 处理制品的上传和下载请求。
type ArtifactHandler struct {
	fileStore      arttypes.FileStore
	resolver       mimetypes.Resolver
	maxUploadBytes int64 // <= 0 表示不限制
}

// NewArtifactHandler 创建一个新的 ArtifactHandler。
func NewArtifactHandler(fileStore arttypes.FileStore, resolver mimetypes.Resolver, maxUploadBytes int64) *ArtifactHandler {
	if resolver == nil {
		resolver = mimetypes.NewHostResolver(true)
	}
	return &ArtifactHandler{
		fileStore:      fileStore,
		resolver:       resolver,
		maxUploadBytes: maxUploadBytes,
	}
}

// StoreArtifactHandler 处理 PUT 上传请求，请求体即文件内容。
// 成功时返回 UploadFileResponse；失败时返回 google.rpc.Status：
// 已分类的错误保留其状态码和消息，其他错误统一为 INTERNAL。
func (h *ArtifactHandler) StoreArtifactHandler(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	artifactPath := r.URL.Query().Get(ArtifactPathParam)
	if artifactPath == "" {
		writeStatus(w, arterrors.Status(arterrors.InvalidArgument("missing required query parameter %s", ArtifactPathParam)))
		return
	}

	body := r.Body
	if h.maxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	defer body.Close()

	meta := arttypes.RequestMeta{
		RemoteAddr:    r.RemoteAddr,
		ContentType:   r.Header.Get("Content-Type"),
		ContentLength: r.ContentLength,
	}
	meta.RequestID, _ = middleware.GetRequestIDFromContext(r.Context())

	fileName, err := h.fileStore.StoreFile(r.Context(), artifactPath, body, meta)
	if err != nil {
		st := arterrors.Status(err)
		if arterrors.IsDomain(err) {
			logger.Info().Err(err).Str("artifact_path", artifactPath).Str("code", st.Code().String()).Msg("storeArtifact rejected")
		} else {
			logger.Warn().Err(err).Str("artifact_path", artifactPath).Msg("storeArtifact failed")
		}
		writeStatus(w, st)
		return
	}

	logger.Trace().Str("file_name", fileName).Msg("storeArtifact - file name")
	logger.Debug().Str("artifact_path", artifactPath).Msg("storeArtifact returned")
	writeJSONResponse(w, http.StatusOK, arttypes.NewUploadFileResponse(fileName))
}

// GetArtifactHandler 处理 GET {FileName}?artifact_path=... 下载请求。
// 响应以附件形式返回文件内容；Content-Disposition 使用存储时的文件名，
// FileName 头原样回显路径中的显示名。
func (h *ArtifactHandler) GetArtifactHandler(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())
	displayName := mux.Vars(r)[FileNameVar]

	artifactPath := r.URL.Query().Get(ArtifactPathParam)
	if artifactPath == "" {
		writeJSONError(w, fmt.Sprintf("missing required query parameter %s", ArtifactPathParam), http.StatusBadRequest)
		return
	}

	res, err := h.fileStore.LoadFileAsResource(r.Context(), artifactPath)
	if err != nil {
		if arterrors.IsDomain(err) {
			logger.Info().Err(err).Str("artifact_path", artifactPath).Msg("getArtifact not found")
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("artifact_path", artifactPath).Msg("getArtifact failed")
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	contentType := h.contentType(logger, res.AbsolutePath)
	logger.Trace().Str("content_type", contentType).Msg("getArtifact - file content type")

	// 以打开时的大小为准，Stat 之后文件可能已被重新上传替换
	content, size, err := res.Open()
	if err != nil {
		if arterrors.IsDomain(err) || errors.Is(err, fs.ErrNotExist) {
			logger.Info().Err(err).Str("artifact_path", artifactPath).Msg("getArtifact not found")
			writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Error().Err(err).Str("artifact_path", artifactPath).Msg("getArtifact open failed")
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("FileName", displayName)
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	// 头部已经发送，复制失败只能记录日志
	if _, err := io.Copy(w, content); err != nil {
		logger.Warn().Err(err).Str("artifact_path", artifactPath).Msg("getArtifact stream interrupted")
		return
	}
	logger.Debug().Str("artifact_path", artifactPath).Msg("getArtifact returned")
}

// contentType 推测文件的 MIME 类型，无法确定时返回 application/octet-stream。
func (h *ArtifactHandler) contentType(logger *zerolog.Logger, absolutePath string) string {
	guessed, err := h.resolver.Guess(absolutePath)
	if err != nil {
		logger.Info().Err(err).Str("path", absolutePath).Msg("Could not determine file type.")
		return defaultContentType
	}
	if guessed == "" {
		return defaultContentType
	}
	if _, _, err := mime.ParseMediaType(guessed); err != nil {
		logger.Info().Err(err).Str("content_type", guessed).Msg("Could not determine file type.")
		return defaultContentType
	}
	return guessed
}
