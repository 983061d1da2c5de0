// internal/arttypes/resource.go
package arttypes

import (
	"errors"
	"io"
	"time"
)

// Resource 是 FileStore 找到的文件，调用方通过 Open 以流的方式读取内容。
type Resource struct {
	AbsolutePath string    `json:"absolutePath"` // 文件在存储系统中的绝对路径
	Filename     string    `json:"filename"`     // 存储时的文件名，可能与下载时的显示名不同
	Size         int64     `json:"size"`         // 文件大小 (字节)，-1 表示未知
	ModTime      time.Time `json:"modTime"`

	// Opener 打开文件并返回打开时的大小 (-1 表示未知)。
	Opener func() (io.ReadCloser, int64, error) `json:"-"`
}

// Open 打开文件内容，调用方负责 Close。
// 返回的 size 来自打开的句柄，传输时应以它为准而不是 Size 字段。
func (r *Resource) Open() (io.ReadCloser, int64, error) {
	if r.Opener == nil {
		return nil, 0, errors.New("resource has no opener")
	}
	return r.Opener()
}

// UploadFileResponse 是上传接口的响应体，成功时错误字段均为 null，statusCode 为 -1。
type UploadFileResponse struct {
	FileName     string  `json:"fileName"`
	ErrorMessage *string `json:"errorMessage"`
	ErrorDetails *string `json:"errorDetails"`
	StatusCode   int64   `json:"statusCode"`
	Raw          []byte  `json:"raw"`
}

// NewUploadFileResponse 构建成功上传的响应。
func NewUploadFileResponse(fileName string) UploadFileResponse {
	return UploadFileResponse{FileName: fileName, StatusCode: -1}
}

// ArtifactStoredEvent is published after an artifact has been written to
// storage.
type ArtifactStoredEvent struct {
	ArtifactPath string    `json:"artifactPath"`
	FileName     string    `json:"fileName"`
	Size         int64     `json:"size"`
	Digest       string    `json:"digest"` // hex BLAKE2b-256
	RequestID    string    `json:"requestId,omitempty"`
	StoredAt     time.Time `json:"storedAt"`
}
