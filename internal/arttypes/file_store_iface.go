// internal/arttypes/file_store_iface.go
package arttypes

import (
	"context"
	"io"
)

// FileStore 定义了制品文件的存取操作。
// 将接口定义放在 arttypes 中以打破 services 和 handlers 之间的循环依赖。
type FileStore interface {
	// StoreFile 将 content 写入 artifactPath 指向的位置，返回存储后的文件名。
	// 失败时返回 *arterrors.DomainError (已分类) 或其他错误 (未分类)。
	StoreFile(ctx context.Context, artifactPath string, content io.Reader, meta RequestMeta) (string, error)

	// LoadFileAsResource 查找 artifactPath 对应的文件，文件不存在时返回 NOT_FOUND 的 DomainError。
	LoadFileAsResource(ctx context.Context, artifactPath string) (*Resource, error)
}

// PathLocker 串行化对同一 artifactPath 的写入。
type PathLocker interface {
	// Lock 阻塞直到获得锁或 ctx 结束，返回的 unlock 必须被调用。
	Lock(ctx context.Context, artifactPath string) (unlock func(), err error)
}

// RequestMeta 携带发起上传的 HTTP 请求的信息。
type RequestMeta struct {
	RequestID     string
	RemoteAddr    string
	ContentType   string
	ContentLength int64 // -1 表示未知
}
