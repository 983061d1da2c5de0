package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"artifact-go/internal/arterrors"
	"artifact-go/internal/arttypes"
	"artifact-go/internal/config"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
	"google.golang.org/grpc/codes"
)

const tempFilePrefix = ".upload-"

// StoredObject 描述一次成功写入的结果。
type StoredObject struct {
	ArtifactPath string // 清理后的相对路径
	AbsolutePath string
	FileName     string
	Size         int64
	Digest       string // hex BLAKE2b-256
	StoredAt     time.Time
}

// NFSStorage 将制品保存在一个 (通常是 NFS 挂载的) 目录下。
type NFSStorage struct {
	rootPath string
}

// NewNFSStorage 创建一个新的 NFSStorage 实例，并确保根目录存在。
func NewNFSStorage(cfg config.StorageConfig) (*NFSStorage, error) {
	if cfg.NFSRootPath == "" {
		return nil, errors.New("nfs root path is empty")
	}
	root, err := filepath.Abs(cfg.NFSRootPath)
	if err != nil {
		return nil, fmt.Errorf("解析存储根目录失败 '%s': %w", cfg.NFSRootPath, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("创建存储根目录失败 '%s': %w", root, err)
	}
	return &NFSStorage{rootPath: root}, nil
}

// RootPath 返回存储根目录的绝对路径。
func (s *NFSStorage) RootPath() string {
	return s.rootPath
}

// Resolve 校验 artifactPath 并返回清理后的相对路径和绝对路径。
func (s *NFSStorage) Resolve(artifactPath string) (string, string, error) {
	if strings.TrimSpace(artifactPath) == "" {
		return "", "", arterrors.InvalidArgument("artifact path is empty")
	}
	if strings.ContainsRune(artifactPath, 0) {
		return "", "", arterrors.InvalidArgument("Sorry! Filename contains invalid path sequence %q", artifactPath)
	}
	slashed := filepath.ToSlash(artifactPath)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(artifactPath) {
		return "", "", arterrors.InvalidArgument("Sorry! Filename contains invalid path sequence %q", artifactPath)
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", "", arterrors.InvalidArgument("Sorry! Filename contains invalid path sequence %q", artifactPath)
		}
		// 临时文件前缀保留给 Save 使用
		if strings.HasPrefix(seg, tempFilePrefix) {
			return "", "", arterrors.InvalidArgument("artifact path %q uses reserved prefix %s", artifactPath, tempFilePrefix)
		}
	}
	cleaned := filepath.Clean(filepath.FromSlash(slashed))
	if cleaned == "." {
		return "", "", arterrors.InvalidArgument("artifact path %q does not name a file", artifactPath)
	}
	return filepath.ToSlash(cleaned), filepath.Join(s.rootPath, cleaned), nil
}

// Save 以流的方式将 reader 写入 artifactPath，已存在的文件会被替换。
// 先写入同目录下的临时文件，再原子地重命名到目标位置。
func (s *NFSStorage) Save(ctx context.Context, artifactPath string, reader io.Reader) (*StoredObject, error) {
	relPath, dstPath, err := s.Resolve(artifactPath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(dstPath); err == nil && info.IsDir() {
		return nil, arterrors.InvalidArgument("artifact path %q is a directory", artifactPath)
	}

	dir := filepath.Dir(dstPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败 '%s': %w", dir, err)
	}

	tmpPath := filepath.Join(dir, tempFilePrefix+uuid.New().String())
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建临时文件失败 '%s': %w", tmpPath, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("初始化摘要失败: %w", err)
	}

	written, err := io.Copy(io.MultiWriter(tmp, hasher), &contextReader{ctx: ctx, r: reader})
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, arterrors.ResourceExhausted("artifact exceeds the maximum upload size of %d bytes", maxErr.Limit)
		}
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("同步文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("关闭文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return nil, fmt.Errorf("重命名文件失败 '%s': %w", dstPath, err)
	}
	committed = true

	return &StoredObject{
		ArtifactPath: relPath,
		AbsolutePath: dstPath,
		FileName:     filepath.Base(dstPath),
		Size:         written,
		Digest:       hex.EncodeToString(hasher.Sum(nil)),
		StoredAt:     time.Now(),
	}, nil
}

// Stat 返回 artifactPath 对应文件的 Resource，不存在时返回 NOT_FOUND。
func (s *NFSStorage) Stat(artifactPath string) (*arttypes.Resource, error) {
	_, absPath, err := s.Resolve(artifactPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, arterrors.Wrap(codes.NotFound, err, "File not found %s", artifactPath)
		}
		return nil, fmt.Errorf("读取文件信息失败 '%s': %w", absPath, err)
	}
	if info.IsDir() {
		return nil, arterrors.NotFound("File not found %s", artifactPath)
	}
	return &arttypes.Resource{
		AbsolutePath: absPath,
		Filename:     info.Name(),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		Opener: func() (io.ReadCloser, int64, error) {
			return openArtifact(absPath, artifactPath)
		},
	}, nil
}

// openArtifact 打开文件并从已打开的句柄读取大小，
// 这样即使 Stat 之后文件被重新上传替换，大小与内容仍然一致。
func openArtifact(absPath, artifactPath string) (io.ReadCloser, int64, error) {
	f, err := os.Open(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, 0, arterrors.Wrap(codes.NotFound, err, "File not found %s", artifactPath)
		}
		return nil, 0, fmt.Errorf("打开文件失败 '%s': %w", absPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("读取文件信息失败 '%s': %w", absPath, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, arterrors.NotFound("File not found %s", artifactPath)
	}
	return f, info.Size(), nil
}

// Ping 检查根目录是否可访问。
func (s *NFSStorage) Ping() error {
	info, err := os.Stat(s.rootPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.rootPath)
	}
	return nil
}

// contextReader 在请求被取消后停止复制。
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
