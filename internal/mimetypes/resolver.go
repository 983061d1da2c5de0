package mimetypes

import (
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// Resolver 根据文件的绝对路径猜测 MIME 类型。
// 返回空字符串表示无法确定。
type Resolver interface {
	Guess(absolutePath string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(absolutePath string) (string, error)

func (f ResolverFunc) Guess(absolutePath string) (string, error) {
	return f(absolutePath)
}

// hostResolver 先按扩展名查系统 MIME 表，查不到时读取文件头部嗅探内容。
type hostResolver struct {
	sniff bool
}

// NewHostResolver 创建默认的 Resolver。sniff 为 false 时只按扩展名判断。
func NewHostResolver(sniff bool) Resolver {
	return &hostResolver{sniff: sniff}
}

func (r *hostResolver) Guess(absolutePath string) (string, error) {
	if ext := filepath.Ext(absolutePath); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t, nil
		}
	}
	if !r.sniff {
		return "", nil
	}
	detected, err := mimetype.DetectFile(absolutePath)
	if err != nil {
		return "", err
	}
	return detected.String(), nil
}
