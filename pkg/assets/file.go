package assets

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// FileLoader 从本地目录加载图像
//
// 引用可以是 file:// 地址、绝对路径或相对 Root 的路径 (例如 /static/deck_1/5.png)。
type FileLoader struct {
	Root string
}

// Load 实现 Loader
func (l *FileLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: err}
	}
	path, err := l.resolve(ref)
	if err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("读取文件失败: %w", err)}
	}
	return decode(path, data, "")
}

func (l *FileLoader) resolve(ref string) (string, error) {
	p := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("解析文件地址失败: %w", err)
		}
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if l.Root == "" {
		return filepath.FromSlash(p), nil
	}
	// 相对 Root 解析，不允许跳出 Root
	clean := filepath.Clean("/" + filepath.ToSlash(p))
	return filepath.Join(l.Root, filepath.FromSlash(clean)), nil
}
