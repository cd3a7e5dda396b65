// Package assets 加载牌面精灵图
package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat 无法解码的图像格式 (例如 svg)
var ErrUnsupportedFormat = errors.New("不支持的图像格式")

// ImageDecodeError 图像读取或解码失败
type ImageDecodeError struct {
	Ref string
	Err error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("加载图像失败 %s: %v", e.Ref, e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

// Loader 按引用加载图像
type Loader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

// LoaderFunc 函数适配为 Loader
type LoaderFunc func(ctx context.Context, ref string) (image.Image, error)

// Load 实现 Loader
func (f LoaderFunc) Load(ctx context.Context, ref string) (image.Image, error) {
	return f(ctx, ref)
}

// decode 按内容解码，svg 直接判为不支持
func decode(ref string, data []byte, contentType string) (image.Image, error) {
	if isSVG(ref, data, contentType) {
		return nil, &ImageDecodeError{Ref: ref, Err: ErrUnsupportedFormat}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			err = fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
		}
		return nil, &ImageDecodeError{Ref: ref, Err: err}
	}
	return img, nil
}

func isSVG(ref string, data []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "svg") {
		return true
	}
	path := strings.ToLower(ref)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if strings.HasSuffix(path, ".svg") {
		return true
	}
	head := bytes.TrimSpace(data)
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.HasPrefix(head, []byte("<svg")) || (bytes.HasPrefix(head, []byte("<?xml")) && bytes.Contains(head, []byte("<svg")))
}

// Router 按引用的协议分派到对应的加载器
type Router struct {
	HTTP Loader
	File Loader
}

// NewRouter 创建默认的分派加载器
func NewRouter(opts ...HTTPOption) *Router {
	return &Router{
		HTTP: NewHTTPLoader(opts...),
		File: &FileLoader{},
	}
}

// Load 实现 Loader
func (r *Router) Load(ctx context.Context, ref string) (image.Image, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, &ImageDecodeError{Ref: ref, Err: errors.New("空引用")}
	case strings.HasPrefix(ref, "data:"):
		return DecodeDataURL(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if r.HTTP == nil {
			return nil, &ImageDecodeError{Ref: ref, Err: errors.New("未配置 HTTP 加载器")}
		}
		return r.HTTP.Load(ctx, ref)
	default:
		if r.File == nil {
			return nil, &ImageDecodeError{Ref: ref, Err: errors.New("未配置文件加载器")}
		}
		return r.File.Load(ctx, ref)
	}
}
