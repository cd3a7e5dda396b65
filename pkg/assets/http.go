package assets

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout 单张图像的加载超时
	DefaultTimeout = 6 * time.Second
	// DefaultRateInterval 两次请求的最小间隔
	DefaultRateInterval = 50 * time.Millisecond
	// maxImageBytes 单张图像的大小上限
	maxImageBytes = 8 << 20
)

// HTTPOption HTTP 加载器选项
type HTTPOption func(*HTTPLoader)

// WithTimeout 单张图像超时
func WithTimeout(d time.Duration) HTTPOption {
	return func(l *HTTPLoader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithRateInterval 请求间隔，0 表示不限速
func WithRateInterval(d time.Duration) HTTPOption {
	return func(l *HTTPLoader) {
		if d <= 0 {
			l.limiter = nil
			return
		}
		l.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithHTTPClient 自定义 http.Client
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(l *HTTPLoader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithUserAgent 自定义 User-Agent
func WithUserAgent(ua string) HTTPOption {
	return func(l *HTTPLoader) {
		l.userAgent = ua
	}
}

// HTTPLoader 通过 HTTP 加载图像，带超时和限速
type HTTPLoader struct {
	client    *http.Client
	limiter   *rate.Limiter
	timeout   time.Duration
	userAgent string
}

// NewHTTPLoader 创建 HTTP 加载器
func NewHTTPLoader(opts ...HTTPOption) *HTTPLoader {
	l := &HTTPLoader{
		client:    &http.Client{},
		limiter:   rate.NewLimiter(rate.Every(DefaultRateInterval), 1),
		timeout:   DefaultTimeout,
		userAgent: "belot-tracker/1.0",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load 实现 Loader
func (l *HTTPLoader) Load(ctx context.Context, ref string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("限速等待失败: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("创建请求失败: %w", err)}
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	req.Header.Set("Accept", "image/png,image/webp,image/jpeg,image/*;q=0.8")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("请求失败: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("状态码 %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, &ImageDecodeError{Ref: ref, Err: fmt.Errorf("读取响应失败: %w", err)}
	}
	return decode(ref, data, resp.Header.Get("Content-Type"))
}
