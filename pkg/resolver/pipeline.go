// Package resolver 把页面上的图像引用解析为牌
//
// 解析顺序: 映射表、deck_1 已知排列、序号算术、模板识别。前面任一步命中即返回；
// 模板识别的结果通过确认策略后才写入映射表。
package resolver

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/assets"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/mapping"
	"github.com/zoeyai/belottracker/pkg/token"
	"github.com/zoeyai/belottracker/pkg/vision/ocr"
)

// Source 结果来源
type Source string

const (
	SourceMapping    Source = "mapping"
	SourcePreset     Source = "preset"
	SourceArithmetic Source = "arithmetic"
	SourceOCR        Source = "ocr"
)

// DefaultOCRBudget 每次扫描最多识别的图像数
const DefaultOCRBudget = 4

// Result 单个引用的解析结果
type Result struct {
	Token  string    `json:"token"`
	Key    string    `json:"key,omitempty"`
	Card   card.Card `json:"card"`
	Source Source    `json:"source,omitempty"`
	OK     bool      `json:"ok"`
}

// Recognizer 模板识别器
type Recognizer interface {
	Recognize(img image.Image, opts ...ocr.Option) (*ocr.Candidate, error)
}

// Option 流水线选项
type Option func(*Pipeline)

// WithRecognizer 替换模板识别器
func WithRecognizer(r Recognizer) Option {
	return func(p *Pipeline) {
		p.recognizer = r
	}
}

// WithPolicy 模板识别的确认策略
func WithPolicy(policy ocr.Policy) Option {
	return func(p *Pipeline) {
		p.cache = ocr.NewCache(policy)
	}
}

// WithLoadTimeout 单张图像的加载超时
func WithLoadTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.loadTimeout = d
		}
	}
}

// WithOCRBudget 每次扫描的识别次数上限
func WithOCRBudget(n int) Option {
	return func(p *Pipeline) {
		p.budget = n
	}
}

// WithOCR 是否启用模板识别
func WithOCR(enabled bool) Option {
	return func(p *Pipeline) {
		p.ocrEnabled = enabled
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline 解析流水线
type Pipeline struct {
	store       *mapping.Store
	loader      assets.Loader
	recognizer  Recognizer
	cache       *ocr.Cache
	loadTimeout time.Duration
	budget      int
	ocrEnabled  bool
	now         func() time.Time
	log         *logger.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New 创建解析流水线；loader 为 nil 时不做模板识别
func New(store *mapping.Store, loader assets.Loader, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		loader:      loader,
		recognizer:  ocr.GetGlobalMatcher(),
		cache:       ocr.NewCache(ocr.DefaultPolicy()),
		loadTimeout: assets.DefaultTimeout,
		budget:      DefaultOCRBudget,
		ocrEnabled:  true,
		now:         time.Now,
		log:         logger.Named("resolver"),
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store 映射表
func (p *Pipeline) Store() *mapping.Store {
	return p.store
}

// Cache 模板识别缓存
func (p *Pipeline) Cache() *ocr.Cache {
	return p.cache
}

// Resolve 解析单个引用，最多识别一次
func (p *Pipeline) Resolve(ctx context.Context, raw string) Result {
	s := p.NewScan()
	s.budget = 1
	return s.Token(ctx, raw, IsCardish(raw, ""))
}

// ResolveAttr 解析一个属性值的全部候选
func (p *Pipeline) ResolveAttr(ctx context.Context, attr, value string) []Result {
	return p.NewScan().Attr(ctx, attr, value, false)
}

// Lookup 只做映射表、已知排列和序号算术，不识别
func (p *Pipeline) Lookup(raw string) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}
	}
	keys := token.Normalize(raw)

	if c, key, ok := p.store.Lookup(keys); ok {
		return Result{Token: raw, Key: key, Card: c, Source: SourceMapping, OK: true}
	}
	for _, k := range keys {
		if c, ok := deck.MapKnownDeck(k); ok {
			return Result{Token: raw, Key: k, Card: c, Source: SourcePreset, OK: true}
		}
	}
	if cfg := p.store.Config(); cfg != nil && cfg.Complete() {
		for _, k := range keys {
			idx, ok := deck.ParseIndex(k)
			if !ok {
				continue
			}
			if c, ok := cfg.Forward(idx); ok {
				return Result{Token: raw, Key: k, Card: c, Source: SourceArithmetic, OK: true}
			}
		}
	}
	return Result{Token: raw}
}

// IsCardish 引用是否像牌面图：带牌面 class，或路径含 /cards/、/deck_
func IsCardish(raw, class string) bool {
	if strings.Contains(class, "table__cards--card") {
		return true
	}
	return strings.Contains(raw, "/cards/") || strings.Contains(raw, "/deck_")
}

// recognize 对 token 做模板识别，受预算、进行中保护和失败缓存约束
func (p *Pipeline) recognize(ctx context.Context, raw string, s *Scan) Result {
	tok, ok := token.Key(raw)
	if !ok {
		return Result{Token: raw}
	}
	now := p.now()

	if e, ok := p.cache.Lookup(tok, now); ok {
		switch e.State {
		case ocr.StateConfirmed:
			p.store.Learn(tok, e.Card)
			return Result{Token: raw, Key: tok, Card: e.Card, Source: SourceOCR, OK: true}
		case ocr.StateFailed:
			return Result{Token: raw}
		}
	}

	if !p.ocrEnabled || p.loader == nil || p.recognizer == nil || !s.attempt(tok) || !s.take() {
		return Result{Token: raw}
	}
	if !p.acquire(tok) {
		return Result{Token: raw}
	}
	defer p.release(tok)

	ref := raw
	if !token.IsAbsoluteURL(raw) {
		if u, ok := p.store.Asset().Resolve(tok); ok {
			ref = u
		}
	}

	startTime := time.Now()
	loadCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
	img, err := p.loader.Load(loadCtx, ref)
	cancel()
	if err != nil {
		p.cache.Fail(tok, p.now())
		p.log.LogEvent("OCR", false, elapsedMs(startTime), fmt.Sprintf("%s: %v", shortToken(tok), err))
		return Result{Token: raw}
	}

	cand, err := p.recognizer.Recognize(img)
	if err != nil || cand == nil || !cand.Card.Valid() {
		p.cache.Fail(tok, p.now())
		return Result{Token: raw}
	}

	d := p.cache.Observe(tok, *cand, p.now())
	detail := fmt.Sprintf("%s:%s@%.2fΔ%.2f c%d hits=%d", shortToken(tok), cand.Card.ID(), cand.Score, cand.Delta, cand.Crop, d.Hits)
	if !d.Accepted {
		p.log.Debug("OCR 待确认 %s", detail)
		return Result{Token: raw}
	}
	p.store.Learn(tok, cand.Card)
	p.log.LogEvent("OCR", true, elapsedMs(startTime), detail)
	return Result{Token: raw, Key: tok, Card: cand.Card, Source: SourceOCR, OK: true}
}

func (p *Pipeline) acquire(tok string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[tok]; busy {
		return false
	}
	p.inflight[tok] = struct{}{}
	return true
}

func (p *Pipeline) release(tok string) {
	p.mu.Lock()
	delete(p.inflight, tok)
	p.mu.Unlock()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// shortToken 取路径最后两段
func shortToken(tok string) string {
	parts := strings.Split(tok, "/")
	if len(parts) <= 2 {
		return tok
	}
	return strings.Join(parts[len(parts)-2:], "/")
}
