package resolver

import (
	"context"
	"strings"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/token"
)

// Scan 一次扫描周期，所有引用共享识别预算
type Scan struct {
	p      *Pipeline
	budget int
	found  []card.Card
	seen   map[card.Card]struct{}
	tried  map[string]struct{}
}

// NewScan 开始新的扫描周期
func (p *Pipeline) NewScan() *Scan {
	return &Scan{
		p:      p,
		budget: p.budget,
		seen:   make(map[card.Card]struct{}),
		tried:  make(map[string]struct{}),
	}
}

func (s *Scan) take() bool {
	if s.budget <= 0 {
		return false
	}
	s.budget--
	return true
}

// attempt 同一扫描内每个 token 只识别一次
func (s *Scan) attempt(tok string) bool {
	if _, ok := s.tried[tok]; ok {
		return false
	}
	s.tried[tok] = struct{}{}
	return true
}

// Budget 剩余识别次数
func (s *Scan) Budget() int {
	return s.budget
}

// Token 解析单个引用；cardish 为 true 时查表失败后允许模板识别
func (s *Scan) Token(ctx context.Context, raw string, cardish bool) Result {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}
	}
	r := s.p.Lookup(raw)
	if !r.OK && cardish {
		r = s.p.recognize(ctx, raw, s)
	}
	if r.OK {
		s.add(r.Card)
	}
	return r
}

// Attr 解析属性值的全部候选: 原值，srcset 的每一项，或 src 类属性的 URL 路径
func (s *Scan) Attr(ctx context.Context, attr, value string, cardish bool) []Result {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	base := s.p.store.Asset().Origin
	cands := token.Candidates(attr, value, base)
	out := make([]Result, 0, len(cands))
	for i, c := range cands {
		// 原值不是图像地址时不做识别
		allowOCR := (cardish || IsCardish(c, "")) && (i > 0 || token.IsAbsoluteURL(c) || strings.HasPrefix(c, "/"))
		out = append(out, s.Token(ctx, c, allowOCR))
	}
	return out
}

// Found 本次扫描识别出的牌，按首次出现顺序
func (s *Scan) Found() []card.Card {
	return append([]card.Card(nil), s.found...)
}

func (s *Scan) add(c card.Card) {
	if _, ok := s.seen[c]; ok {
		return
	}
	s.seen[c] = struct{}{}
	s.found = append(s.found, c)
}
