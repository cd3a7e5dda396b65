// Package session 周期性观察页面并上报新出现的牌
package session

import (
	"context"
	"net/url"
	"regexp"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/resolver"
)

var knownDeckToken = regexp.MustCompile(`(?i)(?:^|/)deck_1/\d+\.(?:png|jpe?g|webp|svg)$`)

// Policy 扫描节奏与会话结束判定
type Policy struct {
	// Debounce 两次扫描的最小间隔
	Debounce time.Duration
	// Interval 周期扫描间隔
	Interval time.Duration
	// RootLostAfter 牌桌消失多久后判定会话结束
	RootLostAfter time.Duration
	// IdleAfter 牌桌空置多久后判定会话结束
	IdleAfter time.Duration
	// DebugEvery 诊断信息的最小间隔
	DebugEvery time.Duration
}

// DefaultPolicy 默认节奏
func DefaultPolicy() Policy {
	return Policy{
		Debounce:      250 * time.Millisecond,
		Interval:      time.Second,
		RootLostAfter: 6 * time.Second,
		IdleAfter:     120 * time.Second,
		DebugEvery:    950 * time.Millisecond,
	}
}

// Option 会话选项
type Option func(*Session)

// WithPolicy 替换节奏
func WithPolicy(p Policy) Option {
	return func(s *Session) {
		s.policy = p
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session 扫描会话
//
// 会话持有已上报集合、暂停标记和各类时间戳；扫描请求经过单一队列合并，
// 由 Run 按节奏取出执行。
type Session struct {
	page   Page
	pipe   *resolver.Pipeline
	emit   Emitter
	policy Policy
	now    func() time.Time
	log    *logger.Logger

	mu               sync.Mutex
	reported         map[card.Card]struct{}
	pauseUntilNoCard bool
	overlaySeen      bool
	hadCardsEver     bool
	sessionEndSent   bool
	lastScanAt       time.Time
	lastRootFoundAt  time.Time
	lastCardsSeenAt  time.Time
	lastDebugAt      time.Time
	running          bool

	trigger chan struct{}
}

// New 创建扫描会话
func New(page Page, pipe *resolver.Pipeline, emit Emitter, opts ...Option) *Session {
	s := &Session{
		page:     page,
		pipe:     pipe,
		emit:     emit,
		policy:   DefaultPolicy(),
		now:      time.Now,
		log:      logger.Named("session"),
		reported: make(map[card.Card]struct{}),
		trigger:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger 请求一次扫描，未处理的请求会被合并
func (s *Session) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Running 会话循环是否在运行
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run 运行扫描循环直到 ctx 取消
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	limiter := rate.NewLimiter(rate.Every(s.policy.Debounce), 1)
	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	s.log.Info("扫描会话启动 (间隔 %v)", s.policy.Interval)
	s.Trigger()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("扫描会话停止")
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
		}
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if err := s.ScanNow(ctx); err != nil {
			s.log.Debug("扫描失败: %v", err)
		}
	}
}

// Reset 清空已上报集合；pauseUntilNoCards 为 true 时等牌桌清空后再继续上报
func (s *Session) Reset(pauseUntilNoCards bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = make(map[card.Card]struct{})
	s.lastScanAt = time.Time{}
	if pauseUntilNoCards {
		s.pauseUntilNoCard = true
	}
}

// Paused 是否在等待牌桌清空
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseUntilNoCard
}

// Reported 已上报的牌
func (s *Session) Reported() []card.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]card.Card, 0, len(s.reported))
	for c := range s.reported {
		out = append(out, c)
	}
	card.Sort(out)
	return out
}

// ScanNow 执行一次扫描
func (s *Session) ScanNow(ctx context.Context) error {
	now := s.now()
	s.mu.Lock()
	if !s.lastScanAt.IsZero() && now.Sub(s.lastScanAt) < s.policy.Debounce {
		s.mu.Unlock()
		return nil
	}
	s.lastScanAt = now
	s.mu.Unlock()

	snap, err := s.page.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &Snapshot{}
	}

	root := snap.RootFound
	hasCards := snap.HasCards()
	overlay := snap.OverlayVisible

	var events []func()
	s.mu.Lock()
	if overlay && !s.overlaySeen {
		s.overlaySeen = true
		s.pauseUntilNoCard = true
		s.reported = make(map[card.Card]struct{})
		events = append(events, s.emit.RoundEnd)
	} else if !overlay && s.overlaySeen {
		s.overlaySeen = false
	}

	if root {
		s.lastRootFoundAt = now
	}
	if hasCards {
		s.hadCardsEver = true
		s.lastCardsSeenAt = now
		s.sessionEndSent = false
	}

	// 牌桌消失 (页面跳转或游戏结束)
	if !root && s.hadCardsEver && !s.sessionEndSent && now.Sub(s.lastRootFoundAt) > s.policy.RootLostAfter {
		s.endSessionLocked()
		events = append(events, s.emit.SessionEnd)
	}
	// 牌桌长时间为空
	if root && !hasCards && s.hadCardsEver && !s.pauseUntilNoCard && !s.sessionEndSent && !overlay &&
		now.Sub(s.lastCardsSeenAt) > s.policy.IdleAfter {
		s.endSessionLocked()
		events = append(events, s.emit.SessionEnd)
	}

	// 自动重置后等牌桌清空再开始
	if s.pauseUntilNoCard {
		if !hasCards {
			s.pauseUntilNoCard = false
			s.reported = make(map[card.Card]struct{})
			s.lastScanAt = time.Time{}
		}
		s.mu.Unlock()
		fire(events)
		return nil
	}

	if !root || !hasCards {
		var info *DebugInfo
		if s.debugDueLocked(now) {
			info = s.debugInfo(snap, hasCards, s.pauseUntilNoCard, nil, nil)
		}
		s.mu.Unlock()
		fire(events)
		if info != nil {
			s.emit.Debug(*info)
		}
		return nil
	}
	s.mu.Unlock()
	fire(events)

	found := s.resolve(ctx, snap)

	s.mu.Lock()
	var fresh []card.Card
	for _, c := range found {
		if _, ok := s.reported[c]; ok {
			continue
		}
		s.reported[c] = struct{}{}
		fresh = append(fresh, c)
	}
	debugDue := s.debugDueLocked(now)
	paused := s.pauseUntilNoCard
	s.mu.Unlock()

	if len(fresh) > 0 {
		s.log.Debug("新出现 %d 张牌: %v", len(fresh), card.IDs(fresh))
		s.emit.Cards(fresh)
	}
	if debugDue {
		s.emit.Debug(*s.debugInfo(snap, hasCards, paused, found, fresh))
	}
	return nil
}

func (s *Session) endSessionLocked() {
	s.sessionEndSent = true
	s.hadCardsEver = false
	s.pauseUntilNoCard = true
	s.reported = make(map[card.Card]struct{})
}

func (s *Session) debugDueLocked(now time.Time) bool {
	if !s.lastDebugAt.IsZero() && now.Sub(s.lastDebugAt) < s.policy.DebugEvery {
		return false
	}
	s.lastDebugAt = now
	return true
}

// resolve 依次解析根节点属性、牌面图地址和带属性的元素
func (s *Session) resolve(ctx context.Context, snap *Snapshot) []card.Card {
	scan := s.pipe.NewScan()
	for _, a := range Attrs {
		if v := snap.RootAttrs[a]; v != "" {
			scan.Attr(ctx, a, v, false)
		}
	}
	if snap.RootIsImage && len(snap.Images) > 0 {
		img := snap.Images[0]
		scan.Attr(ctx, "src", img.Source(), resolver.IsCardish(img.Source(), img.Class))
	}
	for _, img := range snap.CardImages() {
		cardish := resolver.IsCardish(img.Source(), img.Class)
		scan.Attr(ctx, "src", img.CurrentSrc, cardish)
		scan.Attr(ctx, "src", img.Src, cardish)
		scan.Attr(ctx, "srcset", img.SrcSet, false)
		scan.Attr(ctx, "data-src", img.DataSrc, false)
		scan.Attr(ctx, "data-srcset", img.DataSrcSet, false)
	}
	for _, node := range snap.Nodes {
		for _, a := range Attrs {
			if v := node[a]; v != "" {
				scan.Attr(ctx, a, v, false)
			}
		}
	}
	return scan.Found()
}

func (s *Session) debugInfo(snap *Snapshot, hasCards, paused bool, found, fresh []card.Card) *DebugInfo {
	imgs := snap.CardImages()
	tokens := snap.Tokens(6)
	info := &DebugInfo{
		SelectorFound:  snap.RootFound,
		HasCards:       hasCards,
		Paused:         paused,
		OverlayVisible: snap.OverlayVisible,
		ImgCount:       len(imgs),
		Tokens:         tokens,
		Found:          found,
		New:            fresh,
		MapKeys:        s.pipe.Store().Len(),
	}
	hasKnown := false
	for _, t := range tokens {
		if !s.pipe.Lookup(t).OK {
			info.Unmapped = append(info.Unmapped, t)
		}
		if knownDeckToken.MatchString(t) {
			hasKnown = true
		}
	}
	if len(info.Unmapped) > 8 {
		info.Unmapped = info.Unmapped[:8]
	}
	if info.MapKeys == 0 && hasKnown {
		info.MapKeys = card.DeckSize
	}
	if a, ok := snap.DeckAsset(); ok {
		info.Asset = &a
	}
	return info
}

func fire(events []func()) {
	for _, fn := range events {
		fn()
	}
}

func resolveAgainst(ref, base string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	return b.ResolveReference(r).String(), true
}
