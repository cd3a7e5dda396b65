// Package engine 协调扫描会话、计数器、映射表与持久化
package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/mapping"
	"github.com/zoeyai/belottracker/pkg/resolver"
	"github.com/zoeyai/belottracker/pkg/session"
	"github.com/zoeyai/belottracker/pkg/store"
	"github.com/zoeyai/belottracker/pkg/tracker"
)

// persistTimeout 单次持久化的超时
const persistTimeout = 5 * time.Second

// Publisher 向外部观察者广播事件
type Publisher interface {
	PublishCards(cards []card.Card)
	PublishRoundEnd()
	PublishSessionEnd()
}

// Option 引擎选项
type Option func(*Engine)

// WithPublisher 设置事件广播
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.pub = p
	}
}

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine 后台协调器，实现 session.Emitter
type Engine struct {
	kv      store.KV
	pipe    *resolver.Pipeline
	store   *mapping.Store
	tracker *tracker.Tracker
	pub     Publisher
	now     func() time.Time
	log     *logger.Logger

	mu        sync.Mutex
	session   *session.Session
	lastDebug *session.DebugInfo
	selector  string

	persistMu sync.Mutex
	changes   chan store.Change
}

// New 创建引擎
func New(kv store.KV, pipe *resolver.Pipeline, opts ...Option) *Engine {
	e := &Engine{
		kv:       kv,
		pipe:     pipe,
		store:    pipe.Store(),
		tracker:  tracker.New(true),
		now:      time.Now,
		log:      logger.Named("engine"),
		selector: tracker.FixedSelector,
		changes:  make(chan store.Change, 16),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Tracker 计数器
func (e *Engine) Tracker() *tracker.Tracker {
	return e.tracker
}

// Pipeline 解析流水线
func (e *Engine) Pipeline() *resolver.Pipeline {
	return e.pipe
}

// Attach 绑定扫描会话
func (e *Engine) Attach(s *session.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = s
}

func (e *Engine) currentSession() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Load 从存储恢复状态并开始跟踪映射表变化
func (e *Engine) Load(ctx context.Context) error {
	st, err := tracker.LoadState(ctx, e.kv)
	if err != nil {
		e.log.Warn("读取状态失败，使用默认值: %v", err)
	}
	e.apply(st)
	e.store.SetChangeFunc(e.onMappingChange)
	e.log.Info("状态已加载: 已出现 %d 张, 映射 %d 条", len(st.Seen), e.store.Len())
	return err
}

// apply 用完整状态替换内存状态
func (e *Engine) apply(st *tracker.State) {
	e.tracker.SetPreventDuplicates(st.PreventDuplicates)
	e.tracker.SetSeen(st.Seen)
	e.tracker.SetTrump(parseSuit(st.TrumpSuit))
	e.mu.Lock()
	e.selector = st.AutoReadSelector
	e.mu.Unlock()
	e.store.Restore(mapping.Snapshot{
		Table:   st.AutoReadMap,
		Samples: st.DeckIndexSamples,
		Config:  st.DeckIndexConfig,
		Asset:   st.Asset(),
		Images:  st.CardImageByID,
	})
}

// State 当前内存状态
func (e *Engine) State() *tracker.State {
	st := tracker.DefaultState()
	st.Seen = e.tracker.Seen()
	st.PreventDuplicates = e.tracker.PreventDuplicates()
	if s := e.tracker.Trump(); s.Valid() {
		st.TrumpSuit = s.Code()
	}
	e.mu.Lock()
	st.AutoReadSelector = e.selector
	e.mu.Unlock()
	snap := e.store.Snapshot()
	st.AutoReadMap = snap.Table
	st.DeckIndexSamples = snap.Samples
	st.DeckIndexConfig = snap.Config
	st.SetAsset(snap.Asset)
	st.CardImageByID = snap.Images
	return st
}

// Run 处理外部存储变更直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	cancel := e.kv.Watch(func(c store.Change) {
		select {
		case e.changes <- c:
		default:
			e.log.Debug("存储变更队列已满，丢弃: %v", c.Keys)
		}
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-e.changes:
			e.handleChange(ctx, c)
		}
	}
}

// handleChange 对比存储与内存，只应用外部写入造成的差异
func (e *Engine) handleChange(ctx context.Context, c store.Change) {
	st, err := tracker.LoadState(ctx, e.kv)
	if err != nil {
		e.log.Warn("读取变更失败: %v", err)
		return
	}
	cur := e.State()

	if c.Has(tracker.KeyPreventDuplicates) && st.PreventDuplicates != cur.PreventDuplicates {
		e.tracker.SetPreventDuplicates(st.PreventDuplicates)
	}
	if c.Has(tracker.KeyTrumpSuit) && st.TrumpSuit != cur.TrumpSuit {
		e.tracker.SetTrump(parseSuit(st.TrumpSuit))
	}
	if c.Has(tracker.KeySeen) && !sameCards(st.Seen, cur.Seen) {
		e.log.Info("已出现列表被外部修改: %d 张", len(st.Seen))
		e.tracker.SetSeen(st.Seen)
		if card.UniqueCount(st.Seen) >= card.DeckSize {
			e.endRound("外部写满 32 张")
		}
	}

	mappingChanged := false
	for _, k := range tracker.MappingKeys {
		if c.Has(k) {
			mappingChanged = true
			break
		}
	}
	if !mappingChanged {
		return
	}
	stored, err1 := st.Encode(tracker.MappingKeys...)
	mem, err2 := cur.Encode(tracker.MappingKeys...)
	if err1 != nil || err2 != nil {
		return
	}
	for _, k := range tracker.MappingKeys {
		if !bytes.Equal(stored[k], mem[k]) {
			e.log.Info("映射表被外部修改，重新加载")
			e.store.Restore(mapping.Snapshot{
				Table:   st.AutoReadMap,
				Samples: st.DeckIndexSamples,
				Config:  st.DeckIndexConfig,
				Asset:   st.Asset(),
				Images:  st.CardImageByID,
			})
			return
		}
	}
}

// Cards 会话上报新出现的牌
func (e *Engine) Cards(cards []card.Card) {
	added, reset := e.tracker.Add(cards)
	if len(added) == 0 {
		return
	}
	if e.pub != nil {
		e.pub.PublishCards(added)
	}
	if reset {
		e.endRound("已出现 32 张不同的牌")
		return
	}
	logger.LogEvent("SEEN", true, 0, fmt.Sprintf("+%v", card.IDs(added)))
	e.persist(tracker.KeySeen)
}

// RoundEnd 一局结束
func (e *Engine) RoundEnd() {
	if e.pub != nil {
		e.pub.PublishRoundEnd()
	}
	e.endRound("一局结束")
}

// SessionEnd 会话结束
func (e *Engine) SessionEnd() {
	if e.pub != nil {
		e.pub.PublishSessionEnd()
	}
	e.endRound("会话结束")
}

// Reset 手动清空已出现列表与将牌
func (e *Engine) Reset() {
	e.endRound("手动重置")
}

// endRound 清空已出现列表与将牌，并让会话等待牌桌清空
func (e *Engine) endRound(reason string) {
	e.tracker.ClearRound()
	e.log.Info("清空已出现列表: %s", reason)
	e.persist(tracker.KeySeen, tracker.KeyTrumpSuit)
	if s := e.currentSession(); s != nil {
		s.Reset(true)
	}
}

// Debug 会话诊断信息；带素材位置时补全并尝试自动校准
func (e *Engine) Debug(info session.DebugInfo) {
	e.mu.Lock()
	cp := info
	e.lastDebug = &cp
	e.mu.Unlock()

	if info.Asset == nil {
		return
	}
	if e.store.SetAsset(*info.Asset) {
		e.log.Info("发现素材位置: %s%s (.%s)", info.Asset.Origin, info.Asset.BasePath, info.Asset.Ext)
		if e.store.AutoCalibrate() {
			logger.LogEvent("INFER", true, 0, "按已知排列补全映射表")
		}
	}
}

// LastDebug 最近一次诊断信息
func (e *Engine) LastDebug() *session.DebugInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastDebug == nil {
		return nil
	}
	cp := *e.lastDebug
	return &cp
}

// SetTrump 设置将牌花色
func (e *Engine) SetTrump(s card.Suit) {
	e.tracker.SetTrump(s)
	e.persist(tracker.KeyTrumpSuit)
}

// SetPreventDuplicates 设置去重
func (e *Engine) SetPreventDuplicates(v bool) {
	e.tracker.SetPreventDuplicates(v)
	e.persist(tracker.KeyPreventDuplicates)
}

// onMappingChange 映射表变化时持久化对应的键
func (e *Engine) onMappingChange(changed mapping.Field) {
	var keys []string
	if changed.Has(mapping.FieldTable) {
		keys = append(keys, tracker.KeyAutoReadMap)
	}
	if changed.Has(mapping.FieldSamples) {
		keys = append(keys, tracker.KeyDeckIndexSamples)
	}
	if changed.Has(mapping.FieldConfig) {
		keys = append(keys, tracker.KeyDeckIndexConfig)
	}
	if changed.Has(mapping.FieldAsset) {
		keys = append(keys, tracker.KeyDeckAssetOrigin, tracker.KeyDeckAssetBasePath, tracker.KeyDeckAssetExt)
	}
	if changed.Has(mapping.FieldImages) {
		keys = append(keys, tracker.KeyCardImageByID)
	}
	e.persist(keys...)
}

// persist 写入指定的键；失败只记录日志，内存状态仍然有效
func (e *Engine) persist(keys ...string) {
	if len(keys) == 0 {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := tracker.SaveState(ctx, e.kv, e.State(), keys...); err != nil {
		e.log.Warn("持久化 %v 失败: %v", keys, err)
	}
}

func parseSuit(code string) card.Suit {
	s, err := card.ParseSuit(code)
	if err != nil {
		return card.SuitNone
	}
	return s
}

func sameCards(a, b []card.Card) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Asset 当前素材位置
func (e *Engine) Asset() deck.Asset {
	return e.store.Asset()
}
