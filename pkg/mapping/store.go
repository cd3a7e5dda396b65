// Package mapping 维护学习得到的 token -> 牌 映射表及其派生状态
package mapping

import (
	"sort"
	"sync"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/token"
)

// Field 发生变化的持久化字段
type Field uint8

const (
	FieldTable Field = 1 << iota
	FieldSamples
	FieldConfig
	FieldAsset
	FieldImages
)

// Has 是否包含某字段
func (f Field) Has(other Field) bool {
	return f&other != 0
}

// ChangeFunc 变更回调，在锁外调用
type ChangeFunc func(changed Field)

// Snapshot 映射表及派生状态的完整副本
type Snapshot struct {
	Table   map[string]card.Card
	Samples deck.Samples
	Config  *deck.Config
	Asset   deck.Asset
	Images  map[card.Card]string
}

// Store 映射表
//
// 显式校准的条目具有最高优先级，OCR 学习永远不会覆盖已有条目。
type Store struct {
	mu       sync.RWMutex
	table    map[string]card.Card
	samples  deck.Samples
	config   *deck.Config
	asset    deck.Asset
	images   map[card.Card]string
	onChange ChangeFunc
}

// New 创建空映射表
func New() *Store {
	return &Store{
		table:   make(map[string]card.Card),
		samples: deck.Samples{},
		images:  make(map[card.Card]string),
	}
}

// SetChangeFunc 设置变更回调
func (s *Store) SetChangeFunc(fn ChangeFunc) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Store) notify(changed Field) {
	if changed == 0 {
		return
	}
	s.mu.RLock()
	fn := s.onChange
	s.mu.RUnlock()
	if fn != nil {
		fn(changed)
	}
}

// Lookup 按顺序查找候选键，第一个命中者胜出
func (s *Store) Lookup(keys []string) (card.Card, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range keys {
		if c, ok := s.table[k]; ok && c.Valid() {
			return c, k, true
		}
	}
	return card.Card{}, "", false
}

// Get 查找单个键
func (s *Store) Get(key string) (card.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.table[key]
	return c, ok
}

// Len 映射条目数
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.table)
}

// Keys 已排序的键
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.table))
	for k := range s.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Learn 写入自动识别结果，仅当键尚不存在时生效
func (s *Store) Learn(key string, c card.Card) bool {
	if key == "" || !c.Valid() {
		return false
	}
	s.mu.Lock()
	if _, exists := s.table[key]; exists {
		s.mu.Unlock()
		return false
	}
	s.table[key] = c
	changed := FieldTable | s.syncDerivedLocked()
	s.mu.Unlock()

	s.notify(changed)
	return true
}

// Calibrate 用户显式校准：写入该 token 的全部校准键并覆盖旧值
func (s *Store) Calibrate(tok string, c card.Card) []string {
	keys := token.CalibrationKeys(tok)
	if len(keys) == 0 || !c.Valid() {
		return nil
	}
	s.mu.Lock()
	for _, k := range keys {
		s.table[k] = c
	}
	changed := FieldTable
	if idx, ok := deck.ParseIndex(tok); ok && s.samples.Add(idx, c) {
		changed |= FieldSamples
		if s.refreshConfigLocked() {
			changed |= FieldConfig
		}
	}
	changed |= s.syncDerivedLocked()
	changed = s.syncImagesLocked(changed)
	s.mu.Unlock()

	s.notify(changed)
	return keys
}

// Merge 批量合并条目；overwrite 为 false 时保留已有条目，返回写入数量
func (s *Store) Merge(entries map[string]card.Card, overwrite bool) int {
	s.mu.Lock()
	n := 0
	for k, c := range entries {
		if k == "" || !c.Valid() {
			continue
		}
		if cur, exists := s.table[k]; exists && (!overwrite || cur == c) {
			continue
		}
		s.table[k] = c
		n++
	}
	var changed Field
	if n > 0 {
		changed = FieldTable | s.syncDerivedLocked()
	}
	s.mu.Unlock()

	s.notify(changed)
	return n
}

// syncDerivedLocked 映射表变化后同步样本、配置、素材位置和牌面图缓存
func (s *Store) syncDerivedLocked() Field {
	var changed Field
	if s.mergeSamplesFromTableLocked() {
		changed |= FieldSamples
		if s.refreshConfigLocked() {
			changed |= FieldConfig
		}
	}
	if next, ok := deck.InferAsset(s.asset, s.keysLocked()); ok {
		s.asset = next
		changed |= FieldAsset
	}
	if s.mergeImagesFromTableLocked(false) {
		changed |= FieldImages
	}
	return s.syncImagesLocked(changed)
}

func (s *Store) keysLocked() []string {
	out := make([]string, 0, len(s.table))
	for k := range s.table {
		out = append(out, k)
	}
	return out
}

// mergeSamplesFromTableLocked 从带序号的键中收集样本，冲突的序号跳过
func (s *Store) mergeSamplesFromTableLocked() bool {
	changed := false
	keys := s.keysLocked()
	sort.Strings(keys)
	for _, k := range keys {
		idx, ok := deck.ParseIndex(k)
		if !ok {
			continue
		}
		if s.samples.Add(idx, s.table[k]) {
			changed = true
		}
	}
	return changed
}

// refreshConfigLocked 重新推断配置，仅在结果不同时替换
func (s *Store) refreshConfigLocked() bool {
	inferred, ok := deck.Infer(s.samples)
	if !ok {
		return false
	}
	if s.config.Equal(inferred) {
		return false
	}
	s.config = inferred
	return true
}

// RefreshConfig 重新推断配置
func (s *Store) RefreshConfig() bool {
	s.mu.Lock()
	changed := s.refreshConfigLocked()
	s.mu.Unlock()
	if changed {
		s.notify(FieldConfig)
	}
	return changed
}

// AddSample 直接加入一个样本
func (s *Store) AddSample(index int, c card.Card) bool {
	s.mu.Lock()
	if !s.samples.Add(index, c) {
		s.mu.Unlock()
		return false
	}
	changed := FieldSamples
	if s.refreshConfigLocked() {
		changed = s.syncImagesLocked(changed | FieldConfig)
	}
	s.mu.Unlock()
	s.notify(changed)
	return true
}

// Config 当前配置的副本，未推断出时返回 nil
func (s *Store) Config() *deck.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil
	}
	cfg := *s.config
	return &cfg
}

// Samples 样本副本
func (s *Store) Samples() deck.Samples {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples.Clone()
}

// Asset 素材位置
func (s *Store) Asset() deck.Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asset
}

// SetAsset 更新素材位置，只填充尚未知道的字段
func (s *Store) SetAsset(a deck.Asset) bool {
	s.mu.Lock()
	next := s.asset
	if next.Origin == "" {
		next.Origin = a.Origin
	}
	if next.BasePath == "" {
		next.BasePath = a.BasePath
	}
	if a.Ext != "" && (next.Ext == "" || next.Ext == deck.DefaultExt) {
		next.Ext = a.Ext
	}
	if next == s.asset {
		s.mu.Unlock()
		return false
	}
	s.asset = next
	changed := FieldAsset
	if s.mergeImagesFromSamplesLocked(false) || s.ensureImagesFromConfigLocked() {
		changed |= FieldImages
	}
	s.mu.Unlock()
	s.notify(changed)
	return true
}

// AutoCalibrate 已知排列的素材且映射不足 32 条时，补全映射并用已知样本替换样本集
func (s *Store) AutoCalibrate() bool {
	s.mu.Lock()
	if s.asset.BasePath == "" || len(s.table) >= card.DeckSize {
		s.mu.Unlock()
		return false
	}
	for k, c := range deck.BuildAutoMap(s.asset.BasePath, s.asset.Ext) {
		if _, exists := s.table[k]; !exists {
			s.table[k] = c
		}
	}
	s.samples = deck.KnownSamples()
	changed := FieldTable | FieldSamples
	if s.refreshConfigLocked() {
		changed |= FieldConfig
	}
	if s.mergeImagesFromTableLocked(false) {
		changed |= FieldImages
	}
	s.mu.Unlock()
	s.notify(changed)
	return true
}

// Clear 清空映射表、样本、配置和牌面图缓存，保留素材位置
func (s *Store) Clear() {
	s.mu.Lock()
	s.table = make(map[string]card.Card)
	s.samples = deck.Samples{}
	s.config = nil
	s.images = make(map[card.Card]string)
	s.mu.Unlock()
	s.notify(FieldTable | FieldSamples | FieldConfig | FieldImages)
}

// Snapshot 完整副本
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{
		Table:   make(map[string]card.Card, len(s.table)),
		Samples: s.samples.Clone(),
		Asset:   s.asset,
		Images:  make(map[card.Card]string, len(s.images)),
	}
	for k, v := range s.table {
		out.Table[k] = v
	}
	for k, v := range s.images {
		out.Images[k] = v
	}
	if s.config != nil {
		cfg := *s.config
		out.Config = &cfg
	}
	return out
}

// Restore 用快照整体替换状态，非法条目丢弃
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	s.table = make(map[string]card.Card, len(snap.Table))
	for k, v := range snap.Table {
		if k != "" && v.Valid() {
			s.table[k] = v
		}
	}
	s.samples = deck.Samples{}
	for k, v := range snap.Samples {
		s.samples.Add(k, v)
	}
	s.config = nil
	if snap.Config != nil {
		cfg := *snap.Config
		s.config = &cfg
	}
	s.asset = snap.Asset
	s.images = make(map[card.Card]string, len(snap.Images))
	for k, v := range snap.Images {
		if k.Valid() && v != "" {
			s.images[k] = v
		}
	}
	s.mu.Unlock()
	s.notify(FieldTable | FieldSamples | FieldConfig | FieldAsset | FieldImages)
}
