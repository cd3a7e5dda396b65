package mapping

import (
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
)

// mergeImagesFromTableLocked 用映射表中的 token 填充牌面图缓存
func (s *Store) mergeImagesFromTableLocked(force bool) bool {
	next := s.imagesBase(force)
	changed := false
	for _, k := range sortedKeys(s.table) {
		c := s.table[k]
		if !c.Valid() {
			continue
		}
		if _, ok := next[c]; ok && !force {
			continue
		}
		u, ok := s.asset.Resolve(k)
		if !ok {
			continue
		}
		next[c] = u
		changed = true
	}
	if changed {
		s.images = next
	}
	return changed
}

// mergeImagesFromSamplesLocked 用样本序号合成牌面图地址
func (s *Store) mergeImagesFromSamplesLocked(force bool) bool {
	if s.asset.Origin == "" || s.asset.BasePath == "" {
		return false
	}
	next := s.imagesBase(force)
	changed := false
	for _, idx := range s.samples.Indices() {
		c := s.samples[idx]
		if _, ok := next[c]; ok && !force {
			continue
		}
		u, ok := s.asset.Resolve(s.asset.TokenFor(idx))
		if !ok {
			continue
		}
		next[c] = u
		changed = true
	}
	if changed {
		s.images = next
	}
	return changed
}

// ensureImagesFromConfigLocked 按序号配置合成牌面图地址
//
// 配置完整时每张牌都以配置反算的序号为准；没有配置也没有样本时按已知排列补全缺失的牌。
func (s *Store) ensureImagesFromConfigLocked() bool {
	if s.asset.Origin == "" || s.asset.BasePath == "" {
		return false
	}
	if s.config.Complete() {
		changed := false
		for _, c := range card.All() {
			idx, ok := s.config.Reverse(c)
			if !ok {
				continue
			}
			u, ok := s.asset.Resolve(s.asset.TokenFor(idx))
			if !ok || s.images[c] == u {
				continue
			}
			s.images[c] = u
			changed = true
		}
		return changed
	}
	if len(s.samples) > 0 {
		return false
	}
	changed := false
	for _, c := range card.All() {
		if _, ok := s.images[c]; ok {
			continue
		}
		idx, ok := deck.KnownIndex(c)
		if !ok {
			continue
		}
		u, ok := s.asset.Resolve(s.asset.TokenFor(idx))
		if !ok {
			continue
		}
		s.images[c] = u
		changed = true
	}
	return changed
}

// syncImagesLocked 配置或素材位置变化后重新合成牌面图
func (s *Store) syncImagesLocked(changed Field) Field {
	if changed.Has(FieldConfig|FieldAsset) && s.ensureImagesFromConfigLocked() {
		changed |= FieldImages
	}
	return changed
}

func (s *Store) imagesBase(force bool) map[card.Card]string {
	next := make(map[card.Card]string, len(s.images))
	if force {
		return next
	}
	for k, v := range s.images {
		next[k] = v
	}
	return next
}

// RebuildImages 重建牌面图缓存：映射表、样本、序号配置依次补全
func (s *Store) RebuildImages(force bool) {
	s.mu.Lock()
	changed := s.mergeImagesFromTableLocked(force)
	if s.mergeImagesFromSamplesLocked(false) {
		changed = true
	}
	if s.ensureImagesFromConfigLocked() {
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify(FieldImages)
	}
}

// SetImages 合并外部得到的牌面图地址 (例如批量识别结果)
func (s *Store) SetImages(images map[card.Card]string) {
	s.mu.Lock()
	changed := false
	for c, u := range images {
		if !c.Valid() || u == "" || s.images[c] == u {
			continue
		}
		s.images[c] = u
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.notify(FieldImages)
	}
}

// Images 牌面图缓存副本
func (s *Store) Images() map[card.Card]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[card.Card]string, len(s.images))
	for k, v := range s.images {
		out[k] = v
	}
	return out
}

// ImageTokens 为每张牌选择最合适的展示 token
//
// 缓存中的地址优先，其次是映射表里评分最高的 deck token，最后按序号配置或已知排列合成。
func (s *Store) ImageTokens() map[card.Card]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		token string
		score int
	}
	best := make(map[card.Card]scored, card.DeckSize)
	for c, u := range s.images {
		if c.Valid() && u != "" {
			best[c] = scored{token: u, score: 100}
		}
	}
	for _, k := range sortedKeys(s.table) {
		c := s.table[k]
		if !c.Valid() || !deck.IsDeckToken(k) {
			continue
		}
		sc := deck.ScoreToken(k)
		if prev, ok := best[c]; !ok || sc > prev.score {
			best[c] = scored{token: k, score: sc}
		}
	}
	if s.asset.BasePath != "" {
		for _, c := range card.All() {
			if _, ok := best[c]; ok {
				continue
			}
			idx, ok := s.config.Reverse(c)
			if !s.config.Complete() || !ok {
				idx, ok = deck.KnownIndex(c)
			}
			if ok {
				best[c] = scored{token: s.asset.TokenFor(idx), score: 2}
			}
		}
	}

	out := make(map[card.Card]string, len(best))
	for c, b := range best {
		out[c] = b.token
	}
	return out
}
