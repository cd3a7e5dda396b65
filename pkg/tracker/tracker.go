// Package tracker 维护已出现的牌、剩余统计与将牌花色
package tracker

import (
	"strings"
	"sync"

	"github.com/zoeyai/belottracker/pkg/card"
)

// Remaining 剩余统计
type Remaining struct {
	// Total 尚未出现的牌数
	Total int `json:"total"`
	// BySuit 每种花色尚未出现的牌数
	BySuit map[string]int `json:"bySuit"`
}

// Tracker 已出现牌的计数器
type Tracker struct {
	mu                sync.Mutex
	seen              []card.Card
	preventDuplicates bool
	trump             card.Suit
}

// New 创建计数器
func New(preventDuplicates bool) *Tracker {
	return &Tracker{preventDuplicates: preventDuplicates}
}

// PreventDuplicates 是否去重
func (t *Tracker) PreventDuplicates() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preventDuplicates
}

// SetPreventDuplicates 设置去重
func (t *Tracker) SetPreventDuplicates(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.preventDuplicates = v
}

// Add 记录新出现的牌
//
// 返回实际追加的牌；不同的牌达到 32 张时清空已出现列表与将牌，reset 为 true。
func (t *Tracker) Add(cards []card.Card) (added []card.Card, reset bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	present := make(map[card.Card]struct{}, len(t.seen))
	for _, c := range t.seen {
		present[c] = struct{}{}
	}
	for _, c := range cards {
		if !c.Valid() {
			continue
		}
		if t.preventDuplicates {
			if _, ok := present[c]; ok {
				continue
			}
		}
		present[c] = struct{}{}
		added = append(added, c)
	}
	if len(added) == 0 {
		return nil, false
	}
	next := append(append([]card.Card(nil), t.seen...), added...)
	if card.UniqueCount(next) >= card.DeckSize {
		t.seen = nil
		t.trump = card.SuitNone
		return added, true
	}
	t.seen = next
	return added, false
}

// AddIDs 按 ID 记录，非法 ID 被忽略
func (t *Tracker) AddIDs(ids []string) ([]card.Card, bool) {
	return t.Add(card.FilterValid(ids))
}

// ClearRound 一局结束: 清空已出现列表与将牌
func (t *Tracker) ClearRound() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = nil
	t.trump = card.SuitNone
}

// Seen 已出现列表 (按出现顺序)
func (t *Tracker) Seen() []card.Card {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]card.Card(nil), t.seen...)
}

// SetSeen 整体替换已出现列表
func (t *Tracker) SetSeen(cards []card.Card) {
	t.mu.Lock()
	defer t.mu.Unlock()
	valid := make([]card.Card, 0, len(cards))
	for _, c := range cards {
		if c.Valid() {
			valid = append(valid, c)
		}
	}
	if t.preventDuplicates {
		valid = card.DedupePreserveOrder(valid)
	}
	t.seen = valid
}

// Counts 每张牌出现的次数
func (t *Tracker) Counts() map[card.Card]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[card.Card]int, len(t.seen))
	for _, c := range t.seen {
		out[c]++
	}
	return out
}

// Sorted 出现过的不同牌，按花色、点数排序
func (t *Tracker) Sorted() []card.Card {
	out := card.DedupePreserveOrder(t.Seen())
	card.Sort(out)
	return out
}

// Remaining 剩余统计
func (t *Tracker) Remaining() Remaining {
	uniq := t.Sorted()
	out := Remaining{Total: card.DeckSize - len(uniq), BySuit: make(map[string]int, len(card.Suits))}
	for _, s := range card.Suits {
		out.BySuit[s.Code()] = len(card.Ranks)
	}
	for _, c := range uniq {
		out.BySuit[c.Suit.Code()]--
	}
	return out
}

// Unseen 尚未出现的牌，按显示顺序
func (t *Tracker) Unseen() []card.Card {
	counts := t.Counts()
	var out []card.Card
	for _, c := range card.All() {
		if counts[c] == 0 {
			out = append(out, c)
		}
	}
	return out
}

// Search 在出现过的牌中按 ID、标签、花色名和别名搜索
func (t *Tracker) Search(query string) []card.Card {
	uniq := t.Sorted()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return uniq
	}
	var out []card.Card
	for _, c := range uniq {
		if strings.Contains(searchIndex(c), q) {
			out = append(out, c)
		}
	}
	return out
}

func searchIndex(c card.Card) string {
	parts := []string{c.ID(), c.Label(), c.Suit.Symbol(), c.Suit.Name()}
	parts = append(parts, c.Suit.Aliases()...)
	parts = append(parts, c.Rank.Code())
	return strings.ToLower(strings.Join(parts, " "))
}

// Trump 将牌花色，未设置时为 SuitNone
func (t *Tracker) Trump() card.Suit {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trump
}

// SetTrump 设置将牌花色，SuitNone 表示清除
func (t *Tracker) SetTrump(s card.Suit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !s.Valid() {
		s = card.SuitNone
	}
	t.trump = s
}
