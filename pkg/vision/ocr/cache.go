package ocr

import (
	"sync"
	"time"

	"github.com/zoeyai/belottracker/pkg/card"
)

// EntryState 缓存条目状态
type EntryState int

const (
	StatePending EntryState = iota + 1
	StateConfirmed
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "none"
	}
}

// Entry 单个 token 的识别状态
type Entry struct {
	State EntryState
	Card  card.Card
	Hits  int
	Score float64
	At    time.Time
}

// Decision 一次识别结果经过策略后的结论
type Decision struct {
	Card     card.Card
	Score    float64
	Delta    float64
	Hits     int
	Accepted bool
}

// Cache 按 token 记录识别进度
//
// 失败条目在 FailTTL 内抑制重试，过期在下次查询时惰性清除。
type Cache struct {
	mu      sync.Mutex
	policy  Policy
	entries map[string]Entry
}

// NewCache 创建缓存
func NewCache(policy Policy) *Cache {
	return &Cache{
		policy:  policy,
		entries: make(map[string]Entry),
	}
}

// SetPolicy 更换确认策略
func (c *Cache) SetPolicy(policy Policy) {
	c.mu.Lock()
	c.policy = policy
	c.mu.Unlock()
}

// Lookup 查询 token 的状态，过期的失败条目视为不存在
func (c *Cache) Lookup(tok string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[tok]
	if !ok {
		return Entry{}, false
	}
	if e.State == StateFailed && now.Sub(e.At) >= c.policy.FailTTL {
		delete(c.entries, tok)
		return Entry{}, false
	}
	return e, true
}

// Observe 记录一次识别结果
//
// 与待确认的牌相同则命中数加一，否则重置为 1；满足策略时转为已确认。
func (c *Cache) Observe(tok string, cand Candidate, now time.Time) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := 1
	if prev, ok := c.entries[tok]; ok && prev.State == StatePending && prev.Card == cand.Card {
		hits = prev.Hits + 1
	}
	d := Decision{
		Card:     cand.Card,
		Score:    cand.Score,
		Delta:    cand.Delta,
		Hits:     hits,
		Accepted: cand.Card.Valid() && c.policy.Accept(cand.Score, cand.Delta, hits),
	}
	if d.Accepted {
		c.entries[tok] = Entry{State: StateConfirmed, Card: cand.Card, Score: cand.Score, At: now}
	} else {
		c.entries[tok] = Entry{State: StatePending, Card: cand.Card, Hits: hits, Score: cand.Score, At: now}
	}
	return d
}

// Fail 记录识别失败
func (c *Cache) Fail(tok string, now time.Time) {
	c.mu.Lock()
	c.entries[tok] = Entry{State: StateFailed, At: now}
	c.mu.Unlock()
}

// Forget 删除 token 的状态
func (c *Cache) Forget(tok string) {
	c.mu.Lock()
	delete(c.entries, tok)
	c.mu.Unlock()
}

// Clear 清空缓存
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Len 条目数
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
