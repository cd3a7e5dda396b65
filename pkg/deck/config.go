// Package deck 实现牌组精灵图序号与牌身份之间的换算及配置推断
package deck

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zoeyai/belottracker/pkg/card"
)

// ErrInvalidConfig 持久化的配置结构非法
var ErrInvalidConfig = errors.New("无效的牌组序号配置")

// Mode 主轴模式
type Mode string

const (
	// RankMajor 序号按点数分组，每组 4 种花色
	RankMajor Mode = "rankMajor"
	// SuitMajor 序号按花色分组，每组 8 种点数
	SuitMajor Mode = "suitMajor"
)

// Valid 是否为已知模式
func (m Mode) Valid() bool {
	return m == RankMajor || m == SuitMajor
}

// Config 序号换算配置
//
// 槽位为零值表示推断过程中尚未确定。完整配置在 [Base, Base+32) 与 32 张牌之间构成双射。
type Config struct {
	Mode      Mode
	Base      int
	SuitOrder [4]card.Suit
	RankOrder [8]card.Rank
}

// Complete 所有槽位均已填充
func (c *Config) Complete() bool {
	if c == nil || !c.Mode.Valid() || (c.Base != 0 && c.Base != 1) {
		return false
	}
	for _, s := range c.SuitOrder {
		if !s.Valid() {
			return false
		}
	}
	for _, r := range c.RankOrder {
		if !r.Valid() {
			return false
		}
	}
	return true
}

// Equal 模式、基数和两个顺序数组都相同
func (c *Config) Equal(other *Config) bool {
	if c == nil || other == nil {
		return c == other
	}
	return *c == *other
}

// positions 序号偏移量 -> (花色槽位, 点数槽位)
func positions(mode Mode, i int) (suitPos, rankPos int) {
	if mode == RankMajor {
		return i % 4, i / 4
	}
	return i / 8, i % 8
}

func (c *Config) base() int {
	if c.Base == 0 {
		return 0
	}
	return 1
}

// Forward 序号 -> 牌；越界或槽位为空时返回 false
func (c *Config) Forward(index int) (card.Card, bool) {
	if c == nil {
		return card.Card{}, false
	}
	i := index - c.base()
	if i < 0 || i >= card.DeckSize {
		return card.Card{}, false
	}
	suitPos, rankPos := positions(c.Mode, i)
	out := card.New(c.SuitOrder[suitPos], c.RankOrder[rankPos])
	if !out.Valid() {
		return card.Card{}, false
	}
	return out, true
}

// Reverse 牌 -> 序号，用于根据素材基础路径合成牌面 URL
func (c *Config) Reverse(cd card.Card) (int, bool) {
	if c == nil || !cd.Valid() {
		return 0, false
	}
	suitPos, rankPos := -1, -1
	for i, s := range c.SuitOrder {
		if s == cd.Suit {
			suitPos = i
			break
		}
	}
	for i, r := range c.RankOrder {
		if r == cd.Rank {
			rankPos = i
			break
		}
	}
	if suitPos < 0 || rankPos < 0 {
		return 0, false
	}
	if c.Mode == RankMajor {
		return c.base() + rankPos*4 + suitPos, true
	}
	return c.base() + suitPos*8 + rankPos, true
}

func (c *Config) String() string {
	if c == nil {
		return "<nil>"
	}
	return fmt.Sprintf("mode=%s base=%d suits=%v ranks=%v", c.Mode, c.Base, c.SuitOrder, c.RankOrder)
}

type configJSON struct {
	Mode      string    `json:"mode"`
	Base      *float64  `json:"base"`
	SuitOrder []*string `json:"suitOrder"`
	RankOrder []*string `json:"rankOrder"`
}

// MarshalJSON 空槽位输出为 null
func (c Config) MarshalJSON() ([]byte, error) {
	base := float64(c.Base)
	out := configJSON{
		Mode:      string(c.Mode),
		Base:      &base,
		SuitOrder: make([]*string, len(c.SuitOrder)),
		RankOrder: make([]*string, len(c.RankOrder)),
	}
	for i, s := range c.SuitOrder {
		if s.Valid() {
			code := s.Code()
			out.SuitOrder[i] = &code
		}
	}
	for i, r := range c.RankOrder {
		if r.Valid() {
			code := r.Code()
			out.RankOrder[i] = &code
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON 严格校验结构，不合法时返回 ErrInvalidConfig
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw configJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	mode := Mode(raw.Mode)
	if !mode.Valid() {
		return fmt.Errorf("%w: mode=%q", ErrInvalidConfig, raw.Mode)
	}
	if raw.Base == nil || (*raw.Base != 0 && *raw.Base != 1) {
		return fmt.Errorf("%w: base", ErrInvalidConfig)
	}
	if len(raw.SuitOrder) != 4 || len(raw.RankOrder) != 8 {
		return fmt.Errorf("%w: 顺序数组长度", ErrInvalidConfig)
	}

	out := Config{Mode: mode, Base: int(*raw.Base)}
	for i, s := range raw.SuitOrder {
		if s == nil {
			continue
		}
		suit, err := card.ParseSuit(*s)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		out.SuitOrder[i] = suit
	}
	for i, r := range raw.RankOrder {
		if r == nil {
			continue
		}
		rank, err := card.ParseRank(*r)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		out.RankOrder[i] = rank
	}
	*c = out
	return nil
}

// ParseConfig 解析持久化的配置，任何异常都视为无配置
func ParseConfig(data []byte) (*Config, bool) {
	if len(data) == 0 || string(data) == "null" {
		return nil, false
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, false
	}
	return &cfg, true
}
