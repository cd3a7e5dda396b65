// Package card 定义 32 张牌 (Belote) 的身份模型
package card

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidCard 非法牌 ID
var ErrInvalidCard = errors.New("无效的牌 ID")

// Card 一张牌，由花色和点数组成
//
// 规范 ID 为花色代码 + 点数代码，例如 "S7"、"H10"、"DA"。
type Card struct {
	Suit Suit
	Rank Rank
}

// New 创建牌
func New(s Suit, r Rank) Card {
	return Card{Suit: s, Rank: r}
}

// Valid 花色和点数均有效
func (c Card) Valid() bool {
	return c.Suit.Valid() && c.Rank.Valid()
}

// ID 规范 ID，无效牌返回空串
func (c Card) ID() string {
	if !c.Valid() {
		return ""
	}
	return c.Suit.Code() + c.Rank.Code()
}

// Label 显示标签，例如 "♠7"
func (c Card) Label() string {
	return c.Suit.Symbol() + c.Rank.Code()
}

func (c Card) String() string {
	if !c.Valid() {
		return "Invalid"
	}
	return c.ID()
}

// MarshalText 以规范 ID 序列化
func (c Card) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, ErrInvalidCard
	}
	return []byte(c.ID()), nil
}

// UnmarshalText 从规范 ID 反序列化
func (c *Card) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Parse 解析规范 ID
//
// 仅接受 ^(S|H|D|C)(7|8|9|10|J|Q|K|A)$，其他输入一律返回 ErrInvalidCard。
func Parse(id string) (Card, error) {
	if len(id) < 2 || len(id) > 3 {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, id)
	}
	s, err := ParseSuit(id[:1])
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, id)
	}
	r, err := ParseRank(id[1:])
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, id)
	}
	return Card{Suit: s, Rank: r}, nil
}

// MustParse 解析失败时 panic，仅用于常量表
func MustParse(id string) Card {
	c, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return c
}

// IsValid 校验规范 ID
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Index 在 All() 中的位置 (0..31)，无效牌返回 -1
func (c Card) Index() int {
	if !c.Valid() {
		return -1
	}
	return c.Suit.Order()*len(Ranks) + c.Rank.Order()
}

var all = func() []Card {
	out := make([]Card, 0, len(Suits)*len(Ranks))
	for _, s := range Suits {
		for _, r := range Ranks {
			out = append(out, Card{Suit: s, Rank: r})
		}
	}
	return out
}()

// DeckSize 牌组大小
const DeckSize = 32

// All 按显示顺序 (花色优先，再按点数) 返回 32 张牌的副本
func All() []Card {
	out := make([]Card, len(all))
	copy(out, all)
	return out
}

// Compare 显示顺序比较：先花色 (S, H, D, C)，再点数 (7..A)
func Compare(a, b Card) int {
	if a.Suit.Order() != b.Suit.Order() {
		return a.Suit.Order() - b.Suit.Order()
	}
	return a.Rank.Order() - b.Rank.Order()
}

// Sort 按显示顺序稳定排序
func Sort(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		return Compare(cards[i], cards[j]) < 0
	})
}
