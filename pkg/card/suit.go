package card

import (
	"fmt"
	"strings"
)

// Suit 花色，零值表示空槽位
type Suit byte

const (
	SuitNone Suit = iota
	Spade         // ♠ pică
	Heart         // ♥ inimă
	Diamond       // ♦ caro
	Club          // ♣ treflă
)

// Suits 按显示顺序排列的四种花色
var Suits = [4]Suit{Spade, Heart, Diamond, Club}

// Code 单字母花色代码
func (s Suit) Code() string {
	switch s {
	case Spade:
		return "S"
	case Heart:
		return "H"
	case Diamond:
		return "D"
	case Club:
		return "C"
	}
	return ""
}

// Symbol 花色符号
func (s Suit) Symbol() string {
	switch s {
	case Spade:
		return "♠"
	case Heart:
		return "♥"
	case Diamond:
		return "♦"
	case Club:
		return "♣"
	}
	return "?"
}

// Name 花色显示名
func (s Suit) Name() string {
	switch s {
	case Spade:
		return "Pică"
	case Heart:
		return "Inimă"
	case Diamond:
		return "Caro"
	case Club:
		return "Treflă"
	}
	return ""
}

// Aliases 搜索用的花色别名
func (s Suit) Aliases() []string {
	switch s {
	case Spade:
		return []string{"pica", "pici", "spade", "spades"}
	case Heart:
		return []string{"inima", "inimi", "heart", "hearts"}
	case Diamond:
		return []string{"caro", "diamond", "diamonds"}
	case Club:
		return []string{"trefla", "trefle", "club", "clubs"}
	}
	return nil
}

// IsRed 红色花色 (H, D)
func (s Suit) IsRed() bool {
	return s == Heart || s == Diamond
}

// Valid 是否为有效花色
func (s Suit) Valid() bool {
	return s >= Spade && s <= Club
}

// Order 显示排序位置 (S=0, H=1, D=2, C=3)
func (s Suit) Order() int {
	if !s.Valid() {
		return -1
	}
	return int(s) - 1
}

func (s Suit) String() string {
	return s.Code()
}

// ParseSuit 解析单字母花色代码
func ParseSuit(code string) (Suit, error) {
	switch code {
	case "S":
		return Spade, nil
	case "H":
		return Heart, nil
	case "D":
		return Diamond, nil
	case "C":
		return Club, nil
	}
	return SuitNone, fmt.Errorf("无效花色: %q", code)
}

// MatchSuit 按代码、名称或别名匹配花色 (忽略大小写)
func MatchSuit(text string) (Suit, bool) {
	q := strings.ToLower(strings.TrimSpace(text))
	if q == "" {
		return SuitNone, false
	}
	for _, s := range Suits {
		if q == strings.ToLower(s.Code()) || q == strings.ToLower(s.Name()) {
			return s, true
		}
		for _, alias := range s.Aliases() {
			if q == alias {
				return s, true
			}
		}
	}
	return SuitNone, false
}
