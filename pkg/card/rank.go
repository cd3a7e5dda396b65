package card

import "fmt"

// Rank 点数，零值表示空槽位
type Rank byte

const (
	RankNone Rank = iota
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// Ranks 按 7..A 顺序排列的八种点数
var Ranks = [8]Rank{Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

// Code 点数代码 (7, 8, 9, 10, J, Q, K, A)
func (r Rank) Code() string {
	switch r {
	case Seven:
		return "7"
	case Eight:
		return "8"
	case Nine:
		return "9"
	case Ten:
		return "10"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	case Ace:
		return "A"
	}
	return ""
}

// Valid 是否为有效点数
func (r Rank) Valid() bool {
	return r >= Seven && r <= Ace
}

// Order 排序位置 (7=0 .. A=7)
func (r Rank) Order() int {
	if !r.Valid() {
		return -1
	}
	return int(r) - 1
}

func (r Rank) String() string {
	return r.Code()
}

// ParseRank 解析点数代码
func ParseRank(code string) (Rank, error) {
	for _, r := range Ranks {
		if r.Code() == code {
			return r, nil
		}
	}
	return RankNone, fmt.Errorf("无效点数: %q", code)
}
