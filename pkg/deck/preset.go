package deck

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/token"
)

// DefaultConfig 通用牌组默认顺序: 花色主轴，基数 1，S H D C，7..A
var DefaultConfig = Config{
	Mode:      SuitMajor,
	Base:      1,
	SuitOrder: card.Suits,
	RankOrder: card.Ranks,
}

// KnownDeckName 已知排列的牌组目录
const KnownDeckName = "deck_1"

// KnownDeck deck_1 的序号表
//
// 1..24 依次为 ♦ ♥ ♣ ♠ 的 9..A，25..32 为各花色的 7、8。
var KnownDeck = func() map[int]card.Card {
	ids := []string{
		"D9", "D10", "DJ", "DQ", "DK", "DA",
		"H9", "H10", "HJ", "HQ", "HK", "HA",
		"C9", "C10", "CJ", "CQ", "CK", "CA",
		"S9", "S10", "SJ", "SQ", "SK", "SA",
		"D7", "D8", "H7", "H8", "C7", "C8", "S7", "S8",
	}
	out := make(map[int]card.Card, len(ids))
	for i, id := range ids {
		out[i+1] = card.MustParse(id)
	}
	return out
}()

var knownDeckIndex = func() map[card.Card]int {
	out := make(map[card.Card]int, len(KnownDeck))
	for idx, c := range KnownDeck {
		out[c] = idx
	}
	return out
}()

var knownDeckPattern = regexp.MustCompile(`(?i)(?:^|/)deck_1/(\d+)\.(?:png|jpe?g|webp|svg)$`)

// MapKnownDeck 对 deck_1 精灵图直接查表
func MapKnownDeck(tok string) (card.Card, bool) {
	m := knownDeckPattern.FindStringSubmatch(token.StripQuery(tok))
	if m == nil {
		return card.Card{}, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return card.Card{}, false
	}
	c, ok := KnownDeck[n]
	return c, ok
}

// KnownIndex 牌在已知排列中的序号，不在表中时回退到 DefaultConfig
func KnownIndex(c card.Card) (int, bool) {
	if idx, ok := knownDeckIndex[c]; ok {
		return idx, true
	}
	return DefaultConfig.Reverse(c)
}

// KnownSamples 已知排列的全部样本
func KnownSamples() Samples {
	out := make(Samples, len(KnownDeck))
	for idx, c := range KnownDeck {
		out[idx] = c
	}
	return out
}

// BuildAutoMap 为已知排列生成映射表条目
//
// 每个序号写入: 完整路径、<deck>/<file>、阴影目录的非阴影路径、裸序号。
func BuildAutoMap(basePath, ext string) map[string]card.Card {
	if ext == "" {
		ext = "png"
	}
	safeBase := basePath
	if !strings.HasSuffix(safeBase, "/") {
		safeBase += "/"
	}
	deckName := ""
	parts := strings.Split(safeBase, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			deckName = parts[i]
			break
		}
	}
	altBase, hasAlt := token.CollapseShadow(safeBase)

	out := make(map[string]card.Card, len(KnownDeck)*4)
	for idx, c := range KnownDeck {
		file := strconv.Itoa(idx) + "." + ext
		out[safeBase+file] = c
		if deckName != "" {
			out[deckName+"/"+file] = c
		}
		if hasAlt {
			out[altBase+file] = c
		}
		out[strconv.Itoa(idx)] = c
	}
	return out
}
