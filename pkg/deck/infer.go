package deck

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/token"
)

var indexPattern = regexp.MustCompile(`(?i)(?:^|/)deck_\d+/(\d+)\.(?:png|jpe?g|webp|svg)$`)

// ParseIndex 从 deck 精灵图路径中解析序号
func ParseIndex(tok string) (int, bool) {
	m := indexPattern.FindStringSubmatch(token.StripQuery(tok))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Samples 已确认的 序号 -> 牌 证据
type Samples map[int]card.Card

// Add 先写者优先；已有不同的牌时拒绝，返回是否新增
func (s Samples) Add(index int, c card.Card) bool {
	if !c.Valid() {
		return false
	}
	if _, ok := s[index]; ok {
		return false
	}
	s[index] = c
	return true
}

// Clone 复制样本
func (s Samples) Clone() Samples {
	out := make(Samples, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Complete 样本覆盖全部 32 张不同的牌
func (s Samples) Complete() bool {
	if len(s) < card.DeckSize {
		return false
	}
	uniq := make(map[card.Card]struct{}, len(s))
	for _, c := range s {
		uniq[c] = struct{}{}
	}
	return len(uniq) == card.DeckSize
}

// Indices 升序排列的序号
func (s Samples) Indices() []int {
	out := make([]int, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// MarshalJSON 以 {"<index>":"<cardId>"} 形式输出
func (s Samples) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(s))
	for k, v := range s {
		if v.Valid() {
			out[strconv.Itoa(k)] = v.ID()
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON 宽松解析，非法条目直接丢弃
func (s *Samples) UnmarshalJSON(data []byte) error {
	*s = ParseSamples(data)
	return nil
}

// ParseSamples 解析持久化样本，键取前导整数，值必须是合法牌 ID
func ParseSamples(data []byte) Samples {
	out := Samples{}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return out
	}
	for k, v := range raw {
		n, ok := leadingInt(k)
		if !ok {
			continue
		}
		id, ok := v.(string)
		if !ok {
			continue
		}
		c, err := card.Parse(id)
		if err != nil {
			continue
		}
		out[n] = c
	}
	return out
}

// leadingInt 解析字符串开头的整数，允许前导空白和符号
func leadingInt(s string) (int, bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	start := i
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == digits {
		return 0, false
	}
	n, err := strconv.Atoi(s[start:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

// candidateOrder 推断时候选配置的尝试顺序
var candidateOrder = []struct {
	mode Mode
	base int
}{
	{RankMajor, 1},
	{RankMajor, 0},
	{SuitMajor, 1},
	{SuitMajor, 0},
}

// Infer 从样本推断唯一的序号配置
//
// 对 4 个 (模式, 基数) 候选逐一回放样本：序号越界或同一槽位需要两个不同值即淘汰。
// 恰好剩下一个候选时返回它，否则视为尚无配置。
func Infer(samples Samples) (*Config, bool) {
	if len(samples) == 0 {
		return nil, false
	}
	indices := samples.Indices()

	var survivor *Config
	survivors := 0
	for _, cand := range candidateOrder {
		cfg := &Config{Mode: cand.mode, Base: cand.base}
		if !replay(cfg, samples, indices) {
			continue
		}
		survivors++
		survivor = cfg
	}
	if survivors != 1 {
		return nil, false
	}
	return survivor, true
}

func replay(cfg *Config, samples Samples, indices []int) bool {
	for _, idx := range indices {
		c := samples[idx]
		i := idx - cfg.Base
		if i < 0 || i >= card.DeckSize {
			return false
		}
		if !c.Valid() {
			continue
		}
		suitPos, rankPos := positions(cfg.Mode, i)
		if s := cfg.SuitOrder[suitPos]; s != card.SuitNone && s != c.Suit {
			return false
		}
		cfg.SuitOrder[suitPos] = c.Suit
		if r := cfg.RankOrder[rankPos]; r != card.RankNone && r != c.Rank {
			return false
		}
		cfg.RankOrder[rankPos] = c.Rank
	}
	return true
}
