package card

// FilterValid 过滤出合法 ID 并解析，保持原有顺序
func FilterValid(ids []string) []Card {
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		if c, err := Parse(id); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// DedupePreserveOrder 去重并保持首次出现的顺序，忽略无效牌
func DedupePreserveOrder(cards []Card) []Card {
	seen := make(map[Card]struct{}, len(cards))
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		if !c.Valid() {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// UniqueCount 不同的合法牌数量
func UniqueCount(cards []Card) int {
	return len(DedupePreserveOrder(cards))
}

// IDs 转换为规范 ID 列表
func IDs(cards []Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		if c.Valid() {
			out = append(out, c.ID())
		}
	}
	return out
}
