package card

import (
	"encoding/json"
	"testing"
)

func TestIsValid(t *testing.T) {
	valid := []string{"S7", "H10", "DA", "CJ", "SQ", "HK", "D8", "C9"}
	for _, id := range valid {
		if !IsValid(id) {
			t.Errorf("%q 应为合法牌", id)
		}
	}

	invalid := []string{"S11", "X7", "S1", "", "s7", "H 10", "10H", "SAA", "H100"}
	for _, id := range invalid {
		if IsValid(id) {
			t.Errorf("%q 不应为合法牌", id)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, c := range All() {
		parsed, err := Parse(c.ID())
		if err != nil {
			t.Fatalf("解析 %s 失败: %v", c.ID(), err)
		}
		if parsed != c {
			t.Errorf("解析结果不一致: got %v, want %v", parsed, c)
		}
	}
}

func TestAllOrder(t *testing.T) {
	cards := All()
	if len(cards) != DeckSize {
		t.Fatalf("牌数错误: got %d, want %d", len(cards), DeckSize)
	}
	if cards[0].ID() != "S7" || cards[7].ID() != "SA" || cards[8].ID() != "H7" || cards[31].ID() != "CA" {
		t.Errorf("显示顺序错误: %v", IDs(cards))
	}
	for i, c := range cards {
		if c.Index() != i {
			t.Errorf("%s 的 Index 错误: got %d, want %d", c, c.Index(), i)
		}
	}
}

func TestSortAndCompare(t *testing.T) {
	cards := FilterValid([]string{"CA", "H7", "S10", "D9", "S7", "bogus"})
	Sort(cards)
	got := IDs(cards)
	want := []string{"S7", "S10", "H7", "D9", "CA"}
	if len(got) != len(want) {
		t.Fatalf("排序结果长度错误: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("排序错误: got %v, want %v", got, want)
			break
		}
	}
	if Compare(MustParse("H7"), MustParse("SA")) <= 0 {
		t.Error("H7 应排在 SA 之后")
	}
}

func TestSuitProperties(t *testing.T) {
	if !Heart.IsRed() || !Diamond.IsRed() || Spade.IsRed() || Club.IsRed() {
		t.Error("红色花色判断错误")
	}
	if Spade.Symbol() != "♠" || Club.Symbol() != "♣" {
		t.Error("花色符号错误")
	}
	if s, ok := MatchSuit("Trefla"); !ok || s != Club {
		t.Errorf("别名匹配失败: %v %v", s, ok)
	}
	if _, ok := MatchSuit("joker"); ok {
		t.Error("未知别名不应匹配")
	}
	if MustParse("H10").Label() != "♥10" {
		t.Errorf("Label 错误: %s", MustParse("H10").Label())
	}
}

func TestDedupePreserveOrder(t *testing.T) {
	cards := FilterValid([]string{"S7", "H8", "S7", "DA", "H8"})
	got := IDs(DedupePreserveOrder(cards))
	want := []string{"S7", "H8", "DA"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("去重错误: got %v, want %v", got, want)
	}
	if UniqueCount(cards) != 3 {
		t.Errorf("UniqueCount 错误: %d", UniqueCount(cards))
	}
}

func TestCardJSON(t *testing.T) {
	m := map[string]Card{"/deck_1/1.png": MustParse("D9")}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}
	if string(data) != `{"/deck_1/1.png":"D9"}` {
		t.Errorf("序列化结果错误: %s", data)
	}

	var back map[string]Card
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("反序列化失败: %v", err)
	}
	if back["/deck_1/1.png"] != MustParse("D9") {
		t.Errorf("反序列化结果错误: %v", back)
	}

	var bad Card
	if err := json.Unmarshal([]byte(`"Z9"`), &bad); err == nil {
		t.Error("非法 ID 应返回错误")
	}
}
