package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/store"
)

func ids(cards []card.Card) []string {
	return card.IDs(cards)
}

func TestAddDedupe(t *testing.T) {
	tr := New(true)
	added, reset := tr.AddIDs([]string{"SA", "H10", "SA", "X9"})
	if reset {
		t.Error("不应重置")
	}
	if got := ids(added); !reflect.DeepEqual(got, []string{"SA", "H10"}) {
		t.Errorf("追加结果错误: %v", got)
	}
	added, _ = tr.AddIDs([]string{"H10", "D7"})
	if got := ids(added); !reflect.DeepEqual(got, []string{"D7"}) {
		t.Errorf("重复的牌不应追加: %v", got)
	}
	if got := ids(tr.Seen()); !reflect.DeepEqual(got, []string{"SA", "H10", "D7"}) {
		t.Errorf("已出现列表错误: %v", got)
	}
}

func TestAddWithoutDedupe(t *testing.T) {
	tr := New(false)
	tr.AddIDs([]string{"SA", "SA"})
	tr.AddIDs([]string{"SA"})
	if n := len(tr.Seen()); n != 3 {
		t.Errorf("不去重时应有 3 条记录, 实际 %d", n)
	}
	if c := tr.Counts()[card.MustParse("SA")]; c != 3 {
		t.Errorf("SA 计数应为 3, 实际 %d", c)
	}
	if r := tr.Remaining(); r.Total != 31 || r.BySuit["S"] != 7 {
		t.Errorf("剩余统计错误: %+v", r)
	}
}

func TestFullDeckResets(t *testing.T) {
	tr := New(true)
	tr.SetTrump(card.Heart)
	all := card.All()
	if _, reset := tr.Add(all[:31]); reset {
		t.Fatal("31 张时不应重置")
	}
	added, reset := tr.Add(all[31:])
	if !reset {
		t.Fatal("32 张时应重置")
	}
	if len(added) != 1 {
		t.Errorf("应报告最后追加的 1 张, 实际 %d", len(added))
	}
	if len(tr.Seen()) != 0 {
		t.Error("重置后已出现列表应为空")
	}
	if tr.Trump() != card.SuitNone {
		t.Error("重置后将牌应清除")
	}
}

func TestClearRound(t *testing.T) {
	tr := New(true)
	tr.AddIDs([]string{"C8"})
	tr.SetTrump(card.Club)
	tr.ClearRound()
	if len(tr.Seen()) != 0 || tr.Trump() != card.SuitNone {
		t.Error("ClearRound 应清空已出现列表与将牌")
	}
}

func TestSortedAndSearch(t *testing.T) {
	tr := New(true)
	tr.AddIDs([]string{"CA", "H7", "S10", "HK"})

	if got := ids(tr.Sorted()); !reflect.DeepEqual(got, []string{"S10", "H7", "HK", "CA"}) {
		t.Errorf("排序错误: %v", got)
	}

	cases := []struct {
		query string
		want  []string
	}{
		{"", []string{"S10", "H7", "HK", "CA"}},
		{"hearts", []string{"H7", "HK"}},
		{"Inimă", []string{"H7", "HK"}},
		{"♣", []string{"CA"}},
		{"trefla", []string{"CA"}},
		{"10", []string{"S10"}},
		{"zzz", nil},
	}
	for _, tc := range cases {
		if got := ids(tr.Search(tc.query)); !reflect.DeepEqual(got, tc.want) && !(len(got) == 0 && len(tc.want) == 0) {
			t.Errorf("搜索 %q: 期望 %v, 实际 %v", tc.query, tc.want, got)
		}
	}
}

func TestUnseen(t *testing.T) {
	tr := New(true)
	tr.Add(card.All()[1:])
	un := tr.Unseen()
	if len(un) != 1 || un[0] != card.All()[0] {
		t.Errorf("未出现的牌错误: %v", un)
	}
}

func TestSetTrumpInvalid(t *testing.T) {
	tr := New(true)
	tr.SetTrump(card.Suit(42))
	if tr.Trump() != card.SuitNone {
		t.Error("非法花色应视为清除")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	st := DefaultState()
	st.Seen = []card.Card{card.MustParse("SA"), card.MustParse("H10"), card.MustParse("D7")}
	st.AutoReadMap["/static/deck_7/3.png"] = card.MustParse("HQ")
	st.DeckIndexSamples = deck.Samples{3: card.MustParse("HQ")}
	cfg := deck.DefaultConfig
	st.DeckIndexConfig = &cfg
	st.SetAsset(deck.Asset{Origin: "https://game.example", BasePath: "/static/deck_7/", Ext: "webp"})
	st.CardImageByID[card.MustParse("HQ")] = "/static/deck_7/3.webp"
	st.TrumpSuit = "H"

	now := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	data, err := MarshalDocument(Export(st, now))
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	var head map[string]any
	if err := json.Unmarshal(data, &head); err != nil {
		t.Fatalf("导出结果不是合法 JSON: %v", err)
	}
	if head["version"] != float64(1) || head["exportedAt"] != "2024-03-01T20:00:00.000Z" {
		t.Errorf("文档头错误: %v %v", head["version"], head["exportedAt"])
	}

	got, err := Import(data)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if !reflect.DeepEqual(ids(got.Seen), ids(st.Seen)) {
		t.Errorf("seen 不一致: %v", ids(got.Seen))
	}
	if !reflect.DeepEqual(got.AutoReadMap, st.AutoReadMap) {
		t.Errorf("映射表不一致: %v", got.AutoReadMap)
	}
	if !reflect.DeepEqual(got.DeckIndexSamples, st.DeckIndexSamples) {
		t.Errorf("样本不一致: %v", got.DeckIndexSamples)
	}
	if !got.DeckIndexConfig.Equal(st.DeckIndexConfig) {
		t.Errorf("配置不一致: %v", got.DeckIndexConfig)
	}
	if got.Asset() != st.Asset() {
		t.Errorf("素材位置不一致: %+v", got.Asset())
	}
	if !reflect.DeepEqual(got.CardImageByID, st.CardImageByID) {
		t.Errorf("牌面图不一致: %v", got.CardImageByID)
	}
	if got.TrumpSuit != "H" {
		t.Errorf("将牌不一致: %q", got.TrumpSuit)
	}
}

func TestImportTopLevelAndSettings(t *testing.T) {
	data := []byte(`{
		"Seen": ["SA", "SA", "bogus", 7, "C9"],
		"trumpSuit": "D",
		"autoReadEnabled": false,
		"autoReadSelector": ".elsewhere",
		"settings": {
			"trumpSuit": "S",
			"preventDuplicates": "yes",
			"autoReadMap": {"a.png": "HJ", " ": "HQ", "b.png": "Z1"},
			"deckIndexSamples": {"3x": "HQ", "k": "HQ", "4": "nope"},
			"deckIndexConfig": {"mode": "diagonal", "base": 1, "suitOrder": [], "rankOrder": []},
			"deckAssetExt": 5
		}
	}`)
	st, err := Import(data)
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if got := ids(st.Seen); !reflect.DeepEqual(got, []string{"SA", "C9"}) {
		t.Errorf("seen 应过滤非法项并去重: %v", got)
	}
	if !st.PreventDuplicates {
		t.Error("preventDuplicates 类型不符时应为默认 true")
	}
	if st.TrumpSuit != "D" {
		t.Errorf("顶层字段优先, 实际 %q", st.TrumpSuit)
	}
	if !st.AutoReadEnabled || st.AutoReadSelector != FixedSelector {
		t.Error("自动读取与选择器应被固定")
	}
	if len(st.AutoReadMap) != 1 || st.AutoReadMap["a.png"] != card.MustParse("HJ") {
		t.Errorf("映射表过滤错误: %v", st.AutoReadMap)
	}
	if len(st.DeckIndexSamples) != 1 || st.DeckIndexSamples[3] != card.MustParse("HQ") {
		t.Errorf("样本过滤错误: %v", st.DeckIndexSamples)
	}
	if st.DeckIndexConfig != nil {
		t.Error("非法配置应视为无配置")
	}
	if st.DeckAssetExt != "png" {
		t.Errorf("扩展名应回退为 png, 实际 %q", st.DeckAssetExt)
	}
}

func TestImportKeepsDuplicatesWhenDisabled(t *testing.T) {
	st, err := Import([]byte(`{"seen":["SA","SA"],"preventDuplicates":false}`))
	if err != nil {
		t.Fatalf("导入失败: %v", err)
	}
	if len(st.Seen) != 2 {
		t.Errorf("关闭去重时应保留重复, 实际 %v", ids(st.Seen))
	}
}

func TestImportErrors(t *testing.T) {
	if _, err := Import([]byte(`[1,2]`)); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("数组应返回 ErrInvalidDocument, 实际 %v", err)
	}
	if _, err := Import([]byte(`null`)); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("null 应返回 ErrInvalidDocument, 实际 %v", err)
	}
	if _, err := Import([]byte(`{"settings":{}}`)); !errors.Is(err, ErrMissingSeen) {
		t.Errorf("缺少 seen 应返回 ErrMissingSeen, 实际 %v", err)
	}
	if _, err := Import([]byte(`{"seen":"SA"}`)); !errors.Is(err, ErrMissingSeen) {
		t.Errorf("seen 不是数组应返回 ErrMissingSeen, 实际 %v", err)
	}
}

func TestLoadStateDefaults(t *testing.T) {
	kv := store.NewMemory()
	st, err := LoadState(context.Background(), kv)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if !reflect.DeepEqual(st, DefaultState()) {
		t.Errorf("空存储应得到默认状态: %+v", st)
	}
}

func TestLoadStateValidates(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	err := kv.Set(ctx, map[string][]byte{
		KeySeen:              []byte(`["SA", 3, "H10"]`),
		KeyPreventDuplicates: []byte(`"true"`),
		KeyDeckIndexConfig:   []byte(`{"mode":"suitMajor","base":1,"suitOrder":["S",null,"D","C"],"rankOrder":["7","8","9","10","J","Q","K","A"]}`),
		KeyTrumpSuit:         []byte(`"X"`),
		KeyCardImageByID:     []byte(`{"SA":"/a.png","H10":"","X":"/b.png"}`),
	})
	if err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	st, err := LoadState(ctx, kv)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got := ids(st.Seen); !reflect.DeepEqual(got, []string{"SA", "H10"}) {
		t.Errorf("seen 错误: %v", got)
	}
	if !st.PreventDuplicates {
		t.Error("类型不符时应为默认值")
	}
	if st.DeckIndexConfig == nil || st.DeckIndexConfig.SuitOrder[1] != card.SuitNone {
		t.Errorf("部分配置应保留空槽位: %v", st.DeckIndexConfig)
	}
	if st.TrumpSuit != "" {
		t.Errorf("非法将牌应清空, 实际 %q", st.TrumpSuit)
	}
	if len(st.CardImageByID) != 1 {
		t.Errorf("牌面图过滤错误: %v", st.CardImageByID)
	}
}

func TestSaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	st := DefaultState()
	st.Seen = []card.Card{card.MustParse("DK")}
	st.AutoReadMap["deck_1/5.png"] = card.MustParse("DK")
	st.TrumpSuit = "C"
	if err := SaveState(ctx, kv, st); err != nil {
		t.Fatalf("保存失败: %v", err)
	}

	got, err := LoadState(ctx, kv)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if !reflect.DeepEqual(got, st) {
		t.Errorf("保存后读取不一致:\n期望 %+v\n实际 %+v", st, got)
	}

	if err := SaveState(ctx, kv, st, "bogus"); err == nil {
		t.Error("未知键应返回错误")
	}
}
