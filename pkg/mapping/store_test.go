package mapping

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
)

func TestCalibrateWinsOverLearn(t *testing.T) {
	s := New()
	keys := s.Calibrate("/img/deck_2/5.png?v=1", card.MustParse("H7"))
	assert.Equal(t, []string{"/img/deck_2/5.png?v=1", "/img/deck_2/5.png", "deck_2/5.png"}, keys)

	assert.False(t, s.Learn("/img/deck_2/5.png", card.MustParse("S8")), "OCR 不应覆盖已校准条目")
	c, ok := s.Get("/img/deck_2/5.png")
	require.True(t, ok)
	assert.Equal(t, "H7", c.ID())

	// 再次校准覆盖旧值
	s.Calibrate("/img/deck_2/5.png", card.MustParse("S8"))
	c, _ = s.Get("/img/deck_2/5.png")
	assert.Equal(t, "S8", c.ID())
}

func TestCalibrateRecordsSample(t *testing.T) {
	s := New()
	s.Calibrate("/img/deck_2/5.png", card.MustParse("H7"))
	samples := s.Samples()
	assert.Equal(t, card.MustParse("H7"), samples[5])

	// 先写者优先
	s.Calibrate("/img/deck_2/5.png", card.MustParse("S8"))
	assert.Equal(t, card.MustParse("H7"), s.Samples()[5])
}

func TestLookupOrder(t *testing.T) {
	s := New()
	s.Merge(map[string]card.Card{
		"b": card.MustParse("SA"),
		"c": card.MustParse("HK"),
	}, false)

	c, key, ok := s.Lookup([]string{"a", "c", "b"})
	require.True(t, ok)
	assert.Equal(t, "c", key)
	assert.Equal(t, "HK", c.ID())

	_, _, ok = s.Lookup([]string{"x", "y"})
	assert.False(t, ok)
}

func TestMergeOverwrite(t *testing.T) {
	s := New()
	s.Merge(map[string]card.Card{"a": card.MustParse("SA")}, false)

	n := s.Merge(map[string]card.Card{"a": card.MustParse("D7"), "b": {}}, false)
	assert.Equal(t, 0, n)
	c, _ := s.Get("a")
	assert.Equal(t, "SA", c.ID())

	n = s.Merge(map[string]card.Card{"a": card.MustParse("D7")}, true)
	assert.Equal(t, 1, n)
	c, _ = s.Get("a")
	assert.Equal(t, "D7", c.ID())
}

func TestLearnConvergesConfig(t *testing.T) {
	s := New()
	for i := 1; i <= card.DeckSize; i++ {
		c, ok := deck.DefaultConfig.Forward(i)
		require.True(t, ok)
		s.Learn(fmt.Sprintf("/img/deck_2/%d.png", i), c)
	}
	cfg := s.Config()
	require.NotNil(t, cfg)
	assert.True(t, cfg.Equal(&deck.DefaultConfig), "推断结果: %s", cfg)
	assert.Equal(t, "/img/deck_2/", s.Asset().BasePath)
}

func TestAutoCalibrate(t *testing.T) {
	s := New()
	assert.False(t, s.AutoCalibrate(), "没有素材路径时不应生效")

	s.Calibrate("/static/deck_1/1.png", card.MustParse("SA"))
	require.Equal(t, "/static/deck_1/", s.Asset().BasePath)

	require.True(t, s.AutoCalibrate())
	assert.GreaterOrEqual(t, s.Len(), card.DeckSize)

	c, _ := s.Get("/static/deck_1/1.png")
	assert.Equal(t, "SA", c.ID(), "已有条目应保留")
	c, _ = s.Get("/static/deck_1/2.png")
	assert.Equal(t, "D10", c.ID())

	assert.Len(t, s.Samples(), card.DeckSize)
	assert.Equal(t, card.MustParse("D9"), s.Samples()[1])

	assert.False(t, s.AutoCalibrate(), "映射已满时不再补全")
}

func TestClearKeepsAsset(t *testing.T) {
	s := New()
	s.SetAsset(deck.Asset{Origin: "https://game.example", BasePath: "/static/deck_1/"})
	s.Calibrate("/static/deck_1/3.png", card.MustParse("DJ"))
	require.NotEmpty(t, s.Images())

	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Samples())
	assert.Nil(t, s.Config())
	assert.Empty(t, s.Images())
	assert.Equal(t, "https://game.example", s.Asset().Origin)
}

func TestChangeFunc(t *testing.T) {
	s := New()
	var got Field
	s.SetChangeFunc(func(changed Field) { got |= changed })

	s.Learn("/img/deck_2/5.png", card.MustParse("H7"))
	assert.True(t, got.Has(FieldTable))
	assert.True(t, got.Has(FieldSamples))
	assert.False(t, got.Has(FieldConfig))

	got = 0
	s.Learn("/img/deck_2/5.png", card.MustParse("S7"))
	assert.Equal(t, Field(0), got)
}

func TestSnapshotRestore(t *testing.T) {
	s := New()
	s.SetAsset(deck.Asset{Origin: "https://game.example", BasePath: "/static/deck_1/", Ext: "png"})
	s.Calibrate("/static/deck_1/3.png", card.MustParse("DJ"))
	snap := s.Snapshot()

	snap.Table["broken"] = card.Card{}
	other := New()
	other.Restore(snap)

	assert.Equal(t, s.Len(), other.Len())
	_, ok := other.Get("broken")
	assert.False(t, ok)
	assert.Equal(t, s.Asset(), other.Asset())
	assert.Equal(t, s.Images(), other.Images())
}

func TestImageTokens(t *testing.T) {
	s := New()
	s.Calibrate("https://cdn.example/static/deck_3/4.png", card.MustParse("CA"))
	s.Merge(map[string]card.Card{"deck_3/9.png": card.MustParse("HK")}, false)

	tokens := s.ImageTokens()
	assert.Equal(t, "https://cdn.example/static/deck_3/4.png", tokens[card.MustParse("CA")])
	assert.NotEmpty(t, tokens[card.MustParse("HK")])
	assert.Len(t, tokens, card.DeckSize, "已知素材路径时应补全全部 32 张")
}

func TestImagesFollowInferredConfig(t *testing.T) {
	hidden := &deck.Config{
		Mode:      deck.SuitMajor,
		Base:      0,
		SuitOrder: deck.DefaultConfig.SuitOrder,
		RankOrder: deck.DefaultConfig.RankOrder,
	}
	s := New()
	// 样本到来前按已知排列补全
	s.SetAsset(deck.Asset{Origin: "https://game.example", BasePath: "/static/deck_5/", Ext: "png"})
	require.Len(t, s.Images(), card.DeckSize)

	// 第一种花色的 8 个点数，加上其余花色各一张
	for _, idx := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 16, 24} {
		c, ok := hidden.Forward(idx)
		require.True(t, ok)
		s.AddSample(idx, c)
	}
	cfg := s.Config()
	require.NotNil(t, cfg)
	require.True(t, cfg.Equal(hidden), "推断结果 %s", cfg)

	images := s.Images()
	for _, c := range card.All() {
		idx, ok := hidden.Reverse(c)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("https://game.example/static/deck_5/%d.png", idx), images[c], c.ID())
	}
	c13, _ := hidden.Forward(13)
	assert.Equal(t, "https://game.example/static/deck_5/13.png", images[c13])
	assert.Equal(t, "https://game.example/static/deck_5/13.png", s.ImageTokens()[c13])
}
