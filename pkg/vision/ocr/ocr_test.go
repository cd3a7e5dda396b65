package ocr

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/zoeyai/belottracker/pkg/card"
)

// renderCard 把点数和花色贴到 240x336 白色牌面左上角
func renderCard(t *testing.T, c card.Card) image.Image {
	t.Helper()
	fonts := parseFonts(gobold.TTF)
	if len(fonts) == 0 {
		t.Fatal("内置字体解析失败")
	}
	off := glyphOffsets[0]
	corner := RenderTemplate(c, fonts[0], nil, off.x, off.y, off.sy)
	bg := imaging.New(240, 336, color.White)
	return imaging.Paste(bg, corner, image.Pt(12, 12))
}

func TestPolicyGating(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		score, delta float64
		hits         int
		want         bool
	}{
		{0.72, 0.06, 1, true},
		{0.71, 0.06, 1, false},
		{0.66, 0.04, 1, false},
		{0.66, 0.04, 2, true},
		{0.60, 0.03, 3, true},
		{0.55, 0.01, 5, false},
		{0.55, 0.01, 6, true},
		{0.50, 0.02, 1, false},
		{0.50, 0.02, 11, false},
		{0.50, 0.02, 12, true},
		{0.47, 0.50, 20, false},
	}
	for _, tc := range cases {
		if got := p.Accept(tc.score, tc.delta, tc.hits); got != tc.want {
			t.Errorf("Accept(%.2f, %.2f, %d) = %v, 期望 %v", tc.score, tc.delta, tc.hits, got, tc.want)
		}
	}
}

func TestCacheAccumulatesHits(t *testing.T) {
	cache := NewCache(DefaultPolicy())
	now := time.Now()
	cand := Candidate{Card: card.MustParse("HK"), Score: 0.50, Delta: 0.02}

	for i := 1; i <= 11; i++ {
		d := cache.Observe("/deck_2/7.png", cand, now)
		if d.Accepted {
			t.Fatalf("第 %d 次不应确认", i)
		}
		if d.Hits != i {
			t.Errorf("命中数 = %d, 期望 %d", d.Hits, i)
		}
	}
	d := cache.Observe("/deck_2/7.png", cand, now)
	if !d.Accepted || d.Hits != 12 {
		t.Fatalf("第 12 次应确认: %+v", d)
	}

	e, ok := cache.Lookup("/deck_2/7.png", now)
	if !ok || e.State != StateConfirmed || e.Card != cand.Card {
		t.Errorf("确认后状态错误: %+v", e)
	}
}

func TestCacheResetsOnDifferentCard(t *testing.T) {
	cache := NewCache(DefaultPolicy())
	now := time.Now()
	hk := Candidate{Card: card.MustParse("HK"), Score: 0.5, Delta: 0.02}
	hq := Candidate{Card: card.MustParse("HQ"), Score: 0.5, Delta: 0.02}

	cache.Observe("tok", hk, now)
	cache.Observe("tok", hk, now)
	if d := cache.Observe("tok", hq, now); d.Hits != 1 {
		t.Errorf("换牌后命中数应重置为 1, 实际 %d", d.Hits)
	}
}

func TestCacheFailExpires(t *testing.T) {
	cache := NewCache(DefaultPolicy())
	t0 := time.Now()
	cache.Fail("tok", t0)

	e, ok := cache.Lookup("tok", t0.Add(5*time.Second))
	if !ok || e.State != StateFailed {
		t.Errorf("15 秒内应保留失败状态: %+v", e)
	}
	if _, ok := cache.Lookup("tok", t0.Add(15*time.Second)); ok {
		t.Error("失败状态应在 15 秒后过期")
	}
	if cache.Len() != 0 {
		t.Errorf("过期条目应被清除, Len = %d", cache.Len())
	}
}

func TestOtsuThreshold(t *testing.T) {
	values := make([]uint8, 0, 100)
	for i := 0; i < 50; i++ {
		values = append(values, 0, 200)
	}
	if thr := otsuThreshold(values); thr != 0 {
		t.Errorf("阈值 = %d, 期望 0", thr)
	}

	uniform := make([]uint8, 64)
	if thr := otsuThreshold(uniform); thr != 0 {
		t.Errorf("单一灰度阈值 = %d, 期望 0", thr)
	}
}

func TestSimilarities(t *testing.T) {
	var a, b [Cells]uint8
	a[0], a[1] = 1, 1
	b[1], b[2] = 1, 1
	if got := jaccard(&a, &b); math.Abs(got-1.0/3) > 1e-9 {
		t.Errorf("jaccard = %f", got)
	}
	var empty [Cells]uint8
	if got := jaccard(&empty, &empty); got != 0 {
		t.Errorf("空集 jaccard = %f", got)
	}

	if got := cosine([]float64{1, 0}, []float64{0, 1}); got != 0 {
		t.Errorf("正交向量 cosine = %f", got)
	}
	if got := cosine([]float64{2, 2}, []float64{1, 1}); math.Abs(got-1) > 1e-9 {
		t.Errorf("同向向量 cosine = %f", got)
	}
	if got := projSim([]float64{1, 3}, []float64{2, 1}); math.Abs(got-2.0/5) > 1e-9 {
		t.Errorf("projSim = %f", got)
	}
}

func TestExtractErrors(t *testing.T) {
	if _, err := Extract(nil, DefaultCrop); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("nil 图像应返回 ErrEmptyImage, 实际 %v", err)
	}
	if _, err := Extract(image.NewNRGBA(image.Rect(0, 0, 0, 0)), DefaultCrop); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("空图像应返回 ErrEmptyImage, 实际 %v", err)
	}

	back := imaging.New(100, 140, color.NRGBA{R: 20, G: 30, B: 120, A: 255})
	if _, err := Extract(back, DefaultCrop); !errors.Is(err, ErrLowWhiteRatio) {
		t.Errorf("牌背应返回 ErrLowWhiteRatio, 实际 %v", err)
	}
}

func TestExtractBlank(t *testing.T) {
	blank := imaging.New(100, 140, color.White)
	f, err := Extract(blank, DefaultCrop)
	if err != nil {
		t.Fatalf("白图提取失败: %v", err)
	}
	if f.InkCount != 0 || f.WhiteRatio != 1 {
		t.Errorf("白图特征错误: ink=%d white=%.2f", f.InkCount, f.WhiteRatio)
	}

	// 裁剪区域越界时夹到图像范围内
	if _, err := Extract(blank, Crop{X: 1.5, Y: 2, W: 0.5, H: 0.5}); err != nil {
		t.Errorf("越界裁剪应被夹住: %v", err)
	}
}

func TestTemplates(t *testing.T) {
	tpls := Templates()
	want := card.DeckSize * 3 * 3 * len(glyphOffsets)
	if len(tpls) != want {
		t.Fatalf("模板数 = %d, 期望 %d", len(tpls), want)
	}
	perCard := make(map[card.Card]int)
	for _, tpl := range tpls {
		perCard[tpl.Card]++
		if tpl.Red != tpl.Card.Suit.IsRed() {
			t.Errorf("%s 颜色标记错误", tpl.Card)
		}
	}
	for _, c := range card.All() {
		if perCard[c] != want/card.DeckSize {
			t.Errorf("%s 模板数 = %d", c, perCard[c])
		}
	}
}

func TestMatchTemplateItself(t *testing.T) {
	fonts := parseFonts(gobold.TTF)
	if len(fonts) == 0 {
		t.Fatal("内置字体解析失败")
	}
	tpls := Templates()
	for _, id := range []string{"S7", "H10", "DQ", "CA"} {
		c := card.MustParse(id)
		off := glyphOffsets[0]
		feat := analyze(fitInk(RenderTemplate(c, fonts[0], nil, off.x, off.y, off.sy)))
		cand, ok := Match(feat, tpls)
		if !ok {
			t.Fatalf("%s 没有匹配结果", id)
		}
		if cand.Card != c {
			t.Errorf("%s 被识别为 %s (%.3f)", id, cand.Card, cand.Score)
		}
		if math.Abs(cand.Score-1) > 1e-6 {
			t.Errorf("%s 与自身模板的分数应为 1, 实际 %.4f", id, cand.Score)
		}
		wantPolarity := PolarityBlack
		if c.Suit.IsRed() {
			wantPolarity = PolarityRed
		}
		if cand.Polarity != wantPolarity {
			t.Errorf("%s 颜色判断为 %s", id, cand.Polarity)
		}
	}
}

func TestRecognizeSyntheticCard(t *testing.T) {
	m := NewMatcher()
	for _, c := range card.All() {
		cand, err := m.Recognize(renderCard(t, c))
		if err != nil {
			t.Errorf("%s 识别失败: %v", c, err)
			continue
		}
		if cand.Card != c {
			t.Errorf("%s 被识别为 %s (分数 %.3f 区分度 %.3f 裁剪 %d)", c, cand.Card, cand.Score, cand.Delta, cand.Crop)
			continue
		}
		if cand.Score < 0.99 || cand.Delta <= 0 {
			t.Errorf("%s 分数 %.3f 区分度 %.3f 过低", c, cand.Score, cand.Delta)
		}
	}
}

func TestAmbiguousMatchNotConfirmed(t *testing.T) {
	fonts := parseFonts(gobold.TTF)
	if len(fonts) == 0 {
		t.Fatal("内置字体解析失败")
	}
	off := glyphOffsets[0]
	hq := card.MustParse("HQ")
	hj := card.MustParse("HJ")

	// 两张牌共用同一个模板时无法区分
	tpl := templateFrom(hq, RenderTemplate(hq, fonts[0], nil, off.x, off.y, off.sy))
	twin := tpl
	twin.Card = hj
	feat := analyze(fitInk(RenderTemplate(hq, fonts[0], nil, off.x, off.y, off.sy)))
	cand, ok := Match(feat, []Template{tpl, twin})
	if !ok {
		t.Fatal("应有匹配结果")
	}
	if cand.Delta != 0 {
		t.Fatalf("区分度应为 0, 实际 %.4f", cand.Delta)
	}

	cache := NewCache(DefaultPolicy())
	now := time.Now()
	for i := 1; i < 12; i++ {
		if d := cache.Observe("/deck_3/9.png", cand, now); d.Accepted {
			t.Fatalf("区分度为 0 时第 %d 次不应确认", i)
		}
	}

	// 分数接近但区分度不足的误识别
	near := Candidate{Card: hq, Score: 0.586, Delta: 0.009}
	for hits := 1; hits < 12; hits++ {
		if DefaultPolicy().Accept(near.Score, near.Delta, hits) {
			t.Errorf("分数 %.3f 区分度 %.3f 命中 %d 次不应确认", near.Score, near.Delta, hits)
		}
	}
}

func TestRecognizeCardBack(t *testing.T) {
	back := imaging.New(100, 140, color.NRGBA{R: 20, G: 30, B: 120, A: 255})
	_, err := GetGlobalMatcher().Recognize(back)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("牌背应返回 ErrNoMatch, 实际 %v", err)
	}
	if !errors.Is(err, ErrLowWhiteRatio) {
		t.Errorf("应包含最后一次提取错误: %v", err)
	}

	_, err = NewMatcher(WithMinInk(2000)).Recognize(imaging.New(100, 140, color.White))
	if !errors.Is(err, ErrLowInk) {
		t.Errorf("笔画不足应返回 ErrLowInk, 实际 %v", err)
	}
}

func TestCropOptions(t *testing.T) {
	cfg := defaultMatchConfig()
	WithCropIndices(0, 1, 2, 5, 99)(&cfg)
	if len(cfg.crops) != 4 || cfg.crops[3] != DefaultCrops[5] {
		t.Errorf("裁剪选择错误: %+v", cfg.crops)
	}
	WithCrops()(&cfg)
	if len(cfg.crops) != 4 {
		t.Error("空的裁剪列表不应覆盖原配置")
	}
}

func TestRecognizeImageInput(t *testing.T) {
	if _, err := RecognizeImage(42); err == nil {
		t.Error("不支持的输入类型应返回错误")
	}
}
