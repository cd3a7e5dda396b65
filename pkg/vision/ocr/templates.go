package ocr

import (
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/vector"

	"github.com/zoeyai/belottracker/pkg/card"
)

// redInk 红色花色的墨色 #c00
var redInk = color.RGBA{R: 0xcc, A: 0xff}

// templateScale 模板按 32x32 布局放大绘制，再按笔画包围盒缩回 32x32
const templateScale = 2

// glyphOffset 点数左上角 (x, y) 与花色顶边 sy，按 32x32 布局计
type glyphOffset struct {
	x, y, sy int
}

var glyphOffsets = []glyphOffset{
	{x: 1, y: 0, sy: 14},
	{x: 2, y: 1, sy: 15},
}

var (
	templateOnce sync.Once
	templateSet  []Template
)

// Templates 进程内共享的模板集，首次调用时生成
func Templates() []Template {
	templateOnce.Do(func() {
		templateSet = BuildTemplates()
	})
	return templateSet
}

// BuildTemplates 为 32 张牌合成模板：3 种点数字体 x 3 种花色来源 x 2 个偏移
//
// 第三种花色来源直接用矢量轮廓绘制，字体缺少花色字形时也会退回矢量轮廓。
func BuildTemplates() []Template {
	rankFonts := parseFonts(gobold.TTF, gomonobold.TTF, gomedium.TTF)
	suitFonts := append(parseFonts(goregular.TTF, gomono.TTF), nil)

	out := make([]Template, 0, card.DeckSize*len(rankFonts)*len(suitFonts)*len(glyphOffsets))
	for _, c := range card.All() {
		for _, rf := range rankFonts {
			for _, sf := range suitFonts {
				for _, off := range glyphOffsets {
					img := RenderTemplate(c, rf, sf, off.x, off.y, off.sy)
					out = append(out, templateFrom(c, img))
				}
			}
		}
	}
	olog.Debug("模板生成完成: %d 个", len(out))
	return out
}

func parseFonts(data ...[]byte) []*truetype.Font {
	out := make([]*truetype.Font, 0, len(data))
	for _, d := range data {
		f, err := truetype.Parse(d)
		if err != nil {
			olog.Warn("解析内置字体失败: %v", err)
			continue
		}
		out = append(out, f)
	}
	return out
}

// RenderTemplate 在白底上绘制点数和花色
//
// 坐标和字号按 32x32 布局给出，实际画布放大 templateScale 倍。
// suitFont 为 nil 时花色使用矢量轮廓。
func RenderTemplate(c card.Card, rankFont, suitFont *truetype.Font, x, y, sy int) *image.NRGBA {
	const k = templateScale
	x, y, sy = x*k, y*k, sy*k
	// 四周留边，花色底部不被截断
	dst := image.NewRGBA(image.Rect(0, 0, (Size+4)*k, (Size+4)*k))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)

	var ink color.Color = color.Black
	if c.Suit.IsRed() {
		ink = redInk
	}

	rankSize := 18.0
	if c.Rank == card.Ten {
		rankSize = 16
	}
	if rankFont != nil {
		drawText(dst, rankFont, rankSize*k, x, y, c.Rank.Code(), ink)
	}

	symbol := []rune(c.Suit.Symbol())[0]
	if suitFont != nil && suitFont.Index(symbol) != 0 {
		drawText(dst, suitFont, 18*k, x+k, sy, string(symbol), ink)
	} else {
		drawSuitShape(dst, c.Suit, x+k, sy, 18*k, ink)
	}
	return imaging.Clone(dst)
}

// drawText 以顶边对齐绘制文字
func drawText(img *image.RGBA, f *truetype.Font, fontSize float64, x, y int, text string, col color.Color) {
	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(fontSize)
	c.SetClip(img.Bounds())
	c.SetDst(img)
	c.SetSrc(image.NewUniform(col))
	c.SetHinting(font.HintingFull)

	pt := freetype.Pt(x, y+int(c.PointToFixed(fontSize)>>6))
	if _, err := c.DrawString(text, pt); err != nil {
		olog.Debug("绘制模板文字失败: %s, %v", text, err)
	}
}

// drawSuitShape 用矢量轮廓绘制花色，轮廓坐标为单位方框内的比例
func drawSuitShape(img *image.RGBA, s card.Suit, x, y int, size float64, col color.Color) {
	w := float32(size * 0.72)
	h := float32(size * 0.78)
	bw, bh := int(w)+2, int(h)+2

	z := vector.NewRasterizer(bw, bh)
	pt := func(u, v float32) (float32, float32) {
		return 1 + u*w, 1 + v*h
	}
	moveTo := func(u, v float32) { z.MoveTo(pt(u, v)) }
	lineTo := func(u, v float32) { z.LineTo(pt(u, v)) }
	cubeTo := func(u1, v1, u2, v2, u3, v3 float32) {
		ax, ay := pt(u1, v1)
		bx, by := pt(u2, v2)
		cx, cy := pt(u3, v3)
		z.CubeTo(ax, ay, bx, by, cx, cy)
	}
	ellipse := func(cu, cv, r float32) {
		const k = 0.5523
		moveTo(cu+r, cv)
		cubeTo(cu+r, cv+k*r, cu+k*r, cv+r, cu, cv+r)
		cubeTo(cu-k*r, cv+r, cu-r, cv+k*r, cu-r, cv)
		cubeTo(cu-r, cv-k*r, cu-k*r, cv-r, cu, cv-r)
		cubeTo(cu+k*r, cv-r, cu+r, cv-k*r, cu+r, cv)
		z.ClosePath()
	}
	stem := func(top float32) {
		moveTo(0.5, top)
		lineTo(0.68, 1)
		lineTo(0.32, 1)
		z.ClosePath()
	}

	// 所有子路径同为顺时针，重叠部分不会互相抵消
	switch s {
	case card.Diamond:
		moveTo(0.5, 0)
		lineTo(1, 0.5)
		lineTo(0.5, 1)
		lineTo(0, 0.5)
		z.ClosePath()
	case card.Heart:
		moveTo(0.5, 1)
		cubeTo(0.1, 0.7, -0.05, 0.35, 0.05, 0.18)
		cubeTo(0.15, -0.02, 0.45, 0, 0.5, 0.25)
		cubeTo(0.55, 0, 0.85, -0.02, 0.95, 0.18)
		cubeTo(1.05, 0.35, 0.9, 0.7, 0.5, 1)
		z.ClosePath()
	case card.Spade:
		moveTo(0.5, 0)
		cubeTo(0.9, 0.3, 1.05, 0.5, 0.95, 0.62)
		cubeTo(0.85, 0.78, 0.6, 0.8, 0.5, 0.66)
		cubeTo(0.4, 0.8, 0.15, 0.78, 0.05, 0.62)
		cubeTo(-0.05, 0.5, 0.1, 0.3, 0.5, 0)
		z.ClosePath()
		stem(0.6)
	case card.Club:
		ellipse(0.5, 0.25, 0.22)
		ellipse(0.25, 0.58, 0.22)
		ellipse(0.75, 0.58, 0.22)
		stem(0.5)
	default:
		return
	}

	mask := image.NewAlpha(image.Rect(0, 0, bw, bh))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})

	oy := y + int(size*0.18)
	r := image.Rect(x, oy, x+bw, oy+bh)
	draw.DrawMask(img, r, image.NewUniform(col), image.Point{}, mask, image.Point{}, draw.Over)
}

// templateFrom 模板走与样本相同的包围盒和特征流程，不检查白底比例
func templateFrom(c card.Card, img *image.NRGBA) Template {
	f := analyze(fitInk(img))
	return Template{
		Card:   c,
		Red:    c.Suit.IsRed(),
		Bin:    f.Bin,
		Rows:   f.Rows,
		Cols:   f.Cols,
		Blocks: f.Blocks,
	}
}
