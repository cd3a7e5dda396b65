package ocr

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Extract 从牌面左上角提取 32x32 特征
//
// 裁剪区域按比例换算并夹到图像范围内；先在裁剪区内按隔点扫描找笔画包围盒，
// 命中数不足时退回整个裁剪区；再缩放到 32x32 做二值化。
func Extract(img image.Image, crop Crop) (*Features, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	sx := clamp(int(math.Floor(float64(w)*crop.X)), 0, w-1)
	sy := clamp(int(math.Floor(float64(h)*crop.Y)), 0, h-1)
	sw := max(1, int(math.Floor(float64(w)*crop.W)))
	sh := max(1, int(math.Floor(float64(h)*crop.H)))
	cw := min(sw, max(1, w-sx))
	ch := min(sh, max(1, h-sy))

	region := imaging.Crop(img, image.Rect(b.Min.X+sx, b.Min.Y+sy, b.Min.X+sx+cw, b.Min.Y+sy+ch))
	// 透明区域按白底处理
	region = imaging.Overlay(imaging.New(cw, ch, color.White), region, image.Pt(0, 0), 1)

	small := fitInk(region)

	white := 0
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, bl := pixel(small, x, y)
			if r > 235 && g > 235 && bl > 235 {
				white++
			}
		}
	}
	whiteRatio := float64(white) / Cells
	if whiteRatio < 0.12 {
		return nil, ErrLowWhiteRatio
	}

	f := analyze(small)
	f.WhiteRatio = whiteRatio
	return f, nil
}

// fitInk 裁到笔画包围盒并缩放到 32x32，样本和模板共用
func fitInk(img *image.NRGBA) *image.NRGBA {
	return imaging.Resize(imaging.Crop(img, inkBounds(img)), Size, Size, imaging.Linear)
}

// inkBounds 隔点扫描笔画包围盒，四周留 2 像素；命中不超过 12 个时返回整个区域
func inkBounds(img *image.NRGBA) image.Rectangle {
	b := img.Bounds()
	cw, ch := b.Dx(), b.Dy()
	minX, minY, maxX, maxY := cw, ch, 0, 0
	hits := 0
	for y := 0; y < ch; y += 2 {
		for x := 0; x < cw; x += 2 {
			r, g, bl := pixel(img, x, y)
			isRed := int(r) > int(g)+30 && int(r) > int(bl)+30 && r > 90
			isDark := r < 210 || g < 210 || bl < 210
			if !isRed && !isDark {
				continue
			}
			// 很浅的灰色是边框或阴影
			if r > 230 && g > 230 && bl > 230 {
				continue
			}
			hits++
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if hits <= 12 {
		return image.Rect(0, 0, cw, ch)
	}
	const pad = 2
	minX = max(0, minX-pad)
	minY = max(0, minY-pad)
	maxX = min(cw-1, maxX+pad)
	maxY = min(ch-1, maxY+pad)
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// analyze 笔画强度、Otsu 二值化、红色比例、投影和分块特征
func analyze(img *image.NRGBA) *Features {
	f := &Features{}
	for y := 0; y < Size; y++ {
		for x := 0; x < Size; x++ {
			r, g, b := pixel(img, x, y)
			f.Ink[y*Size+x] = 255 - luma(r, g, b)
		}
	}
	thr := otsuThreshold(f.Ink[:])

	red := 0
	for i := 0; i < Cells; i++ {
		if int(f.Ink[i]) <= thr {
			continue
		}
		f.Bin[i] = 1
		f.InkCount++
		r, g, b := pixel(img, i%Size, i/Size)
		if int(r) > int(g)+25 && int(r) > int(b)+25 {
			red++
		}
	}
	if f.InkCount > 0 {
		f.RedRatio = float64(red) / float64(f.InkCount)
	}
	f.Rows, f.Cols = projections(&f.Bin)
	f.Blocks = blockSums(&f.Ink)
	return f
}

func pixel(img *image.NRGBA, x, y int) (r, g, b uint8) {
	b0 := img.Bounds()
	i := img.PixOffset(b0.Min.X+x, b0.Min.Y+y)
	return img.Pix[i], img.Pix[i+1], img.Pix[i+2]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
