package ocr

import "math"

// otsuThreshold 最大类间方差阈值
func otsuThreshold(values []uint8) int {
	var hist [256]int
	for _, v := range values {
		hist[v]++
	}
	total := len(values)
	sum := 0.0
	for i := 0; i < 256; i++ {
		sum += float64(i * hist[i])
	}

	var sumB, varMax float64
	wB := 0
	threshold := 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > varMax {
			varMax = between
			threshold = t
		}
	}
	return threshold
}

func jaccard(a, b *[Cells]uint8) float64 {
	inter, union := 0, 0
	for i := range a {
		av, bv := a[i] == 1, b[i] == 1
		if av || bv {
			union++
		}
		if av && bv {
			inter++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func cosine(a, b []float64) float64 {
	var dot, a2, b2 float64
	for i := range a {
		dot += a[i] * b[i]
		a2 += a[i] * a[i]
		b2 += b[i] * b[i]
	}
	denom := math.Sqrt(a2) * math.Sqrt(b2)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// projSim sum(min)/sum(max)
func projSim(a, b []float64) float64 {
	var minSum, maxSum float64
	for i := range a {
		minSum += math.Min(a[i], b[i])
		maxSum += math.Max(a[i], b[i])
	}
	if maxSum == 0 {
		return 0
	}
	return minSum / maxSum
}

func projections(bin *[Cells]uint8) (rows, cols [Size]float64) {
	for i, v := range bin {
		if v != 1 {
			continue
		}
		rows[i/Size]++
		cols[i%Size]++
	}
	return rows, cols
}

// blockSums 8x8 分块，每块为 4x4 像素的归一化笔画强度之和
func blockSums(ink *[Cells]uint8) (blocks [Blocks]float64) {
	cell := Size / BlockGrid
	for y := 0; y < Size; y++ {
		by := y / cell
		for x := 0; x < Size; x++ {
			bx := x / cell
			blocks[by*BlockGrid+bx] += float64(ink[y*Size+x]) / 255
		}
	}
	return blocks
}

// luma 标准亮度权重
func luma(r, g, b uint8) uint8 {
	return uint8(math.Round(float64(int(r)*299+int(g)*587+int(b)*114) / 1000))
}
