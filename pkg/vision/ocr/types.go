package ocr

import (
	"errors"

	"github.com/zoeyai/belottracker/pkg/card"
)

const (
	// Size 归一化边长
	Size = 32
	// Cells 归一化像素数
	Cells = Size * Size
	// BlockGrid 分块特征的网格边长
	BlockGrid = 8
	// Blocks 分块特征维数
	Blocks = BlockGrid * BlockGrid
)

var (
	// ErrEmptyImage 图像为空或无法读取
	ErrEmptyImage = errors.New("图像为空")
	// ErrLowWhiteRatio 白色背景不足，通常是牌背或非牌面图
	ErrLowWhiteRatio = errors.New("白色背景比例过低")
	// ErrLowInk 有效笔画太少
	ErrLowInk = errors.New("笔画像素不足")
	// ErrNoMatch 没有可用的裁剪区域
	ErrNoMatch = errors.New("未识别到牌面")
)

// Crop 裁剪区域，坐标为宽高的比例
type Crop struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
	W float64 `json:"w" toml:"w"`
	H float64 `json:"h" toml:"h"`
}

// DefaultCrop 左上角索引区域
var DefaultCrop = Crop{X: 0.02, Y: 0.02, W: 0.28, H: 0.44}

// DefaultCrops 识别时依次尝试的裁剪区域，先紧后松
var DefaultCrops = []Crop{
	{X: 0.00, Y: 0.00, W: 0.24, H: 0.34},
	{X: 0.01, Y: 0.01, W: 0.26, H: 0.36},
	{X: 0.02, Y: 0.02, W: 0.28, H: 0.38},
	{X: 0.03, Y: 0.02, W: 0.24, H: 0.34},
	{X: 0.04, Y: 0.03, W: 0.26, H: 0.36},
	// 索引偏下时的兜底
	{X: 0.02, Y: 0.02, W: 0.30, H: 0.44},
	{X: 0.03, Y: 0.03, W: 0.32, H: 0.50},
}

// Polarity 样本的红黑倾向
type Polarity int

const (
	PolarityUnknown Polarity = iota
	PolarityRed
	PolarityBlack
)

func (p Polarity) String() string {
	switch p {
	case PolarityRed:
		return "red"
	case PolarityBlack:
		return "black"
	default:
		return "unknown"
	}
}

// Features 32x32 归一化后的特征
type Features struct {
	Ink        [Cells]uint8
	Bin        [Cells]uint8
	InkCount   int
	RedRatio   float64
	Rows       [Size]float64
	Cols       [Size]float64
	Blocks     [Blocks]float64
	WhiteRatio float64
}

// Polarity 按红色笔画比例估计颜色
func (f *Features) Polarity() Polarity {
	switch {
	case f.RedRatio > 0.22:
		return PolarityRed
	case f.RedRatio < 0.07:
		return PolarityBlack
	default:
		return PolarityUnknown
	}
}

// Template 合成模板
type Template struct {
	Card   card.Card
	Red    bool
	Bin    [Cells]uint8
	Rows   [Size]float64
	Cols   [Size]float64
	Blocks [Blocks]float64
}

// Candidate 识别结果
type Candidate struct {
	Card     card.Card
	Score    float64
	Delta    float64
	Polarity Polarity
	Crop     int
}
