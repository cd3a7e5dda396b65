package ocr

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
)

var olog = logger.Named("ocr")

// matchConfig 识别配置
type matchConfig struct {
	crops  []Crop
	minInk int
}

// Option 识别选项
type Option func(*matchConfig)

// WithCrops 指定依次尝试的裁剪区域
func WithCrops(crops ...Crop) Option {
	return func(c *matchConfig) {
		if len(crops) > 0 {
			c.crops = crops
		}
	}
}

// WithCropIndices 从默认裁剪区域中按下标挑选
func WithCropIndices(indices ...int) Option {
	return func(c *matchConfig) {
		crops := make([]Crop, 0, len(indices))
		for _, i := range indices {
			if i >= 0 && i < len(DefaultCrops) {
				crops = append(crops, DefaultCrops[i])
			}
		}
		if len(crops) > 0 {
			c.crops = crops
		}
	}
}

// WithMinInk 最少笔画像素数
func WithMinInk(n int) Option {
	return func(c *matchConfig) {
		c.minInk = n
	}
}

func defaultMatchConfig() matchConfig {
	return matchConfig{
		crops:  DefaultCrops,
		minInk: 16,
	}
}

// Matcher 模板匹配识别器
type Matcher struct {
	cfg matchConfig
}

// 全局单例实例
var (
	globalMatcher *Matcher
	globalOnce    sync.Once
)

// NewMatcher 创建识别器
func NewMatcher(opts ...Option) *Matcher {
	cfg := defaultMatchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Matcher{cfg: cfg}
}

// GetGlobalMatcher 获取全局识别器
func GetGlobalMatcher() *Matcher {
	globalOnce.Do(func() {
		globalMatcher = NewMatcher()
	})
	return globalMatcher
}

// Recognize 识别一张牌面图
//
// 依次尝试每个裁剪区域，取分数最高者；分数接近 (0.01 以内) 时取区分度更大的。
// 所有裁剪区域都不可用时返回 ErrNoMatch。
func (m *Matcher) Recognize(img image.Image, opts ...Option) (*Candidate, error) {
	cfg := m.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	startTime := time.Now()
	templates := Templates()

	var best *Candidate
	var lastErr error
	for ci, crop := range cfg.crops {
		feat, err := Extract(img, crop)
		if err != nil {
			lastErr = err
			continue
		}
		if feat.InkCount < cfg.minInk {
			lastErr = ErrLowInk
			continue
		}
		cand, ok := Match(feat, templates)
		if !ok {
			continue
		}
		cand.Crop = ci
		if best == nil ||
			cand.Score > best.Score+0.01 ||
			(cand.Score >= best.Score-0.01 && cand.Delta > best.Delta+0.02) {
			c := cand
			best = &c
		}
	}

	elapsed := float64(time.Since(startTime).Microseconds()) / 1000
	if best == nil {
		if lastErr == nil {
			olog.LogEvent("OCR", false, elapsed, "no_match")
			return nil, ErrNoMatch
		}
		olog.LogEvent("OCR", false, elapsed, lastErr.Error())
		return nil, fmt.Errorf("%w: %w", ErrNoMatch, lastErr)
	}
	olog.LogEvent("OCR", true, elapsed, fmt.Sprintf("%s@%.2f Δ%.2f c%d", best.Card.ID(), best.Score, best.Delta, best.Crop))
	return best, nil
}

// Match 用全部模板给特征打分，返回最佳牌和与第二名的差值
func Match(feat *Features, templates []Template) (Candidate, bool) {
	if feat == nil || len(templates) == 0 {
		return Candidate{}, false
	}
	polarity := feat.Polarity()
	bestByCard := make(map[card.Card]float64, card.DeckSize)
	for i := range templates {
		t := &templates[i]
		score := Score(feat, t)
		if (polarity == PolarityRed && !t.Red) || (polarity == PolarityBlack && t.Red) {
			score *= 0.96
		}
		if prev, ok := bestByCard[t.Card]; !ok || score > prev {
			bestByCard[t.Card] = score
		}
	}

	var bestCard card.Card
	bestScore, second := -1.0, -1.0
	for _, c := range card.All() {
		score, ok := bestByCard[c]
		if !ok {
			continue
		}
		if score > bestScore {
			second = bestScore
			bestScore = score
			bestCard = c
		} else if score > second {
			second = score
		}
	}
	if !bestCard.Valid() {
		return Candidate{}, false
	}
	return Candidate{
		Card:     bestCard,
		Score:    bestScore,
		Delta:    bestScore - second,
		Polarity: polarity,
	}, true
}

// Score 0.62 分块余弦 + 0.18 二值 Jaccard + 0.20 投影相似度
func Score(feat *Features, t *Template) float64 {
	cos := cosine(feat.Blocks[:], t.Blocks[:])
	j := jaccard(&feat.Bin, &t.Bin)
	p := (projSim(feat.Rows[:], t.Rows[:]) + projSim(feat.Cols[:], t.Cols[:])) / 2
	return cos*0.62 + j*0.18 + p*0.2
}
