package ocr

import "time"

// Tier 一档确认条件
type Tier struct {
	MinScore float64 `json:"minScore" toml:"min_score"`
	MinDelta float64 `json:"minDelta" toml:"min_delta"`
	MinHits  int     `json:"minHits" toml:"min_hits"`
}

// Policy 识别结果的确认策略
//
// 任意一档满足即确认；宁可不识别，也不误识别。
type Policy struct {
	Tiers   []Tier        `json:"tiers"`
	FailTTL time.Duration `json:"failTtl"`
}

// DefaultPolicy 默认确认策略
func DefaultPolicy() Policy {
	return Policy{
		Tiers: []Tier{
			{MinScore: 0.72, MinDelta: 0.06, MinHits: 1},
			{MinScore: 0.66, MinDelta: 0.04, MinHits: 2},
			{MinScore: 0.60, MinDelta: 0.03, MinHits: 3},
			{MinScore: 0.55, MinDelta: 0.01, MinHits: 6},
			{MinScore: 0.48, MinDelta: 0, MinHits: 12},
		},
		FailTTL: 15 * time.Second,
	}
}

// Accept 分数、区分度和连续命中次数是否足以确认
func (p Policy) Accept(score, delta float64, hits int) bool {
	for _, t := range p.Tiers {
		if score >= t.MinScore && delta >= t.MinDelta && hits >= t.MinHits {
			return true
		}
	}
	return false
}
