package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/vision/ocr"
)

// ErrUnknownAsset 素材位置未知，无法批量识别
var ErrUnknownAsset = errors.New("素材位置未知")

// 批量识别的确认阈值
const (
	DeckMinScore = 0.56
	DeckMinDelta = 0.02
)

// deckCrops 批量识别使用的裁剪区域下标
var deckCrops = []int{0, 1, 2, 5}

// DeckReport 批量识别结果
type DeckReport struct {
	Asset   deck.Asset           `json:"asset"`
	Mapping map[int]card.Card    `json:"mapping"`
	Images  map[card.Card]string `json:"cardImageById"`
	Failed  []int                `json:"failed"`
}

// Entries 报告中的映射转为映射表条目
func (r *DeckReport) Entries() map[string]card.Card {
	out := make(map[string]card.Card, len(r.Mapping))
	for idx, c := range r.Mapping {
		out[r.Asset.TokenFor(idx)] = c
	}
	return out
}

// CalibrateDeck 逐个加载素材序号 start..end 的图像并识别
//
// start/end 非法时使用 1..32。结果不会直接写入映射表，由调用方决定如何应用。
func (p *Pipeline) CalibrateDeck(ctx context.Context, asset deck.Asset, start, end int) (*DeckReport, error) {
	if asset.Origin == "" || asset.BasePath == "" {
		return nil, ErrUnknownAsset
	}
	if p.loader == nil || p.recognizer == nil {
		return nil, fmt.Errorf("批量识别不可用: 未配置图像加载器")
	}
	if start <= 0 {
		start = 1
	}
	if end < start {
		end = card.DeckSize
	}

	report := &DeckReport{
		Asset:   asset,
		Mapping: make(map[int]card.Card),
		Images:  make(map[card.Card]string),
	}
	startTime := time.Now()
	for i := start; i <= end; i++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		u, _ := asset.URLFor(i)

		loadCtx, cancel := context.WithTimeout(ctx, p.loadTimeout)
		img, err := p.loader.Load(loadCtx, u)
		cancel()
		if err != nil {
			p.log.Debug("加载素材失败 %d: %v", i, err)
			report.Failed = append(report.Failed, i)
			continue
		}

		cand, err := p.recognizer.Recognize(img, ocr.WithCropIndices(deckCrops...))
		if err != nil || cand == nil || !cand.Card.Valid() || cand.Score < DeckMinScore || cand.Delta < DeckMinDelta {
			report.Failed = append(report.Failed, i)
			continue
		}
		report.Mapping[i] = cand.Card
		report.Images[cand.Card] = u
	}

	p.log.LogEvent("DECK", len(report.Failed) == 0, elapsedMs(startTime),
		fmt.Sprintf("%s 识别 %d 张, 失败 %d 张", asset.BasePath, len(report.Mapping), len(report.Failed)))
	return report, nil
}
