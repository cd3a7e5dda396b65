package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/zoeyai/belottracker/internal/logger"
	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/resolver"
	"github.com/zoeyai/belottracker/pkg/token"
)

// Calibrate 用户手动指定 token 对应的牌，返回写入的键
func (e *Engine) Calibrate(tok string, c card.Card) ([]string, error) {
	if !c.Valid() {
		return nil, card.ErrInvalidCard
	}
	keys := e.store.Calibrate(tok, c)
	if len(keys) == 0 {
		return nil, fmt.Errorf("无法校准空 token")
	}
	// 手动校准优先于之前的识别结果
	if k, ok := token.Key(tok); ok {
		e.pipe.Cache().Forget(k)
	}
	logger.LogEvent("CALIB", true, 0, fmt.Sprintf("%s -> %s (%d 个键)", tok, c.ID(), len(keys)))
	return keys, nil
}

// ClearMapping 清空映射表及识别缓存，素材位置保留
func (e *Engine) ClearMapping() {
	e.store.Clear()
	e.pipe.Cache().Clear()
	e.log.Info("映射表已清空")
}

// AutoCalibrate 素材位置已知且映射不足 32 条时按已知排列补全
func (e *Engine) AutoCalibrate() bool {
	return e.store.AutoCalibrate()
}

// CalibrateDeck 批量识别整副牌并合并结果
func (e *Engine) CalibrateDeck(ctx context.Context, start, end int) (*resolver.DeckReport, int, error) {
	started := time.Now()
	report, err := e.pipe.CalibrateDeck(ctx, e.store.Asset(), start, end)
	if err != nil {
		return nil, 0, err
	}
	n := e.ApplyDeckReport(report)
	logger.LogEvent("DECK", len(report.Failed) == 0, float64(time.Since(started).Microseconds())/1000,
		fmt.Sprintf("识别 %d 张, 失败 %d, 写入 %d", len(report.Mapping), len(report.Failed), n))
	return report, n, nil
}

// ApplyDeckReport 合并批量识别结果，不覆盖已有映射
func (e *Engine) ApplyDeckReport(report *resolver.DeckReport) int {
	if report == nil {
		return 0
	}
	n := e.store.Merge(report.Entries(), false)
	for idx, c := range report.Mapping {
		e.store.AddSample(idx, c)
	}
	e.store.SetImages(report.Images)
	return n
}
