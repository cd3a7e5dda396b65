package engine

import (
	"context"
	"time"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/resolver"
	"github.com/zoeyai/belottracker/pkg/session"
	"github.com/zoeyai/belottracker/pkg/tracker"
)

// Status 引擎状态概要
type Status struct {
	Seen           []string           `json:"seen"`
	Remaining      tracker.Remaining  `json:"remaining"`
	Trump          string             `json:"trumpSuit"`
	MapKeys        int                `json:"mapKeys"`
	Asset          deck.Asset         `json:"deckAsset"`
	Config         *deck.Config       `json:"deckIndexConfig"`
	SessionRunning bool               `json:"sessionRunning"`
	Paused         bool               `json:"paused"`
	LastDebug      *session.DebugInfo `json:"lastDebug,omitempty"`
}

// Status 当前状态
func (e *Engine) Status() Status {
	st := Status{
		Seen:      card.IDs(e.tracker.Seen()),
		Remaining: e.tracker.Remaining(),
		MapKeys:   e.store.Len(),
		Asset:     e.store.Asset(),
		Config:    e.store.Config(),
		LastDebug: e.LastDebug(),
	}
	if s := e.tracker.Trump(); s.Valid() {
		st.Trump = s.Code()
	}
	if s := e.currentSession(); s != nil {
		st.SessionRunning = s.Running()
		st.Paused = s.Paused()
	}
	return st
}

// Export 导出完整状态
func (e *Engine) Export() tracker.Document {
	return tracker.Export(e.State(), e.now())
}

// Import 导入文档并覆盖全部状态
func (e *Engine) Import(data []byte) error {
	st, err := tracker.Import(data)
	if err != nil {
		return err
	}
	start := time.Now()
	e.apply(st)
	e.pipe.Cache().Clear()
	e.persist(tracker.AllKeys...)
	e.log.Info("导入完成: 已出现 %d 张, 映射 %d 条 (%s)", len(st.Seen), e.store.Len(), time.Since(start))
	if s := e.currentSession(); s != nil {
		s.Reset(false)
		s.Trigger()
	}
	return nil
}

// Resolve 解析单个引用，允许一次模板识别
func (e *Engine) Resolve(ctx context.Context, raw string) resolver.Result {
	return e.pipe.Resolve(ctx, raw)
}
