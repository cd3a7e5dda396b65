package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zoeyai/belottracker/pkg/card"
)

// DocumentVersion 导出文档版本
const DocumentVersion = 1

var (
	// ErrInvalidDocument 导出文档不是 JSON 对象
	ErrInvalidDocument = errors.New("JSON 无效: 需要一个对象")
	// ErrMissingSeen 导出文档缺少 seen 数组
	ErrMissingSeen = errors.New(`JSON 无效: 需要 "seen" 数组`)
)

// Document 备份/恢复文档
type Document struct {
	Version    int      `json:"version"`
	ExportedAt string   `json:"exportedAt"`
	Seen       []string `json:"seen"`
	Settings   Settings `json:"settings"`
}

// Export 生成导出文档
func Export(st *State, now time.Time) Document {
	doc := Document{
		Version:    DocumentVersion,
		ExportedAt: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Seen:       card.IDs(st.Seen),
		Settings:   st.Settings,
	}
	if doc.Settings.AutoReadMap == nil {
		doc.Settings.AutoReadMap = map[string]card.Card{}
	}
	if doc.Settings.CardImageByID == nil {
		doc.Settings.CardImageByID = map[card.Card]string{}
	}
	return doc
}

// Import 解析导出文档
//
// 字段可以在顶层或 settings 下，顶层优先；seen (或 Seen) 必须是数组。
// 自动读取总是开启，选择器固定为目标站点的牌桌。
func Import(data []byte) (*State, error) {
	var top fields
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return nil, ErrInvalidDocument
	}

	seen, ok := top.seen("seen")
	if !ok {
		seen, ok = top.seen("Seen")
	}
	if !ok {
		return nil, ErrMissingSeen
	}

	var settings fields
	if raw, ok := top.object("settings"); ok {
		settings = raw
	}

	st := DefaultState()
	applyFields(st, top, settings)
	st.AutoReadEnabled = true
	st.AutoReadSelector = FixedSelector
	if st.PreventDuplicates {
		seen = card.DedupePreserveOrder(seen)
	}
	st.Seen = seen
	return st, nil
}

// MarshalDocument 以缩进格式编码
func MarshalDocument(doc Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("编码导出文档失败: %w", err)
	}
	return data, nil
}
