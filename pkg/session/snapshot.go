package session

import (
	"context"
	"strings"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/token"
)

// Attrs 扫描时读取的属性
var Attrs = []string{
	"aria-label",
	"title",
	"alt",
	"data-card",
	"data-value",
	"src",
	"srcset",
	"data-src",
	"data-srcset",
}

// CardClass 牌面图的 class
const CardClass = "table__cards--card"

// Image 页面上的一张图
type Image struct {
	Src        string `json:"src,omitempty"`
	CurrentSrc string `json:"currentSrc,omitempty"`
	SrcSet     string `json:"srcset,omitempty"`
	DataSrc    string `json:"dataSrc,omitempty"`
	DataSrcSet string `json:"dataSrcset,omitempty"`
	Class      string `json:"class,omitempty"`
	Visible    bool   `json:"visible"`
}

// Source 当前加载的地址
func (img Image) Source() string {
	if img.CurrentSrc != "" {
		return img.CurrentSrc
	}
	return img.Src
}

// Snapshot 一次页面观察的结果
type Snapshot struct {
	// RootFound 是否找到牌桌根节点
	RootFound bool `json:"rootFound"`
	// RootIsImage 根节点本身就是图片
	RootIsImage bool `json:"rootIsImage,omitempty"`
	// RootAttrs 根节点属性
	RootAttrs map[string]string `json:"rootAttrs,omitempty"`
	// Images 根节点内的图片
	Images []Image `json:"images,omitempty"`
	// Nodes 根节点内带有 Attrs 属性的元素
	Nodes []map[string]string `json:"nodes,omitempty"`
	// OverlayVisible 局终结算层是否可见
	OverlayVisible bool `json:"overlayVisible"`
	// URL 页面地址
	URL string `json:"url,omitempty"`
}

// CardImages 牌面图: 优先带牌面 class 的图，其次路径像牌面的图，最后全部图片
func (s *Snapshot) CardImages() []Image {
	if s == nil || !s.RootFound {
		return nil
	}
	var classed, cardish []Image
	for _, img := range s.Images {
		if strings.Contains(img.Class, CardClass) {
			classed = append(classed, img)
		}
	}
	if len(classed) > 0 {
		return classed
	}
	for _, img := range s.Images {
		src := img.Source()
		if strings.Contains(src, "/cards/") || strings.Contains(src, "/deck_") {
			cardish = append(cardish, img)
		}
	}
	if len(cardish) > 0 {
		return cardish
	}
	return s.Images
}

// HasCards 是否有可见的牌面图
func (s *Snapshot) HasCards() bool {
	for _, img := range s.CardImages() {
		if img.Visible {
			return true
		}
	}
	return false
}

// Tokens 牌面图的 URL 路径 token，最多 limit 个
func (s *Snapshot) Tokens(limit int) []string {
	var out []string
	for _, img := range s.CardImages() {
		src := img.Source()
		if src == "" {
			continue
		}
		if p, ok := token.PathOf(src, s.URL); ok {
			out = append(out, p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// DeckAsset 从牌面图地址识别素材位置
func (s *Snapshot) DeckAsset() (deck.Asset, bool) {
	for _, img := range s.CardImages() {
		src := img.Source()
		if src == "" {
			continue
		}
		ref := src
		if !token.IsAbsoluteURL(src) && s.URL != "" {
			if p, ok := resolveAgainst(src, s.URL); ok {
				ref = p
			}
		}
		if a, ok := deck.DetectAsset(ref); ok {
			return a, true
		}
	}
	return deck.Asset{}, false
}

// Page 页面观察者
type Page interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// DebugInfo 扫描诊断信息
type DebugInfo struct {
	SelectorFound  bool        `json:"selectorFound"`
	HasCards       bool        `json:"hasCards"`
	Paused         bool        `json:"paused"`
	OverlayVisible bool        `json:"overlayVisible"`
	ImgCount       int         `json:"imgCount"`
	Tokens         []string    `json:"tokensSample"`
	Unmapped       []string    `json:"unmappedTokensSample"`
	Found          []card.Card `json:"foundIds"`
	New            []card.Card `json:"newIds"`
	MapKeys        int         `json:"mapKeys"`
	Asset          *deck.Asset `json:"deckAsset,omitempty"`
}

// Emitter 接收扫描事件
type Emitter interface {
	Cards(cards []card.Card)
	RoundEnd()
	SessionEnd()
	Debug(info DebugInfo)
}
