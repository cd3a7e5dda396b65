package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zoeyai/belottracker/pkg/card"
	"github.com/zoeyai/belottracker/pkg/deck"
	"github.com/zoeyai/belottracker/pkg/store"
)

// FixedSelector 目标站点的牌桌选择器
const FixedSelector = "#js__gameplay-page .table__cards"

// 持久化键
const (
	KeySeen              = "seen"
	KeyPreventDuplicates = "preventDuplicates"
	KeyAutoReadEnabled   = "autoReadEnabled"
	KeyAutoReadSelector  = "autoReadSelector"
	KeyAutoReadMap       = "autoReadMap"
	KeyDeckIndexSamples  = "deckIndexSamples"
	KeyDeckIndexConfig   = "deckIndexConfig"
	KeyDeckAssetOrigin   = "deckAssetOrigin"
	KeyDeckAssetBasePath = "deckAssetBasePath"
	KeyDeckAssetExt      = "deckAssetExt"
	KeyCardImageByID     = "cardImageById"
	KeyTrumpSuit         = "trumpSuit"
)

// AllKeys 全部持久化键
var AllKeys = []string{
	KeySeen,
	KeyPreventDuplicates,
	KeyAutoReadEnabled,
	KeyAutoReadSelector,
	KeyAutoReadMap,
	KeyDeckIndexSamples,
	KeyDeckIndexConfig,
	KeyDeckAssetOrigin,
	KeyDeckAssetBasePath,
	KeyDeckAssetExt,
	KeyCardImageByID,
	KeyTrumpSuit,
}

// MappingKeys 映射表相关的键
var MappingKeys = []string{
	KeyAutoReadMap,
	KeyDeckIndexSamples,
	KeyDeckIndexConfig,
	KeyDeckAssetOrigin,
	KeyDeckAssetBasePath,
	KeyDeckAssetExt,
	KeyCardImageByID,
}

// Settings 除已出现列表外的全部设置
type Settings struct {
	PreventDuplicates bool                 `json:"preventDuplicates"`
	AutoReadEnabled   bool                 `json:"autoReadEnabled"`
	AutoReadSelector  string               `json:"autoReadSelector"`
	AutoReadMap       map[string]card.Card `json:"autoReadMap"`
	DeckIndexSamples  deck.Samples         `json:"deckIndexSamples"`
	DeckIndexConfig   *deck.Config         `json:"deckIndexConfig"`
	DeckAssetOrigin   string               `json:"deckAssetOrigin"`
	DeckAssetBasePath string               `json:"deckAssetBasePath"`
	DeckAssetExt      string               `json:"deckAssetExt"`
	CardImageByID     map[card.Card]string `json:"cardImageById"`
	TrumpSuit         string               `json:"trumpSuit"`
}

// State 完整的持久化状态
type State struct {
	Seen []card.Card `json:"seen"`
	Settings
}

// DefaultState 默认状态
func DefaultState() *State {
	return &State{
		Seen: []card.Card{},
		Settings: Settings{
			PreventDuplicates: true,
			AutoReadEnabled:   true,
			AutoReadSelector:  FixedSelector,
			AutoReadMap:       map[string]card.Card{},
			DeckIndexSamples:  deck.Samples{},
			DeckAssetExt:      deck.DefaultExt,
			CardImageByID:     map[card.Card]string{},
		},
	}
}

// Asset 素材位置
func (s *State) Asset() deck.Asset {
	return deck.Asset{Origin: s.DeckAssetOrigin, BasePath: s.DeckAssetBasePath, Ext: s.DeckAssetExt}
}

// SetAsset 写入素材位置
func (s *State) SetAsset(a deck.Asset) {
	s.DeckAssetOrigin = a.Origin
	s.DeckAssetBasePath = a.BasePath
	s.DeckAssetExt = a.Ext
	if s.DeckAssetExt == "" {
		s.DeckAssetExt = deck.DefaultExt
	}
}

// fields 原始 JSON 字段集合，按键逐个做类型校验
type fields map[string]json.RawMessage

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && len(v) > 0 && string(v) != "null"
}

func (f fields) bool(key string) (bool, bool) {
	var v bool
	if !f.has(key) || json.Unmarshal(f[key], &v) != nil {
		return false, false
	}
	return v, true
}

func (f fields) string(key string) (string, bool) {
	var v string
	if !f.has(key) || json.Unmarshal(f[key], &v) != nil {
		return "", false
	}
	return v, true
}

func (f fields) object(key string) (map[string]json.RawMessage, bool) {
	var v map[string]json.RawMessage
	if !f.has(key) || json.Unmarshal(f[key], &v) != nil {
		return nil, false
	}
	return v, true
}

// seen 返回字段存在且为数组时的合法牌，顺序不变
func (f fields) seen(key string) ([]card.Card, bool) {
	var raw []json.RawMessage
	if !f.has(key) || json.Unmarshal(f[key], &raw) != nil {
		return nil, false
	}
	out := make([]card.Card, 0, len(raw))
	for _, item := range raw {
		var id string
		if json.Unmarshal(item, &id) != nil {
			continue
		}
		if c, err := card.Parse(id); err == nil {
			out = append(out, c)
		}
	}
	return out, true
}

func parseCardMap(raw map[string]json.RawMessage) map[string]card.Card {
	out := make(map[string]card.Card, len(raw))
	for tok, v := range raw {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		var id string
		if json.Unmarshal(v, &id) != nil {
			continue
		}
		if c, err := card.Parse(id); err == nil {
			out[tok] = c
		}
	}
	return out
}

func parseImages(raw map[string]json.RawMessage) map[card.Card]string {
	out := make(map[card.Card]string, len(raw))
	for id, v := range raw {
		c, err := card.Parse(id)
		if err != nil {
			continue
		}
		var u string
		if json.Unmarshal(v, &u) != nil || u == "" {
			continue
		}
		out[c] = u
	}
	return out
}

func parseTrump(s string) string {
	if s == "" {
		return ""
	}
	if _, err := card.ParseSuit(s); err != nil {
		return ""
	}
	return s
}

// applyFields 依次从 sources 中取第一个类型正确的字段，都没有时保留 st 中的默认值
func applyFields(st *State, sources ...fields) {
	firstBool := func(key string) (bool, bool) {
		for _, f := range sources {
			if v, ok := f.bool(key); ok {
				return v, true
			}
		}
		return false, false
	}
	firstString := func(key string) (string, bool) {
		for _, f := range sources {
			if v, ok := f.string(key); ok {
				return v, true
			}
		}
		return "", false
	}
	firstObject := func(key string) (map[string]json.RawMessage, json.RawMessage, bool) {
		for _, f := range sources {
			if v, ok := f.object(key); ok {
				return v, f[key], true
			}
		}
		return nil, nil, false
	}

	if v, ok := firstBool(KeyPreventDuplicates); ok {
		st.PreventDuplicates = v
	}
	if v, ok := firstBool(KeyAutoReadEnabled); ok {
		st.AutoReadEnabled = v
	}
	if v, ok := firstString(KeyAutoReadSelector); ok {
		st.AutoReadSelector = strings.TrimSpace(v)
	}
	if v, _, ok := firstObject(KeyAutoReadMap); ok {
		st.AutoReadMap = parseCardMap(v)
	}
	if _, raw, ok := firstObject(KeyDeckIndexSamples); ok {
		st.DeckIndexSamples = deck.ParseSamples(raw)
	}
	if _, raw, ok := firstObject(KeyDeckIndexConfig); ok {
		st.DeckIndexConfig, _ = deck.ParseConfig(raw)
	}
	if v, ok := firstString(KeyDeckAssetOrigin); ok {
		st.DeckAssetOrigin = v
	}
	if v, ok := firstString(KeyDeckAssetBasePath); ok {
		st.DeckAssetBasePath = v
	}
	if v, ok := firstString(KeyDeckAssetExt); ok {
		st.DeckAssetExt = v
	}
	if v, _, ok := firstObject(KeyCardImageByID); ok {
		st.CardImageByID = parseImages(v)
	}
	if v, ok := firstString(KeyTrumpSuit); ok {
		st.TrumpSuit = parseTrump(v)
	}
}

// LoadState 读取全部持久化键，每个字段都经过校验，非法或缺失时使用默认值
func LoadState(ctx context.Context, kv store.KV) (*State, error) {
	values, err := kv.Get(ctx, AllKeys...)
	if err != nil {
		return DefaultState(), fmt.Errorf("读取状态失败: %w", err)
	}
	raw := make(fields, len(values))
	for k, v := range values {
		raw[k] = v
	}
	st := DefaultState()
	if seen, ok := raw.seen(KeySeen); ok {
		st.Seen = seen
	}
	applyFields(st, raw)
	return st, nil
}

// SaveState 写入指定的键，未指定时写入全部
func SaveState(ctx context.Context, kv store.KV, st *State, keys ...string) error {
	if len(keys) == 0 {
		keys = AllKeys
	}
	values, err := st.Encode(keys...)
	if err != nil {
		return err
	}
	if err := kv.Set(ctx, values); err != nil {
		return fmt.Errorf("保存状态失败: %w", err)
	}
	return nil
}

// Encode 将指定的键编码为存储值
func (s *State) Encode(keys ...string) (map[string][]byte, error) {
	values := make(map[string][]byte, len(keys))
	for _, k := range keys {
		var v any
		switch k {
		case KeySeen:
			v = card.IDs(s.Seen)
		case KeyPreventDuplicates:
			v = s.PreventDuplicates
		case KeyAutoReadEnabled:
			v = s.AutoReadEnabled
		case KeyAutoReadSelector:
			v = s.AutoReadSelector
		case KeyAutoReadMap:
			v = nonNilMap(s.AutoReadMap)
		case KeyDeckIndexSamples:
			if s.DeckIndexSamples == nil {
				v = deck.Samples{}
			} else {
				v = s.DeckIndexSamples
			}
		case KeyDeckIndexConfig:
			v = s.DeckIndexConfig
		case KeyDeckAssetOrigin:
			v = s.DeckAssetOrigin
		case KeyDeckAssetBasePath:
			v = s.DeckAssetBasePath
		case KeyDeckAssetExt:
			v = s.DeckAssetExt
		case KeyCardImageByID:
			if s.CardImageByID == nil {
				v = map[card.Card]string{}
			} else {
				v = s.CardImageByID
			}
		case KeyTrumpSuit:
			v = s.TrumpSuit
		default:
			return nil, fmt.Errorf("未知的状态键: %s", k)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("编码 %s 失败: %w", k, err)
		}
		values[k] = data
	}
	return values, nil
}

func nonNilMap(m map[string]card.Card) map[string]card.Card {
	if m == nil {
		return map[string]card.Card{}
	}
	return m
}
