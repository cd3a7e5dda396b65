package deck

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/zoeyai/belottracker/pkg/token"
)

var (
	assetPathPattern = regexp.MustCompile(`(?i)^(.*/)(deck_\d+)/(\d+)\.(png|jpe?g|webp|svg)$`)
	assetURLPattern  = regexp.MustCompile(`(?i)^(https?://[^/]+)(/.*/)(deck_\d+)/(\d+)\.(png|jpe?g|webp|svg)$`)
	deckPathPattern  = regexp.MustCompile(`(?i)/deck_\d+/\d+\.(png|jpe?g|webp|svg)$`)
	deckRelPattern   = regexp.MustCompile(`(?i)^deck_\d+/`)
	deckAnyPattern   = regexp.MustCompile(`(?i)deck_\d+/\d+\.(png|jpe?g|webp|svg)$`)
)

// DefaultExt 素材默认扩展名
const DefaultExt = "png"

// Asset 牌组素材位置
type Asset struct {
	Origin   string `json:"origin"`
	BasePath string `json:"basePath"`
	Ext      string `json:"ext"`
}

// Known 已知基础路径
func (a Asset) Known() bool {
	return a.BasePath != ""
}

func (a Asset) ext() string {
	if a.Ext == "" {
		return DefaultExt
	}
	return a.Ext
}

// TokenFor 序号对应的路径 token
func (a Asset) TokenFor(index int) string {
	return a.BasePath + strconv.Itoa(index) + "." + a.ext()
}

// URLFor 序号对应的绝对地址
func (a Asset) URLFor(index int) (string, bool) {
	if a.Origin == "" || a.BasePath == "" {
		return "", false
	}
	return a.Origin + a.TokenFor(index), true
}

// Resolve 将 token 解析为可加载的地址
func (a Asset) Resolve(tok string) (string, bool) {
	if tok == "" {
		return "", false
	}
	if token.IsAbsoluteURL(tok) {
		return tok, true
	}
	if a.Origin == "" {
		return "", false
	}
	if deckRelPattern.MatchString(tok) {
		file := tok[strings.LastIndex(tok, "/")+1:]
		if file != "" && a.BasePath != "" {
			return a.Origin + a.BasePath + file, true
		}
	}
	base, err := url.Parse(a.Origin)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(tok)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// DetectAsset 从精灵图地址识别素材位置
func DetectAsset(rawURL string) (Asset, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Asset{}, false
	}
	m := assetPathPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return Asset{}, false
	}
	out := Asset{BasePath: m[1] + m[2] + "/", Ext: m[4]}
	if u.Scheme != "" && u.Host != "" {
		out.Origin = u.Scheme + "://" + u.Host
	}
	return out, true
}

// InferAsset 从映射表的键补全素材位置
//
// 已有 origin 和基础路径时不做修改。完整 URL 键可同时得到 origin、路径与扩展名，
// 路径键只能补全路径与扩展名。返回是否有改动。
func InferAsset(cur Asset, keys []string) (Asset, bool) {
	if cur.BasePath != "" && cur.Origin != "" {
		return cur, false
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	for _, k := range sorted {
		noQuery := token.StripQuery(k)
		if m := assetURLPattern.FindStringSubmatch(noQuery); m != nil {
			next := cur
			if next.Origin == "" {
				next.Origin = m[1]
			}
			if next.BasePath == "" {
				next.BasePath = m[2] + m[3] + "/"
			}
			if next.Ext == "" || next.Ext == DefaultExt {
				next.Ext = m[5]
			}
			return next, next != cur
		}
		if m := assetPathPattern.FindStringSubmatch(noQuery); m != nil {
			next := cur
			if next.BasePath == "" {
				next.BasePath = m[1] + m[2] + "/"
			}
			if next.Ext == "" || next.Ext == DefaultExt {
				next.Ext = m[4]
			}
			return next, next != cur
		}
	}
	return cur, false
}

// IsDeckToken token 是否指向 deck 精灵图
func IsDeckToken(tok string) bool {
	return deckAnyPattern.MatchString(tok)
}

// ScoreToken 为选择牌面展示图给 token 打分，越高越适合直接加载
func ScoreToken(tok string) int {
	score := 0
	if token.IsAbsoluteURL(tok) {
		score += 3
	}
	if strings.HasPrefix(tok, "/") {
		score += 2
	}
	if strings.Contains(tok, "/static/") {
		score += 2
	}
	if len(strings.Split(tok, "/")) > 3 {
		score++
	}
	if deckPathPattern.MatchString(tok) {
		score += 4
	}
	if deckRelPattern.MatchString(tok) {
		score -= 2
	}
	if strings.Contains(tok, token.ShadowSegment) {
		score--
	} else {
		score += 2
	}
	return score
}
