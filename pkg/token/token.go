// Package token 将任意素材引用 (URL、属性值、srcset) 归一化为查找键
package token

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	deckTailPattern = regexp.MustCompile(`(deck_[^/]+/[^/]+)$`)
	extPattern      = regexp.MustCompile(`(?i)\.(png|jpg|jpeg|webp|svg)$`)
	digitsPattern   = regexp.MustCompile(`\d+`)
	queryPattern    = regexp.MustCompile(`[?#]`)
)

// ShadowSegment 阴影变体素材目录
const ShadowSegment = "/shadow/"

// StripQuery 去掉 query 和 fragment
func StripQuery(raw string) string {
	return queryPattern.Split(raw, 2)[0]
}

// CollapseShadow 将阴影变体目录折叠为基础目录，不含变体时返回 false
func CollapseShadow(s string) (string, bool) {
	if !strings.Contains(s, ShadowSegment) {
		return s, false
	}
	return strings.Replace(s, ShadowSegment, "/", 1), true
}

// DeckTail 提取末尾的 deck_<N>/<file>
func DeckTail(s string) (string, bool) {
	m := deckTailPattern.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// IsAbsoluteURL 是否为 http(s) 绝对地址
func IsAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Normalize 生成按特异性排列的候选键
//
// 顺序: 原值、绝对 URL 的路径、去 query、折叠阴影目录、deck 尾部、文件名、
// 去扩展名的文件名、文件名中的第一段数字。同一调用内不去重。
func Normalize(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	keys := []string{raw}

	if IsAbsoluteURL(raw) {
		if p, ok := PathOf(raw, ""); ok {
			keys = append(keys, p)
		}
	}

	noQuery := StripQuery(raw)
	if noQuery != "" && noQuery != raw {
		keys = append(keys, noQuery)
	}

	if collapsed, ok := CollapseShadow(noQuery); ok {
		keys = append(keys, collapsed)
	}

	if tail, ok := DeckTail(noQuery); ok {
		keys = append(keys, tail)
	}

	base := noQuery
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if base != "" {
		keys = append(keys, base)
		noExt := extPattern.ReplaceAllString(base, "")
		if noExt != "" {
			keys = append(keys, noExt)
			if digits := digitsPattern.FindString(noExt); digits != "" {
				keys = append(keys, digits)
			}
		}
	}

	return keys
}

// PathOf 解析引用的 URL 路径，相对引用基于 base (为空时视为站点根)
func PathOf(ref, base string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	if base == "" {
		base = "http://localhost/"
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	p := baseURL.ResolveReference(u).EscapedPath()
	if p == "" {
		p = "/"
	}
	return p, true
}

// Key 引用的存储键: 绝对地址取 URL 路径，其余去掉 query 和 fragment
//
// 返回值总是 Normalize(raw) 的候选之一，识别结果按它写入映射表和识别缓存。
func Key(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if IsAbsoluteURL(raw) {
		if p, ok := PathOf(raw, ""); ok {
			return p, true
		}
	}
	k := StripQuery(raw)
	return k, k != ""
}

// ParseSrcset 拆分 srcset，返回每个候选的 URL 路径
func ParseSrcset(srcset, base string) []string {
	var out []string
	for _, part := range strings.Split(srcset, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if p, ok := PathOf(fields[0], base); ok {
			out = append(out, p)
		}
	}
	return out
}

// Candidates 返回某个属性值对应的候选 token
//
// 原值总是第一个；srcset 类属性展开为各个 URL 路径，
// src 类属性或形似路径的值追加其 URL 路径。
func Candidates(attr, value, base string) []string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return nil
	}
	out := []string{raw}

	if strings.HasSuffix(attr, "srcset") {
		return append(out, ParseSrcset(raw, base)...)
	}

	if strings.HasSuffix(attr, "src") || strings.Contains(raw, "/") || strings.Contains(raw, ".png") || strings.HasPrefix(raw, "http") {
		if p, ok := PathOf(raw, base); ok {
			out = append(out, p)
		}
	}
	return out
}

// CalibrationKeys 手动校准时写入映射表的键 (去重)
func CalibrationKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	noQuery := StripQuery(raw)
	keys := []string{raw}
	if noQuery != "" && noQuery != raw {
		keys = append(keys, noQuery)
	}
	if collapsed, ok := CollapseShadow(noQuery); ok && noQuery != "" {
		keys = append(keys, collapsed)
	}
	src := noQuery
	if src == "" {
		src = raw
	}
	if tail, ok := DeckTail(src); ok {
		keys = append(keys, tail)
	}
	return Dedupe(keys)
}

// Dedupe 去重并保持顺序
func Dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
