// Package store 提供带变更通知的持久化键值存储
//
// 所有后端保存的值都是 JSON 文档，键与浏览器扩展的本地存储一一对应。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("存储已关闭")
	// ErrInvalidValue 值不是合法的 JSON
	ErrInvalidValue = errors.New("存储值不是合法的 JSON")
	// ErrUnknownDriver 未知的存储驱动
	ErrUnknownDriver = errors.New("未知的存储驱动")
)

// Change 一次变更涉及的键
type Change struct {
	Keys []string
}

// Has 变更是否包含 key
func (c Change) Has(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// KV 键值存储
type KV interface {
	// Get 读取多个键，不存在的键不出现在结果中
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	// Set 批量写入
	Set(ctx context.Context, values map[string][]byte) error
	// Delete 批量删除
	Delete(ctx context.Context, keys ...string) error
	// Watch 注册变更回调，返回取消函数
	Watch(fn func(Change)) (cancel func())
	Close() error
}

// Driver 存储驱动名
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverFile     Driver = "file"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
)

// Config 存储配置
type Config struct {
	Driver Driver `toml:"driver"`
	// Path file 与 sqlite 驱动的文件路径
	Path string `toml:"path"`
	// DSN postgres 连接串或 redis URL
	DSN string `toml:"dsn"`
	// Prefix redis 键前缀
	Prefix string `toml:"prefix"`
}

// Open 按配置打开存储
func Open(ctx context.Context, cfg Config) (KV, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		return OpenFile(cfg.Path)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.Path)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case DriverRedis:
		return OpenRedis(ctx, cfg.DSN, cfg.Prefix)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// GetJSON 读取并解码单个键，键不存在时返回 false
func GetJSON(ctx context.Context, kv KV, key string, v any) (bool, error) {
	values, err := kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	data, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("解码 %s 失败: %w", key, err)
	}
	return true, nil
}

// SetJSON 编码并写入单个键
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("编码 %s 失败: %w", key, err)
	}
	return kv.Set(ctx, map[string][]byte{key: data})
}

func validate(values map[string][]byte) error {
	for k, v := range values {
		if !json.Valid(v) {
			return fmt.Errorf("%w: %s", ErrInvalidValue, k)
		}
	}
	return nil
}

func keysOf(values map[string][]byte) []string {
	out := make([]string, 0, len(values))
	for k := range values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// hub 变更回调表
type hub struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Change)
}

func (h *hub) watch(fn func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(Change))
	}
	id := h.next
	h.next++
	h.fns[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.fns, id)
	}
}

func (h *hub) emit(keys []string) {
	if len(keys) == 0 {
		return
	}
	h.mu.Lock()
	fns := make([]func(Change), 0, len(h.fns))
	for _, fn := range h.fns {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(Change{Keys: append([]string(nil), keys...)})
	}
}
