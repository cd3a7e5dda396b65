package store

import (
	"context"
	"sync"
)

// Memory 内存存储
type Memory struct {
	hub
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, values map[string][]byte) error {
	if err := validate(values); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	for k, v := range values {
		m.data[k] = append([]byte(nil), v...)
	}
	m.mu.Unlock()
	m.emit(keysOf(values))
	return nil
}

func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	var removed []string
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			removed = append(removed, k)
		}
	}
	m.mu.Unlock()
	m.emit(removed)
	return nil
}

func (m *Memory) Watch(fn func(Change)) func() {
	return m.watch(fn)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
