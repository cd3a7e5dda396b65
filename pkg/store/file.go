package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/zoeyai/belottracker/internal/logger"
)

var flog = logger.Named("store")

// File 单个 JSON 文档存储
//
// 文件被外部修改时重新加载，并对发生变化的键发出通知。
type File struct {
	hub
	path string

	mu     sync.RWMutex
	data   map[string]json.RawMessage
	closed bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// OpenFile 打开文件存储，文件不存在时视为空
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("文件存储路径为空")
	}
	f := &File{path: filepath.Clean(path), data: make(map[string]json.RawMessage), done: make(chan struct{})}
	data, err := f.read()
	if err != nil {
		return nil, err
	}
	f.data = data

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("监听存储目录失败: %w", err)
	}
	f.watcher = watcher
	go f.watchLoop()
	return f, nil
}

// Path 文件路径
func (f *File) Path() string {
	return f.path
}

func (f *File) read() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("读取存储文件失败: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("解析存储文件失败: %w", err)
	}
	for k, v := range out {
		out[k] = compact(v)
	}
	return out, nil
}

// compact 文件中的值是缩进格式，比较前统一压缩
func compact(v []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return append(json.RawMessage(nil), v...)
	}
	return buf.Bytes()
}

// writeLocked 先写临时文件再改名
func (f *File) writeLocked() error {
	data, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化存储失败: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("写入存储文件失败: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入存储文件失败: %w", err)
	}
	return nil
}

func (f *File) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (f *File) Set(ctx context.Context, values map[string][]byte) error {
	if err := validate(values); err != nil {
		return err
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	for k, v := range values {
		f.data[k] = compact(v)
	}
	err := f.writeLocked()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(keysOf(values))
	return nil
}

func (f *File) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	var removed []string
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			removed = append(removed, k)
		}
	}
	var err error
	if len(removed) > 0 {
		err = f.writeLocked()
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.emit(removed)
	return nil
}

func (f *File) Watch(fn func(Change)) func() {
	return f.watch(fn)
}

func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) watchLoop() {
	defer close(f.done)
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				f.reload()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			flog.Warn("存储文件监听错误: %v", err)
		}
	}
}

// reload 重新读取文件并通知发生变化的键；自身写入不会产生差异
func (f *File) reload() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	next, err := f.read()
	if err != nil {
		f.mu.Unlock()
		// 外部写入过程中可能读到半个文件，等下一次事件
		flog.Debug("重新加载存储文件失败: %v", err)
		return
	}
	changed := diffKeys(f.data, next)
	f.data = next
	f.mu.Unlock()
	if len(changed) > 0 {
		flog.Debug("存储文件外部变更: %v", changed)
	}
	f.emit(changed)
}

func diffKeys(prev, next map[string]json.RawMessage) []string {
	var out []string
	for k, v := range next {
		if old, ok := prev[k]; !ok || !bytes.Equal(old, v) {
			out = append(out, k)
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
