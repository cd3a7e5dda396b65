package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/zoeyai/belottracker/internal/logger"
)

var pageLog = logger.Named("page")

// FilePage 从 JSON 文件读取页面快照
//
// 文件由浏览器侧的采集脚本写入；文件不存在等同于页面上没有牌桌。
type FilePage struct {
	Path string
}

// NewFilePage 创建文件页面
func NewFilePage(path string) *FilePage {
	return &FilePage{Path: path}
}

// Snapshot 读取当前快照
func (p *FilePage) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("读取页面快照失败: %w", err)
	}
	if len(data) == 0 {
		return &Snapshot{}, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析页面快照失败: %w", err)
	}
	return &snap, nil
}

// Write 原子写入快照，供采集端与测试使用
func (p *FilePage) Write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化页面快照失败: %w", err)
	}
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("写入页面快照失败: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("写入页面快照失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("写入页面快照失败: %w", err)
	}
	return os.Rename(tmp.Name(), p.Path)
}

// Watch 监听快照文件变化并回调 onChange，直到 ctx 取消
//
// 监听的是所在目录，文件被替换或重建后仍能收到事件。
func (p *FilePage) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(p.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}
	name := filepath.Clean(p.Path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			pageLog.Warn("快照文件监听错误: %v", err)
		}
	}
}
