package feed

import (
	"context"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/zoeyai/belottracker/pkg/card"
)

// Version 客户端版本
const Version = "1.0.0"

// ClientStatus 客户端状态
type ClientStatus string

const (
	StatusDisconnected ClientStatus = "disconnected"
	StatusConnecting   ClientStatus = "connecting"
	StatusConnected    ClientStatus = "connected"
	StatusReconnecting ClientStatus = "reconnecting"
)

// SystemInfo 系统信息
type SystemInfo struct {
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	OSVersion     string `json:"osVersion"`
	KernelVersion string `json:"kernelVersion,omitempty"`
	ClientVersion string `json:"clientVersion"`
	UptimeSeconds uint64 `json:"uptimeSeconds,omitempty"`
}

// GetSystemInfo 获取当前系统信息，gopsutil 不可用时退回 runtime 信息
func GetSystemInfo() *SystemInfo {
	hostname, _ := os.Hostname()
	platform := strings.ToUpper(runtime.GOOS)
	if platform == "DARWIN" {
		platform = "MACOS"
	}
	info := &SystemInfo{
		Hostname:      hostname,
		Platform:      platform,
		OSVersion:     runtime.GOOS + "/" + runtime.GOARCH,
		ClientVersion: Version,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if h, err := host.InfoWithContext(ctx); err == nil {
		if h.Hostname != "" {
			info.Hostname = h.Hostname
		}
		if h.PlatformVersion != "" {
			info.OSVersion = h.Platform + " " + h.PlatformVersion + " (" + runtime.GOARCH + ")"
		}
		info.KernelVersion = h.KernelVersion
		info.UptimeSeconds = h.Uptime
	}
	return info
}

// ResourceInfo 进程资源占用
type ResourceInfo struct {
	CPUPercent    float64 `json:"cpuPercent"`
	RSSBytes      uint64  `json:"rssBytes"`
	MemoryPercent float64 `json:"memoryPercent"`
}

// GetResourceInfo 读取当前进程的资源占用
func GetResourceInfo(ctx context.Context) *ResourceInfo {
	out := &ResourceInfo{}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			out.CPUPercent = cpu
		}
		if m, err := p.MemoryInfoWithContext(ctx); err == nil {
			out.RSSBytes = m.RSS
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		out.MemoryPercent = float64(out.RSSBytes) / float64(vm.Total) * 100
	}
	return out
}

// ClientConfig 客户端配置
type ClientConfig struct {
	// ServerURL 服务端地址
	ServerURL string `toml:"server_url"`
	// AccessKey 访问密钥
	AccessKey string `toml:"access_key"`
	// SecretKey 秘密密钥
	SecretKey string `toml:"secret_key"`
	// HeartbeatInterval 心跳间隔（秒）
	HeartbeatInterval int `toml:"heartbeat_interval"`
	// ReconnectDelays 重连延迟序列（秒）
	ReconnectDelays []int `toml:"reconnect_delays"`
}

// DefaultConfig 默认配置
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		HeartbeatInterval: 5,
		ReconnectDelays:   []int{2, 5, 10, 30, 60},
	}
}

// StatusCallback 状态变更回调函数
type StatusCallback func(status ClientStatus)

// Handler 处理服务端下发的命令
type Handler interface {
	// Reset 清空已出现列表
	Reset()
	// Calibrate 手动校准 token，返回写入的键
	Calibrate(tok string, c card.Card) ([]string, error)
}

// SummaryFunc 心跳附带的计数器概要
type SummaryFunc func() *Summary

// Summary 计数器概要
type Summary struct {
	Seen      int  `json:"seen"`
	Remaining int  `json:"remaining"`
	MapKeys   int  `json:"mapKeys"`
	Running   bool `json:"running"`
}

// LogEntry 日志条目
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}
