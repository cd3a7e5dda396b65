// Package config 管理 TOML 配置文件与环境变量覆盖
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/zoeyai/belottracker/pkg/feed"
	"github.com/zoeyai/belottracker/pkg/session"
	"github.com/zoeyai/belottracker/pkg/store"
	"github.com/zoeyai/belottracker/pkg/vision/ocr"
)

// DirName 配置目录名 (位于用户目录下)
const DirName = ".belot-tracker"

// Config 应用配置
type Config struct {
	Log     LogConfig     `toml:"log"`
	Scanner ScannerConfig `toml:"scanner"`
	OCR     OCRConfig     `toml:"ocr"`
	Assets  AssetsConfig  `toml:"assets"`
	Page    PageConfig    `toml:"page"`
	Store   store.Config  `toml:"store"`
	Feed    FeedConfig    `toml:"feed"`
	API     APIConfig     `toml:"api"`
}

// LogConfig 日志
type LogConfig struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
	File    string `toml:"file"`
}

// ScannerConfig 扫描节奏，时长均为 time.ParseDuration 格式
type ScannerConfig struct {
	Debounce      string `toml:"debounce"`
	Interval      string `toml:"interval"`
	RootLostAfter string `toml:"root_lost_after"`
	IdleAfter     string `toml:"idle_after"`
	DebugEvery    string `toml:"debug_every"`
}

// OCRConfig 模板识别
type OCRConfig struct {
	Enabled bool       `toml:"enabled"`
	Budget  int        `toml:"budget"`
	FailTTL string     `toml:"fail_ttl"`
	Tiers   []ocr.Tier `toml:"tiers"`
}

// AssetsConfig 图像加载
type AssetsConfig struct {
	Timeout      string `toml:"timeout"`
	RateInterval string `toml:"rate_interval"`
	UserAgent    string `toml:"user_agent"`
	// Root 本地素材目录，站点相对路径基于它解析
	Root string `toml:"root"`
}

// PageConfig 页面快照来源
type PageConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// FeedConfig 事件推送
type FeedConfig struct {
	Enabled           bool   `toml:"enabled"`
	ServerURL         string `toml:"server_url"`
	AccessKey         string `toml:"access_key"`
	SecretKey         string `toml:"secret_key"`
	HeartbeatInterval int    `toml:"heartbeat_interval"`
	ReconnectDelays   []int  `toml:"reconnect_delays"`
}

// APIConfig 本地 HTTP 与 gRPC 健康检查
type APIConfig struct {
	Enabled    bool   `toml:"enabled"`
	Listen     string `toml:"listen"`
	GRPCListen string `toml:"grpc_listen"`
}

// Default 默认配置
func Default() *Config {
	sp := session.DefaultPolicy()
	op := ocr.DefaultPolicy()
	fc := feed.DefaultConfig()
	return &Config{
		Log: LogConfig{Level: "INFO", Console: true},
		Scanner: ScannerConfig{
			Debounce:      sp.Debounce.String(),
			Interval:      sp.Interval.String(),
			RootLostAfter: sp.RootLostAfter.String(),
			IdleAfter:     sp.IdleAfter.String(),
			DebugEvery:    sp.DebugEvery.String(),
		},
		OCR: OCRConfig{
			Enabled: true,
			Budget:  4,
			FailTTL: op.FailTTL.String(),
			Tiers:   op.Tiers,
		},
		Assets: AssetsConfig{
			Timeout:      "6s",
			RateInterval: "50ms",
			UserAgent:    "belot-tracker/1.0",
		},
		Page:  PageConfig{Watch: true},
		Store: store.Config{Driver: store.DriverSQLite, Prefix: "belot"},
		Feed: FeedConfig{
			HeartbeatInterval: fc.HeartbeatInterval,
			ReconnectDelays:   fc.ReconnectDelays,
		},
		API: APIConfig{
			Enabled:    true,
			Listen:     "127.0.0.1:8765",
			GRPCListen: "127.0.0.1:8766",
		},
	}
}

func parseDuration(field, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s 不是合法时长 %q: %w", field, v, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s 不能为负: %q", field, v)
	}
	return d, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	check := func(field, v string) {
		if _, err := parseDuration(field, v); err != nil {
			errs = append(errs, err)
		}
	}
	check("scanner.debounce", c.Scanner.Debounce)
	check("scanner.interval", c.Scanner.Interval)
	check("scanner.root_lost_after", c.Scanner.RootLostAfter)
	check("scanner.idle_after", c.Scanner.IdleAfter)
	check("scanner.debug_every", c.Scanner.DebugEvery)
	check("ocr.fail_ttl", c.OCR.FailTTL)
	check("assets.timeout", c.Assets.Timeout)
	check("assets.rate_interval", c.Assets.RateInterval)

	if c.OCR.Budget < 0 {
		errs = append(errs, fmt.Errorf("ocr.budget 不能为负: %d", c.OCR.Budget))
	}
	switch c.Store.Driver {
	case "", store.DriverMemory, store.DriverFile, store.DriverSQLite, store.DriverPostgres, store.DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", store.ErrUnknownDriver, c.Store.Driver))
	}
	if c.Feed.Enabled && c.Feed.ServerURL == "" {
		errs = append(errs, errors.New("feed.server_url 不能为空"))
	}
	return errors.Join(errs...)
}

// SessionPolicy 扫描节奏；非法时长保留默认值
func (c *Config) SessionPolicy() session.Policy {
	p := session.DefaultPolicy()
	set := func(dst *time.Duration, v string) {
		if d, err := parseDuration("", v); err == nil && d > 0 {
			*dst = d
		}
	}
	set(&p.Debounce, c.Scanner.Debounce)
	set(&p.Interval, c.Scanner.Interval)
	set(&p.RootLostAfter, c.Scanner.RootLostAfter)
	set(&p.IdleAfter, c.Scanner.IdleAfter)
	set(&p.DebugEvery, c.Scanner.DebugEvery)
	return p
}

// OCRPolicy 识别确认策略
func (c *Config) OCRPolicy() ocr.Policy {
	p := ocr.DefaultPolicy()
	if len(c.OCR.Tiers) > 0 {
		p.Tiers = append([]ocr.Tier(nil), c.OCR.Tiers...)
	}
	if d, err := parseDuration("", c.OCR.FailTTL); err == nil && d > 0 {
		p.FailTTL = d
	}
	return p
}

// AssetTimeout 单张图像加载超时
func (c *Config) AssetTimeout() time.Duration {
	d, _ := parseDuration("", c.Assets.Timeout)
	return d
}

// AssetRateInterval 请求间隔，0 表示不限速
func (c *Config) AssetRateInterval() time.Duration {
	d, _ := parseDuration("", c.Assets.RateInterval)
	return d
}

// FeedClient 推送客户端配置
func (c *Config) FeedClient() *feed.ClientConfig {
	out := feed.DefaultConfig()
	out.ServerURL = c.Feed.ServerURL
	out.AccessKey = c.Feed.AccessKey
	out.SecretKey = c.Feed.SecretKey
	if c.Feed.HeartbeatInterval > 0 {
		out.HeartbeatInterval = c.Feed.HeartbeatInterval
	}
	if len(c.Feed.ReconnectDelays) > 0 {
		out.ReconnectDelays = append([]int(nil), c.Feed.ReconnectDelays...)
	}
	return out
}

// Manager 配置管理器
type Manager struct {
	configDir  string
	configFile string
	mu         sync.RWMutex
}

// NewManager 创建配置管理器
func NewManager() *Manager {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return NewManagerWithDir(filepath.Join(homeDir, DirName))
}

// NewManagerWithDir 使用指定目录创建配置管理器
func NewManagerWithDir(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configFile: filepath.Join(configDir, "config.toml"),
	}
}

// NewManagerWithFile 使用指定配置文件创建配置管理器
func NewManagerWithFile(configFile string) *Manager {
	return &Manager{
		configDir:  filepath.Dir(configFile),
		configFile: configFile,
	}
}

// ensureDir 确保配置目录存在
func (m *Manager) ensureDir() error {
	return os.MkdirAll(m.configDir, 0755)
}

// withPaths 补全依赖配置目录的默认路径
func (m *Manager) withPaths(cfg *Config) *Config {
	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case store.DriverSQLite:
			cfg.Store.Path = filepath.Join(m.configDir, "state.db")
		case store.DriverFile:
			cfg.Store.Path = filepath.Join(m.configDir, "state.json")
		}
	}
	if cfg.Page.Path == "" {
		cfg.Page.Path = filepath.Join(m.configDir, "page.json")
	}
	return cfg
}

// Load 加载配置；文件不存在时返回默认值，损坏时返回默认值和错误
func (m *Manager) Load() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return m.withPaths(Default()), nil
	}

	data, err := os.ReadFile(m.configFile)
	if err != nil {
		return m.withPaths(Default()), fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := Default()
	cfg.OCR.Tiers = nil
	cfg.Feed.ReconnectDelays = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return m.withPaths(Default()), fmt.Errorf("解析配置文件失败: %w", err)
	}
	def := Default()
	if len(cfg.OCR.Tiers) == 0 {
		cfg.OCR.Tiers = def.OCR.Tiers
	}
	if len(cfg.Feed.ReconnectDelays) == 0 {
		cfg.Feed.ReconnectDelays = def.Feed.ReconnectDelays
	}
	return m.withPaths(cfg), nil
}

// Save 保存配置
func (m *Manager) Save(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureDir(); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(m.configFile, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Clear 清除配置
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(m.configFile); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(m.configFile)
}

// GetConfigDir 获取配置目录
func (m *Manager) GetConfigDir() string {
	return m.configDir
}

// GetConfigFile 获取配置文件路径
func (m *Manager) GetConfigFile() string {
	return m.configFile
}

// Exists 检查配置文件是否存在
func (m *Manager) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := os.Stat(m.configFile)
	return err == nil
}

// 全局配置管理器
var defaultManager = NewManager()

// GetDefaultManager 获取默认配置管理器
func GetDefaultManager() *Manager {
	return defaultManager
}

// Load 使用默认管理器加载配置
func Load() (*Config, error) {
	return defaultManager.Load()
}

// Save 使用默认管理器保存配置
func Save(cfg *Config) error {
	return defaultManager.Save(cfg)
}

// Clear 使用默认管理器清除配置
func Clear() error {
	return defaultManager.Clear()
}
