// Package logger 提供统一的日志工具
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析日志级别字符串
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// sink 同一棵 logger 树共享的输出状态
type sink struct {
	mu       sync.Mutex
	level    Level
	enabled  bool
	console  bool
	file     bool
	filePath string
	extra    io.Writer
	logger   *log.Logger
	fileOut  *os.File
}

// Logger 日志记录器
//
// Named 派生的子 logger 与父 logger 共享级别和输出，只在行首多一个组件名。
type Logger struct {
	out  *sink
	name string
}

// 全局默认 logger
var defaultLogger = New()

// New 创建新的 Logger 实例
func New() *Logger {
	return &Logger{
		out: &sink{
			level:   INFO,
			enabled: true,
			console: true,
			logger:  log.New(os.Stdout, "", 0),
		},
	}
}

// Default 获取默认 logger
func Default() *Logger {
	return defaultLogger
}

// Named 派生带组件名的子 logger
func (l *Logger) Named(name string) *Logger {
	if l.name != "" {
		name = l.name + "." + name
	}
	return &Logger{out: l.out, name: name}
}

// Name 组件名
func (l *Logger) Name() string {
	return l.name
}

// SetLevel 设置日志级别
func (l *Logger) SetLevel(level Level) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.level = level
}

// GetLevel 当前日志级别
func (l *Logger) GetLevel() Level {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	return l.out.level
}

// SetEnabled 设置是否启用日志
func (l *Logger) SetEnabled(enabled bool) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.enabled = enabled
}

// SetConsole 设置是否输出到控制台
func (l *Logger) SetConsole(enabled bool) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.console = enabled
	l.out.updateOutput()
}

// SetOutput 额外的输出目标，nil 表示取消
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.extra = w
	l.out.updateOutput()
}

// SetFile 设置是否输出到文件
func (l *Logger) SetFile(enabled bool, path string) error {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()

	// 关闭旧文件
	if s.fileOut != nil {
		s.fileOut.Close()
		s.fileOut = nil
	}

	s.file = enabled
	s.filePath = path

	if enabled && path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			s.updateOutput()
			return fmt.Errorf("无法打开日志文件: %w", err)
		}
		s.fileOut = f
	}

	s.updateOutput()
	return nil
}

func (s *sink) updateOutput() {
	var writers []io.Writer

	if s.console {
		writers = append(writers, os.Stdout)
	}
	if s.file && s.fileOut != nil {
		writers = append(writers, s.fileOut)
	}
	if s.extra != nil {
		writers = append(writers, s.extra)
	}

	if len(writers) == 0 {
		s.logger.SetOutput(io.Discard)
	} else if len(writers) == 1 {
		s.logger.SetOutput(writers[0])
	} else {
		s.logger.SetOutput(io.MultiWriter(writers...))
	}
}

// log 内部日志方法
func (l *Logger) log(level Level, format string, args ...interface{}) {
	s := l.out
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || level < s.level {
		return
	}

	timestamp := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	if l.name != "" {
		s.logger.Printf("%s | %-5s | %s | %s", timestamp, level.String(), l.name, msg)
		return
	}
	s.logger.Printf("%s | %-5s | %s", timestamp, level.String(), msg)
}

// Debug 输出 DEBUG 级别日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info 输出 INFO 级别日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn 输出 WARN 级别日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error 输出 ERROR 级别日志
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// LogEvent 记录带分类的事件日志
//
// 识别失败属于正常情况，NG 事件只记为 DEBUG。
func (l *Logger) LogEvent(category string, ok bool, elapsedMs float64, detail string) {
	if ok {
		l.Info("%-4s | OK | %6.1fms | %s", category, elapsedMs, detail)
	} else {
		l.Debug("%-4s | NG | %6.1fms | %s", category, elapsedMs, detail)
	}
}

// Close 关闭 logger，释放资源
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.fileOut != nil {
		err := l.out.fileOut.Close()
		l.out.fileOut = nil
		l.out.updateOutput()
		return err
	}
	return nil
}

// Options 日志配置
type Options struct {
	Level   string
	Console bool
	File    string
}

// Configure 按配置设置默认 logger
func Configure(opts Options) error {
	defaultLogger.SetLevel(ParseLevel(opts.Level))
	defaultLogger.SetConsole(opts.Console)
	return defaultLogger.SetFile(opts.File != "", opts.File)
}

// 包级别便捷函数
func Debug(format string, args ...interface{}) { defaultLogger.Debug(format, args...) }
func Info(format string, args ...interface{})  { defaultLogger.Info(format, args...) }
func Warn(format string, args ...interface{})  { defaultLogger.Warn(format, args...) }
func Error(format string, args ...interface{}) { defaultLogger.Error(format, args...) }
func Named(name string) *Logger                { return defaultLogger.Named(name) }
func LogEvent(category string, ok bool, elapsedMs float64, detail string) {
	defaultLogger.LogEvent(category, ok, elapsedMs, detail)
}
