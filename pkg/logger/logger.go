package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level 日志级别
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

// String 返回日志级别的字符串表示
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
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel 解析配置中的级别名称, 无法识别时返回 INFO
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	case FATAL:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger 日志记录器
type Logger struct {
	zl     zerolog.Logger
	level  Level
	file   *lumberjack.Logger
	prefix string
}

// Config 日志配置
type Config struct {
	Level      Level  `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Prefix     string `yaml:"prefix"`

	// Verbose 为 true 时同时输出到 Stdout
	Verbose bool      `yaml:"-"`
	Stdout  io.Writer `yaml:"-"`
}

// NewLogger 创建新的日志记录器
func NewLogger(config *Config) (*Logger, error) {
	l := &Logger{
		level:  config.Level,
		prefix: config.Prefix,
	}

	var writers []io.Writer

	out, err := l.setOutput(config)
	if err != nil {
		return nil, err
	}
	if out != nil {
		writers = append(writers, out)
	}

	if config.Verbose {
		stdout := config.Stdout
		if stdout == nil {
			stdout = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    !isTerminal(stdout),
		})
	}

	var w io.Writer = io.Discard
	if len(writers) == 1 {
		w = writers[0]
	} else if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	ctx := zerolog.New(w).Level(config.Level.zerolog()).With().Timestamp()
	if config.Prefix != "" {
		ctx = ctx.Str("component", config.Prefix)
	}
	l.zl = ctx.Logger()

	return l, nil
}

// NewNop 返回丢弃所有输出的日志记录器
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop(), level: FATAL}
}

// setOutput 设置日志输出
func (l *Logger) setOutput(config *Config) (io.Writer, error) {
	var out io.Writer
	switch config.Output {
	case "":
		return nil, nil
	case "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		if err := l.setFileOutput(config); err != nil {
			return nil, err
		}
		out = l.file
	}

	if config.Format == "text" {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000", NoColor: true}, nil
	}
	return out, nil
}

// setFileOutput 设置文件输出, 轮转交给 lumberjack
func (l *Logger) setFileOutput(config *Config) error {
	dir := filepath.Dir(config.Output)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	// 提前打开一次, 让权限问题在启动时暴露
	f, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	f.Close()

	l.file = &lumberjack.Logger{
		Filename:   config.Output,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Debug 记录调试日志
func (l *Logger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info 记录信息日志
func (l *Logger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn 记录警告日志
func (l *Logger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Err 记录带错误字段的错误日志
func (l *Logger) Err(err error, format string, args ...interface{}) {
	l.zl.Error().Err(err).Msgf(format, args...)
}

// With 返回附带字段的子记录器
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{
		zl:     l.zl.With().Interface(key, value).Logger(),
		level:  l.level,
		file:   l.file,
		prefix: l.prefix,
	}
}

// Component 返回指定组件名的子记录器
func (l *Logger) Component(name string) *Logger {
	child := l.With("component", name)
	child.prefix = name
	return child
}

// IsDebug 检查是否为调试级别
func (l *Logger) IsDebug() bool {
	return l.level <= DEBUG
}

// Close 关闭日志记录器
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
