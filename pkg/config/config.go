package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v9"
	"gopkg.in/yaml.v3"

	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/utils"
)

// 源格式
const (
	FormatHosts   = "hosts"
	FormatDomains = "domains"
	FormatPlain   = "plain"
	FormatDNSMasq = "dnsmasq"
	FormatAdGuard = "adguard"
)

// SourceConfig 单个规则源配置
type SourceConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Format  string `yaml:"format"`
	Enabled *bool  `yaml:"enabled"`
}

// IsEnabled 未设置 enabled 时视为启用
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Config 应用配置结构
type Config struct {
	// 白名单/黑名单文件
	Overrides struct {
		Whitelist string `yaml:"whitelist" env:"HOSTSBLOCK_WHITELIST"`
		Blacklist string `yaml:"blacklist" env:"HOSTSBLOCK_BLACKLIST"`
	} `yaml:"overrides"`

	// 远程规则源
	Sources struct {
		Hosts   []string       `yaml:"hosts" env:"HOSTSBLOCK_HOSTS_SOURCES" envSeparator:","`
		Domains []string       `yaml:"domains" env:"HOSTSBLOCK_DOMAIN_SOURCES" envSeparator:","`
		Lists   []SourceConfig `yaml:"lists"`
	} `yaml:"sources"`

	// 输出文件
	Output struct {
		Path string   `yaml:"path" env:"HOSTSBLOCK_OUTPUT"`
		Mode FileMode `yaml:"mode" env:"HOSTSBLOCK_OUTPUT_MODE"`
	} `yaml:"output"`

	// 日志配置
	Logging struct {
		File       string `yaml:"file" env:"HOSTSBLOCK_LOG_FILE"`
		Level      string `yaml:"level" env:"HOSTSBLOCK_LOG_LEVEL"`
		Format     string `yaml:"format"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
	} `yaml:"logging"`

	// 下载配置, 时间单位为秒
	Fetch struct {
		RetryCount     int    `yaml:"retry_count" env:"HOSTSBLOCK_RETRY_COUNT"`
		RetryDelay     int    `yaml:"retry_delay"`
		Timeout        int    `yaml:"timeout" env:"HOSTSBLOCK_TIMEOUT"`
		ConnectTimeout int    `yaml:"connect_timeout"`
		UserAgent      string `yaml:"user_agent"`
		MaxBytes       int64  `yaml:"max_bytes"`
	} `yaml:"fetch"`

	// 检查/清理模式使用的 DNS 配置
	DNS struct {
		Servers    []string `yaml:"servers" env:"HOSTSBLOCK_DNS_SERVERS" envSeparator:","`
		ResolvConf string   `yaml:"resolv_conf"`
		Timeout    int      `yaml:"timeout"`
	} `yaml:"dns"`

	// 监控配置
	Metrics struct {
		Textfile string `yaml:"textfile" env:"HOSTSBLOCK_METRICS_TEXTFILE"`
	} `yaml:"metrics"`
}

// FileMode 八进制文件权限, 例如 "0644"
type FileMode os.FileMode

// UnmarshalText 解析八进制权限字符串
func (m *FileMode) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0o"), "0O")
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return fmt.Errorf("无效的文件权限 %q: %w", string(text), err)
	}
	if v > 0777 {
		return fmt.Errorf("无效的文件权限 %q", string(text))
	}
	*m = FileMode(v)
	return nil
}

// MarshalText 输出四位八进制
func (m FileMode) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%04o", uint32(m))), nil
}

// Perm 转换为 os.FileMode
func (m FileMode) Perm() os.FileMode {
	return os.FileMode(m).Perm()
}

// LoadConfig 加载配置文件并叠加环境变量
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件，使用默认路径
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}
	if configPath == "" {
		return nil, apperr.New(apperr.ErrConfigMissing, "未找到配置文件")
	}

	// 检查配置文件是否存在
	if !utils.FileExists(configPath) {
		return nil, apperr.Newf(apperr.ErrConfigMissing, "配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.ErrConfigMissing, "读取配置文件失败: %s", configPath)
	}

	return Parse(data)
}

// Parse 解析 YAML 配置内容, 叠加环境变量后设置默认值并验证
func Parse(data []byte) (*Config, error) {
	config := newConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfigMissing, "解析配置文件失败")
	}

	if err := env.Parse(&config); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfigMissing, "解析环境变量失败")
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, apperr.Wrap(err, apperr.ErrConfigMissing, "配置验证失败")
	}

	return &config, nil
}

// getDefaultConfigPath 按优先级查找配置文件, 都不存在时返回空
func getDefaultConfigPath() string {
	paths := []string{
		"hostsblock.yaml",
		"configs/config.yaml",
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("hostsblock", "config.yaml")); err == nil {
		paths = append(paths, p)
	}
	paths = append(paths, "/etc/hostsblock/config.yaml")

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// DefaultLogFile 默认日志文件位置
func DefaultLogFile() string {
	return filepath.Join(xdg.StateHome, "hostsblock", "hostsblock.log")
}

// defaultRetryCount 未配置 retry_count 时的重试次数
const defaultRetryCount = 3

// newConfig 返回预置默认值的配置, 用于 0 也是合法取值的字段.
// YAML 和环境变量中未出现的键保留这里的值.
func newConfig() Config {
	var config Config
	config.Fetch.RetryCount = defaultRetryCount
	return config
}

// setDefaults 设置默认配置值
func setDefaults(config *Config) {
	if config.Output.Mode == 0 {
		config.Output.Mode = 0644
	}

	// 日志默认值
	if config.Logging.File == "" {
		config.Logging.File = DefaultLogFile()
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
	if config.Logging.MaxSize == 0 {
		config.Logging.MaxSize = 10
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 3
	}
	if config.Logging.MaxAge == 0 {
		config.Logging.MaxAge = 28
	}

	// 下载默认值
	if config.Fetch.RetryDelay == 0 {
		config.Fetch.RetryDelay = 2
	}
	if config.Fetch.Timeout == 0 {
		config.Fetch.Timeout = 60
	}
	if config.Fetch.ConnectTimeout == 0 {
		config.Fetch.ConnectTimeout = 10
	}
	if config.Fetch.UserAgent == "" {
		config.Fetch.UserAgent = "hostsblock/1.0"
	}
	if config.Fetch.MaxBytes == 0 {
		config.Fetch.MaxBytes = 64 << 20
	}

	// DNS 默认值
	if config.DNS.ResolvConf == "" {
		config.DNS.ResolvConf = "/etc/resolv.conf"
	}
	if config.DNS.Timeout == 0 {
		config.DNS.Timeout = 5
	}

	for i := range config.Sources.Lists {
		src := &config.Sources.Lists[i]
		if src.Name == "" {
			src.Name = sourceName(src.URL)
		}
		src.Format = strings.ToLower(src.Format)
		if src.Format == "" {
			src.Format = FormatHosts
		}
	}
}

// validateConfig 验证配置
func validateConfig(config *Config) error {
	if config.Output.Path == "" {
		return fmt.Errorf("输出文件路径不能为空")
	}
	if len(config.AllSources()) == 0 {
		return fmt.Errorf("至少需要一个启用的规则源")
	}
	for _, src := range config.AllSources() {
		u, err := url.Parse(src.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("无效的规则源地址: %q", src.URL)
		}
		if !isValidFormat(src.Format) {
			return fmt.Errorf("规则源 %s 的格式无效: %s", src.Name, src.Format)
		}
	}
	if !isValidLogLevel(config.Logging.Level) {
		return fmt.Errorf("无效的日志级别: %s", config.Logging.Level)
	}
	if config.Fetch.RetryCount < 0 {
		return fmt.Errorf("重试次数不能为负数: %d", config.Fetch.RetryCount)
	}
	if config.Fetch.Timeout < 0 || config.Fetch.ConnectTimeout < 0 || config.DNS.Timeout < 0 {
		return fmt.Errorf("超时时间不能为负数")
	}
	return nil
}

// AllSources 按配置顺序返回所有启用的规则源: 先 hosts, 再 domains, 最后 lists
func (c *Config) AllSources() []SourceConfig {
	var out []SourceConfig
	for _, u := range c.Sources.Hosts {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, SourceConfig{Name: sourceName(u), URL: u, Format: FormatHosts})
		}
	}
	for _, u := range c.Sources.Domains {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, SourceConfig{Name: sourceName(u), URL: u, Format: FormatDomains})
		}
	}
	for _, src := range c.Sources.Lists {
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	return out
}

// sourceName 从地址推导源名称
func sourceName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host + u.Path
}

// isValidLogLevel 验证日志级别
func isValidLogLevel(level string) bool {
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	level = strings.ToLower(level)
	for _, valid := range validLevels {
		if level == valid {
			return true
		}
	}
	return false
}

func isValidFormat(format string) bool {
	switch format {
	case FormatHosts, FormatDomains, FormatPlain, FormatDNSMasq, FormatAdGuard:
		return true
	}
	return false
}
