package subscription

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/logger"
	"github.com/winspan/hostsblock/pkg/utils"
)

// 规则源格式
const (
	FormatHosts   = "hosts"
	FormatDomains = "domains"
	FormatPlain   = "plain"
	FormatDNSMasq = "dnsmasq"
	FormatAdGuard = "adguard"
)

const blockPrefix = "0.0.0.0 "

// SubscriptionConfig 下载配置
type SubscriptionConfig struct {
	Timeout        time.Duration
	ConnectTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	UserAgent      string
	MaxBytes       int64
}

// Source 规则源
type Source struct {
	Name   string
	URL    string
	Format string
}

// Result 单个规则源的下载结果
type Result struct {
	Source   Source
	Bytes    int
	Lines    int
	Checksum string
	Attempts int
	Duration time.Duration
}

// Manager 规则源下载器, 按顺序逐个下载
type Manager struct {
	config     *SubscriptionConfig
	httpClient *http.Client
	log        *logger.Logger
}

// NewManager 创建下载器
func NewManager(config *SubscriptionConfig, log *logger.Logger) *Manager {
	if config == nil {
		config = &SubscriptionConfig{
			Timeout:        60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			RetryCount:     3,
			RetryDelay:     2 * time.Second,
			UserAgent:      "hostsblock/1.0",
		}
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 64 << 20
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Millisecond
	}
	if log == nil {
		log = logger.NewNop()
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = config.ConnectTimeout

	return &Manager{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		log: log.Component("fetch"),
	}
}

// FetchAll 依次下载所有规则源并转换为 hosts 行. 任一源失败则整体失败,
// 不允许只用部分源生成结果.
func (m *Manager) FetchAll(ctx context.Context, sources []Source) ([]string, []Result, error) {
	var (
		lines   []string
		results []Result
	)
	for i, src := range sources {
		m.log.Info("[%d/%d] 下载规则源: %s", i+1, len(sources), src.Name)

		got, res, err := m.Fetch(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return nil, results, apperr.Wrapf(ctx.Err(), apperr.ErrInterrupted, "下载 %s 时被中断", src.Name)
			}
			return nil, results, apperr.Wrapf(err, apperr.ErrFetchFailure, "下载规则源失败 %s (%s)", src.Name, src.URL)
		}
		lines = append(lines, got...)
		results = append(results, res)
	}
	return lines, results, nil
}

// Fetch 下载单个规则源并按格式转换
func (m *Manager) Fetch(ctx context.Context, src Source) ([]string, Result, error) {
	start := time.Now()
	res := Result{Source: src}

	content, attempts, err := m.downloadRule(ctx, src.URL)
	res.Attempts = attempts
	res.Duration = time.Since(start)
	if err != nil {
		return nil, res, err
	}

	lines, err := ConvertLines(string(content), src.Format)
	if err != nil {
		return nil, res, err
	}

	res.Bytes = len(content)
	res.Lines = len(lines)
	res.Checksum = utils.SHA256Hash(content)

	m.log.With("source", src.Name).Info("规则源 %s 下载成功, %d 字节, %d 行, 尝试 %d 次, sha256=%s",
		src.Name, res.Bytes, res.Lines, res.Attempts, res.Checksum)
	return lines, res, nil
}

// statusError 非 200 响应
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Status)
}

// retryable 只有 429 和 5xx 值得重试
func (e *statusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

var errTooLarge = errors.New("响应超过大小上限")

// downloadRule 带重试地下载规则文件, 返回内容和尝试次数
func (m *Manager) downloadRule(ctx context.Context, url string) ([]byte, int, error) {
	var (
		content  []byte
		attempts int
	)

	backoff := retry.WithMaxRetries(uint64(m.config.RetryCount), retry.NewConstant(m.config.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		body, err := m.get(ctx, url)
		if err == nil {
			content = body
			return nil
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return err
		}
		if errors.Is(err, errTooLarge) || ctx.Err() != nil {
			return err
		}
		m.log.Warn("下载 %s 失败 (第 %d 次): %v", url, attempts, err)
		return retry.RetryableError(err)
	})
	return content, attempts, err
}

// get 执行一次 GET 请求
func (m *Manager) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", m.config.UserAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode, Status: resp.Status}
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, m.config.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > m.config.MaxBytes {
		return nil, fmt.Errorf("%w: %d 字节", errTooLarge, m.config.MaxBytes)
	}
	return content, nil
}

// ConvertLines 把不同格式的规则内容转换为 hosts 行
func ConvertLines(content, format string) ([]string, error) {
	switch format {
	case FormatHosts:
		return parseHosts(content)
	case FormatDomains, FormatPlain:
		return parseDomains(content)
	case FormatDNSMasq:
		return parseDNSMasq(content)
	case FormatAdGuard:
		return parseAdGuard(content)
	default:
		return nil, fmt.Errorf("不支持的规则格式: %s", format)
	}
}

func newScanner(content string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return scanner
}

// parseHosts hosts 格式原样保留, 由规范化步骤处理
func parseHosts(content string) ([]string, error) {
	var lines []string
	scanner := newScanner(content)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// parseDomains 纯域名列表: 删除 # 开头的行, 其余行加上 0.0.0.0 前缀
func parseDomains(content string) ([]string, error) {
	var lines []string
	scanner := newScanner(content)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, blockPrefix+line)
	}
	return lines, scanner.Err()
}

// parseDNSMasq 解析 dnsmasq 格式
func parseDNSMasq(content string) ([]string, error) {
	var lines []string
	scanner := newScanner(content)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// 格式: server=/example.com/1.1.1.1 或 address=/example.com/0.0.0.0
		if strings.HasPrefix(line, "server=/") || strings.HasPrefix(line, "address=/") {
			parts := strings.Split(line, "/")
			if len(parts) >= 3 && parts[1] != "" && parts[1] != "#" {
				lines = append(lines, blockPrefix+parts[1])
			}
		}
	}
	return lines, scanner.Err()
}

// parseAdGuard 解析 AdGuard 格式, 只取 ||domain^ 形式的基本规则
func parseAdGuard(content string) ([]string, error) {
	var lines []string
	scanner := newScanner(content)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") || strings.HasPrefix(line, "#") {
			continue
		}

		// 跳过例外规则和带修饰符的规则
		if strings.HasPrefix(line, "@@") || strings.Contains(line, "$") {
			continue
		}

		if strings.HasPrefix(line, "||") {
			domain := strings.TrimSuffix(strings.TrimPrefix(line, "||"), "^")
			if domain != "" && !strings.ContainsAny(domain, "/*^|") {
				lines = append(lines, blockPrefix+domain)
			}
		} else if !strings.ContainsAny(line, "/*|^") {
			// 简单域名
			lines = append(lines, blockPrefix+line)
		}
	}
	return lines, scanner.Err()
}
