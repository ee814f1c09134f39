package runner

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/winspan/hostsblock/internal/dns"
	"github.com/winspan/hostsblock/internal/hosts"
	"github.com/winspan/hostsblock/internal/metrics"
	"github.com/winspan/hostsblock/internal/override"
	"github.com/winspan/hostsblock/internal/subscription"
	"github.com/winspan/hostsblock/pkg/config"
	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/logger"
)

// Options 命令行开关
type Options struct {
	Verbose bool
	Check   bool
	Clean   bool
	IPv6Dup bool
	// Output 非空时覆盖配置中的输出路径
	Output string
}

// Summary 一次运行的结果
type Summary struct {
	Sources   []subscription.Result
	Parsed    int
	Removed   int
	Added     int
	IPv6      int
	Findings  []override.Finding
	Write     hosts.WriteResult
	Duration  time.Duration
	OutputTo  string
	Reconcile bool
}

// Runner 执行一次完整的生成流程
type Runner struct {
	cfg      *config.Config
	opts     Options
	log      *logger.Logger
	out      io.Writer
	fetcher  *subscription.Manager
	resolver dns.Resolver
	metrics  *metrics.Metrics
}

// New 创建 Runner, out 接收检查/清理模式的报告
func New(cfg *config.Config, opts Options, log *logger.Logger, out io.Writer) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	fetchCfg := &subscription.SubscriptionConfig{
		Timeout:        time.Duration(cfg.Fetch.Timeout) * time.Second,
		ConnectTimeout: time.Duration(cfg.Fetch.ConnectTimeout) * time.Second,
		RetryCount:     cfg.Fetch.RetryCount,
		RetryDelay:     time.Duration(cfg.Fetch.RetryDelay) * time.Second,
		UserAgent:      cfg.Fetch.UserAgent,
		MaxBytes:       cfg.Fetch.MaxBytes,
	}
	return &Runner{
		cfg:     cfg,
		opts:    opts,
		log:     log,
		out:     out,
		fetcher: subscription.NewManager(fetchCfg, log),
		metrics: metrics.New(),
	}
}

// WithResolver 指定解析器, 不再从配置构造
func (r *Runner) WithResolver(res dns.Resolver) *Runner {
	r.resolver = res
	return r
}

// Metrics 返回本次运行的指标
func (r *Runner) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Runner) outputPath() string {
	if r.opts.Output != "" {
		return r.opts.Output
	}
	return r.cfg.Output.Path
}

func (r *Runner) reconciling() bool {
	return r.opts.Check || r.opts.Clean
}

// Run 执行全部阶段
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{OutputTo: r.outputPath(), Reconcile: r.reconciling()}

	// 检查/清理模式依赖 DNS, 先于下载确认可用
	if r.reconciling() && r.resolver == nil {
		res, err := r.buildResolver()
		if err != nil {
			return sum, err
		}
		r.resolver = res
	}

	whitelist, blacklist, err := r.loadOverrides()
	if err != nil {
		return sum, err
	}
	r.log.Info("白名单 %d 条, 黑名单 %d 条", len(whitelist.Entries), len(blacklist.Entries))

	sources := r.sources()
	lines, results, err := r.fetcher.FetchAll(ctx, sources)
	sum.Sources = results
	r.recordFetch(results)
	if err != nil {
		return sum, err
	}

	set := hosts.Normalize(lines)
	sum.Parsed = set.Len()
	r.log.Info("规范化完成: %d 行原始数据, %d 条记录", len(lines), set.Len())

	if err := checkInterrupt(ctx, "规范化"); err != nil {
		return sum, err
	}

	if r.reconciling() {
		rec := &override.Reconciler{
			Resolver: r.resolver,
			Out:      r.out,
			Log:      r.log,
			Clean:    r.opts.Clean,
		}
		sum.Findings, err = rec.Reconcile(ctx, set, whitelist, blacklist)
		for _, f := range sum.Findings {
			r.metrics.OverrideStale.WithLabelValues(string(f.List), string(f.Reason)).Inc()
		}
		if err != nil {
			return sum, err
		}
		if r.opts.Clean {
			// 合并使用清理后的名单
			if whitelist, blacklist, err = r.loadOverrides(); err != nil {
				return sum, err
			}
		}
	}

	sum.Removed, sum.Added = set.Merge(whitelist.Entries, blacklist.Entries)
	r.log.Info("合并完成: 白名单删除 %d 条, 黑名单添加 %d 条, 去重后 %d 条", sum.Removed, sum.Added, set.Len())

	if r.opts.IPv6Dup {
		sum.IPv6 = set.DuplicateIPv6()
		r.log.Info("已添加 %d 条 IPv6 记录", sum.IPv6)
	}

	if err := checkInterrupt(ctx, "合并"); err != nil {
		return sum, err
	}

	w := &hosts.Writer{Path: sum.OutputTo, Mode: r.cfg.Output.Mode.Perm()}
	sum.Write, err = w.Write(ctx, set)
	if err != nil {
		return sum, err
	}
	if sum.Write.Changed {
		r.log.Info("输出文件已更新: %s (%d 条记录, sha256=%s)", sum.OutputTo, sum.Write.Records, sum.Write.Checksum)
	} else {
		r.log.Info("输出文件内容未变化, 保持不动: %s", sum.OutputTo)
	}

	sum.Duration = time.Since(start)
	r.recordResult(set, sum)
	return sum, nil
}

func (r *Runner) buildResolver() (dns.Resolver, error) {
	timeout := time.Duration(r.cfg.DNS.Timeout) * time.Second
	var (
		c   *dns.Client
		err error
	)
	if len(r.cfg.DNS.Servers) > 0 {
		c, err = dns.NewClient(r.cfg.DNS.Servers, timeout)
	} else {
		c, err = dns.NewSystemClient(r.cfg.DNS.ResolvConf, timeout)
	}
	if err != nil {
		return nil, err
	}
	if r.log.IsDebug() {
		r.log.Debug("使用 DNS 服务器: %s", strings.Join(c.Servers(), ", "))
	}
	return c, nil
}

func (r *Runner) loadOverrides() (*override.List, *override.List, error) {
	wl, err := override.Load(override.Whitelist, r.cfg.Overrides.Whitelist)
	if err != nil {
		return nil, nil, err
	}
	bl, err := override.Load(override.Blacklist, r.cfg.Overrides.Blacklist)
	if err != nil {
		return nil, nil, err
	}
	return wl, bl, nil
}

func (r *Runner) sources() []subscription.Source {
	all := r.cfg.AllSources()
	out := make([]subscription.Source, 0, len(all))
	for _, s := range all {
		out = append(out, subscription.Source{Name: s.Name, URL: s.URL, Format: s.Format})
	}
	return out
}

func (r *Runner) recordFetch(results []subscription.Result) {
	for _, res := range results {
		r.metrics.SourcesFetched.Inc()
		r.metrics.SourceBytes.WithLabelValues(res.Source.Name).Set(float64(res.Bytes))
		r.metrics.FetchDuration.WithLabelValues(res.Source.Name).Set(res.Duration.Seconds())
	}
}

func (r *Runner) recordResult(set *hosts.Set, sum *Summary) {
	r.metrics.Records.WithLabelValues("ipv4").Set(float64(set.CountFamily(hosts.BlockAddr)))
	r.metrics.Records.WithLabelValues("ipv6").Set(float64(set.CountFamily(hosts.BlockAddr6)))
	if sum.Write.Changed {
		r.metrics.OutputChanged.Set(1)
	} else {
		r.metrics.OutputChanged.Set(0)
	}
	r.metrics.LastRun.SetToCurrentTime()

	if path := r.cfg.Metrics.Textfile; path != "" {
		if err := r.metrics.WriteTextfile(path); err != nil {
			// 指标写入失败不影响已生成的输出
			r.log.Warn("%v", err)
		}
	}
}

func checkInterrupt(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrapf(err, apperr.ErrInterrupted, "%s阶段后被中断", stage)
	}
	return nil
}
