package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/winspan/hostsblock/internal/runner"
	"github.com/winspan/hostsblock/pkg/config"
	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/logger"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "none"
)

// errUsage 已打印用法, 以退出码 0 结束
var errUsage = errors.New("usage")

const longHelp = `hostsblock 下载多个远程屏蔽列表, 规范化并合并为一个去重排序的 hosts 文件,
内容未变化时不替换输出文件.

参数不区分顺序:
  verbose         日志同时输出到标准输出
  check           检查白名单/黑名单中的过期条目, 只报告不修改
  clean           从白名单/黑名单文件中删除过期条目
  ipv6dup         为每条 0.0.0.0 记录追加 ::0 记录
  output=<path>   覆盖配置中的输出路径`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行命令并返回退出码
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errUsage) {
			return 0
		}
		fmt.Fprintf(stderr, "hostsblock: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "hostsblock [verbose] [check] [clean] [ipv6dup] [output=<path>]",
		Short:         "合并远程屏蔽列表生成 hosts 文件",
		Long:          longHelp,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseArgs(args)
			if err != nil {
				return usage(cmd)
			}
			return run(cmd.Context(), configPath, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "配置文件路径")
	cmd.SetFlagErrorFunc(func(c *cobra.Command, _ error) error {
		return usage(c)
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "显示版本信息",
		Args:  cobra.NoArgs,
		Run: func(c *cobra.Command, _ []string) {
			fmt.Fprintf(c.OutOrStdout(), "hostsblock %s (%s)\n", version, commit)
		},
	})
	return cmd
}

// usage 打印用法到标准输出
func usage(cmd *cobra.Command) error {
	fmt.Fprint(cmd.OutOrStdout(), cmd.UsageString())
	return errUsage
}

// parseArgs 解析裸参数, 未知参数返回 errUsage
func parseArgs(args []string) (runner.Options, error) {
	var opts runner.Options
	for _, arg := range args {
		switch {
		case arg == "verbose":
			opts.Verbose = true
		case arg == "check":
			opts.Check = true
		case arg == "clean":
			opts.Clean = true
		case arg == "ipv6dup":
			opts.IPv6Dup = true
		case strings.HasPrefix(arg, "output="):
			opts.Output = strings.TrimPrefix(arg, "output=")
			if opts.Output == "" {
				return opts, errUsage
			}
		default:
			return opts, errUsage
		}
	}
	return opts, nil
}

func run(ctx context.Context, configPath string, opts runner.Options, stdout io.Writer) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log := newLogger(nil, opts, stdout)
		log.Err(err, "加载配置失败")
		_ = log.Close()
		return err
	}

	log := newLogger(cfg, opts, stdout).With("run_id", uuid.NewString())
	defer log.Close()

	log.Info("hostsblock %s 开始运行, 输出文件: %s", version, firstNonEmpty(opts.Output, cfg.Output.Path))

	sum, err := runner.New(cfg, opts, log, stdout).Run(ctx)
	if err != nil {
		if apperr.HasCode(err, apperr.ErrInterrupted) {
			log.Err(err, "interrupted")
		} else {
			log.Err(err, "运行失败")
		}
		return err
	}

	if sum.Reconcile {
		log.Info("名单检查发现 %d 个过期条目", len(sum.Findings))
	}
	log.Info("运行完成: %d 个规则源, 规范化 %d 条, 输出 %d 条记录, 输出%s, 耗时 %s",
		len(sum.Sources), sum.Parsed, sum.Write.Records, changedText(sum.Write.Changed), sum.Duration.Round(time.Millisecond))
	return nil
}

// newLogger 按配置创建日志, 日志文件不可用时退回标准错误
func newLogger(cfg *config.Config, opts runner.Options, stdout io.Writer) *logger.Logger {
	lc := &logger.Config{
		Level:   logger.INFO,
		Format:  "json",
		Output:  config.DefaultLogFile(),
		Verbose: opts.Verbose,
		Stdout:  stdout,
	}
	if cfg != nil {
		lc.Level = logger.ParseLevel(cfg.Logging.Level)
		lc.Format = cfg.Logging.Format
		lc.Output = cfg.Logging.File
		lc.MaxSize = cfg.Logging.MaxSize
		lc.MaxBackups = cfg.Logging.MaxBackups
		lc.MaxAge = cfg.Logging.MaxAge
	}

	log, err := logger.NewLogger(lc)
	if err == nil {
		return log
	}

	lc.Output = "stderr"
	fallback, ferr := logger.NewLogger(lc)
	if ferr != nil {
		return logger.NewNop()
	}
	fallback.Warn("日志文件不可用, 改为输出到标准错误: %v", err)
	return fallback
}

func changedText(changed bool) string {
	if changed {
		return "已更新"
	}
	return "未变化"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
