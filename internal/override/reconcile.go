package override

import (
	"context"
	"fmt"
	"io"

	"github.com/winspan/hostsblock/internal/dns"
	"github.com/winspan/hostsblock/internal/hosts"
	apperr "github.com/winspan/hostsblock/pkg/errors"
	"github.com/winspan/hostsblock/pkg/logger"
)

// Reason 条目过期原因
type Reason string

const (
	NoLongerBlocked Reason = "no longer blocked"
	AlreadyBlocked  Reason = "already blocked"
	NotResolving    Reason = "not resolving"
)

// Finding 一条过期或多余的名单条目
type Finding struct {
	List   Kind
	Entry  string
	Reason Reason
}

// Reconciler 对照规范化后的记录和 DNS 检查名单
type Reconciler struct {
	Resolver dns.Resolver
	Out      io.Writer
	Log      *logger.Logger
	// Clean 为 true 时从文件中删除过期条目, 否则只报告
	Clean bool
}

// Reconcile 检查白名单和黑名单. DNS 查询失败视为可解析, 只有确认为空才算过期.
func (r *Reconciler) Reconcile(ctx context.Context, set *hosts.Set, whitelist, blacklist *List) ([]Finding, error) {
	log := r.Log
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Component("reconcile")

	var findings []Finding
	for _, list := range []*List{whitelist, blacklist} {
		if list == nil {
			continue
		}
		got, err := r.reconcileList(ctx, log, set, list)
		findings = append(findings, got...)
		if err != nil {
			return findings, err
		}
	}
	return findings, nil
}

func (r *Reconciler) reconcileList(ctx context.Context, log *logger.Logger, set *hosts.Set, list *List) ([]Finding, error) {
	var (
		findings []Finding
		stale    []string
	)
	count := len(list.Entries)
	for i, entry := range list.Entries {
		if err := ctx.Err(); err != nil {
			return findings, apperr.Wrap(err, apperr.ErrInterrupted, "名单检查被中断")
		}
		log.Info("%d/%d 检查%s条目 %s", i+1, count, list.Kind, entry)

		reason, ok := r.classify(ctx, log, set, list.Kind, entry)
		if !ok {
			continue
		}

		f := Finding{List: list.Kind, Entry: entry, Reason: reason}
		findings = append(findings, f)
		stale = append(stale, entry)
		r.report(i+1, count, f)
	}

	if r.Clean && len(stale) > 0 {
		if err := list.Remove(stale...); err != nil {
			return findings, err
		}
		log.Info("已从%s删除 %d 个条目: %s", list.Kind, len(stale), list.Path)
	}
	return findings, nil
}

// classify 返回条目的过期原因, 条目仍有效时 ok 为 false
func (r *Reconciler) classify(ctx context.Context, log *logger.Logger, set *hosts.Set, kind Kind, entry string) (Reason, bool) {
	switch kind {
	case Whitelist:
		if !set.AnyMatch(entry) {
			return NoLongerBlocked, true
		}
	case Blacklist:
		if set.HasBlock(entry) {
			return AlreadyBlocked, true
		}
	}

	if r.Resolver == nil {
		return "", false
	}
	switch res := r.Resolver.Resolve(ctx, entry); res {
	case dns.Empty:
		return NotResolving, true
	case dns.LookupFailed:
		log.Warn("%s 的 DNS 查询失败, 保留该条目", entry)
	}
	return "", false
}

func (r *Reconciler) report(n, count int, f Finding) {
	if r.Out == nil {
		return
	}
	action := ""
	if r.Clean {
		action = ", removed"
	}
	fmt.Fprintf(r.Out, "%d/%d %s %s: %s%s\n", n, count, f.List, f.Entry, f.Reason, action)
}
