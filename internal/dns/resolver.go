package dns

import (
	"context"
	"net"
	"time"

	mdns "github.com/miekg/dns"

	apperr "github.com/winspan/hostsblock/pkg/errors"
)

// Result 解析结果
type Result int

const (
	// Resolved A 或 AAAA 查询有应答
	Resolved Result = iota
	// Empty 明确确认没有记录 (NXDOMAIN 或无应答的 NOERROR)
	Empty
	// LookupFailed 查询本身失败, 结果不可用
	LookupFailed
)

// String 返回结果名称
func (r Result) String() string {
	switch r {
	case Resolved:
		return "resolved"
	case Empty:
		return "empty"
	case LookupFailed:
		return "lookup-failed"
	default:
		return "unknown"
	}
}

// Resolver 域名解析能力
type Resolver interface {
	Resolve(ctx context.Context, domain string) Result
}

// Client 基于 miekg/dns 的解析器, 依次尝试配置的上游
type Client struct {
	servers []string
	udp     *mdns.Client
	tcp     *mdns.Client
}

// NewClient 使用指定上游创建解析器, 未带端口的地址补 53
func NewClient(servers []string, timeout time.Duration) (*Client, error) {
	if len(servers) == 0 {
		return nil, apperr.New(apperr.ErrMissingDependency, "没有可用的 DNS 服务器")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	endpoints := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		endpoints = append(endpoints, s)
	}

	return &Client{
		servers: endpoints,
		udp:     &mdns.Client{Net: "udp", Timeout: timeout},
		tcp:     &mdns.Client{Net: "tcp", Timeout: timeout},
	}, nil
}

// NewSystemClient 从 resolv.conf 读取上游
func NewSystemClient(resolvConf string, timeout time.Duration) (*Client, error) {
	cc, err := mdns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.ErrMissingDependency, "读取 %s 失败", resolvConf)
	}

	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return NewClient(servers, timeout)
}

// Servers 返回实际使用的上游地址
func (c *Client) Servers() []string {
	return c.servers
}

// Resolve 查询 A 和 AAAA. 任一有应答即 Resolved; 两者都明确为空才是 Empty;
// 其余情况 (超时, SERVFAIL 等) 为 LookupFailed.
func (c *Client) Resolve(ctx context.Context, domain string) Result {
	failed := false
	for _, qtype := range []uint16{mdns.TypeA, mdns.TypeAAAA} {
		switch c.query(ctx, domain, qtype) {
		case Resolved:
			return Resolved
		case LookupFailed:
			failed = true
		}
	}
	if failed {
		return LookupFailed
	}
	return Empty
}

// query 对单个类型依次尝试所有上游, 拿到确定结果即返回
func (c *Client) query(ctx context.Context, domain string, qtype uint16) Result {
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(domain), qtype)
	m.RecursionDesired = true

	for _, server := range c.servers {
		if ctx.Err() != nil {
			return LookupFailed
		}

		resp, err := c.exchange(ctx, m, server)
		if err != nil || resp == nil {
			continue
		}

		switch resp.Rcode {
		case mdns.RcodeSuccess:
			if hasAnswer(resp, qtype) {
				return Resolved
			}
			return Empty
		case mdns.RcodeNameError:
			return Empty
		}
		// SERVFAIL/REFUSED 等换下一个上游
	}
	return LookupFailed
}

func (c *Client) exchange(ctx context.Context, m *mdns.Msg, server string) (*mdns.Msg, error) {
	resp, _, err := c.udp.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = c.tcp.ExchangeContext(ctx, m, server)
	}
	return resp, err
}

// hasAnswer 应答中是否有目标类型或 CNAME 记录
func hasAnswer(m *mdns.Msg, qtype uint16) bool {
	for _, rr := range m.Answer {
		t := rr.Header().Rrtype
		if t == qtype || t == mdns.TypeCNAME {
			return true
		}
	}
	return false
}
