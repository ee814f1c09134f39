package dns

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/winspan/hostsblock/pkg/errors"
)

func handle(w mdns.ResponseWriter, r *mdns.Msg) {
	m := new(mdns.Msg)
	m.SetReply(r)
	q := r.Question[0]

	switch q.Name {
	case "ads.example.com.":
		if q.Qtype == mdns.TypeA {
			rr, _ := mdns.NewRR("ads.example.com. 60 IN A 192.0.2.10")
			m.Answer = append(m.Answer, rr)
		}
	case "v6only.example.com.":
		if q.Qtype == mdns.TypeAAAA {
			rr, _ := mdns.NewRR("v6only.example.com. 60 IN AAAA 2001:db8::10")
			m.Answer = append(m.Answer, rr)
		}
	case "alias.example.com.":
		rr, _ := mdns.NewRR("alias.example.com. 60 IN CNAME ads.example.com.")
		m.Answer = append(m.Answer, rr)
	case "empty.example.com.":
		// NOERROR 无应答
	case "broken.example.com.":
		m.SetRcode(r, mdns.RcodeServerFailure)
	default:
		m.SetRcode(r, mdns.RcodeNameError)
	}
	_ = w.WriteMsg(m)
}

func startServer(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &mdns.Server{PacketConn: pc, Handler: mdns.HandlerFunc(handle), NotifyStartedFunc: func() { close(started) }}
	go func() { _ = srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().String()
}

// deadAddr 返回一个没有监听者的 UDP 地址
func deadAddr(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := pc.LocalAddr().String()
	require.NoError(t, pc.Close())
	return addr
}

func TestResolve(t *testing.T) {
	c, err := NewClient([]string{startServer(t)}, time.Second)
	require.NoError(t, err)

	tests := []struct {
		domain string
		want   Result
	}{
		{"ads.example.com", Resolved},
		{"v6only.example.com", Resolved},
		{"alias.example.com", Resolved},
		{"gone.example.com", Empty},
		{"empty.example.com", Empty},
		{"broken.example.com", LookupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Resolve(context.Background(), tt.domain))
		})
	}
}

func TestResolveFailover(t *testing.T) {
	c, err := NewClient([]string{deadAddr(t), startServer(t)}, 500*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, Resolved, c.Resolve(context.Background(), "ads.example.com"))
	assert.Equal(t, Empty, c.Resolve(context.Background(), "gone.example.com"))
}

func TestResolveAllServersDown(t *testing.T) {
	c, err := NewClient([]string{deadAddr(t)}, 200*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, LookupFailed, c.Resolve(context.Background(), "ads.example.com"))
}

func TestResolveCanceled(t *testing.T) {
	c, err := NewClient([]string{startServer(t)}, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, LookupFailed, c.Resolve(ctx, "ads.example.com"))
}

func TestNewClient(t *testing.T) {
	c, err := NewClient([]string{"192.0.2.53", "[2001:db8::53]:5353"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.53:53", "[2001:db8::53]:5353"}, c.Servers())

	_, err = NewClient(nil, 0)
	assert.True(t, apperr.HasCode(err, apperr.ErrMissingDependency))
}

func TestNewSystemClient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	require.NoError(t, os.WriteFile(path, []byte("search lan\nnameserver 192.0.2.1\nnameserver 192.0.2.2\n"), 0644))

	c, err := NewSystemClient(path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1:53", "192.0.2.2:53"}, c.Servers())

	_, err = NewSystemClient(filepath.Join(t.TempDir(), "missing"), time.Second)
	assert.True(t, apperr.HasCode(err, apperr.ErrMissingDependency))
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "resolved", Resolved.String())
	assert.Equal(t, "empty", Empty.String())
	assert.Equal(t, "lookup-failed", LookupFailed.String())
}
