package runner

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winspan/hostsblock/internal/dns"
	"github.com/winspan/hostsblock/internal/hosts"
	"github.com/winspan/hostsblock/pkg/config"
	apperr "github.com/winspan/hostsblock/pkg/errors"
)

const hostsList = "# upstream hosts\r\n" +
	"127.0.0.1 localhost\r\n" +
	"127.0.0.1 ads.example.com\r\n" +
	"0.0.0.0 good.example.com # tracker?\r\n" +
	"0.0.0.0 cdn.good.example.com\r\n" +
	"0.0.0.0 ads.example.com\r\n" +
	"10.0.0.1 intranet.example.com\r\n"

const domainList = "# domains\ntracker.example.net\n\nads.example.com\n"

type fakeResolver map[string]dns.Result

func (f fakeResolver) Resolve(_ context.Context, domain string) dns.Result {
	if r, ok := f[domain]; ok {
		return r
	}
	return dns.Resolved
}

type env struct {
	dir       string
	server    *httptest.Server
	whitelist string
	blacklist string
	output    string
	textfile  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{dir: t.TempDir()}

	r := chi.NewRouter()
	r.Get("/hosts", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(hostsList))
	})
	r.Get("/domains", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(domainList))
	})
	r.Get("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)

	e.whitelist = filepath.Join(e.dir, "whitelist")
	e.blacklist = filepath.Join(e.dir, "blacklist")
	e.output = filepath.Join(e.dir, "out", "hosts.block")
	e.textfile = filepath.Join(e.dir, "metrics", "hostsblock.prom")
	require.NoError(t, os.WriteFile(e.whitelist, []byte("# allowed\ngood.example.com\nstale.example.com\n"), 0644))
	require.NoError(t, os.WriteFile(e.blacklist, []byte("extra.example.org\ntracker.example.net\n"), 0644))
	return e
}

func (e *env) config(t *testing.T, hostsPath string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
overrides:
  whitelist: "%s"
  blacklist: "%s"
sources:
  hosts: ["%s"]
  domains: ["%s"]
output:
  path: "%s"
  mode: "0640"
dns:
  servers: ["127.0.0.1:1"]
  timeout: 1
metrics:
  textfile: "%s"
`, e.whitelist, e.blacklist, e.server.URL+hostsPath, e.server.URL+"/domains", e.output, e.textfile)))
	require.NoError(t, err)
	cfg.Fetch.RetryCount = 0
	return cfg
}

func readOutput(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRun(t *testing.T) {
	e := newEnv(t)
	r := New(e.config(t, "/hosts"), Options{}, nil, nil)

	sum, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, sum.Write.Changed)
	// 白名单只匹配域名开头, cdn.good.example.com 保留
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 2, sum.Added)
	assert.Equal(t, 0, sum.IPv6)
	require.Len(t, sum.Sources, 2)
	// 规范化后合并前: ads x3, good, cdn.good, tracker
	assert.Equal(t, 6, sum.Parsed)
	assert.Positive(t, sum.Duration)
	assert.False(t, sum.Reconcile)

	want := hosts.Header +
		"0.0.0.0 ads.example.com\n" +
		"0.0.0.0 cdn.good.example.com\n" +
		"0.0.0.0 extra.example.org\n" +
		"0.0.0.0 tracker.example.net\n"
	assert.Equal(t, want, readOutput(t, e.output))

	info, err := os.Stat(e.output)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	assert.Equal(t, float64(4), testutil.ToFloat64(r.Metrics().Records.WithLabelValues("ipv4")))
	prom := readOutput(t, e.textfile)
	assert.Contains(t, prom, "hostsblock_sources_fetched_total 2")
	assert.Contains(t, prom, "hostsblock_output_changed 1")
}

func TestRunUnchangedLeavesOutputAlone(t *testing.T) {
	e := newEnv(t)
	cfg := e.config(t, "/hosts")

	_, err := New(cfg, Options{}, nil, nil).Run(context.Background())
	require.NoError(t, err)
	before, err := os.Stat(e.output)
	require.NoError(t, err)

	sum, err := New(cfg, Options{}, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.Write.Changed)

	after, err := os.Stat(e.output)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestRunIPv6Duplicate(t *testing.T) {
	e := newEnv(t)
	out := filepath.Join(e.dir, "hosts.v6")
	sum, err := New(e.config(t, "/hosts"), Options{IPv6Dup: true, Output: out}, nil, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.IPv6)
	assert.Equal(t, out, sum.OutputTo)

	content := readOutput(t, out)
	assert.Contains(t, content, "0.0.0.0 tracker.example.net\n::0 ads.example.com\n")
	assert.True(t, strings.HasSuffix(content, "::0 tracker.example.net\n"))

	_, err = os.Stat(e.output)
	assert.True(t, os.IsNotExist(err))
}

func TestRunCheckReportsWithoutEditing(t *testing.T) {
	e := newEnv(t)
	var report bytes.Buffer
	r := New(e.config(t, "/hosts"), Options{Check: true}, nil, &report).
		WithResolver(fakeResolver{"extra.example.org": dns.LookupFailed})

	sum, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, sum.Findings, 2)

	assert.Contains(t, report.String(), "whitelist stale.example.com: no longer blocked\n")
	assert.Contains(t, report.String(), "blacklist tracker.example.net: already blocked\n")
	assert.Contains(t, readOutput(t, e.whitelist), "stale.example.com")
	assert.Contains(t, readOutput(t, e.output), "0.0.0.0 tracker.example.net\n")
}

func TestRunCleanRewritesOverrides(t *testing.T) {
	e := newEnv(t)
	var report bytes.Buffer
	r := New(e.config(t, "/hosts"), Options{Clean: true}, nil, &report).
		WithResolver(fakeResolver{})

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "# allowed\ngood.example.com\n", readOutput(t, e.whitelist))
	assert.Equal(t, "extra.example.org\n", readOutput(t, e.blacklist))
	assert.Contains(t, report.String(), ", removed\n")

	// 清理后的黑名单不再提供 tracker, 但源里仍有
	assert.Contains(t, readOutput(t, e.output), "0.0.0.0 tracker.example.net\n")
}

func TestRunFetchFailureWritesNothing(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.config(t, "/gone"), Options{}, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrFetchFailure))

	_, err = os.Stat(e.output)
	assert.True(t, os.IsNotExist(err))
}

func TestRunMissingResolver(t *testing.T) {
	e := newEnv(t)
	cfg := e.config(t, "/hosts")
	cfg.DNS.Servers = nil
	cfg.DNS.ResolvConf = filepath.Join(e.dir, "no-resolv.conf")

	_, err := New(cfg, Options{Check: true}, nil, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrMissingDependency))
}

func TestRunInterrupted(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(e.config(t, "/hosts"), Options{}, nil, nil).Run(ctx)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrInterrupted))

	_, err = os.Stat(e.output)
	assert.True(t, os.IsNotExist(err))
}
