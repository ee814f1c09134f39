package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/winspan/hostsblock/pkg/errors"
)

const sampleConfig = `
overrides:
  whitelist: /etc/hostsblock/whitelist
  blacklist: /etc/hostsblock/blacklist
sources:
  hosts:
    - https://example.org/hosts
  domains:
    - https://example.net/domains.txt
  lists:
    - name: easylist
      url: https://example.com/easylist.txt
      format: AdGuard
    - url: https://example.com/off
      enabled: false
output:
  path: /etc/hosts.block
  mode: 0640
fetch:
  retry_count: 5
  timeout: 30
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/etc/hostsblock/whitelist", cfg.Overrides.Whitelist)
	assert.Equal(t, "/etc/hosts.block", cfg.Output.Path)
	assert.Equal(t, os.FileMode(0640), cfg.Output.Mode.Perm())
	assert.Equal(t, 5, cfg.Fetch.RetryCount)
	assert.Equal(t, 30, cfg.Fetch.Timeout)

	// 默认值
	assert.Equal(t, 10, cfg.Fetch.ConnectTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Logging.File)
	assert.Equal(t, "/etc/resolv.conf", cfg.DNS.ResolvConf)

	sources := cfg.AllSources()
	require.Len(t, sources, 3)
	assert.Equal(t, SourceConfig{Name: "example.org/hosts", URL: "https://example.org/hosts", Format: FormatHosts}, sources[0])
	assert.Equal(t, FormatDomains, sources[1].Format)
	assert.Equal(t, "easylist", sources[2].Name)
	assert.Equal(t, FormatAdGuard, sources[2].Format)
}

func TestParseEnvOverlay(t *testing.T) {
	t.Setenv("HOSTSBLOCK_OUTPUT", "/tmp/hosts.out")
	t.Setenv("HOSTSBLOCK_RETRY_COUNT", "1")
	t.Setenv("HOSTSBLOCK_OUTPUT_MODE", "600")
	t.Setenv("HOSTSBLOCK_DNS_SERVERS", "1.1.1.1:53,9.9.9.9:53")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/hosts.out", cfg.Output.Path)
	assert.Equal(t, 1, cfg.Fetch.RetryCount)
	assert.Equal(t, os.FileMode(0600), cfg.Output.Mode.Perm())
	assert.Equal(t, []string{"1.1.1.1:53", "9.9.9.9:53"}, cfg.DNS.Servers)
	// 未设置的环境变量不覆盖文件内容
	assert.Equal(t, "/etc/hostsblock/whitelist", cfg.Overrides.Whitelist)
}

func TestParseRetryCount(t *testing.T) {
	const base = "output:\n  path: /tmp/hosts\nsources:\n  hosts: [https://example.org/hosts]\n"

	cfg, err := Parse([]byte(base))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Fetch.RetryCount)

	// 显式配置 0 表示不重试, 不能被默认值覆盖
	cfg, err = Parse([]byte(base + "fetch:\n  retry_count: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Fetch.RetryCount)

	t.Setenv("HOSTSBLOCK_RETRY_COUNT", "0")
	cfg, err = Parse([]byte(base + "fetch:\n  retry_count: 5\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Fetch.RetryCount)

	_, err = Parse([]byte(base + "fetch:\n  retry_count: -1\n"))
	assert.Error(t, err)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing output",
			yaml: "sources:\n  hosts: [https://example.org/hosts]\n",
		},
		{
			name: "no sources",
			yaml: "output:\n  path: /tmp/hosts\n",
		},
		{
			name: "bad url",
			yaml: "output:\n  path: /tmp/hosts\nsources:\n  hosts: [ftp://example.org/hosts]\n",
		},
		{
			name: "bad format",
			yaml: "output:\n  path: /tmp/hosts\nsources:\n  lists:\n    - url: https://example.org/x\n      format: rpz\n",
		},
		{
			name: "bad log level",
			yaml: "output:\n  path: /tmp/hosts\nsources:\n  hosts: [https://example.org/hosts]\nlogging:\n  level: loud\n",
		},
		{
			name: "bad mode",
			yaml: "output:\n  path: /tmp/hosts\n  mode: 0999\nsources:\n  hosts: [https://example.org/hosts]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, apperr.HasCode(err, apperr.ErrConfigMissing))
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.ErrConfigMissing))
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.AllSources(), 3)
}

func TestFileModeText(t *testing.T) {
	var m FileMode
	require.NoError(t, m.UnmarshalText([]byte("0o755")))
	assert.Equal(t, os.FileMode(0755), m.Perm())

	out, err := m.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "0755", string(out))

	assert.Error(t, m.UnmarshalText([]byte("rw-r--r--")))
}
