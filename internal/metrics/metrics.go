package metrics

import (
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/winspan/hostsblock/pkg/utils"
)

// Metrics 单次运行的统计, 写入 node_exporter textfile 目录
type Metrics struct {
	registry *prometheus.Registry

	SourcesFetched prometheus.Counter
	SourceBytes    *prometheus.GaugeVec
	FetchDuration  *prometheus.GaugeVec
	Records        *prometheus.GaugeVec
	OutputChanged  prometheus.Gauge
	LastRun        prometheus.Gauge
	OverrideStale  *prometheus.CounterVec
}

// New 创建并注册所有指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SourcesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hostsblock_sources_fetched_total",
			Help: "Remote block-list sources fetched in the last run",
		}),
		SourceBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsblock_source_bytes",
			Help: "Size of each fetched source in bytes",
		}, []string{"source"}),
		FetchDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsblock_fetch_duration_seconds",
			Help: "Time spent fetching each source, retries included",
		}, []string{"source"}),
		Records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hostsblock_records",
			Help: "Block records written to the output file by address family",
		}, []string{"family"}),
		OutputChanged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsblock_output_changed",
			Help: "1 if the last run replaced the output file, 0 otherwise",
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hostsblock_last_run_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		OverrideStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hostsblock_override_stale_total",
			Help: "Stale or redundant override entries found by check/clean",
		}, []string{"list", "reason"}),
	}

	m.registry.MustRegister(
		m.SourcesFetched,
		m.SourceBytes,
		m.FetchDuration,
		m.Records,
		m.OutputChanged,
		m.LastRun,
		m.OverrideStale,
	)
	return m
}

// WriteTextfile 原子写入 Prometheus 文本格式
func (m *Metrics) WriteTextfile(path string) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("创建指标目录失败: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	return nil
}
