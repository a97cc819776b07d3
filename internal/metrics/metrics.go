// Package metrics provides the Prometheus implementation of fetch.Metrics and
// the HTTP handler that exposes it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/any-asset/internal/fetch"
)

// Collector 记录各源站的缓存命中层级与网络传输情况。
type Collector struct {
	registry *prometheus.Registry

	lookups          *prometheus.CounterVec
	transfersStarted *prometheus.CounterVec
	transfersJoined  *prometheus.CounterVec
	transfers        *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	bytesFetched     *prometheus.CounterVec
}

var _ fetch.Metrics = (*Collector)(nil)

// New 创建使用独立 Registry 的 Collector，同时注册 Go 运行时与进程指标。
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := newCollector(reg)
	c.registry = reg
	return c
}

func newCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "any_asset_lookups_total",
				Help: "Fetch lookups by origin and the tier that answered",
			},
			[]string{"origin", "tier"}, // tier: stub, memory, disk, miss
		),
		transfersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "any_asset_transfers_started_total",
				Help: "Network transfers started",
			},
			[]string{"origin"},
		),
		transfersJoined: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "any_asset_transfers_joined_total",
				Help: "Fetches that joined an in-flight transfer instead of starting one",
			},
			[]string{"origin"},
		),
		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "any_asset_transfers_total",
				Help: "Finished network transfers by outcome",
			},
			[]string{"origin", "outcome"}, // outcome: ok 或 fetch.Kind
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "any_asset_transfer_duration_milliseconds",
				Help: "Duration of network transfers in milliseconds",
				Buckets: []float64{
					5,     // local mirror
					25,    // 25ms
					100,   // 100ms
					250,   // 250ms
					1000,  // 1s
					5000,  // 5s
					30000, // default upstream timeout
				},
			},
			[]string{"origin"},
		),
		bytesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "any_asset_bytes_fetched_total",
				Help: "Bytes downloaded from origins",
			},
			[]string{"origin"},
		),
	}
}

// ObserveLookup 记录一次缓存查询的命中层级。
func (c *Collector) ObserveLookup(origin string, tier fetch.Tier) {
	if c == nil {
		return
	}
	c.lookups.WithLabelValues(origin, string(tier)).Inc()
}

// ObserveTransferStarted 记录新建的网络传输。
func (c *Collector) ObserveTransferStarted(origin string) {
	if c == nil {
		return
	}
	c.transfersStarted.WithLabelValues(origin).Inc()
}

// ObserveTransferJoined 记录加入已有传输的请求。
func (c *Collector) ObserveTransferJoined(origin string) {
	if c == nil {
		return
	}
	c.transfersJoined.WithLabelValues(origin).Inc()
}

// ObserveTransfer 记录传输结果、耗时与下载字节数。
func (c *Collector) ObserveTransfer(origin string, outcome string, bytes int, duration time.Duration) {
	if c == nil {
		return
	}
	c.transfers.WithLabelValues(origin, outcome).Inc()
	c.transferDuration.WithLabelValues(origin).Observe(float64(duration.Microseconds()) / 1000)
	if bytes > 0 {
		c.bytesFetched.WithLabelValues(origin).Add(float64(bytes))
	}
}

// Handler 返回暴露当前 Registry 的 HTTP handler。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
