package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/decoder"
)

const waitTimeout = 5 * time.Second

var errUndecodable = errors.New("undecodable")

// rawDecoder 把字节原样包装成 Asset；以 "bad" 开头的数据视为无法解码。
var rawDecoder = decoder.DecoderFunc(func(data []byte) (*decoder.Asset, error) {
	if len(data) >= 3 && string(data[:3]) == "bad" {
		return nil, errUndecodable
	}
	return decoder.NewAsset(data, nil, "raw"), nil
})

// gateTransport 在 release 之前阻塞所有请求，ctx 取消时立即返回。
type gateTransport struct {
	calls   atomic.Int32
	release chan struct{}
	once    sync.Once
	body    func(path string) []byte
	status  int
	err     error
}

func newGateTransport() *gateTransport {
	return &gateTransport{
		release: make(chan struct{}),
		status:  200,
		body:    func(path string) []byte { return []byte("payload:" + path) },
	}
}

func (g *gateTransport) Fetch(ctx context.Context, path string) ([]byte, int, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
	if g.err != nil {
		return nil, 0, g.err
	}
	return g.body(path), g.status, nil
}

func (g *gateTransport) open() {
	g.once.Do(func() { close(g.release) })
}

func openTransport() *gateTransport {
	g := newGateTransport()
	g.open()
	return g
}

type fixture struct {
	coordinator *Coordinator
	store       cache.Store
	memory      cache.MemoryCache
	transport   *gateTransport
	metrics     *recordingMetrics
}

func newFixture(t *testing.T, mode DispatchMode, transport *gateTransport, mutate ...func(*Options)) *fixture {
	t.Helper()

	store, err := cache.NewStore("/cache", cache.WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	memory := cache.NewMemoryCache(cache.CapacityPolicy{MaxEntries: 64})
	metrics := &recordingMetrics{}

	opts := Options{
		Origin:    "test",
		Root:      cache.RootName("https://assets.example.com"),
		Store:     store,
		Memory:    memory,
		Transport: transport,
		Decoder:   rawDecoder,
		Dispatch:  mode,
		Metrics:   metrics,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		transport.open()
		c.Close()
	})

	return &fixture{coordinator: c, store: store, memory: memory, transport: transport, metrics: metrics}
}

type result struct {
	asset *decoder.Asset
	err   error
}

// fetchAsync 发起 fetch 并返回接收结果的 channel。
func (f *fixture) fetchAsync(path, name string) <-chan result {
	ch := make(chan result, 1)
	f.coordinator.Fetch(path, name, func(asset *decoder.Asset, err error) {
		ch <- result{asset: asset, err: err}
	})
	return ch
}

func (f *fixture) fetch(t *testing.T, path, name string) result {
	t.Helper()
	return await(t, f.fetchAsync(path, name))
}

func (f *fixture) cacheOnly(t *testing.T, path, name string) *decoder.Asset {
	t.Helper()
	ch := make(chan *decoder.Asset, 1)
	f.coordinator.FetchFromCacheOnly(path, name, func(asset *decoder.Asset) { ch <- asset })
	select {
	case asset := <-ch:
		return asset
	case <-time.After(waitTimeout):
		t.Fatalf("cache-only callback not delivered")
		return nil
	}
}

func await(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitTimeout):
		t.Fatalf("callback not delivered")
		return result{}
	}
}

type recordingMetrics struct {
	mu      sync.Mutex
	lookups map[Tier]int
	started int
	joined  int
	outcome []string
}

func (m *recordingMetrics) ObserveLookup(_ string, tier Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookups == nil {
		m.lookups = map[Tier]int{}
	}
	m.lookups[tier]++
}

func (m *recordingMetrics) ObserveTransferStarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *recordingMetrics) ObserveTransferJoined(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joined++
}

func (m *recordingMetrics) ObserveTransfer(_ string, outcome string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = append(m.outcome, outcome)
}

func (m *recordingMetrics) snapshot() (map[Tier]int, int, int, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lookups := make(map[Tier]int, len(m.lookups))
	for k, v := range m.lookups {
		lookups[k] = v
	}
	return lookups, m.started, m.joined, append([]string(nil), m.outcome...)
}

// queueExecutor 记录投递的任务，由测试手动执行。
type queueExecutor struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *queueExecutor) Post(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *queueExecutor) drain() int {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
	return len(tasks)
}
