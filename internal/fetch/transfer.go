package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/logging"
)

// Transport 是网络层协作者：返回原始字节与状态码，通过 ctx 取消。
// 超时与重试策略都属于 Transport 自身。
type Transport interface {
	Fetch(ctx context.Context, resourcePath string) ([]byte, int, error)
}

// TransportFunc 允许直接使用函数实现 Transport，测试中常用。
type TransportFunc func(ctx context.Context, resourcePath string) ([]byte, int, error)

// Fetch makes TransportFunc satisfy Transport.
func (f TransportFunc) Fetch(ctx context.Context, resourcePath string) ([]byte, int, error) {
	return f(ctx, resourcePath)
}

// Callback 接收 fetch 的最终结果，是错误的唯一出口。
type Callback func(asset *decoder.Asset, err error)

// transfer 是某个 Key 唯一的在途网络传输，waiters 按注册顺序回调。
type transfer struct {
	key       cache.Key
	cancel    context.CancelFunc
	waiters   []Callback
	cancelled bool
}

// TransferManager 持有在途传输表，保证同一 Key 至多一个网络传输。
type TransferManager struct {
	origin    string
	state     *state
	transport Transport
	decoder   decoder.Decoder
	store     cache.Store
	memory    cache.MemoryCache
	logger    *logrus.Logger
	metrics   Metrics
	sem       *semaphore.Weighted

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func newTransferManager(st *state, opts Options) *TransferManager {
	ctx, stop := context.WithCancel(context.Background())
	m := &TransferManager{
		origin:    opts.Origin,
		state:     st,
		transport: opts.Transport,
		decoder:   opts.Decoder,
		store:     opts.Store,
		memory:    opts.Memory,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ctx:       ctx,
		stop:      stop,
	}
	if opts.MaxConcurrentTransfers > 0 {
		m.sem = semaphore.NewWeighted(opts.MaxConcurrentTransfers)
	}
	return m
}

// Start 加入已有传输，或创建新传输并在独立 goroutine 中执行。
// 检查与创建在同一临界区内完成，并发调用不会启动两个传输。
func (m *TransferManager) Start(key cache.Key, resourcePath string, locator cache.Locator, onComplete Callback) {
	m.state.mu.Lock()
	if existing, ok := m.state.inflight[key]; ok {
		existing.waiters = append(existing.waiters, onComplete)
		m.state.mu.Unlock()
		observeTransferJoined(m.metrics, m.origin)
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	t := &transfer{
		key:     key,
		cancel:  cancel,
		waiters: []Callback{onComplete},
	}
	m.state.inflight[key] = t
	m.wg.Add(1)
	m.state.mu.Unlock()

	observeTransferStarted(m.metrics, m.origin)
	go m.run(ctx, t, resourcePath, locator)
}

// Cancel 取消 key 对应的在途传输，所有等待者都会收到 CANCELLED。
// 传输立即移出注册表，之后的 fetch 会启动新的传输。没有在途传输时返回 false。
func (m *TransferManager) Cancel(key cache.Key) bool {
	m.state.mu.Lock()
	t, ok := m.state.inflight[key]
	if ok {
		t.cancelled = true
		delete(m.state.inflight, key)
	}
	m.state.mu.Unlock()

	if ok {
		t.cancel()
	}
	return ok
}

// InFlight 返回当前在途传输数量。
func (m *TransferManager) InFlight() int {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()
	return len(m.state.inflight)
}

// Close 取消所有在途传输并等待它们完成回调。
func (m *TransferManager) Close() {
	m.stop()
	m.wg.Wait()
}

func (m *TransferManager) run(ctx context.Context, t *transfer, resourcePath string, locator cache.Locator) {
	defer m.wg.Done()
	defer t.cancel()

	started := time.Now()
	asset, size, err := m.download(ctx, t.key, resourcePath, locator)

	m.state.mu.Lock()
	if t.cancelled {
		asset, err = nil, cancelledError()
	}
	if m.state.inflight[t.key] == t {
		delete(m.state.inflight, t.key)
	}
	waiters := t.waiters
	t.waiters = nil
	m.state.mu.Unlock()

	outcome := OutcomeOK
	fields := logging.FetchFields(m.origin, string(t.key), string(TierNetwork))
	fields["action"] = "transfer"
	fields["resource"] = resourcePath
	fields["waiters"] = len(waiters)
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		if fetchErr, ok := err.(*Error); ok {
			outcome = string(fetchErr.Kind)
			fields["code"] = fetchErr.Code
		}
		fields["error"] = err.Error()
		if outcome == string(KindCancelled) {
			m.logger.WithFields(fields).Info("transfer_cancelled")
		} else {
			m.logger.WithFields(fields).Warn("transfer_failed")
		}
	} else {
		fields["bytes"] = size
		m.logger.WithFields(fields).Info("transfer_complete")
	}
	observeTransfer(m.metrics, m.origin, outcome, size, time.Since(started))

	for _, waiter := range waiters {
		waiter(asset, err)
	}
}

// download 执行一次网络传输：成功时解码、落盘并写入内存层。
func (m *TransferManager) download(ctx context.Context, key cache.Key, resourcePath string, locator cache.Locator) (*decoder.Asset, int, error) {
	if m.sem != nil {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return nil, 0, cancelledError()
		}
		defer m.sem.Release(1)
	}

	data, status, err := m.transport.Fetch(ctx, resourcePath)
	if ctx.Err() != nil {
		return nil, 0, cancelledError()
	}
	if err != nil {
		return nil, 0, transportError(err)
	}
	if !isSuccessStatus(status) {
		return nil, len(data), statusError(status)
	}

	asset, err := m.decoder.Decode(data)
	if err != nil {
		return nil, len(data), decodeError(err)
	}

	// 磁盘只是尽力而为的持久层，写入失败不影响本次结果。
	if _, err := m.store.Write(ctx, locator, data); err != nil {
		fields := logging.FetchFields(m.origin, string(key), string(TierDisk))
		fields["action"] = "disk_write"
		m.logger.WithError(err).WithFields(fields).Warn("disk_write_failed")
	}
	m.memory.Set(key, asset, asset.Size())
	return asset, len(data), nil
}
