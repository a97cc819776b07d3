package fetch

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/logging"
)

// CacheCallback 接收仅查缓存的结果，全部未命中时为 nil。
type CacheCallback func(asset *decoder.Asset)

// Options 描述 Coordinator 的依赖。Store、Memory、Transport、Decoder 必填。
type Options struct {
	// Origin 用于日志与指标标签，通常为配置中的源站名称。
	Origin string
	// Root 是该源站在磁盘缓存中的目录名，一般由 cache.RootName(baseURL) 得到。
	Root string

	Store     cache.Store
	Memory    cache.MemoryCache
	Transport Transport
	Decoder   decoder.Decoder

	// Dispatch 为零值时即测试模式（DispatchImmediate）。
	Dispatch DispatchMode
	// Main 是结果投递的主执行上下文，为空时 New 会自行创建 MainLoop。
	Main Executor

	// MaxConcurrentTransfers 限制同时进行的网络传输，<=0 表示不限。
	MaxConcurrentTransfers int64

	Logger  *logrus.Logger
	Metrics Metrics
}

// Stats 是单个源站的运行时概览。
type Stats struct {
	Memory   cache.MemoryStats `json:"memory"`
	InFlight int               `json:"in_flight"`
	Stubs    int               `json:"stubs"`
}

// Coordinator 依次检查 stub → 内存 → 磁盘 → 网络，并按 DispatchMode 投递结果。
type Coordinator struct {
	origin    string
	root      string
	store     cache.Store
	memory    cache.MemoryCache
	decoder   decoder.Decoder
	dispatch  DispatchMode
	main      Executor
	ownedMain *MainLoop
	logger    *logrus.Logger
	metrics   Metrics

	state     *state
	transfers *TransferManager

	ctx  context.Context
	stop context.CancelFunc
}

// New 构建 Coordinator。
func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("store is required")
	case opts.Memory == nil:
		return nil, errors.New("memory cache is required")
	case opts.Transport == nil:
		return nil, errors.New("transport is required")
	case opts.Decoder == nil:
		return nil, errors.New("decoder is required")
	case opts.Root == "":
		return nil, errors.New("cache root is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewDiscardLogger()
	}

	c := &Coordinator{
		origin:   opts.Origin,
		root:     opts.Root,
		store:    opts.Store,
		memory:   opts.Memory,
		decoder:  opts.Decoder,
		dispatch: opts.Dispatch,
		main:     opts.Main,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		state:    newState(),
	}
	if c.main == nil {
		c.ownedMain = NewMainLoop(c.logger)
		c.main = c.ownedMain
	}
	c.ctx, c.stop = context.WithCancel(context.Background())
	c.transfers = newTransferManager(c.state, opts)
	return c, nil
}

// Fetch 返回 path（或 cacheName）对应的资源。缓存全部未命中时才发起网络传输，
// 同一 Key 的并发请求共享同一个传输。
func (c *Coordinator) Fetch(path, cacheName string, cb Callback) {
	key := cache.CanonicalKey(path, cacheName)
	locator := cache.NewLocator(c.root, key)

	if h, ok := c.lookup(key, locator); ok {
		c.logHit(key, h.tier)
		c.deliver(func() { cb(h.asset, h.err) }, true)
		return
	}

	observeLookup(c.metrics, c.origin, TierMiss)
	c.transfers.Start(key, path, locator, func(asset *decoder.Asset, err error) {
		c.deliver(func() { cb(asset, err) }, false)
	})
}

// FetchFromCacheOnly 只执行 stub/内存/磁盘三个阶段，不会触发网络传输。
func (c *Coordinator) FetchFromCacheOnly(path, cacheName string, cb CacheCallback) {
	key := cache.CanonicalKey(path, cacheName)
	locator := cache.NewLocator(c.root, key)

	h, ok := c.lookup(key, locator)
	if ok {
		c.logHit(key, h.tier)
	} else {
		observeLookup(c.metrics, c.origin, TierMiss)
	}
	c.deliver(func() { cb(h.asset) }, true)
}

// Cancel 取消 Key 的共享传输；排队在该传输上的所有调用方都会收到 CANCELLED。
func (c *Coordinator) Cancel(path, cacheName string) {
	key := cache.CanonicalKey(path, cacheName)
	if c.transfers.Cancel(key) {
		fields := logging.FetchFields(c.origin, string(key), string(TierNetwork))
		fields["action"] = "cancel"
		c.logger.WithFields(fields).Debug("transfer_cancel_requested")
	}
}

// Stub 注册确定性响应，覆盖同一 Key 之前的 stub。statusCode 为 0 时按 200 处理。
// stub 结果不会写入任何缓存层。
func (c *Coordinator) Stub(path, cacheName string, asset *decoder.Asset, statusCode int) {
	if statusCode == 0 {
		statusCode = 200
	}
	c.state.setStub(cache.CanonicalKey(path, cacheName), StubEntry{Asset: asset, StatusCode: statusCode})
}

// RemoveStub 删除单个 stub。
func (c *Coordinator) RemoveStub(path, cacheName string) {
	c.state.removeStub(cache.CanonicalKey(path, cacheName))
}

// ClearStubs 删除全部 stub。
func (c *Coordinator) ClearStubs() {
	c.state.clearStubs()
}

// ResolvedLocation 返回资源的磁盘定位，调用方可用它校验落盘结果。
func (c *Coordinator) ResolvedLocation(path, cacheName string) cache.Locator {
	return cache.NewLocator(c.root, cache.CanonicalKey(path, cacheName))
}

// ResolvedPath 返回资源落盘的绝对路径。
func (c *Coordinator) ResolvedPath(path, cacheName string) (string, error) {
	return c.store.Path(c.ResolvedLocation(path, cacheName))
}

// Invalidate 同时清理内存层与磁盘层，保持两层一致。
func (c *Coordinator) Invalidate(ctx context.Context, path, cacheName string) error {
	locator := c.ResolvedLocation(path, cacheName)
	c.memory.Remove(locator.Key)
	return c.store.Delete(ctx, locator)
}

// ClearMemory 清空内存层，磁盘层不受影响。
func (c *Coordinator) ClearMemory() {
	c.memory.RemoveAll()
}

// Stats 返回内存层占用、在途传输与 stub 数量。
func (c *Coordinator) Stats() Stats {
	return Stats{
		Memory:   c.memory.Stats(),
		InFlight: c.transfers.InFlight(),
		Stubs:    c.state.stubCount(),
	}
}

// Origin 返回 Coordinator 服务的源站名称。
func (c *Coordinator) Origin() string {
	return c.origin
}

// Close 取消所有在途传输；由 Coordinator 自行创建的 MainLoop 会在回调投递完后关闭。
func (c *Coordinator) Close() {
	c.stop()
	c.transfers.Close()
	if c.ownedMain != nil {
		c.ownedMain.Close()
	}
}

// hit 是缓存阶段产生的结果。
type hit struct {
	asset *decoder.Asset
	err   error
	tier  Tier
}

// lookup 依次执行 CHECK_STUB、CHECK_MEMORY、CHECK_DISK。
func (c *Coordinator) lookup(key cache.Key, locator cache.Locator) (hit, bool) {
	if entry, ok := c.state.resolveStub(key); ok {
		asset, err := entry.result()
		return hit{asset: asset, err: err, tier: TierStub}, true
	}

	if asset, ok := c.memory.Get(key); ok {
		return hit{asset: asset, tier: TierMemory}, true
	}

	if asset, ok := c.loadFromDisk(key, locator); ok {
		return hit{asset: asset, tier: TierDisk}, true
	}
	return hit{tier: TierMiss}, false
}

// loadFromDisk 读取并解码磁盘条目；读取或解码失败时视为未命中，交由网络回源。
func (c *Coordinator) loadFromDisk(key cache.Key, locator cache.Locator) (*decoder.Asset, bool) {
	if !c.store.Exists(c.ctx, locator) {
		return nil, false
	}

	fields := logging.FetchFields(c.origin, string(key), string(TierDisk))
	data, _, err := c.store.Read(c.ctx, locator)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("disk_read_failed")
		return nil, false
	}
	asset, err := c.decoder.Decode(data)
	if err != nil {
		c.logger.WithError(err).WithFields(fields).Warn("disk_decode_failed")
		return nil, false
	}
	c.memory.Set(key, asset, asset.Size())
	return asset, true
}

// deliver 应用回调投递策略：测试模式下同步产生的结果直接在调用方执行，
// 其余情况投递到主执行上下文。
func (c *Coordinator) deliver(task func(), synchronous bool) {
	if synchronous && c.dispatch == DispatchImmediate {
		task()
		return
	}
	c.main.Post(task)
}

func (c *Coordinator) logHit(key cache.Key, tier Tier) {
	observeLookup(c.metrics, c.origin, tier)
	if c.logger.IsLevelEnabled(logrus.DebugLevel) {
		fields := logging.FetchFields(c.origin, string(key), string(tier))
		fields["action"] = "lookup"
		c.logger.WithFields(fields).Debug("cache_hit")
	}
}
