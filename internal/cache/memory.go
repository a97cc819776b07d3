package cache

import (
	"container/list"
	"sync"

	"github.com/any-hub/any-asset/internal/decoder"
)

// MemoryCache 是内存层的抽象。插入的条目在被淘汰或显式删除之前都可以取回，
// 但淘汰可能随时发生。
type MemoryCache interface {
	Get(key Key) (*decoder.Asset, bool)
	Set(key Key, asset *decoder.Asset, cost int64)
	Remove(key Key)
	RemoveAll()
	Stats() MemoryStats
}

// EvictionPolicy 决定当前占用是否超出容量，淘汰顺序由缓存实现负责。
type EvictionPolicy interface {
	Exceeded(entries int, cost int64) bool
}

// CapacityPolicy 按条目数与总成本限制内存层，零值表示该维度不限。
type CapacityPolicy struct {
	MaxEntries int
	MaxCost    int64
}

// Exceeded implements EvictionPolicy.
func (p CapacityPolicy) Exceeded(entries int, cost int64) bool {
	if p.MaxEntries > 0 && entries > p.MaxEntries {
		return true
	}
	if p.MaxCost > 0 && cost > p.MaxCost {
		return true
	}
	return false
}

// MemoryStats 汇总内存层当前占用，供诊断接口输出。
type MemoryStats struct {
	Entries   int   `json:"entries"`
	Cost      int64 `json:"cost"`
	Evictions int64 `json:"evictions"`
}

type memoryEntry struct {
	key   Key
	asset *decoder.Asset
	cost  int64
}

// lruCache 以最近最少使用顺序淘汰，所有操作共享一把互斥锁。
type lruCache struct {
	policy EvictionPolicy

	mu        sync.Mutex
	order     *list.List
	items     map[Key]*list.Element
	cost      int64
	evictions int64
}

// NewMemoryCache 构建 LRU 内存层；policy 为空时不做淘汰。
func NewMemoryCache(policy EvictionPolicy) MemoryCache {
	if policy == nil {
		policy = CapacityPolicy{}
	}
	return &lruCache{
		policy: policy,
		order:  list.New(),
		items:  make(map[Key]*list.Element),
	}
}

func (c *lruCache) Get(key Key) (*decoder.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*memoryEntry).asset, true
}

func (c *lruCache) Set(key Key, asset *decoder.Asset, cost int64) {
	if asset == nil {
		return
	}
	if cost < 0 {
		cost = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	// 单个条目已超出容量时不保留，避免把其它条目全部挤出。
	if c.policy.Exceeded(1, cost) {
		return
	}

	elem := c.order.PushFront(&memoryEntry{key: key, asset: asset, cost: cost})
	c.items[key] = elem
	c.cost += cost

	for c.policy.Exceeded(c.order.Len(), c.cost) {
		oldest := c.order.Back()
		if oldest == nil || oldest == elem {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

func (c *lruCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

func (c *lruCache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.items = make(map[Key]*list.Element)
	c.cost = 0
}

func (c *lruCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return MemoryStats{
		Entries:   c.order.Len(),
		Cost:      c.cost,
		Evictions: c.evictions,
	}
}

func (c *lruCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	c.order.Remove(elem)
	delete(c.items, entry.key)
	c.cost -= entry.cost
}
