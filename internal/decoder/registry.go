package decoder

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const defaultDecoderKey = "image"

var globalRegistry = newRegistry()

// Metadata 记录一个解码器的静态信息，供配置校验和诊断端使用。
type Metadata struct {
	Key         string
	Description string
	MediaTypes  []string
	Decoder     Decoder
}

// DefaultKey 返回未显式配置时使用的解码器键。
func DefaultKey() string {
	return defaultDecoderKey
}

type registry struct {
	mu       sync.RWMutex
	decoders map[string]Metadata
}

func newRegistry() *registry {
	return &registry{decoders: make(map[string]Metadata)}
}

// Register 将解码器加入全局注册表，重复键会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合解码器 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的解码器元数据。
func Resolve(key string) (Metadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的解码器元数据列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册解码器的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta Metadata) error {
	key := normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("decoder key is required")
	}
	if meta.Decoder == nil {
		return fmt.Errorf("decoder %s has no implementation", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[key]; exists {
		return fmt.Errorf("decoder %s already registered", key)
	}
	r.decoders[key] = meta
	return nil
}

func (r *registry) resolve(key string) (Metadata, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Metadata{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.decoders[normalized]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.decoders) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.decoders))
	for key := range r.decoders {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Metadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.decoders[key])
	}
	return result
}
