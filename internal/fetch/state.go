package fetch

import (
	"sync"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/decoder"
)

// state 聚合 stub 表与在途传输表，Coordinator 与 TransferManager 共享同一把锁。
type state struct {
	mu       sync.Mutex
	stubs    map[cache.Key]StubEntry
	inflight map[cache.Key]*transfer
}

func newState() *state {
	return &state{
		stubs:    make(map[cache.Key]StubEntry),
		inflight: make(map[cache.Key]*transfer),
	}
}

// StubEntry 是注入的确定性响应。
type StubEntry struct {
	Asset      *decoder.Asset
	StatusCode int
}

// result 将 stub 转换为回调参数：非 2xx 状态码一律生成 HTTP 状态错误。
func (s StubEntry) result() (*decoder.Asset, error) {
	if isSuccessStatus(s.StatusCode) {
		return s.Asset, nil
	}
	return s.Asset, statusError(s.StatusCode)
}

func (s *state) setStub(key cache.Key, entry StubEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs[key] = entry
}

func (s *state) resolveStub(key cache.Key) (StubEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.stubs[key]
	return entry, ok
}

func (s *state) removeStub(key cache.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stubs, key)
}

func (s *state) clearStubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = make(map[cache.Key]StubEntry)
}

func (s *state) stubCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stubs)
}
