package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<Root>/<EncodeKey(Key)>    # 原始未解码字节
//
// 不维护索引文件，条目是否存在完全由文件系统决定。
type Store interface {
	// Exists 报告条目是否存在；目录或任何 stat 错误都视为不存在。
	Exists(ctx context.Context, locator Locator) bool

	// Read 返回条目的全部字节。若不存在则返回 ErrNotFound。
	Read(ctx context.Context, locator Locator) ([]byte, *Entry, error)

	// Write 覆盖写入条目，按需创建中间目录。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Write(ctx context.Context, locator Locator, data []byte) (*Entry, error)

	// Delete 删除条目；条目不存在时同样返回 nil。
	Delete(ctx context.Context, locator Locator) error

	// Path 返回条目对应的绝对文件路径，便于调用方直接校验落盘结果。
	Path(locator Locator) (string, error)
}

// Locator 唯一定位一个磁盘条目（源站根目录 + 规范 Key）。
type Locator struct {
	Root string
	Key  Key
}

// Entry 描述一个落盘条目的文件信息。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
