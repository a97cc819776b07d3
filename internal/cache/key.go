package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Key 是缓存条目的规范标识，内存层与磁盘层共用。
type Key string

const (
	// bodySuffix 只出现在叶子段，目录段经过编码后不可能包含字面量 '.'。
	bodySuffix = ".body"
	// maxSegmentLen 控制单个路径段的编码长度，超出时改用摘要。
	maxSegmentLen = 200
	// emptySegment 表示空段（如 "a//b"），单独的 '%' 不会由百分号编码产生。
	emptySegment = "%"
	// hashedPrefix 标记摘要段，'%' 后跟非十六进制字符同样不会由编码产生。
	hashedPrefix = "%H"
)

// CanonicalKey 优先使用显式 cacheName，否则退回资源路径。
func CanonicalKey(path, cacheName string) Key {
	if cacheName != "" {
		return Key(cacheName)
	}
	return Key(path)
}

// EncodeKey 把 Key 转换为以 '/' 分隔的相对路径，保证不同 Key 得到不同路径。
// Key 中的 '/' 用于构建子目录，其余非安全字节（含非 ASCII）按字节百分号编码。
// 大写字母同样会被编码，大小写不敏感的文件系统上也不会发生碰撞。
func EncodeKey(key Key) string {
	segments := strings.Split(string(key), "/")
	encoded := make([]string, len(segments))
	for i, segment := range segments {
		encoded[i] = encodeSegment(segment)
	}
	encoded[len(encoded)-1] += bodySuffix
	return strings.Join(encoded, "/")
}

// RootName 将 base URL 编码为单个目录名，每个源站独占一个缓存目录。
func RootName(baseURL string) string {
	return encodeSegment(strings.TrimRight(baseURL, "/"))
}

// NewLocator 组合缓存根目录与 Key。
func NewLocator(root string, key Key) Locator {
	return Locator{Root: root, Key: key}
}

func encodeSegment(segment string) string {
	if segment == "" {
		return emptySegment
	}
	var b strings.Builder
	b.Grow(len(segment))
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if isSafeByte(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	if b.Len() > maxSegmentLen {
		sum := sha256.Sum256([]byte(segment))
		return hashedPrefix + hex.EncodeToString(sum[:])
	}
	return b.String()
}

const upperHex = "0123456789ABCDEF"

func isSafeByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '~':
		return true
	}
	return false
}
