package cache

import (
	"strings"
	"testing"
)

func TestCanonicalKeyPrefersCacheName(t *testing.T) {
	if got := CanonicalKey("/img/a.png", "avatar"); got != "avatar" {
		t.Fatalf("cache name should win, got %s", got)
	}
	if got := CanonicalKey("/img/a.png", ""); got != "/img/a.png" {
		t.Fatalf("empty cache name should fall back to path, got %s", got)
	}
}

func TestEncodeKeyNestsOnSlashes(t *testing.T) {
	if got := EncodeKey("png/png"); got != "png/png.body" {
		t.Fatalf("unexpected nested path: %s", got)
	}
	if got := EncodeKey("/img/logo.png"); got != "%/img/logo%2Epng.body" {
		t.Fatalf("unexpected encoding: %s", got)
	}
}

func TestEncodeKeyHandlesNonASCII(t *testing.T) {
	first := EncodeKey("图片/猫.png")
	second := EncodeKey("图片/猫.png")
	if first != second {
		t.Fatalf("encoding must be deterministic")
	}
	for _, r := range first {
		if r > 0x7f {
			t.Fatalf("encoded key should be ASCII only: %s", first)
		}
	}
}

func TestEncodeKeyIsInjective(t *testing.T) {
	keys := []Key{
		"", "/", "a", "A", "a/", "/a", "a//b", "a/b", "a%2Fb", "a%b", "%",
		".", "..", "a/..", "a.body", "a/b.body", "a%2Ebody", "a b", "a+b",
		"png/png", "png.png", "猫", "%E7%8C%AB", "%H00",
		Key(strings.Repeat("x", 300)), Key(strings.Repeat("x", 301)),
	}
	seen := make(map[string]Key, len(keys))
	for _, key := range keys {
		encoded := EncodeKey(key)
		lower := strings.ToLower(encoded)
		if prev, ok := seen[lower]; ok {
			t.Fatalf("keys %q and %q collide on %q", prev, key, encoded)
		}
		seen[lower] = key
	}
}

func TestEncodeKeyNeverEscapesRoot(t *testing.T) {
	for _, key := range []Key{"..", "../../etc/passwd", "./x", "a/../../b"} {
		for _, segment := range strings.Split(EncodeKey(key), "/") {
			if segment == "." || segment == ".." || segment == "" {
				t.Fatalf("key %q produced unsafe segment in %q", key, EncodeKey(key))
			}
		}
	}
}

func TestEncodeKeyHashesLongSegments(t *testing.T) {
	encoded := EncodeKey(Key(strings.Repeat("é", 200)))
	if !strings.HasPrefix(encoded, hashedPrefix) {
		t.Fatalf("long segment should be hashed: %s", encoded)
	}
	if len(encoded) > maxSegmentLen+len(bodySuffix) {
		t.Fatalf("hashed segment too long: %d", len(encoded))
	}
}

func TestRootNameIsSingleSegment(t *testing.T) {
	root := RootName("https://cdn.example.com/assets/")
	if strings.ContainsAny(root, `/.\`) {
		t.Fatalf("root name must be a single safe segment: %s", root)
	}
	if RootName("https://cdn.example.com/assets") != root {
		t.Fatalf("trailing slash should not change the root")
	}
	if RootName("https://other.example.com") == root {
		t.Fatalf("different origins must not share a root")
	}
}
