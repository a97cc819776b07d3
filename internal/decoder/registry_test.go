package decoder

import "testing"

func replaceRegistry(t *testing.T) func() {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	return func() { globalRegistry = prev }
}

func passthrough() Decoder {
	return DecoderFunc(func(data []byte) (*Asset, error) {
		return NewAsset(data, nil, "test"), nil
	})
}

func TestRegisterResolveAndList(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "beta", Decoder: passthrough()}); err != nil {
		t.Fatalf("register beta failed: %v", err)
	}
	if err := Register(Metadata{Key: "gamma", Decoder: passthrough()}); err != nil {
		t.Fatalf("register gamma failed: %v", err)
	}

	if _, ok := Resolve("beta"); !ok {
		t.Fatalf("expected beta to resolve")
	}
	if _, ok := Resolve(" BETA "); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	if _, ok := Resolve(""); ok {
		t.Fatalf("empty key should not resolve")
	}

	keys := Keys()
	if len(keys) != 2 || keys[0] != "beta" || keys[1] != "gamma" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "raw", Decoder: passthrough()}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}
	if err := Register(Metadata{Key: "raw", Decoder: passthrough()}); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
}

func TestRegisterRequiresDecoder(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	if err := Register(Metadata{Key: "empty"}); err == nil {
		t.Fatalf("registration without decoder should fail")
	}
}

func TestAssetBytesAreCopies(t *testing.T) {
	src := []byte("payload")
	asset := NewAsset(src, nil, "raw")
	src[0] = 'X'

	got := asset.Bytes()
	if string(got) != "payload" {
		t.Fatalf("asset should own its bytes, got %q", got)
	}
	got[0] = 'Y'
	if string(asset.Bytes()) != "payload" {
		t.Fatalf("Bytes must return a copy")
	}
	if asset.Size() != int64(len("payload")) {
		t.Fatalf("size mismatch: %d", asset.Size())
	}
}

func TestNilAssetAccessors(t *testing.T) {
	var asset *Asset
	if asset.Bytes() != nil || asset.Image() != nil || asset.Format() != "" || asset.Size() != 0 {
		t.Fatalf("nil asset accessors should return zero values")
	}
}
