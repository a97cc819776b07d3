package config

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalConfig = `
StoragePath = "./storage"

[[Origin]]
Name = "cdn"
Domain = "cdn.local"
BaseURL = "https://cdn.example.com/assets/"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:             5000,
			StoragePath:            "/tmp/any-asset",
			MaxMemoryCache:         1024,
			MaxAssetSize:           1024,
			InitialBackoff:         Duration(1),
			UpstreamTimeout:        Duration(1),
			MaxConcurrentTransfers: 4,
			DispatchMode:           "production",
		},
		Origins: []OriginConfig{
			{
				Name:    "cdn",
				Domain:  "cdn.local",
				BaseURL: "https://cdn.example.com",
				Decoder: "image",
			},
		},
	}
}
