package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	g := cfg.Global
	if g.ListenPort != defaultListenPort {
		t.Fatalf("ListenPort 应默认 %d，实际 %d", defaultListenPort, g.ListenPort)
	}
	if !filepath.IsAbs(g.StoragePath) {
		t.Fatalf("StoragePath 应转为绝对路径: %s", g.StoragePath)
	}
	if g.MaxMemoryCache != defaultMaxMemoryCache {
		t.Fatalf("MaxMemoryCacheSize 默认值不正确: %d", g.MaxMemoryCache)
	}
	if g.MaxAssetSize != defaultMaxAssetSize {
		t.Fatalf("MaxAssetSize 默认值不正确: %d", g.MaxAssetSize)
	}
	if g.UpstreamTimeout.DurationValue() != defaultUpstreamTimeout {
		t.Fatalf("UpstreamTimeout 默认值不正确: %s", g.UpstreamTimeout.DurationValue())
	}
	if g.DispatchMode != "production" {
		t.Fatalf("DispatchMode 默认应为 production，实际 %s", g.DispatchMode)
	}
	if !g.EnableMetrics || g.EnableStubAPI {
		t.Fatalf("默认应开启 metrics、关闭 stub API")
	}
	if cfg.Origins[0].Decoder != "image" {
		t.Fatalf("Decoder 默认应为 image，实际 %s", cfg.Origins[0].Decoder)
	}
}

func TestLoadParsesDurationsAndOverrides(t *testing.T) {
	path := writeTempConfig(t, `
ListenPort = 6100
InitialBackoff = "250ms"
UpstreamTimeout = 5
DispatchMode = "Testing"
MaxConcurrentTransfers = 2
EnableStubAPI = true

[[Origin]]
Name = "sprites"
Domain = "sprites.local"
BaseURL = "https://sprites.example.com"
Decoder = "RAW"
Username = "u"
Password = "p"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 6100 {
		t.Fatalf("ListenPort 未覆盖")
	}
	if cfg.Global.InitialBackoff.DurationValue() != 250*time.Millisecond {
		t.Fatalf("InitialBackoff 解析错误: %s", cfg.Global.InitialBackoff.DurationValue())
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("整数秒应解析为 Duration: %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.DispatchMode != "testing" {
		t.Fatalf("DispatchMode 应归一化为小写: %s", cfg.Global.DispatchMode)
	}
	if cfg.Origins[0].Decoder != "raw" {
		t.Fatalf("Decoder 应归一化为小写: %s", cfg.Origins[0].Decoder)
	}
	if !cfg.Origins[0].HasCredentials() {
		t.Fatalf("凭证应被解析")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("文件不存在时应返回错误")
	}
}

func TestLoadRejectsLegacyHubTables(t *testing.T) {
	path := writeTempConfig(t, `
[[Hub]]
Name = "docker"
Domain = "docker.local"
Upstream = "https://registry-1.docker.io"
`)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Hub" {
		t.Fatalf("应拒绝 [[Hub]] 配置，实际 %v", err)
	}
}

func TestLoadRejectsUpstreamKey(t *testing.T) {
	path := writeTempConfig(t, `
[[Origin]]
Name = "cdn"
Domain = "cdn.local"
Upstream = "https://cdn.example.com"
`)
	_, err := Load(path)
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Origin[cdn].Upstream" {
		t.Fatalf("应提示 Upstream 已更名，实际 %v", err)
	}
}

func TestLoadRejectsInvalidDecoder(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`Decoder = "svg"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("未知 Decoder 应当报错")
	}
}
