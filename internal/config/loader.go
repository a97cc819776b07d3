package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/any-asset/internal/decoder"
)

const (
	defaultListenPort      = 5000
	defaultMaxMemoryCache  = 64 * 1024 * 1024
	defaultMaxAssetSize    = 32 * 1024 * 1024
	defaultInitialBackoff  = time.Second
	defaultUpstreamTimeout = 30 * time.Second
	defaultConcurrency     = 16
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectLegacyHubTables(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Origins {
		applyOriginDefaults(&cfg.Origins[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", defaultListenPort)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("MaxMemoryCacheSize", defaultMaxMemoryCache)
	v.SetDefault("MaxMemoryEntries", 0)
	v.SetDefault("MaxAssetSize", defaultMaxAssetSize)
	v.SetDefault("MaxRetries", 2)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxConcurrentTransfers", defaultConcurrency)
	v.SetDefault("DispatchMode", "production")
	v.SetDefault("EnableStubAPI", false)
	v.SetDefault("EnableMetrics", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = defaultListenPort
	}
	if g.MaxMemoryCache == 0 {
		g.MaxMemoryCache = defaultMaxMemoryCache
	}
	if g.MaxAssetSize == 0 {
		g.MaxAssetSize = defaultMaxAssetSize
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(defaultInitialBackoff)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(defaultUpstreamTimeout)
	}
	g.DispatchMode = strings.ToLower(strings.TrimSpace(g.DispatchMode))
	if g.DispatchMode == "" {
		g.DispatchMode = "production"
	}
}

func applyOriginDefaults(o *OriginConfig) {
	if trimmed := strings.TrimSpace(o.Decoder); trimmed == "" {
		o.Decoder = decoder.DefaultKey()
	} else {
		o.Decoder = strings.ToLower(trimmed)
	}
	o.BaseURL = strings.TrimSpace(o.BaseURL)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectLegacyHubTables 拒绝 any-hub 风格的 [[Hub]] 配置，提示改用 [[Origin]]。
func rejectLegacyHubTables(v *viper.Viper) error {
	if v.IsSet("Hub") {
		return newFieldError("Hub", "不再支持，请改用 [[Origin]] 并填写 BaseURL")
	}

	raw := v.Get("Origin")
	origins, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range origins {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		if _, exists := lookupFold(m, "Upstream"); exists {
			name := fmt.Sprintf("#%d", idx)
			if rawName, ok := lookupFold(m, "Name"); ok {
				if str, ok := rawName.(string); ok && str != "" {
					name = str
				}
			}
			return newFieldError(originField(name, "Upstream"), "字段已更名为 BaseURL")
		}
	}
	return nil
}

// lookupFold 忽略大小写读取表字段，viper 可能已将键名转为小写。
func lookupFold(m map[string]interface{}, key string) (interface{}, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
