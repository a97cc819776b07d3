package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/fetch"
)

// OriginRoute 将 Origin 配置与派生属性（解析后的 BaseURL/Proxy、缓存根目录、
// 解码器）聚合在一起，供路由/代理层直接复用。
type OriginRoute struct {
	// Config 是用户在 config.toml 中声明的 Origin 字段副本。
	Config config.OriginConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志输出。
	ListenPort int
	BaseURL    *url.URL
	ProxyURL   *url.URL
	// Root 是该源站在磁盘缓存中的目录名。
	Root    string
	Decoder decoder.Metadata
	// Coordinator 在 Bootstrap 之后可用。
	Coordinator *fetch.Coordinator
}

// OriginRegistry 提供 Host/Host:port 与源站名称到 OriginRoute 的查询能力。
type OriginRegistry struct {
	routes  map[string]*OriginRoute
	byName  map[string]*OriginRoute
	ordered []*OriginRoute
}

// NewOriginRegistry 根据配置构建 Host 映射。调用方应在启动阶段创建一次并复用。
func NewOriginRegistry(cfg *config.Config) (*OriginRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &OriginRegistry{
		routes: make(map[string]*OriginRoute, len(cfg.Origins)),
		byName: make(map[string]*OriginRoute, len(cfg.Origins)),
	}

	for _, origin := range cfg.Origins {
		normalizedHost := normalizeDomain(origin.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for origin %s", origin.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}
		if _, exists := registry.byName[origin.Name]; exists {
			return nil, fmt.Errorf("duplicate origin name %s", origin.Name)
		}

		route, err := buildOriginRoute(cfg, origin)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.byName[origin.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 OriginRoute。
func (r *OriginRegistry) Lookup(host string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// LookupName 根据源站名称查找 OriginRoute，供 /-/ 管理接口使用。
func (r *OriginRegistry) LookupName(name string) (*OriginRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 返回当前注册的 OriginRoute 列表（按配置定义的顺序）。
func (r *OriginRegistry) List() []OriginRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]OriginRoute, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// Close 关闭所有已创建的 Coordinator。
func (r *OriginRegistry) Close() {
	if r == nil {
		return
	}
	for _, route := range r.ordered {
		if route.Coordinator != nil {
			route.Coordinator.Close()
		}
	}
}

func buildOriginRoute(cfg *config.Config, origin config.OriginConfig) (*OriginRoute, error) {
	key := origin.Decoder
	if key == "" {
		key = decoder.DefaultKey()
	}
	meta, ok := decoder.Resolve(key)
	if !ok {
		return nil, fmt.Errorf("origin %s: decoder %s is not registered", origin.Name, key)
	}

	baseURL, err := url.Parse(origin.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url for origin %s: %w", origin.Name, err)
	}

	var proxyURL *url.URL
	if origin.Proxy != "" {
		proxyURL, err = url.Parse(origin.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for origin %s: %w", origin.Name, err)
		}
	}

	return &OriginRoute{
		Config:     origin,
		ListenPort: cfg.Global.ListenPort,
		BaseURL:    baseURL,
		ProxyURL:   proxyURL,
		Root:       cache.RootName(origin.BaseURL),
		Decoder:    meta,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
