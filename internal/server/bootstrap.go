package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/fetch"
	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/upstream"
)

// TransportFactory 为某个源站构建网络层，测试中可替换为内存实现。
type TransportFactory func(route *OriginRoute) (fetch.Transport, error)

// Dependencies 汇总所有源站共享的协作者。
type Dependencies struct {
	Store      cache.Store
	Main       fetch.Executor
	HTTPClient *http.Client
	Logger     *logrus.Logger
	Metrics    fetch.Metrics
	// Transport 为空时使用 upstream.Client。
	Transport TransportFactory
}

// Bootstrap 为每个源站创建独立内存层与 Coordinator，磁盘层与主执行上下文共享。
func (r *OriginRegistry) Bootstrap(cfg *config.Config, deps Dependencies) error {
	if r == nil || cfg == nil {
		return errors.New("registry and config are required")
	}
	if deps.Store == nil {
		return errors.New("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewDiscardLogger()
	}
	if deps.Transport == nil {
		deps.Transport = upstreamTransport(cfg, deps)
	}

	mode, ok := fetch.ParseDispatchMode(cfg.Global.DispatchMode)
	if !ok {
		return fmt.Errorf("unknown dispatch mode %q", cfg.Global.DispatchMode)
	}

	for _, route := range r.ordered {
		transport, err := deps.Transport(route)
		if err != nil {
			return fmt.Errorf("origin %s: %w", route.Config.Name, err)
		}
		coordinator, err := fetch.New(fetch.Options{
			Origin:    route.Config.Name,
			Root:      route.Root,
			Store:     deps.Store,
			Memory:    cache.NewMemoryCache(memoryPolicy(cfg.Global)),
			Transport: transport,
			Decoder:   route.Decoder.Decoder,
			Dispatch:  mode,
			Main:      deps.Main,

			MaxConcurrentTransfers: cfg.Global.MaxConcurrentTransfers,

			Logger:  deps.Logger,
			Metrics: deps.Metrics,
		})
		if err != nil {
			return fmt.Errorf("origin %s: %w", route.Config.Name, err)
		}
		route.Coordinator = coordinator

		fields := logging.FetchFields(route.Config.Name, "", "")
		fields["action"] = "bootstrap"
		fields["domain"] = route.Config.Domain
		fields["decoder"] = route.Decoder.Key
		fields["root"] = route.Root
		fields["auth_mode"] = route.Config.AuthMode()
		fields["dispatch"] = mode.String()
		deps.Logger.WithFields(fields).Info("origin_ready")
	}
	return nil
}

func upstreamTransport(cfg *config.Config, deps Dependencies) TransportFactory {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = upstream.NewHTTPClient(cfg)
	}
	return func(route *OriginRoute) (fetch.Transport, error) {
		return upstream.New(httpClient, upstream.Options{
			Origin:         route.Config,
			MaxBytes:       cfg.Global.MaxAssetSize,
			MaxRetries:     cfg.Global.MaxRetries,
			InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
			Logger:         deps.Logger,
		})
	}
}

func memoryPolicy(g config.GlobalConfig) cache.CapacityPolicy {
	return cache.CapacityPolicy{
		MaxEntries: g.MaxMemoryEntries,
		MaxCost:    g.MaxMemoryCache,
	}
}
