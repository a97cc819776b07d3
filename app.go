package main

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/server"
)

// appBundle 持有 Fiber 应用及其源站注册表，测试中可直接调用 app.Test。
type appBundle struct {
	App      *fiber.App
	Registry *server.OriginRegistry
}

// waitTimeout 估算一次请求最长等待时间：每次尝试的超时加上指数退避总和。
func waitTimeout(cfg *config.Config) time.Duration {
	g := cfg.Global
	attempts := g.MaxRetries + 1
	total := time.Duration(attempts) * g.UpstreamTimeout.DurationValue()
	backoff := g.InitialBackoff.DurationValue()
	for i := 0; i < g.MaxRetries; i++ {
		total += backoff << i
	}
	return total
}
