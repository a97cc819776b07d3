package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/server"
)

// Forwarder 根据 OriginRoute 的解码器键选择 ProxyHandler，默认回退到构造时注入的 handler，
// 并把 handler 内部 panic 转换为 500 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]server.ProxyHandler
}

// NewForwarder 创建 Forwarder，defaultHandler 不能为空。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
		handlers:       make(map[string]server.ProxyHandler),
	}
}

// Register 为指定解码器键绑定专用 handler，例如为 raw 源站提供直通下载。
func (f *Forwarder) Register(decoderKey string, handler server.ProxyHandler) error {
	key := normalizeDecoderKey(decoderKey)
	if key == "" {
		return fmt.Errorf("decoder key is required")
	}
	if handler == nil {
		return fmt.Errorf("handler for %s is nil", key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handlers[key]; exists {
		return fmt.Errorf("handler for %s already registered", key)
	}
	f.handlers[key] = handler
	return nil
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.OriginRoute, requestID string) error {
	f.logHandlerError(route, "handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.OriginRoute, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.OriginRoute, recovered interface{}, requestID string) error {
	f.logHandlerError(route, "handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logHandlerError(route *server.OriginRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "serve"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("handler unavailable")
}

func (f *Forwarder) lookup(route *server.OriginRoute) server.ProxyHandler {
	if route != nil {
		f.mu.RLock()
		handler := f.handlers[normalizeDecoderKey(route.Decoder.Key)]
		f.mu.RUnlock()
		if handler != nil {
			return handler
		}
	}
	return f.defaultHandler
}

func normalizeDecoderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func routeFields(route *server.OriginRoute, requestID string) logrus.Fields {
	if route == nil {
		return logging.RequestFields("", "", "", requestID)
	}
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, "", requestID)
	fields["decoder"] = route.Decoder.Key
	return fields
}
