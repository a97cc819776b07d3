package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/decoder/raw"
	"github.com/any-hub/any-asset/internal/fetch"
	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/server"
)

// cacheNameParam 是用于指定缓存别名的查询参数，不参与上游路径。
const cacheNameParam = "name"

// Handler 将 Host 路由到的请求交给源站 Coordinator，并把回调结果写回 HTTP 响应。
type Handler struct {
	logger      *logrus.Logger
	timeout     time.Duration
	contentType func([]byte) string
}

// NewHandler 创建 Handler；timeout 限制单个请求等待回调的时间，<=0 表示只受客户端上下文约束。
// Content-Type 按响应字节嗅探。
func NewHandler(logger *logrus.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Handler{logger: logger, timeout: timeout, contentType: http.DetectContentType}
}

// NewRawHandler 用于 raw 源站：字节原样下发，Content-Type 固定为 application/octet-stream。
func NewRawHandler(logger *logrus.Logger, timeout time.Duration) *Handler {
	h := NewHandler(logger, timeout)
	h.contentType = func([]byte) string { return fiber.MIMEOctetStream }
	return h
}

// NewOriginForwarder 组装默认 handler 与按解码器注册的专用 handler。
func NewOriginForwarder(logger *logrus.Logger, timeout time.Duration) (*Forwarder, error) {
	forwarder := NewForwarder(NewHandler(logger, timeout), logger)
	if err := forwarder.Register(raw.Key, NewRawHandler(logger, timeout)); err != nil {
		return nil, err
	}
	return forwarder, nil
}

type fetchResult struct {
	asset *decoder.Asset
	err   error
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	if route.Coordinator == nil {
		return h.writeError(c, fiber.StatusServiceUnavailable, "origin_not_ready")
	}
	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return h.writeError(c, fiber.StatusMethodNotAllowed, "method_not_allowed")
	}

	resourcePath, cacheName := requestTarget(c)
	if resourcePath == "" {
		return h.writeError(c, fiber.StatusBadRequest, "path_required")
	}
	key := route.Coordinator.ResolvedLocation(resourcePath, cacheName).Key

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	done := make(chan fetchResult, 1)
	route.Coordinator.Fetch(resourcePath, cacheName, func(asset *decoder.Asset, err error) {
		done <- fetchResult{asset: asset, err: err}
	})

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		h.logResult(route, key, requestID, fiber.StatusGatewayTimeout, 0, started, ctx.Err())
		return h.writeError(c, fiber.StatusGatewayTimeout, "fetch_timeout")
	}

	if res.err != nil {
		status, code := errorResponse(res.err)
		h.logResult(route, key, requestID, status, 0, started, res.err)
		return h.writeError(c, status, code)
	}

	c.Set("X-Any-Asset-Key", string(key))
	if res.asset == nil {
		h.logResult(route, key, requestID, fiber.StatusNoContent, 0, started, nil)
		return c.SendStatus(fiber.StatusNoContent)
	}

	data := res.asset.Bytes()
	c.Set(fiber.HeaderContentType, h.contentType(data))
	h.logResult(route, key, requestID, fiber.StatusOK, len(data), started, nil)
	return c.Status(fiber.StatusOK).Send(data)
}

// errorResponse 将回调错误映射为 HTTP 状态与错误码。
func errorResponse(err error) (int, string) {
	var fetchErr *fetch.Error
	if !errors.As(err, &fetchErr) {
		return fiber.StatusBadGateway, "upstream_failed"
	}
	switch fetchErr.Kind {
	case fetch.KindHTTPStatus:
		if fetchErr.Code >= 400 && fetchErr.Code <= 599 {
			return fetchErr.Code, "upstream_status"
		}
		return fiber.StatusBadGateway, "upstream_status"
	case fetch.KindCancelled:
		return fiber.StatusServiceUnavailable, "fetch_cancelled"
	case fetch.KindDecode:
		return fiber.StatusBadGateway, "decode_failed"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}

// requestTarget 从请求 URI 提取资源路径与缓存别名；?name= 被剥离，
// 其余查询参数按键排序后保留在资源路径中。
func requestTarget(c fiber.Ctx) (string, string) {
	uri := c.Request().URI()
	resourcePath := strings.TrimPrefix(string(uri.Path()), "/")

	rawQuery := string(uri.QueryString())
	if rawQuery == "" {
		return resourcePath, ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return resourcePath + "?" + rawQuery, ""
	}
	cacheName := values.Get(cacheNameParam)
	values.Del(cacheNameParam)
	if encoded := values.Encode(); encoded != "" && resourcePath != "" {
		resourcePath += "?" + encoded
	}
	return resourcePath, cacheName
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	key cache.Key,
	requestID string,
	status int,
	bytes int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(route.Config.Name, route.Config.Domain, string(key), requestID)
	fields["action"] = "serve"
	fields["status"] = status
	fields["bytes"] = bytes
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		if code := fetch.Code(err); code != 0 {
			fields["code"] = code
		}
		h.logger.WithFields(fields).Warn("serve_failed")
		return
	}
	h.logger.WithFields(fields).Info("serve_complete")
}
