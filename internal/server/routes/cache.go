package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/utils/v2"

	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/server"
)

const cacheLookupTimeout = 5 * time.Second

// RegisterCacheRoutes 暴露仅查缓存、失效与取消接口，均以 ?path=&name= 指定资源。
func RegisterCacheRoutes(app *fiber.App, registry *server.OriginRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/cache/:origin", func(c fiber.Ctx) error {
		route, path, name, err := resolveTarget(c, registry)
		if route == nil {
			return err
		}

		done := make(chan *decoder.Asset, 1)
		route.Coordinator.FetchFromCacheOnly(path, name, func(asset *decoder.Asset) {
			done <- asset
		})

		var asset *decoder.Asset
		select {
		case asset = <-done:
		case <-time.After(cacheLookupTimeout):
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "lookup_timeout"})
		}

		location := route.Coordinator.ResolvedLocation(path, name)
		payload := fiber.Map{
			"origin": route.Config.Name,
			"key":    string(location.Key),
			"hit":    asset != nil,
		}
		if filePath, err := route.Coordinator.ResolvedPath(path, name); err == nil {
			payload["file"] = filePath
		}
		if asset != nil {
			payload["size"] = asset.Size()
			payload["format"] = asset.Format()
			return c.JSON(payload)
		}
		return c.Status(fiber.StatusNotFound).JSON(payload)
	})

	app.Delete("/-/cache/:origin", func(c fiber.Ctx) error {
		route, path, name, err := resolveTarget(c, registry)
		if route == nil {
			return err
		}
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := route.Coordinator.Invalidate(ctx, path, name); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invalidate_failed"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/-/cancel/:origin", func(c fiber.Ctx) error {
		route, path, name, err := resolveTarget(c, registry)
		if route == nil {
			return err
		}
		route.Coordinator.Cancel(path, name)
		return c.SendStatus(fiber.StatusAccepted)
	})
}

// RegisterStubRoutes 暴露 stub 注册接口，请求体按源站解码器解码后注册。
func RegisterStubRoutes(app *fiber.App, registry *server.OriginRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Post("/-/stub/:origin", func(c fiber.Ctx) error {
		route, path, name, err := resolveTarget(c, registry)
		if route == nil {
			return err
		}

		status := http.StatusOK
		if raw := c.Query("status"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 100 || parsed > 599 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_status"})
			}
			status = parsed
		}

		var asset *decoder.Asset
		if body := c.Body(); len(body) > 0 {
			asset, err = route.Decoder.Decoder.Decode(body)
			if err != nil {
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "decode_failed"})
			}
		}
		route.Coordinator.Stub(path, name, asset, status)
		return c.SendStatus(fiber.StatusCreated)
	})

	app.Delete("/-/stub/:origin", func(c fiber.Ctx) error {
		route, ok := registry.LookupName(c.Params("origin"))
		if !ok || route.Coordinator == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "origin_not_found"})
		}
		path, name := queryTarget(c)
		if path != "" || name != "" {
			route.Coordinator.RemoveStub(path, name)
		} else {
			route.Coordinator.ClearStubs()
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// resolveTarget 解析 :origin 与 ?path=&name=，失败时已写入错误响应并返回 nil route。
func resolveTarget(c fiber.Ctx, registry *server.OriginRegistry) (*server.OriginRoute, string, string, error) {
	route, ok := registry.LookupName(c.Params("origin"))
	if !ok || route.Coordinator == nil {
		return nil, "", "", c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "origin_not_found"})
	}
	path, name := queryTarget(c)
	if path == "" && name == "" {
		return nil, "", "", c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "path_required"})
	}
	return route, path, name, nil
}

// queryTarget 复制 ?path=&name=：Query 返回的字符串引用请求缓冲区，
// 而 stub 与传输表会长期持有这些键。
func queryTarget(c fiber.Ctx) (string, string) {
	return utils.CopyString(c.Query("path")), utils.CopyString(c.Query("name"))
}
