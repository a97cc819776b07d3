package routes

import (
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/fetch"
	"github.com/any-hub/any-asset/internal/server"
)

// RegisterOriginRoutes 暴露 /-/origins 诊断接口，输出源站与解码器绑定及运行时占用。
func RegisterOriginRoutes(app *fiber.App, registry *server.OriginRegistry) {
	if app == nil || registry == nil {
		return
	}

	app.Get("/-/origins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"origins":  encodeOrigins(registry.List()),
			"decoders": encodeDecoders(decoder.List()),
		})
	})
}

type originPayload struct {
	Name      string       `json:"name"`
	Domain    string       `json:"domain"`
	BaseURL   string       `json:"base_url"`
	Decoder   string       `json:"decoder"`
	CacheRoot string       `json:"cache_root"`
	AuthMode  string       `json:"auth_mode"`
	Port      int          `json:"port"`
	Stats     *fetch.Stats `json:"stats,omitempty"`
}

type decoderPayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	MediaTypes  []string `json:"media_types"`
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].Config.Name < routes[j].Config.Name
	})
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		item := originPayload{
			Name:      route.Config.Name,
			Domain:    route.Config.Domain,
			BaseURL:   route.Config.BaseURL,
			Decoder:   route.Decoder.Key,
			CacheRoot: route.Root,
			AuthMode:  route.Config.AuthMode(),
			Port:      route.ListenPort,
		}
		if route.Coordinator != nil {
			stats := route.Coordinator.Stats()
			item.Stats = &stats
		}
		result = append(result, item)
	}
	return result
}

func encodeDecoders(metas []decoder.Metadata) []decoderPayload {
	if len(metas) == 0 {
		return nil
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].Key < metas[j].Key
	})
	result := make([]decoderPayload, 0, len(metas))
	for _, meta := range metas {
		result = append(result, decoderPayload{
			Key:         meta.Key,
			Description: meta.Description,
			MediaTypes:  append([]string(nil), meta.MediaTypes...),
		})
	}
	return result
}
