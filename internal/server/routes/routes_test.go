package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/any-asset/internal/cache"
	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/decoder"
	"github.com/any-hub/any-asset/internal/fetch"
	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/server"
)

type fixture struct {
	app      *fiber.App
	registry *server.OriginRegistry
	store    cache.Store
	calls    *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000, DispatchMode: "testing"},
		Origins: []config.OriginConfig{{
			Name:    "cdn",
			Domain:  "cdn.asset.local",
			BaseURL: "https://cdn.example.com",
			Decoder: "raw",
		}},
	}
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	calls := &atomic.Int32{}
	err = registry.Bootstrap(cfg, server.Dependencies{
		Store: store,
		Transport: func(*server.OriginRoute) (fetch.Transport, error) {
			return fetch.TransportFunc(func(ctx context.Context, path string) ([]byte, int, error) {
				calls.Add(1)
				return []byte("payload:" + path), http.StatusOK, nil
			}), nil
		},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	t.Cleanup(registry.Close)

	app, err := server.NewApp(server.AppOptions{
		Logger:   logging.NewDiscardLogger(),
		Registry: registry,
		Proxy: server.ProxyHandlerFunc(func(c fiber.Ctx, _ *server.OriginRoute) error {
			return c.SendStatus(fiber.StatusNoContent)
		}),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	RegisterOriginRoutes(app, registry)
	RegisterCacheRoutes(app, registry)
	RegisterStubRoutes(app, registry)

	return &fixture{app: app, registry: registry, store: store, calls: calls}
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, "http://admin.local"+target, bytes.NewReader(body))
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	payload := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &payload)
	}
	return resp, payload
}

func (f *fixture) fetch(t *testing.T, path string) {
	t.Helper()
	route, _ := f.registry.LookupName("cdn")
	done := make(chan error, 1)
	route.Coordinator.Fetch(path, "", func(_ *decoder.Asset, err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch timed out")
	}
}

func TestOriginsRouteListsOrigins(t *testing.T) {
	f := newFixture(t)
	resp, payload := f.do(t, http.MethodGet, "/-/origins", nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	origins, ok := payload["origins"].([]any)
	if !ok || len(origins) != 1 {
		t.Fatalf("expected one origin, got %v", payload["origins"])
	}
	first := origins[0].(map[string]any)
	if first["name"] != "cdn" || first["decoder"] != "raw" {
		t.Fatalf("unexpected origin payload: %v", first)
	}
	if _, ok := first["stats"]; !ok {
		t.Fatalf("stats should be present after bootstrap")
	}
	decoders, _ := payload["decoders"].([]any)
	if len(decoders) < 2 {
		t.Fatalf("expected registered decoders, got %v", payload["decoders"])
	}
}

func TestCacheRouteReportsMissThenHit(t *testing.T) {
	f := newFixture(t)

	resp, payload := f.do(t, http.MethodGet, "/-/cache/cdn?path=a/b.bin", nil)
	if resp.StatusCode != fiber.StatusNotFound || payload["hit"] != false {
		t.Fatalf("expected miss, got %d %v", resp.StatusCode, payload)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("cache-only lookup must not touch the network")
	}

	f.fetch(t, "a/b.bin")

	resp, payload = f.do(t, http.MethodGet, "/-/cache/cdn?path=a/b.bin", nil)
	if resp.StatusCode != fiber.StatusOK || payload["hit"] != true {
		t.Fatalf("expected hit, got %d %v", resp.StatusCode, payload)
	}
	if payload["key"] != "a/b.bin" {
		t.Fatalf("unexpected key %v", payload["key"])
	}
}

func TestCacheDeleteInvalidatesBothTiers(t *testing.T) {
	f := newFixture(t)
	f.fetch(t, "x.bin")

	resp, _ := f.do(t, http.MethodDelete, "/-/cache/cdn?path=x.bin", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	route, _ := f.registry.LookupName("cdn")
	if f.store.Exists(context.Background(), route.Coordinator.ResolvedLocation("x.bin", "")) {
		t.Fatalf("disk entry should be removed")
	}
	resp, _ = f.do(t, http.MethodGet, "/-/cache/cdn?path=x.bin", nil)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("memory entry should be removed, got %d", resp.StatusCode)
	}
}

func TestCacheRoutesValidateTarget(t *testing.T) {
	f := newFixture(t)
	resp, payload := f.do(t, http.MethodGet, "/-/cache/unknown?path=a", nil)
	if resp.StatusCode != fiber.StatusNotFound || payload["error"] != "origin_not_found" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, payload)
	}
	resp, payload = f.do(t, http.MethodPost, "/-/cancel/cdn", nil)
	if resp.StatusCode != fiber.StatusBadRequest || payload["error"] != "path_required" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, payload)
	}
	resp, _ = f.do(t, http.MethodPost, "/-/cancel/cdn?path=nothing", nil)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("cancel without transfer should still be accepted, got %d", resp.StatusCode)
	}
}

func TestStubRoutesRegisterAndClear(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/-/stub/cdn?path=s.bin", []byte("stubbed"))
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	route, _ := f.registry.LookupName("cdn")
	if route.Coordinator.Stats().Stubs != 1 {
		t.Fatalf("stub should be registered")
	}

	resp, payload := f.do(t, http.MethodGet, "/-/cache/cdn?path=s.bin", nil)
	if resp.StatusCode != fiber.StatusOK || payload["size"] != float64(len("stubbed")) {
		t.Fatalf("stub should answer cache lookups: %d %v", resp.StatusCode, payload)
	}

	resp, payload = f.do(t, http.MethodPost, "/-/stub/cdn?path=s.bin&status=abc", nil)
	if resp.StatusCode != fiber.StatusBadRequest || payload["error"] != "invalid_status" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, payload)
	}

	resp, _ = f.do(t, http.MethodDelete, "/-/stub/cdn", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if route.Coordinator.Stats().Stubs != 0 {
		t.Fatalf("stubs should be cleared")
	}
}

func TestStubSurvivesLaterRequests(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/-/stub/cdn?path=aaaaaaaa&status=401", nil)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	for i := 0; i < 50; i++ {
		f.do(t, http.MethodGet, "/-/cache/cdn?path=zzzzzzzz", nil)
	}

	route, _ := f.registry.LookupName("cdn")
	done := make(chan error, 1)
	route.Coordinator.Fetch("aaaaaaaa", "", func(_ *decoder.Asset, err error) { done <- err })
	select {
	case err := <-done:
		if fetch.Code(err) != http.StatusUnauthorized {
			t.Fatalf("expected stubbed 401, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("fetch timed out")
	}
	if f.calls.Load() != 0 {
		t.Fatalf("stubbed path must not reach the network")
	}

	f.fetch(t, "zzzzzzzz")
	if f.calls.Load() != 1 {
		t.Fatalf("unstubbed path should hit the network once, got %d", f.calls.Load())
	}
}

func TestStubDeleteRemovesSingleEntry(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/-/stub/cdn?path=keep.bin", []byte("k"))
	f.do(t, http.MethodPost, "/-/stub/cdn?path=drop.bin", []byte("d"))

	resp, _ := f.do(t, http.MethodDelete, "/-/stub/cdn?path=drop.bin", nil)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	for i := 0; i < 10; i++ {
		f.do(t, http.MethodGet, "/-/cache/cdn?path=other.bin", nil)
	}
	resp, payload := f.do(t, http.MethodGet, "/-/cache/cdn?path=keep.bin", nil)
	if resp.StatusCode != fiber.StatusOK || payload["size"] != float64(1) {
		t.Fatalf("remaining stub should still resolve: %d %v", resp.StatusCode, payload)
	}
	route, _ := f.registry.LookupName("cdn")
	if route.Coordinator.Stats().Stubs != 1 {
		t.Fatalf("expected one stub left, got %d", route.Coordinator.Stats().Stubs)
	}
}

func TestMetricsRouteServesHandler(t *testing.T) {
	app := fiber.New()
	RegisterMetricsRoute(app, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("any_asset_lookups_total 1\n"))
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/-/metrics", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.Contains(body, []byte("any_asset_lookups_total")) {
		t.Fatalf("unexpected metrics response %d %s", resp.StatusCode, body)
	}
}
