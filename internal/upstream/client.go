package upstream

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-asset/internal/config"
	"github.com/any-hub/any-asset/internal/logging"
	"github.com/any-hub/any-asset/internal/version"
)

// ErrTooLarge 表示上游响应体超过 MaxAssetSize。
var ErrTooLarge = errors.New("upstream body exceeds size limit")

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client，用于所有上游请求。
func NewHTTPClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// Options 描述单个源站客户端的行为。
type Options struct {
	Origin config.OriginConfig
	// MaxBytes 为 0 时不限制响应体大小。
	MaxBytes       int64
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *logrus.Logger
}

// Client 绑定一个源站 BaseURL，实现 fetch.Transport。
type Client struct {
	name       string
	base       *url.URL
	authHeader string
	http       *http.Client
	maxBytes   int64
	maxRetries int
	backoff    time.Duration
	logger     *logrus.Logger
}

// New 基于共享 http.Client 创建源站客户端；配置了 Proxy 时克隆 Transport 单独使用。
func New(httpClient *http.Client, opts Options) (*Client, error) {
	if httpClient == nil {
		httpClient = NewHTTPClient(nil)
	}
	base, err := url.Parse(opts.Origin.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url for origin %s: %w", opts.Origin.Name, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url for origin %s: %s", opts.Origin.Name, opts.Origin.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
		if base.RawPath != "" {
			base.RawPath += "/"
		}
	}

	client := httpClient
	if opts.Origin.Proxy != "" {
		proxyURL, err := url.Parse(opts.Origin.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for origin %s: %w", opts.Origin.Name, err)
		}
		transport := http.Transport{}
		if t, ok := httpClient.Transport.(*http.Transport); ok && t != nil {
			transport = *t.Clone()
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		cloned := *httpClient
		cloned.Transport = &transport
		client = &cloned
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &Client{
		name:       opts.Origin.Name,
		base:       base,
		authHeader: buildCredentialHeader(opts.Origin.Username, opts.Origin.Password),
		http:       client,
		maxBytes:   opts.MaxBytes,
		maxRetries: opts.MaxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// Resolve 将相对资源路径解析为完整上游 URL，绝对 URL 原样返回。
func (c *Client) Resolve(resourcePath string) (*url.URL, error) {
	ref, err := url.Parse(resourcePath)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	ref.Path = strings.TrimLeft(ref.Path, "/")
	ref.RawPath = strings.TrimLeft(ref.RawPath, "/")
	return c.base.ResolveReference(ref), nil
}

// Fetch 下载资源并返回响应体与状态码。非 2xx 状态不视为错误，由调用方处理；
// 网络错误、5xx 与 429 会按指数退避重试。
func (c *Client) Fetch(ctx context.Context, resourcePath string) ([]byte, int, error) {
	target, err := c.Resolve(resourcePath)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %q: %w", resourcePath, err)
	}

	var (
		body   []byte
		status int
	)
	for attempt := 0; ; attempt++ {
		body, status, err = c.do(ctx, target)
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		if attempt >= c.maxRetries || !shouldRetry(status, err) {
			return body, status, err
		}

		wait := c.backoff << attempt
		fields := logrus.Fields{
			"action":   "upstream_fetch",
			"origin":   c.name,
			"upstream": target.String(),
			"attempt":  attempt + 1,
			"wait_ms":  wait.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["upstream_status"] = status
		}
		c.logger.WithFields(fields).Warn("upstream_retry")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, 0, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, target *url.URL) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, resp.StatusCode, fmt.Errorf("%w: %d bytes", ErrTooLarge, c.maxBytes)
	}
	return data, resp.StatusCode, nil
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		return !errors.Is(err, ErrTooLarge)
	}
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
