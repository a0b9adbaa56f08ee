// Package httpclient meshd 管理 API 的客户端
//
// 请求经过 retry.Executor：只重试网络错误与不带业务错误码的 5xx（网关、代理返回的错误）。
// 带错误码的响应转换为 *APIError，可以用 errors.Is 与 errcode 里的错误比较。
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/KOMKZ/go-yogan-mesh/logger"
	"github.com/KOMKZ/go-yogan-mesh/retry"
)

// 响应体读取上限
const maxBodySize = 4 << 20

// TraceIDHeader 与服务端中间件使用的 Header 一致
const TraceIDHeader = "X-Trace-ID"

// Client 管理 API 客户端，并发安全
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	retry   *retry.Executor
}

type options struct {
	timeout   time.Duration
	transport http.RoundTripper
	headers   map[string]string
	retry     retry.Config
	logger    *logger.CtxZapLogger
}

// Option 客户端选项
type Option func(*options)

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport 自定义 RoundTripper（测试里注入 httptest 的 Transport）
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithHeader 每个请求都带上的 Header
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers[key] = value }
}

// WithToken Bearer Token（服务端开启 JWT 时需要）
func WithToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithRetry 重试策略，MaxAttempts 为 1 表示不重试
func WithRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = cfg }
}

// WithLogger 重试日志
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *options) { o.logger = l }
}

// DefaultRetryConfig 客户端默认的重试策略
func DefaultRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:   3,
		Strategy:      retry.StrategyExponential,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}
}

// NewClient baseURL 形如 http://127.0.0.1:8500
func NewClient(baseURL string, opts ...Option) *Client {
	o := options{
		timeout: 10 * time.Second,
		headers: make(map[string]string),
		retry:   DefaultRetryConfig(),
		logger:  logger.GetLogger("httpclient"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	transport := o.transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: o.timeout, Transport: transport},
		headers: o.headers,
		retry: retry.NewExecutor(o.retry,
			retry.WithLogger(o.logger),
			retry.WithCondition(retry.RetryOn(retryable)),
		),
	}
}

// BaseURL 服务端地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// retryable 网络错误与没有业务错误码的 5xx
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 0 && apiErr.StatusCode >= http.StatusInternalServerError
	}
	var te *transportError
	return errors.As(err, &te)
}

// transportError 请求没有拿到响应
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// envelope 服务端统一响应格式
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do 发送请求并把 data 解码到 out（out 为 nil 时忽略）
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	return c.retry.Execute(ctx, func(ctx context.Context) error {
		raw, status, err := c.send(ctx, method, path, query, payload)
		if err != nil {
			return err
		}
		return decodeEnvelope(raw, status, out)
	})
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, int, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if traceID := logger.TraceIDFromContext(ctx, ""); traceID != "" {
		req.Header.Set(TraceIDHeader, traceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &transportError{err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, &transportError{err: fmt.Errorf("read response: %w", err)}
	}
	return raw, resp.StatusCode, nil
}

func decodeEnvelope(raw []byte, status int, out any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// 不是 API 的响应（代理错误页等）
		return &APIError{StatusCode: status, Msg: strings.TrimSpace(string(raw))}
	}
	if env.Code != 0 || status >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: status, Code: env.Code, Msg: env.Msg}
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &apiErr.Data)
		}
		return apiErr
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
