// Package arcade talks to the Arcade tool platform: the tool catalog, tool execution,
// and the per-user authorization handshake tools need before acting on a user's behalf.
package arcade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.arcade.dev"

	// 服务端单次长轮询等待上限
	maxStatusWait = 59 * time.Second

	listPageSize = 100
)

// Client 是 Arcade REST API 的轻量客户端
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	statusWait   time.Duration
	pollInterval time.Duration
	logger       zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout 设置单次 HTTP 请求超时，需大于 status wait
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithStatusWait 设置查询授权状态时服务端长轮询的等待时长
func WithStatusWait(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.statusWait = d
		}
	}
}

// WithPollInterval 设置两次状态查询之间的最小间隔
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("arcade api key is required")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 90 * time.Second},
		statusWait:   30 * time.Second,
		pollInterval: time.Second,
		logger:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.statusWait > maxStatusWait {
		c.statusWait = maxStatusWait
	}
	return c, nil
}

// ListTools 分页拉取某个 toolkit 下的全部工具定义
func (c *Client) ListTools(ctx context.Context, toolkit string) ([]ToolDefinition, error) {
	var out []ToolDefinition
	offset := 0
	for {
		q := url.Values{}
		if toolkit != "" {
			q.Set("toolkit", toolkit)
		}
		q.Set("limit", strconv.Itoa(listPageSize))
		q.Set("offset", strconv.Itoa(offset))

		var page listToolsResponse
		if err := c.do(ctx, http.MethodGet, "/v1/tools", q, nil, &page); err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		out = append(out, page.Items...)
		offset += len(page.Items)
		if len(page.Items) == 0 || offset >= page.TotalCount {
			return out, nil
		}
	}
}

// Authorize 为 (tool, user) 发起授权；已授权时直接返回 completed
func (c *Client) Authorize(ctx context.Context, toolName, userID string) (*AuthorizationResponse, error) {
	if userID == "" {
		return nil, errors.New("user id is required for authorization")
	}
	var out AuthorizationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/tools/authorize", nil, authorizeRequest{ToolName: toolName, UserID: userID}, &out); err != nil {
		return nil, fmt.Errorf("authorize %s: %w", toolName, err)
	}
	return &out, nil
}

// AuthStatus 查询授权状态；wait>0 时服务端最多挂起 wait 后返回
func (c *Client) AuthStatus(ctx context.Context, id string, wait time.Duration) (*AuthorizationResponse, error) {
	q := url.Values{}
	q.Set("id", id)
	if secs := int(wait / time.Second); secs > 0 {
		q.Set("wait", strconv.Itoa(secs))
	}
	var out AuthorizationResponse
	if err := c.do(ctx, http.MethodGet, "/v1/auth/status", q, nil, &out); err != nil {
		return nil, fmt.Errorf("auth status %s: %w", id, err)
	}
	return &out, nil
}

// WaitForAuth 阻塞直到授权进入终态或 ctx 结束
func (c *Client) WaitForAuth(ctx context.Context, id string) (*AuthorizationResponse, error) {
	limiter := rate.NewLimiter(rate.Every(c.pollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			// 下一次查询会越过 deadline，此时只剩等待 ctx 结束
			<-ctx.Done()
			return nil, ctx.Err()
		}
		resp, err := c.AuthStatus(ctx, id, c.statusWait)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if resp.Status.Terminal() {
			return resp, nil
		}
		c.logger.Debug().Str("auth_id", id).Str("status", string(resp.Status)).Msg("authorization still pending")
	}
}

// Execute 以 userID 身份执行工具
func (c *Client) Execute(ctx context.Context, toolName, userID string, input map[string]any) (*ExecuteResponse, error) {
	var out ExecuteResponse
	req := executeRequest{ToolName: toolName, Input: input, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/v1/tools/execute", nil, req, &out); err != nil {
		return nil, fmt.Errorf("execute %s: %w", toolName, err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("arcade request")

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Message != "":
			msg = payload.Message
		case payload.Error != "":
			msg = payload.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
