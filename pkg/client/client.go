// Package client is a Go client for the metricon messenger HTTP API.
//
//	// Set METRICON_SERVER_ADDR and METRICON_API_KEY, then:
//	c := client.New()
//
//	res, err := c.StartSession(ctx, "shop-1")
//	if err != nil {
//	    return err
//	}
//	if res.BootstrapToken != nil {
//	    fmt.Println("scan:", *res.BootstrapToken)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultServerAddr is used when neither WithServerAddr nor
// METRICON_SERVER_ADDR is set.
const DefaultServerAddr = "http://127.0.0.1:8080"

// Client calls the session API of a metricon messenger server.
type Client struct {
	serverAddr string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client. It reads METRICON_SERVER_ADDR, METRICON_API_KEY and
// METRICON_TIMEOUT; options override them.
func New(opts ...Option) *Client {
	c := &Client{
		serverAddr: envOrDefault("METRICON_SERVER_ADDR", DefaultServerAddr),
		apiKey:     os.Getenv("METRICON_API_KEY"),
		timeout:    parseDurationEnv("METRICON_TIMEOUT", 30*time.Second),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// StartSession starts or joins tenant's session and waits for the server
// to report connected, a pairing token, or its start timeout.
func (c *Client) StartSession(ctx context.Context, tenant string) (*StartResult, error) {
	var res StartResult
	if err := c.do(ctx, http.MethodPost, sessionPath(tenant, "start"), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Status returns tenant's session state.
func (c *Client) Status(ctx context.Context, tenant string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, sessionPath(tenant, ""), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// BootstrapToken returns the pending pairing token, or "" and false when
// there is none.
func (c *Client) BootstrapToken(ctx context.Context, tenant string) (string, bool, error) {
	var res struct {
		BootstrapToken *string `json:"bootstrap_token"`
	}
	if err := c.do(ctx, http.MethodGet, sessionPath(tenant, "bootstrap-token"), nil, &res); err != nil {
		return "", false, err
	}
	if res.BootstrapToken == nil {
		return "", false, nil
	}
	return *res.BootstrapToken, true, nil
}

// SendMessage sends body to the address to from tenant. It reports false
// when the tenant could not be connected or the network refused delivery.
func (c *Client) SendMessage(ctx context.Context, tenant, to, body string) (bool, error) {
	var res struct {
		Sent bool `json:"sent"`
	}
	req := Message{To: to, Body: body}
	if err := c.do(ctx, http.MethodPost, sessionPath(tenant, "messages"), req, &res); err != nil {
		return false, err
	}
	return res.Sent, nil
}

// SendBatch sends messages in order, waiting interval between them, and
// returns one result per message.
func (c *Client) SendBatch(ctx context.Context, tenant string, messages []Message, interval time.Duration) ([]bool, error) {
	req := struct {
		Messages   []Message `json:"messages"`
		IntervalMS int64     `json:"interval_ms"`
	}{Messages: messages, IntervalMS: interval.Milliseconds()}
	var res struct {
		Results []bool `json:"results"`
	}
	// The server paces the batch, so the request may outlive the default
	// timeout.
	timeout := c.timeout + time.Duration(len(messages))*(interval+c.timeout)
	if err := c.doWithTimeout(ctx, timeout, http.MethodPost, sessionPath(tenant, "messages/batch"), req, &res); err != nil {
		return nil, err
	}
	return res.Results, nil
}

// Disconnect logs tenant out and removes its stored credentials.
func (c *Client) Disconnect(ctx context.Context, tenant string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(tenant, ""), nil, nil)
}

// ListSessions returns every session the server knows, live or dormant.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var res struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions", nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

func sessionPath(tenant, suffix string) string {
	p := "/api/v1/sessions/" + url.PathEscape(tenant)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	return c.doWithTimeout(ctx, c.timeout, method, path, body, result)
}

func (c *Client) doWithTimeout(ctx context.Context, timeout time.Duration, method, path string, body, result any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return newAPIError(httpResp.StatusCode, respBody)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	u := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// parseDurationEnv accepts whole seconds or a Go duration string.
func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
