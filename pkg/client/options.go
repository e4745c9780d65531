package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithServerAddr sets the server base URL, e.g. "http://127.0.0.1:8080".
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithAPIKey sets the bearer key sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds each request. StartSession should be given more than
// the server's start timeout. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom http.Client. Its own Timeout, if set, also
// ends event streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger used for stream diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}
