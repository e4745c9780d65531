package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Events streams inbound messages until ctx ends or the server closes the
// stream. With a non-empty tenant only that tenant's messages are
// delivered. fn runs on the calling goroutine; the server holds further
// messages while it runs.
func (c *Client) Events(ctx context.Context, tenant string, fn func(InboundMessage)) error {
	path := "/api/v1/events"
	if tenant != "" {
		path += "?tenant=" + url.QueryEscape(tenant)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ServerUnreachableError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, body)
	}

	err = readEvents(resp.Body, func(event, data string) {
		if event != "message" {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			c.logger.Warn("skipping malformed event", "error", err)
			return
		}
		fn(msg)
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// readEvents parses a text/event-stream body, calling fn once per
// dispatched event. Comment lines and id fields are ignored.
func readEvents(r io.Reader, fn func(event, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8<<20)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if event == "" {
					event = "message"
				}
				fn(event, strings.Join(data, "\n"))
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				event = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return scanner.Err()
}
