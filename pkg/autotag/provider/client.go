package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const maxResponseBytes = 8 << 20

// client posts JSON to a provider endpoint and maps failures onto Codes.
type client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	httpc   *http.Client
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (c *client) httpClient() *http.Client {
	if c.httpc != nil {
		return c.httpc
	}
	timeout := c.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends payload and decodes the response into out.
func (c *client) postJSON(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Code: CodeParse, Message: "encode request", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return &Error{Code: CodeNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return transportError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}

	// A 2xx with an error body is the service refusing the request, not a
	// transport failure; retrying would get the same answer.
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != nil {
		return &Error{Code: CodeRequest, Message: eb.Error.Message}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Code: CodeParse, Message: "decode response", Err: err}
	}
	return nil
}

func transportError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Code: CodeNetwork, Message: "request failed", Err: err}
}

func statusError(status int, body []byte) *Error {
	msg := fmt.Sprintf("status %d", status)
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != nil && eb.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, eb.Error.Message)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Code: CodeAuth, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{Code: CodeRateLimit, Message: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Code: CodeTimeout, Message: msg}
	case status >= 500:
		return &Error{Code: CodeNetwork, Message: msg}
	case status >= 400:
		return &Error{Code: CodeRequest, Message: msg}
	default:
		return &Error{Code: CodeParse, Message: msg}
	}
}
