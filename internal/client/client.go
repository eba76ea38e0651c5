package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Client is a HTTP client
type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	// Header is added to every request
	Header http.Header
}

// NewRequest creates a HTTP request
func (c *Client) NewRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {

	p, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := c.BaseURL.ResolveReference(p)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// Do makes a HTTP request
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

// IsSuccess reports whether a status code is 2xx
func IsSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// Marshal encodes v as JSON without HTML escaping
func Marshal(v interface{}) ([]byte, error) {
	return encode(v, "")
}

// MarshalIndent is Marshal with two-space indentation
func MarshalIndent(v interface{}) ([]byte, error) {
	return encode(v, "  ")
}

func encode(v interface{}, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WithinDeadline bounds a call to timeout, shortened so that it ends at least
// margin before any deadline already on ctx.
func WithinDeadline(ctx context.Context, timeout, margin time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl) - margin; left < timeout {
			timeout = left
		}
	}
	return context.WithTimeout(ctx, timeout)
}
