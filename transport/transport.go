// Package transport talks JSON to the remote documentation API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ridoystarlord/dbdocsync/session"
)

// Response is a decoded JSON object body. Empty bodies decode to an empty map.
type Response map[string]any

// Client performs authenticated calls against the remote API. Any non-2xx
// status or network failure is returned as an error.
type Client interface {
	Post(ctx context.Context, path string, body any) (Response, error)
	Put(ctx context.Context, path string, body any) (Response, error)
	Delete(ctx context.Context, path string) (Response, error)
	IsConnected() bool
}

// StatusError is a non-2xx answer from the remote.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: remote answered %d: %s", e.Method, e.Path, e.Code, body)
}

// HTTPClient is the net/http Client.
type HTTPClient struct {
	sess session.Credentialed
	http *http.Client
}

// NewHTTPClient builds a client whose base URL and tenant come from sess.
func NewHTTPClient(sess session.Credentialed, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{sess: sess, http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) IsConnected() bool {
	return c.sess.IsConnected()
}

func (c *HTTPClient) Post(ctx context.Context, path string, body any) (Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) Put(ctx context.Context, path string, body any) (Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *HTTPClient) Delete(ctx context.Context, path string) (Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (Response, error) {
	token, err := c.sess.Token()
	if err != nil {
		return nil, err
	}
	id := c.sess.CurrentTenant()

	var reader io.Reader
	if body != nil {
		raw, err := encodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("%s %s: encode body: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, id.BaseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if id.Tenant != "" {
		req.Header.Set("X-Tenant", id.Tenant)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(raw)}
	}

	out := Response{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return out, nil
}

// encodeBody passes json.RawMessage and []byte through untouched.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case json.RawMessage:
		if len(b) == 0 {
			return []byte("{}"), nil
		}
		return b, nil
	case []byte:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
