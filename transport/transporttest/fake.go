// Package transporttest provides a recording transport.Client for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/ridoystarlord/dbdocsync/transport"
)

// Call is one request seen by a Fake.
type Call struct {
	Method string
	Path   string
	Body   any
}

// HandlerFunc answers a request made to a Fake.
type HandlerFunc func(method, path string, body any) (transport.Response, error)

// Fake records every call and answers through Handler. A nil Handler
// answers with an empty object.
type Fake struct {
	mu        sync.Mutex
	connected bool
	calls     []Call
	Handler   HandlerFunc
}

// New returns a connected Fake.
func New(h HandlerFunc) *Fake {
	return &Fake{connected: true, Handler: h}
}

func (f *Fake) SetConnected(c bool) {
	f.mu.Lock()
	f.connected = c
	f.mu.Unlock()
}

func (f *Fake) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *Fake) Post(_ context.Context, path string, body any) (transport.Response, error) {
	return f.do(http.MethodPost, path, body)
}

func (f *Fake) Put(_ context.Context, path string, body any) (transport.Response, error) {
	return f.do(http.MethodPut, path, body)
}

func (f *Fake) Delete(_ context.Context, path string) (transport.Response, error) {
	return f.do(http.MethodDelete, path, nil)
}

func (f *Fake) do(method, path string, body any) (transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Path: path, Body: body})
	h := f.Handler
	f.mu.Unlock()

	if h == nil {
		return transport.Response{}, nil
	}
	return h(method, path, body)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo counts calls to path.
func (f *Fake) CallsTo(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Path == path {
			n++
		}
	}
	return n
}

// Reset forgets recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// Items returns the rows of a batch body sent under key.
func Items(body any, key string) []map[string]any {
	m, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	items, _ := m[key].([]map[string]any)
	return items
}

// BatchResults builds the remote's batch answer for the rows of body under
// key. remote maps a local id to its remote id; ok=false reports failure
// for that row.
func BatchResults(body any, key string, remote func(localID int64) (int64, bool)) transport.Response {
	var results []any
	for _, item := range Items(body, key) {
		local, _ := item["local_id"].(int64)
		id, ok := remote(local)
		entry := map[string]any{"success": ok, "local_id": Number(local)}
		if ok {
			entry["remote_id"] = Number(id)
		}
		results = append(results, entry)
	}
	return transport.Response{"results": results}
}

// Number renders n the way transport.HTTPClient decodes JSON numbers.
func Number(n int64) json.Number {
	return json.Number(strconv.FormatInt(n, 10))
}
