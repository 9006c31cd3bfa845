// Package odatatest provides a scriptable fake OData client for tests.
package odatatest

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/dynamicsmcp/fomcp/internal/odata"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Call records one request the fake served.
type Call struct {
	Method    string
	Path      string
	EntitySet string
	Action    string
	Params    any
}

// FakeClient serves canned responses keyed by path or action name.
// Safe for concurrent use; every request is recorded.
type FakeClient struct {
	Base string

	mu    sync.Mutex
	calls []Call

	// Responses maps a path prefix (for Get/Post) or action name (for
	// CallAction) to the payload returned.
	Responses map[string][]byte
	// Errors maps the same keys to forced failures, taking precedence.
	Errors map[string]error
	// OnRequest, when set, runs before each request is served. Used to
	// block or count in-flight requests.
	OnRequest func(c Call)
}

// New builds a fake bound to the given base URL.
func New(base string) *FakeClient {
	return &FakeClient{
		Base:      types.CanonicalBaseURL(base),
		Responses: make(map[string][]byte),
		Errors:    make(map[string]error),
	}
}

// BaseURL implements odata.Client.
func (f *FakeClient) BaseURL() string { return f.Base }

// Get implements odata.Client.
func (f *FakeClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return f.serve(ctx, Call{Method: "GET", Path: path})
}

// Post implements odata.Client.
func (f *FakeClient) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return f.serve(ctx, Call{Method: "POST", Path: path, Params: body})
}

// CallAction implements odata.Client.
func (f *FakeClient) CallAction(ctx context.Context, entitySet, actionName string, params any) ([]byte, error) {
	return f.serve(ctx, Call{Method: "ACTION", EntitySet: entitySet, Action: actionName, Params: params})
}

func (f *FakeClient) serve(ctx context.Context, c Call) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.WrapError(types.ErrCancelled, err, "request cancelled")
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.OnRequest
	f.mu.Unlock()
	if hook != nil {
		hook(c)
	}

	key := c.Action
	if key == "" {
		key = c.Path
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Errors[key]; ok {
		return nil, err
	}
	if resp, ok := f.Responses[key]; ok {
		return resp, nil
	}
	// Prefix match lets tests register one response for a family of paths.
	for k, resp := range f.Responses {
		if k != "" && strings.HasPrefix(key, k) {
			return resp, nil
		}
	}
	return nil, types.NewError(types.ErrNotFound, "fake has no response for %q", key)
}

// Calls returns a snapshot of every recorded request.
func (f *FakeClient) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount counts recorded requests whose action or path matches key.
func (f *FakeClient) CallCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Action == key || strings.HasPrefix(c.Path, key) {
			n++
		}
	}
	return n
}

// Reset clears the recorded calls but keeps the scripted responses.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

var _ odata.Client = (*FakeClient)(nil)
