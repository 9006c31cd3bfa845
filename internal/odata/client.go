// Package odata is the HTTP transport to a D365 F&O environment's
// OData/REST surface. The core consumes the Client interface; the HTTP
// implementation here handles auth injection, retries, and deadlines.
package odata

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dynamicsmcp/fomcp/internal/auth"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// Client is the transport the core consumes. Implementations return the raw
// response body on success and a structured *types.Error on failure.
type Client interface {
	// Get issues a GET against path (relative to the data root) with the
	// given query parameters.
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
	// Post issues a POST with a JSON body.
	Post(ctx context.Context, path string, body any) ([]byte, error)
	// CallAction invokes an OData action. An empty entitySet calls the
	// action unbound. Actions are never retried: they may not be idempotent.
	CallAction(ctx context.Context, entitySet, actionName string, params any) ([]byte, error)
	// BaseURL returns the canonical environment base URL the client is
	// bound to.
	BaseURL() string
}

// Retry policy for idempotent requests.
const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 5
)

// HTTPClient implements Client over net/http with bearer auth.
type HTTPClient struct {
	baseURL string
	hc      *http.Client
	tokens  auth.TokenProvider
	scope   string
}

// Options configures an HTTPClient.
type Options struct {
	// TimeoutSeconds is the per-request deadline. Zero means 60.
	TimeoutSeconds int
	// InsecureSkipVerify disables TLS verification.
	InsecureSkipVerify bool
}

// NewHTTPClient builds a client bound to one environment.
func NewHTTPClient(baseURL string, tokens auth.TokenProvider, opts Options) *HTTPClient {
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 - explicit opt-in via verify_ssl=false
	}
	base := types.CanonicalBaseURL(baseURL)
	return &HTTPClient{
		baseURL: base,
		hc:      &http.Client{Timeout: timeout, Transport: transport},
		tokens:  tokens,
		scope:   auth.ScopeFor(base),
	}
}

// BaseURL implements Client.
func (c *HTTPClient) BaseURL() string { return c.baseURL }

// dataURL joins a path under the environment's OData data root. Absolute
// URLs (nextLink continuations) pass through untouched.
func (c *HTTPClient) dataURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/data/" + strings.TrimLeft(path, "/")
}

// Get implements Client. Transport failures and retryable statuses are
// retried with exponential backoff; auth refusals are not.
func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.dataURL(path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body []byte
	op := func() error {
		b, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil {
			if !types.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}
	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// Post implements Client. POSTs are not retried.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, c.dataURL(path), body)
}

// CallAction implements Client. The OData action URL form is
// <entitySet>/Microsoft.Dynamics.DataEntities.<action> for bound actions
// and the bare action name for unbound ones. Never retried.
func (c *HTTPClient) CallAction(ctx context.Context, entitySet, actionName string, params any) ([]byte, error) {
	var path string
	if entitySet == "" {
		path = actionName
	} else {
		path = entitySet + "/Microsoft.Dynamics.DataEntities." + actionName
	}
	if params == nil {
		params = map[string]any{}
	}
	return c.do(ctx, http.MethodPost, c.dataURL(path), params)
}

func (c *HTTPClient) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.RandomizationFactor = 0.2
	return backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts-1), ctx)
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, types.WrapError(types.ErrParse, err, "encode request body")
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, types.WrapError(types.ErrTransport, err, "build request %s %s", method, rawURL)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tok, err := c.tokens.GetToken(ctx, c.scope)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)

	debug.Logf("odata: %s %s", method, rawURL)
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.WrapError(types.ErrCancelled, err, "%s %s cancelled", method, rawURL)
		}
		return nil, types.WrapError(types.ErrTransport, err, "%s %s", method, rawURL)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapError(types.ErrTransport, err, "read response %s %s", method, rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, method, req.URL.Path, payload)
	}
	return payload, nil
}

// Envelope is the standard OData collection response shape.
type Envelope struct {
	Context  string          `json:"@odata.context,omitempty"`
	Value    json.RawMessage `json:"value"`
	NextLink string          `json:"@odata.nextLink,omitempty"`
}

// ValueResponse is the shape of a scalar action result.
type ValueResponse struct {
	Value json.RawMessage `json:"value"`
}

// DecodeEnvelope parses an OData collection payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, types.WrapError(types.ErrParse, err, "decode OData envelope")
	}
	return &env, nil
}

// DecodeStringCollection parses an action result whose value is a string
// array, tolerating both the enveloped and the bare-array shape.
func DecodeStringCollection(payload []byte) ([]string, error) {
	var env struct {
		Value []string `json:"value"`
	}
	if err := json.Unmarshal(payload, &env); err == nil && env.Value != nil {
		return env.Value, nil
	}
	var bare []string
	if err := json.Unmarshal(payload, &bare); err == nil {
		return bare, nil
	}
	return nil, types.NewError(types.ErrParse, "payload is not a string collection: %s", truncate(payload, 120))
}

// DecodeStringValue parses an action result whose value is one string.
func DecodeStringValue(payload []byte) (string, error) {
	var env struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(payload, &env); err == nil && env.Value != "" {
		return env.Value, nil
	}
	var bare string
	if err := json.Unmarshal(payload, &bare); err == nil {
		return bare, nil
	}
	return "", types.NewError(types.ErrParse, "payload is not a string value: %s", truncate(payload, 120))
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

var _ Client = (*HTTPClient)(nil)
