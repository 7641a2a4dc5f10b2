// Package httpclient implements the structured HTTP client shared by the
// worker multiplexer (interest notifications) and the service (client-id
// bootstrap): a before/after middleware chain, an envelope-vs-raw error
// classification, and in-flight GET coalescing.
package httpclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/knightuniverse/mqtt-service/internal/clock"
	"github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/mqtterrors"
)

const (
	reservedHeaderAccessToken = "access-token"
	reservedHeaderTerminal    = "terminal"
	reservedHeaderToken       = "token"

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 50 * time.Second

	// CoalesceWindow is how fresh a cached in-flight GET must be to be
	// reused, like an elevator door holding for the next passenger.
	CoalesceWindow = 500 * time.Millisecond
)

// Terminal classifies the caller's user-agent for the injected "terminal"
// header.
type Terminal string

const (
	TerminalApp Terminal = "APP"
	TerminalWeb Terminal = "WEB"
)

// Credentials supplies the per-request token/terminal/language values the
// client injects into every outbound request. Guest returns true when no
// authenticated session exists, in which case every method is a no-op
// (mqtterrors.GuestError).
type Credentials interface {
	Guest(ctx context.Context) bool
	Token(ctx context.Context) (string, error)
	AccessToken(ctx context.Context) (string, error)
	Terminal(ctx context.Context) Terminal
	Language(ctx context.Context) (string, bool)
}

// Envelope is the API response shape {code, data, desc} the client
// classifies every response into, whether it arrived that way from the
// server or was synthesized from a raw HTTP failure.
type Envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data,omitempty"`
	Desc string          `json:"desc,omitempty"`
}

// Success reports whether the envelope represents a successful call.
func (e *Envelope) Success() bool { return e != nil && e.Code == 200 }

// Options configures a single request.
type Options struct {
	// APIChange rewrites the path to /api/{prefix}{url}. Defaults to
	// "building".
	APIChange string
	// Headers are extra headers; the reserved names (access-token,
	// terminal, token) are dropped if present.
	Headers map[string]string
	// HideTimes suppresses the cache-buster _r=<random> query parameter.
	HideTimes bool
	// IsCatch, if true or unset, resolves non-success responses as the
	// failure envelope rather than returning a Go error.
	IsCatch *bool
	// Timeout overrides DefaultTimeout. Zero means use the default.
	Timeout time.Duration
	// UsingFormData/UsingBlob are carried on Options but not read by the
	// client: non-GET bodies are always the JSON-encoded params, and no
	// form or blob body is ever sent.
	UsingFormData bool
	UsingBlob     []byte
}

func (o *Options) isCatch() bool {
	return o.IsCatch == nil || *o.IsCatch
}

func (o *Options) apiChange() string {
	if o.APIChange == "" {
		return "building"
	}
	return o.APIChange
}

// Client is the structured HTTP client.
type Client struct {
	BaseURL     string
	HTTPClient  *http.Client
	Credentials Credentials
	Clock       clock.Clock
	Logger      *slog.Logger

	before   *beforeChain
	after    *afterChain
	inflight *coalescer
}

// New creates a Client against baseURL (e.g. "https://api.example.com").
func New(baseURL string, creds Credentials) *Client {
	return &Client{
		BaseURL:     baseURL,
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
		Credentials: creds,
		Clock:       clock.Instance,
		before:      newBeforeChain(),
		after:       newAfterChain(),
		inflight:    newCoalescer(),
	}
}

// Get issues a GET request, coalescing with any sufficiently-fresh
// in-flight identical GET.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, opts Options) (*Envelope, error) {
	return c.do(ctx, http.MethodGet, path, params, opts)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, params map[string]any, opts Options) (*Envelope, error) {
	return c.do(ctx, http.MethodPost, path, params, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, params map[string]any, opts Options) (*Envelope, error) {
	return c.do(ctx, http.MethodPut, path, params, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, params map[string]any, opts Options) (*Envelope, error) {
	return c.do(ctx, http.MethodPatch, path, params, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, params map[string]any, opts Options) (*Envelope, error) {
	return c.do(ctx, http.MethodDelete, path, params, opts)
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]any, opts Options) (*Envelope, error) {
	l := log.Wrap(c.Logger)
	reqID := xid.New().String()

	if c.Credentials != nil && c.Credentials.Guest(ctx) {
		return nil, &mqtterrors.GuestError{}
	}

	if method == http.MethodGet {
		if env, err, ok := c.inflight.lookup(c.Clock.Now(), hashRequest(method, path, params, opts)); ok {
			return env, err
		}
	}

	exec := func() (*Envelope, error) {
		return c.execute(ctx, method, path, params, opts, reqID, l)
	}

	if method == http.MethodGet {
		return c.inflight.run(c.Clock.Now(), hashRequest(method, path, params, opts), exec)
	}
	return exec()
}

func (c *Client) execute(
	ctx context.Context,
	method, path string,
	params map[string]any,
	opts Options,
	reqID string,
	l log.Logger,
) (*Envelope, error) {
	req, err := c.build(ctx, method, path, params, opts)
	if err != nil {
		return nil, err
	}

	cont, err := c.before.run(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if !cont {
		return nil, &mqtterrors.InvalidArgumentError{Message: "request rejected by beforeRequest middleware"}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	l.Info(ctx, "http request", slog.String("id", reqID), slog.String("method", method), slog.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req.WithContext(reqCtx))
	if err != nil {
		if reqCtx.Err() == context.Canceled {
			return c.classify(ctx, req, opts, nil, &mqtterrors.CanceledError{Code: 499})
		}
		return c.classify(ctx, req, opts, nil, &mqtterrors.HTTPTransportError{Status: 0, StatusText: err.Error()})
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return c.classify(ctx, req, opts, &rawResponse{status: resp.StatusCode, statusText: resp.Status, body: body}, nil)
}

type rawResponse struct {
	status     int
	statusText string
	body       []byte
}

// classify implements the error-classification ladder: cancellation, then
// API-envelope decode, then raw-HTTP-failure fallback.
func (c *Client) classify(
	ctx context.Context,
	req *http.Request,
	opts Options,
	raw *rawResponse,
	transportErr error,
) (*Envelope, error) {
	if canceled, ok := transportErr.(*mqtterrors.CanceledError); ok {
		return nil, canceled
	}

	var env *Envelope
	if raw != nil {
		var candidate Envelope
		if json.Unmarshal(raw.body, &candidate) == nil && candidate.Code != 0 {
			env = &candidate
		}
	}

	if env == nil {
		status := 0
		statusText := ""
		if raw != nil {
			status = raw.status
			statusText = raw.statusText
		}
		if transportErr != nil {
			if httpErr, ok := transportErr.(*mqtterrors.HTTPTransportError); ok {
				status, statusText = httpErr.Status, httpErr.StatusText
			}
		}
		env = &Envelope{Code: status, Desc: statusText, Data: json.RawMessage("{}")}
	}

	cont, afterErr := c.after.run(ctx, req, env, opts)
	if afterErr != nil {
		return nil, afterErr
	}
	if !cont {
		if opts.isCatch() {
			return env, nil
		}
		return nil, &mqtterrors.EnvelopeError{Code: env.Code, Desc: env.Desc, Data: env.Data}
	}

	if env.Success() {
		return env, nil
	}
	if opts.isCatch() {
		return env, nil
	}
	return nil, &mqtterrors.EnvelopeError{Code: env.Code, Desc: env.Desc, Data: env.Data}
}

func (c *Client) build(ctx context.Context, method, path string, params map[string]any, opts Options) (*http.Request, error) {
	u, err := url.Parse(c.BaseURL + "/api/" + opts.apiChange() + path)
	if err != nil {
		return nil, &mqtterrors.InvalidArgumentError{Message: "invalid url", Wrapped: err}
	}

	query := u.Query()
	var body io.Reader
	if method == http.MethodGet {
		for k, v := range params {
			if v == nil {
				continue
			}
			query.Set(k, fmt.Sprint(v))
		}
	} else {
		cleaned := make(map[string]any, len(params))
		for k, v := range params {
			if v != nil {
				cleaned[k] = v
			}
		}
		raw, merr := json.Marshal(cleaned)
		if merr != nil {
			return nil, &mqtterrors.InvalidArgumentError{Message: "invalid params", Wrapped: merr}
		}
		body = bytes.NewReader(raw)
	}

	if !opts.HideTimes {
		query.Set("_r", randomBuster())
	}
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range opts.Headers {
		lower := strings.ToLower(k)
		if lower == reservedHeaderAccessToken || lower == reservedHeaderTerminal || lower == reservedHeaderToken {
			continue
		}
		req.Header.Set(k, v)
	}

	if c.Credentials != nil {
		if token, err := c.Credentials.Token(ctx); err == nil && token != "" {
			req.Header.Set(reservedHeaderToken, token)
		}
		if accessToken, err := c.Credentials.AccessToken(ctx); err == nil && accessToken != "" {
			req.Header.Set(reservedHeaderAccessToken, accessToken)
		}
		req.Header.Set(reservedHeaderTerminal, string(c.Credentials.Terminal(ctx)))
		if lang, ok := c.Credentials.Language(ctx); ok {
			req.Header.Set("Accept-Language", lang)
		}
	}

	return req, nil
}

func randomBuster() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000_000))
	if err != nil {
		return "0"
	}
	return n.String()
}
