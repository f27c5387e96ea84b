// Package relay forwards HTTP calls to the upstream workflow service API with
// header hygiene and transparent method, body and content-type handling.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Request is one inbound call to relay.
//
// Body may be nil, raw bytes ([]byte, string, json.RawMessage, io.Reader) that
// are sent as-is, or any other value which is encoded as JSON.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     any
}

// Response is what the relay hands back to its caller.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// ErrorEnvelope is the body of a relay failure response.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// Relay forwards requests to a fixed upstream base URL.
type Relay struct {
	base     string
	client   *http.Client
	logger   Logger
	requests metric.Int64Counter
}

// Option configures a Relay.
type Option func(*Relay)

// WithHTTPClient replaces the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) { r.client = c }
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// New creates a Relay for the given upstream base URL, e.g.
// "https://n8n.example.com/v1". No request timeout is set; the transport
// defaults apply.
func New(baseURL string, opts ...Option) (*Relay, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", baseURL)
	}

	r := &Relay{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}

	counter, err := otel.Meter("flowdeck/relay").Int64Counter(
		"relay.requests",
		metric.WithDescription("Requests relayed to the upstream workflow service"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay counter: %w", err)
	}
	r.requests = counter

	return r, nil
}

// TargetURL joins the upstream base and a path suffix verbatim.
func (r *Relay) TargetURL(path, rawQuery string) string {
	target := r.base + "/" + strings.TrimLeft(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Do relays req upstream in a single attempt. It never returns an error: a
// transport failure becomes a 500 response carrying an ErrorEnvelope.
func (r *Relay) Do(ctx context.Context, req *Request) *Response {
	startTime := time.Now()
	target := r.TargetURL(req.Path, req.RawQuery)

	body, err := encodeBody(req.Method, req.Body)
	if err != nil {
		return r.fail(ctx, req, target, startTime, err)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return r.fail(ctx, req, target, startTime, err)
	}
	upstreamReq.Header = SanitizeHeaders(req.Header)

	resp, err := r.client.Do(upstreamReq)
	if err != nil {
		return r.fail(ctx, req, target, startTime, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return r.fail(ctx, req, target, startTime, err)
	}

	out := &Response{Status: resp.StatusCode, Header: make(http.Header), Body: data}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		out.Header.Set("Content-Type", ct)
	}
	// Accept-Encoding is forwarded verbatim, so the body may still be encoded.
	if ce := resp.Header.Get("Content-Encoding"); ce != "" {
		out.Header.Set("Content-Encoding", ce)
	}

	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.Int("status", resp.StatusCode),
	))
	r.logger.Info("relay complete",
		"method", req.Method,
		"upstream", target,
		"status", resp.StatusCode,
		"bytes", len(data),
		"duration", time.Since(startTime),
	)
	return out
}

func (r *Relay) fail(ctx context.Context, req *Request, target string, startTime time.Time, err error) *Response {
	r.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.Int("status", http.StatusInternalServerError),
	))
	r.logger.Error("relay request failed",
		"method", req.Method,
		"upstream", target,
		"error", err,
		"duration", time.Since(startTime),
	)

	data, _ := json.Marshal(ErrorEnvelope{Error: "Proxy error", Details: err.Error()})
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return &Response{Status: http.StatusInternalServerError, Header: h, Body: data}
}

// SanitizeHeaders drops host and every x-forwarded-* header and folds
// multi-valued headers into one comma-joined value. Names are compared in
// lower case, the form they arrive in over HTTP/2 and from most proxies.
func SanitizeHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		lower := strings.ToLower(key)
		if lower == "host" || strings.HasPrefix(lower, "x-forwarded") {
			continue
		}
		if len(values) == 0 {
			continue
		}
		out[key] = []string{strings.Join(values, ",")}
	}
	return out
}

// encodeBody returns nil for GET and HEAD whatever the inbound body is.
func encodeBody(method string, body any) (io.Reader, error) {
	if method == http.MethodGet || method == http.MethodHead || body == nil {
		return nil, nil
	}
	switch b := body.(type) {
	case []byte:
		return bytes.NewReader(b), nil
	case string:
		return strings.NewReader(b), nil
	case json.RawMessage:
		return bytes.NewReader(b), nil
	case io.Reader:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return bytes.NewReader(data), nil
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
