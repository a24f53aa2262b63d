// Package collection is an HTTP client for a remote JSON collection
// endpoint: GET lists the collection, POST creates an item and returns
// the server's canonical version with its authoritative identity.
//
// The client's List and Create methods satisfy swr.Fetcher and
// swr.Writer, so a collection endpoint plugs straight into a Query and
// a Mutation. Failures are reported as *swr.TransportError.
package collection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/swr/pkg/swr"
)

// defaultTracerName identifies this package's spans.
const defaultTracerName = "swr.collection"

// config holds client configuration assembled from options.
type config struct {
	httpClient *http.Client
	tracer     trace.Tracer
}

func defaultConfig() config {
	return config{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tracer:     otel.Tracer(defaultTracerName),
	}
}

// Option configures a Client.
type Option func(*config)

// WithHTTPClient sets the underlying *http.Client. Transport-level
// behavior such as timeouts and proxies belongs there.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) {
		if c != nil {
			cfg.httpClient = c
		}
	}
}

// WithTracer sets a custom tracer for request spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *config) {
		if tracer != nil {
			cfg.tracer = tracer
		}
	}
}

// Client talks to one collection endpoint. T is the item type; it must
// round-trip through JSON.
type Client[T any] struct {
	base   string
	http   *http.Client
	tracer trace.Tracer
}

// New creates a client for the collection at baseURL, e.g.
// "https://api.example.com/todos".
func New[T any](baseURL string, opts ...Option) *Client[T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client[T]{
		base:   strings.TrimRight(baseURL, "/"),
		http:   cfg.httpClient,
		tracer: cfg.tracer,
	}
}

// List fetches the whole collection.
func (c *Client[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	if err := c.do(ctx, "list", http.MethodGet, c.base, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Create sends item to the collection and returns the server's
// canonical version, including its authoritative identity.
func (c *Client[T]) Create(ctx context.Context, item T) (T, error) {
	var created T
	err := c.do(ctx, "create", http.MethodPost, c.base, item, &created)
	return created, err
}

// Update replaces the item with the given identity.
func (c *Client[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var updated T
	err := c.do(ctx, "update", http.MethodPut, c.base+"/"+id, item, &updated)
	return updated, err
}

// Delete removes the item with the given identity.
func (c *Client[T]) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.base+"/"+id, nil, nil)
}

// do performs one request with a span around it. body and out may be
// nil; out must otherwise be a pointer for JSON decoding.
func (c *Client[T]) do(ctx context.Context, op, method, url string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, "collection."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
		),
	)
	defer span.End()

	fail := func(status int, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &swr.TransportError{Op: op, URL: url, StatusCode: status, Err: err}
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fail(0, fmt.Errorf("encode request: %w", err))
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fail(0, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for the error message.
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(resp.StatusCode, fmt.Errorf("unexpected status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fail(resp.StatusCode, fmt.Errorf("decode response: %w", err))
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
