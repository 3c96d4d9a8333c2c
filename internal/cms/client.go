// Package cms fetches university content (news, programs, faculty, documents,
// FAQs) from the backend REST API and normalizes the response shapes it emits.
package cms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/localize"
	"finitefield.org/university-web/internal/platform/observability"
)

const (
	// DefaultBaseURL is used when no API base URL is configured.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout bounds a single API request.
	DefaultTimeout = 10 * time.Second

	requestIDHeader     = "X-Request-ID"
	instrumentationName = "finitefield.org/university-web/internal/cms"
	maxBodyBytes        = 8 << 20
)

// LangMode selects how the display language is sent to the API.
type LangMode string

const (
	LangModeQuery  LangMode = "query"
	LangModeHeader LangMode = "header"
	LangModeBoth   LangMode = "both"
)

// ParseLangMode accepts "query", "header" or "both" in any case.
func ParseLangMode(v string) (LangMode, bool) {
	switch LangMode(strings.ToLower(strings.TrimSpace(v))) {
	case LangModeQuery:
		return LangModeQuery, true
	case LangModeHeader:
		return LangModeHeader, true
	case LangModeBoth:
		return LangModeBoth, true
	}
	return "", false
}

func (m LangMode) sendsQuery() bool  { return m == LangModeQuery || m == LangModeBoth }
func (m LangMode) sendsHeader() bool { return m == LangModeHeader || m == LangModeBoth }

// FetchOptions parameterizes a single request.
type FetchOptions struct {
	Lang  i18n.Language
	Query url.Values
}

// Client talks to the content API. It is safe for concurrent use.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	timeout  time.Duration
	langMode LangMode
	logger   *zap.Logger
	cache    *responseCache
	tracer   trace.Tracer

	requests        metric.Int64Counter
	requestsEnabled bool
	latency         metric.Float64Histogram
	latencyEnabled  bool
}

type clientConfig struct {
	httpClient *http.Client
	timeout    time.Duration
	langMode   LangMode
	logger     *zap.Logger
	cacheTTL   time.Duration
}

// Option customises Client construction.
type Option func(*clientConfig)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = hc
	}
}

// WithTimeout sets the per-request ceiling.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithLangMode selects query parameter, header or both.
func WithLangMode(mode LangMode) Option {
	return func(cfg *clientConfig) {
		if parsed, ok := ParseLangMode(string(mode)); ok {
			cfg.langMode = parsed
		}
	}
}

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithCacheTTL enables the in-memory response cache. Zero disables it.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.cacheTTL = ttl
	}
}

// NewClient builds a Client for baseURL. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg := clientConfig{
		timeout:  DefaultTimeout,
		langMode: LangModeBoth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	raw := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("cms: parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("cms: base url %q must be absolute", raw)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{}
	}

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	requests, requestsErr := meter.Int64Counter(
		"cms.requests",
		metric.WithDescription("Count of content API requests by outcome"),
	)
	if requestsErr != nil {
		cfg.logger.Warn("cms: unable to register request metric", zap.Error(requestsErr))
	}
	latency, latencyErr := meter.Float64Histogram(
		"cms.request.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for content API requests"),
	)
	if latencyErr != nil {
		cfg.logger.Warn("cms: unable to register latency metric", zap.Error(latencyErr))
	}

	return &Client{
		baseURL:         base,
		http:            hc,
		timeout:         cfg.timeout,
		langMode:        cfg.langMode,
		logger:          cfg.logger,
		cache:           newResponseCache(cfg.cacheTTL),
		tracer:          tracer,
		requests:        requests,
		requestsEnabled: requestsErr == nil,
		latency:         latency,
		latencyEnabled:  latencyErr == nil,
	}, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// PurgeCache drops every cached response.
func (c *Client) PurgeCache() {
	c.cache.purge()
}

// FetchCollection returns the records of a list endpoint in response order.
func (c *Client) FetchCollection(ctx context.Context, endpointPath string, opts FetchOptions) ([]localize.Record, error) {
	page, err := c.FetchPage(ctx, endpointPath, opts)
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// FetchPage is FetchCollection plus the pagination envelope.
func (c *Client) FetchPage(ctx context.Context, endpointPath string, opts FetchOptions) (Page, error) {
	target := c.resolveURL(endpointPath, opts)
	key := cacheKey("page", target, opts.Lang)
	if entry, ok := c.cache.get(key); ok {
		c.recordOutcome(ctx, endpointPath, "cache_hit", 0)
		return clonePage(entry.page), nil
	}

	body, err := c.get(ctx, endpointPath, target, opts.Lang)
	if err != nil {
		return Page{}, err
	}
	page, dropped, err := normalizeCollection(body)
	if err != nil {
		c.logFor(ctx).Warn("cms: unusable collection response",
			zap.String("endpoint", endpointPath),
			zap.Error(err),
		)
		return Page{}, err
	}
	if dropped > 0 {
		c.logFor(ctx).Debug("cms: dropped non-object elements",
			zap.String("endpoint", endpointPath),
			zap.Int("dropped", dropped),
		)
	}
	c.cache.storePage(key, page)
	return page, nil
}

// FetchEntity returns a single record. The body must be a JSON object.
func (c *Client) FetchEntity(ctx context.Context, endpointPath string, opts FetchOptions) (localize.Record, error) {
	target := c.resolveURL(endpointPath, opts)
	key := cacheKey("entity", target, opts.Lang)
	if entry, ok := c.cache.get(key); ok {
		c.recordOutcome(ctx, endpointPath, "cache_hit", 0)
		return entry.entity, nil
	}

	body, err := c.get(ctx, endpointPath, target, opts.Lang)
	if err != nil {
		return nil, err
	}
	rec, err := normalizeEntity(body)
	if err != nil {
		c.logFor(ctx).Warn("cms: unusable entity response",
			zap.String("endpoint", endpointPath),
			zap.Error(err),
		)
		return nil, err
	}
	c.cache.storeEntity(key, rec)
	return rec, nil
}

func (c *Client) resolveURL(endpointPath string, opts FetchOptions) *url.URL {
	u := c.baseURL.JoinPath(endpointPath)
	q := url.Values{}
	for k, vs := range opts.Query {
		for _, v := range vs {
			if strings.TrimSpace(v) == "" {
				continue
			}
			q.Add(k, v)
		}
	}
	if c.langMode.sendsQuery() && opts.Lang.IsValid() {
		q.Set("lang", opts.Lang.String())
	}
	u.RawQuery = q.Encode()
	return u
}

func cacheKey(kind string, u *url.URL, lang i18n.Language) string {
	return kind + "|" + u.String() + "|" + lang.String()
}

// get performs one GET bounded by the per-request timeout and returns the body
// of a 2xx response.
func (c *Client) get(ctx context.Context, endpointPath string, target *url.URL, lang i18n.Language) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqCtx, span := c.tracer.Start(reqCtx, "cms.fetch", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("cms.endpoint", endpointPath),
		attribute.String("cms.lang", lang.String()),
	)

	requestID := ulid.Make().String()
	logger := c.logFor(ctx).With(
		zap.String("endpoint", endpointPath),
		zap.String("lang", lang.String()),
		zap.String("upstream_request_id", requestID),
	)

	start := time.Now()
	body, status, err := c.roundTrip(ctx, reqCtx, target, lang, requestID)
	elapsed := time.Since(start)

	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	outcome := outcomeOf(err)
	c.recordOutcome(ctx, endpointPath, outcome, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if outcome == "canceled" {
			logger.Debug("cms: request canceled", zap.Duration("latency", elapsed))
		} else {
			logger.Warn("cms: request failed",
				zap.String("outcome", outcome),
				zap.Int("status", status),
				zap.Duration("latency", elapsed),
				zap.Error(err),
			)
		}
		return nil, err
	}
	logger.Debug("cms: request completed", zap.Int("status", status), zap.Duration("latency", elapsed))
	return body, nil
}

func (c *Client) roundTrip(parent, reqCtx context.Context, target *url.URL, lang i18n.Language, requestID string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("cms: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if c.langMode.sendsHeader() && lang.IsValid() {
		req.Header.Set("Accept-Language", lang.String())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classifyError(parent, reqCtx, c.timeout, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, resp.StatusCode, &NetworkError{Status: resp.StatusCode, Body: truncateBody(snippet)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, classifyError(parent, reqCtx, c.timeout, err)
	}
	return body, resp.StatusCode, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var (
		netErr       *NetworkError
		timeoutErr   *TimeoutError
		malformedErr *MalformedResponseError
	)
	switch {
	case errors.As(err, &netErr):
		return "http_error"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &malformedErr):
		return "malformed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "transport"
}

func (c *Client) recordOutcome(ctx context.Context, endpointPath, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpointPath),
		attribute.String("outcome", outcome),
	)
	if c.requestsEnabled {
		c.requests.Add(ctx, 1, attrs)
	}
	if c.latencyEnabled && outcome != "cache_hit" {
		c.latency.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
	}
}

func (c *Client) logFor(ctx context.Context) *zap.Logger {
	return observability.FromContextOr(ctx, c.logger)
}

// Ping reports whether the API host answers at all. Any HTTP status counts as
// reachable; only transport failures and timeouts are returned.
func (c *Client) Ping(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, _, err := c.roundTrip(ctx, reqCtx, c.baseURL.JoinPath("/"), "", ulid.Make().String())
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return nil
	}
	return err
}
