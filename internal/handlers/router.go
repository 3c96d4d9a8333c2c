package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"finitefield.org/university-web/internal/i18n"
	uimw "finitefield.org/university-web/internal/middleware"
	"finitefield.org/university-web/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
// Registrars apply their own request timeouts so streaming routes can opt out.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	basePath       string
	middlewares    []func(http.Handler) http.Handler
	apiMiddlewares []func(http.Handler) http.Handler
	health         *HealthHandlers
	bundle         *i18n.Bundle
	content        RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 60 * time.Second
	errorNotFoundCode = "route_not_found"
)

// NewRouter constructs the chi router with shared middleware and the content API group.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}
	if cfg.bundle == nil {
		cfg.bundle = i18n.MustLoadEmbedded(i18n.Default)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	bundle := cfg.bundle
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		lang := uimw.Lang(req)
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, bundle.T(lang, "error.route_not_found"), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed))
	})

	health := r.With(middleware.Timeout(defaultTimeout))
	health.Get("/healthz", cfg.health.Healthz)
	health.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, mw := range cfg.apiMiddlewares {
			if mw != nil {
				api.Use(mw)
			}
		}
		if cfg.content != nil {
			cfg.content(api)
		}
	})

	return r
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAPIMiddlewares appends middleware applied only to the API group.
func WithAPIMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.apiMiddlewares = append(cfg.apiMiddlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithBundle sets the catalog used for router-level error messages.
func WithBundle(b *i18n.Bundle) Option {
	return func(cfg *routerConfig) {
		cfg.bundle = b
	}
}

// WithContentRoutes configures the registrar responsible for content endpoints.
func WithContentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.content = reg
	}
}

// RateLimitDenied answers throttled requests with a localized 429 envelope.
func RateLimitDenied(bundle *i18n.Bundle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", bundle.T(uimw.Lang(r), "error.rate_limit"), http.StatusTooManyRequests))
	}
}
