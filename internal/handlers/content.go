package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/loadstate"
	uimw "finitefield.org/university-web/internal/middleware"
	"finitefield.org/university-web/internal/platform/httpx"
	"finitefield.org/university-web/internal/platform/observability"
	"finitefield.org/university-web/internal/sections"
)

// ContentSource is what the content endpoints need from the API client.
type ContentSource interface {
	sections.Fetcher
	Download(ctx context.Context, fileURL string) (*cms.Download, error)
}

// ContentHandlers serves localized section content.
type ContentHandlers struct {
	source  ContentSource
	catalog *sections.Catalog
	bundle  *i18n.Bundle
	home    []string
	logger  *zap.Logger

	downloadTimeout time.Duration
}

// DefaultDownloadTimeout bounds a whole file transfer, upstream read included.
const DefaultDownloadTimeout = 30 * time.Minute

// ContentOption customises ContentHandlers.
type ContentOption func(*ContentHandlers)

// WithCatalog overrides the section registry.
func WithCatalog(c *sections.Catalog) ContentOption {
	return func(h *ContentHandlers) {
		if c != nil {
			h.catalog = c
		}
	}
}

// WithContentBundle sets the catalog used for error messages.
func WithContentBundle(b *i18n.Bundle) ContentOption {
	return func(h *ContentHandlers) {
		if b != nil {
			h.bundle = b
		}
	}
}

// WithHomeSections limits and orders the sections aggregated by /home.
func WithHomeSections(names ...string) ContentOption {
	return func(h *ContentHandlers) {
		if len(names) > 0 {
			h.home = append([]string(nil), names...)
		}
	}
}

// WithContentLogger sets the fallback logger when the request carries none.
func WithContentLogger(logger *zap.Logger) ContentOption {
	return func(h *ContentHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithDownloadTimeout overrides how long a single download may stream.
func WithDownloadTimeout(d time.Duration) ContentOption {
	return func(h *ContentHandlers) {
		if d > 0 {
			h.downloadTimeout = d
		}
	}
}

// NewContentHandlers wires content endpoints over source.
func NewContentHandlers(source ContentSource, opts ...ContentOption) *ContentHandlers {
	h := &ContentHandlers{
		source:  source,
		catalog: sections.Default(),
		logger:  zap.NewNop(),

		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.bundle == nil {
		h.bundle = i18n.MustLoadEmbedded(i18n.Default)
	}
	if len(h.home) == 0 {
		h.home = h.catalog.Names()
	}
	return h
}

// Routes registers the content endpoints. Downloads are exempt from the JSON
// request timeout and the server write timeout; they use downloadTimeout.
func (h *ContentHandlers) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Get("/languages", h.languages)
		r.Get("/home", h.homePage)
		r.Get("/{section}", h.list)
		r.Get("/{section}/{id}", h.detail)
	})
	r.Get("/documents/{id}/download", h.download)
}

type languagesResponse struct {
	Active    i18n.Language `json:"active"`
	Languages []i18n.Option `json:"languages"`
}

func (h *ContentHandlers) languages(w http.ResponseWriter, r *http.Request) {
	lang := uimw.Lang(r)
	httpx.WriteJSON(w, http.StatusOK, languagesResponse{
		Active:    lang,
		Languages: h.bundle.Options(lang),
	})
}

type localizer interface {
	Localized(b *i18n.Bundle, lang i18n.Language) any
}

func (h *ContentHandlers) homePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lang := uimw.Lang(r)
	params := loadstate.Params{Lang: lang}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out = make(map[string]any, len(h.home))
	)
	for _, name := range h.home {
		entry, err := h.catalog.Lookup(name)
		if err != nil {
			h.loggerFor(ctx).Warn("home: unknown section skipped", zap.String("section", name))
			continue
		}
		wg.Add(1)
		go func(name string, entry sections.Entry) {
			defer wg.Done()
			st := entry.SettleAny(ctx, h.source, params)
			if l, ok := st.(localizer); ok {
				st = l.Localized(h.bundle, lang)
			}
			mu.Lock()
			out[name] = st
			mu.Unlock()
		}(name, entry)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type listResponse struct {
	Section string        `json:"section"`
	Lang    i18n.Language `json:"lang"`
	Items   any           `json:"items"`
}

func (h *ContentHandlers) list(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "section")
	lang := uimw.Lang(r)
	items, err := h.catalog.ListAny(r.Context(), h.source, name, lang, listQuery(r.URL.Query()))
	if err != nil {
		h.writeFetchError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Section: strings.ToLower(name), Lang: lang, Items: items})
}

type detailResponse struct {
	Section string        `json:"section"`
	Lang    i18n.Language `json:"lang"`
	Item    any           `json:"item"`
}

func (h *ContentHandlers) detail(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "section")
	lang := uimw.Lang(r)
	item, err := h.catalog.GetAny(r.Context(), h.source, name, lang, chi.URLParam(r, "id"))
	if err != nil {
		h.writeFetchError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detailResponse{Section: strings.ToLower(name), Lang: lang, Item: item})
}

func (h *ContentHandlers) download(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.downloadTimeout)
	defer cancel()
	r = r.WithContext(ctx)
	lang := uimw.Lang(r)
	doc, err := sections.Documents.Get(ctx, h.source, lang, chi.URLParam(r, "id"))
	if err != nil {
		h.writeFetchError(w, r, err)
		return
	}
	if strings.TrimSpace(doc.DownloadURL) == "" {
		h.writeFetchError(w, r, sections.ErrNotFound)
		return
	}

	file, err := h.source.Download(ctx, doc.DownloadURL)
	if err != nil {
		h.writeFetchError(w, r, err)
		return
	}
	defer file.Close()

	name := doc.FileName
	if name == "" {
		name = file.FileName
	}
	w.Header().Set("Content-Type", file.ContentType)
	if disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name}); disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	if file.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.ContentLength, 10))
	}
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(h.downloadTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.loggerFor(ctx).Debug("download: write deadline not extended", zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file.Body); err != nil && ctx.Err() == nil {
		h.loggerFor(ctx).Warn("download: stream interrupted", zap.String("document", doc.ID), zap.Error(err))
	}
}

var listParams = []string{"search", "category", "page"}

func listQuery(in url.Values) url.Values {
	out := url.Values{}
	for _, key := range listParams {
		if v := strings.TrimSpace(in.Get(key)); v != "" {
			out.Set(key, v)
		}
	}
	return out
}

func (h *ContentHandlers) writeFetchError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	lang := uimw.Lang(r)
	apiErr := h.classify(lang, err)
	if apiErr.Status >= http.StatusInternalServerError {
		h.loggerFor(ctx).Warn("content: upstream failure",
			zap.String("path", r.URL.Path),
			zap.Int("status", apiErr.Status),
			zap.Error(err),
		)
	}
	httpx.WriteError(ctx, w, apiErr)
}

func (h *ContentHandlers) classify(lang i18n.Language, err error) httpx.Error {
	var (
		netErr     *cms.NetworkError
		timeoutErr *cms.TimeoutError
		transErr   *cms.TransportError
		malformed  *cms.MalformedResponseError
	)
	switch {
	case errors.Is(err, sections.ErrUnknownSection):
		return httpx.NewError("unknown_section", h.bundle.T(lang, "error.unknown_section"), http.StatusNotFound)
	case errors.Is(err, sections.ErrNotFound), cms.IsNotFound(err):
		return httpx.NewError("not_found", h.bundle.T(lang, "error.not_found"), http.StatusNotFound)
	case errors.Is(err, sections.ErrInvalidID):
		return httpx.NewError("invalid_id", h.bundle.T(lang, "error.not_found"), http.StatusBadRequest)
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return httpx.NewError("upstream_timeout", loadstate.LocalizedMessage(h.bundle, lang, err), http.StatusGatewayTimeout)
	case errors.As(err, &netErr):
		return httpx.NewError("upstream_error", loadstate.LocalizedMessage(h.bundle, lang, err), http.StatusBadGateway).
			WithDetails(map[string]any{"upstream_status": netErr.Status})
	case errors.As(err, &transErr), errors.As(err, &malformed), errors.Is(err, cms.ErrEmptyFileURL):
		return httpx.NewError("upstream_error", loadstate.LocalizedMessage(h.bundle, lang, err), http.StatusBadGateway)
	}
	return httpx.NewError("internal_error", h.bundle.T(lang, "error.internal"), http.StatusInternalServerError)
}

func (h *ContentHandlers) loggerFor(ctx context.Context) *zap.Logger {
	return observability.FromContextOr(ctx, h.logger)
}
