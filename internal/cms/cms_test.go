package cms

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/localize"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return client, srv
}

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func TestFetchCollectionShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantIDs []string
	}{
		{name: "envelope", body: `{"count":2,"results":[{"id":1},{"id":2}]}`, wantIDs: []string{"1", "2"}},
		{name: "bare array", body: `[{"id":1},{"id":2}]`, wantIDs: []string{"1", "2"}},
		{name: "single object", body: `{"id":1}`, wantIDs: []string{"1"}},
		{name: "non-object elements dropped", body: `[{"id":1},3,"x",null,{"id":2}]`, wantIDs: []string{"1", "2"}},
		{name: "null results", body: `{"results":null}`, wantIDs: []string{}},
		{name: "scalar", body: `42`, wantIDs: []string{}},
		{name: "null", body: `null`, wantIDs: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, jsonHandler(tt.body))

			records, err := client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{Lang: i18n.EN})
			require.NoError(t, err)
			require.NotNil(t, records)

			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, localize.String(rec, "id"))
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestFetchPageEnvelope(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, jsonHandler(`{"count":25,"next":"http://x/?page=2","previous":null,"results":[{"id":1}]}`))

	page, err := client.FetchPage(context.Background(), "/api/news/news/", FetchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 25, page.Count)
	assert.Equal(t, "http://x/?page=2", page.Next)
	assert.Empty(t, page.Previous)
	assert.Len(t, page.Records, 1)
}

func TestFetchCollectionMalformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`{"results":"nope"}`, `{"results":`, `<html>`} {
		client, _ := newTestClient(t, jsonHandler(body))

		_, err := client.FetchCollection(context.Background(), "/api/faq/faqs/", FetchOptions{})
		var malformed *MalformedResponseError
		require.ErrorAs(t, err, &malformed, "body %q", body)
	}
}

func TestFetchEntity(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/news/news/7/" {
			_, _ = io.WriteString(w, `{"id":7,"title_en":"Open day"}`)
			return
		}
		_, _ = io.WriteString(w, `[{"id":7}]`)
	})

	rec, err := client.FetchEntity(context.Background(), "/api/news/news/7/", FetchOptions{Lang: i18n.EN})
	require.NoError(t, err)
	assert.Equal(t, "Open day", localize.Resolve(rec, "title", "en"))

	_, err = client.FetchEntity(context.Background(), "/api/news/news/", FetchOptions{})
	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
}

func TestFetchNotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"Not found."}`, http.StatusNotFound)
	})

	_, err := client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, "HTTP 404", err.Error())
	assert.True(t, IsNotFound(err))

	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Contains(t, netErr.Body, "Not found.")
}

func TestFetchServerError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{})
	assert.EqualError(t, err, "HTTP 502")
	assert.False(t, IsNotFound(err))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, WithTimeout(50*time.Millisecond))

	_, err := client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.After)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, jsonHandler(`[]`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchCollection(ctx, "/api/news/news/", FetchOptions{})
	require.ErrorIs(t, err, context.Canceled)
	var transportErr *TransportError
	assert.False(t, errors.As(err, &transportErr))
}

func TestFetchTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	client, err := NewClient(addr)
	require.NoError(t, err)

	_, err = client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{})
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.NotNil(t, errors.Unwrap(err))
}

func TestLangModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		mode       LangMode
		wantQuery  string
		wantHeader string
	}{
		{mode: LangModeQuery, wantQuery: "ky", wantHeader: ""},
		{mode: LangModeHeader, wantQuery: "", wantHeader: "ky"},
		{mode: LangModeBoth, wantQuery: "ky", wantHeader: "ky"},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			t.Parallel()

			seen := make(chan *http.Request, 1)
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				seen <- r.Clone(context.Background())
				_, _ = io.WriteString(w, `[]`)
			}, WithLangMode(tt.mode))

			_, err := client.FetchCollection(context.Background(), "/api/education/programs/", FetchOptions{
				Lang:  i18n.KY,
				Query: url.Values{"search": {"math"}, "category": {""}},
			})
			require.NoError(t, err)
			got := <-seen

			assert.Equal(t, "/api/education/programs/", got.URL.Path)
			assert.Equal(t, tt.wantQuery, got.URL.Query().Get("lang"))
			assert.Equal(t, "math", got.URL.Query().Get("search"))
			assert.False(t, got.URL.Query().Has("category"))
			assert.Equal(t, tt.wantHeader, got.Header.Get("Accept-Language"))
			assert.Equal(t, "application/json", got.Header.Get("Accept"))
			assert.Len(t, got.Header.Get("X-Request-ID"), 26)
		})
	}
}

func TestParseLangMode(t *testing.T) {
	t.Parallel()

	mode, ok := ParseLangMode(" Header ")
	require.True(t, ok)
	assert.Equal(t, LangModeHeader, mode)

	_, ok = ParseLangMode("cookie")
	assert.False(t, ok)
}

func TestNewClientRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := NewClient("api.example.edu")
	require.Error(t, err)

	client, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.BaseURL())
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}, WithCacheTTL(time.Minute))

	now := time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)
	client.cache.now = func() time.Time { return now }

	opts := FetchOptions{Lang: i18n.RU}
	for i := 0; i < 3; i++ {
		records, err := client.FetchCollection(context.Background(), "/api/news/news/", opts)
		require.NoError(t, err)
		require.Len(t, records, 1)
	}
	assert.EqualValues(t, 1, hits.Load())

	_, err := client.FetchCollection(context.Background(), "/api/news/news/", FetchOptions{Lang: i18n.EN})
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	now = now.Add(2 * time.Minute)
	_, err = client.FetchCollection(context.Background(), "/api/news/news/", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestCacheSkipsFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}, WithCacheTTL(time.Minute))

	_, err := client.FetchCollection(context.Background(), "/api/faq/faqs/", FetchOptions{})
	require.Error(t, err)
	records, err := client.FetchCollection(context.Background(), "/api/faq/faqs/", FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.EqualValues(t, 2, hits.Load())
}

func TestPurgeCacheForcesRefetch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[{"id":1}]`)
	}, WithCacheTTL(time.Hour))

	opts := FetchOptions{Lang: i18n.RU}
	_, err := client.FetchCollection(context.Background(), "/api/news/news/", opts)
	require.NoError(t, err)
	_, err = client.FetchCollection(context.Background(), "/api/news/news/", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	client.PurgeCache()
	_, err = client.FetchCollection(context.Background(), "/api/news/news/", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())
}

type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(req)
}

func TestWithHTTPClientUsesTransport(t *testing.T) {
	t.Parallel()

	transport := &countingTransport{next: http.DefaultTransport}
	client, _ := newTestClient(t, jsonHandler(`[{"id":1},{"id":2}]`),
		WithHTTPClient(&http.Client{Transport: transport}))

	records, err := client.FetchCollection(context.Background(), "/api/faq/faqs/", FetchOptions{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.EqualValues(t, 1, transport.calls.Load())
}

func TestDownload(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/docs/rules.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", `attachment; filename="Rules 2024.pdf"`)
			_, _ = io.WriteString(w, "%PDF-1.4")
		case "/media/docs/plain.txt":
			_, _ = io.WriteString(w, "plain")
		default:
			http.NotFound(w, r)
		}
	})

	dl, err := client.Download(context.Background(), "/media/docs/rules.pdf")
	require.NoError(t, err)
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Close())
	assert.Equal(t, "%PDF-1.4", string(body))
	assert.Equal(t, "application/pdf", dl.ContentType)
	assert.Equal(t, "Rules 2024.pdf", dl.FileName)

	dl, err = client.Download(context.Background(), srv.URL+"/media/docs/plain.txt")
	require.NoError(t, err)
	defer dl.Close()
	assert.Equal(t, "plain.txt", dl.FileName)

	_, err = client.Download(context.Background(), "/media/missing.pdf")
	assert.True(t, IsNotFound(err))

	_, err = client.Download(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyFileURL)
}

func TestFileNameForDropsDirectories(t *testing.T) {
	t.Parallel()

	target, err := url.Parse("http://cms.example.edu/media/docs/rules.pdf")
	require.NoError(t, err)

	tests := []struct {
		disposition string
		want        string
	}{
		{disposition: `attachment; filename="../../etc/cron.d/job"`, want: "job"},
		{disposition: `attachment; filename=".."`, want: "rules.pdf"},
		{disposition: `attachment; filename="..\\..\\evil.bat"`, want: "evil.bat"},
		{disposition: "", want: "rules.pdf"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, fileNameFor(tt.disposition, target), tt.disposition)
	}

	root, err := url.Parse("http://cms.example.edu/")
	require.NoError(t, err)
	assert.Equal(t, "download", fileNameFor("", root))
}
