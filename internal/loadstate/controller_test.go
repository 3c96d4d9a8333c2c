package loadstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
)

type fetchCall struct {
	ctx    context.Context
	params Params
	reply  chan fetchResult
}

type fetchResult struct {
	data string
	err  error
}

// fakeFetcher hands every request to the test and blocks until it replies.
// It deliberately ignores ctx so late replies exercise the stale guard.
type fakeFetcher struct {
	calls chan fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan fetchCall, 16)}
}

func (f *fakeFetcher) fetch(ctx context.Context, params Params) (string, error) {
	call := fetchCall{ctx: ctx, params: params, reply: make(chan fetchResult, 1)}
	f.calls <- call
	res := <-call.reply
	return res.data, res.err
}

func (f *fakeFetcher) next(t *testing.T) fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fetch")
		return fetchCall{}
	}
}

func (f *fakeFetcher) expectNone(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case call := <-f.calls:
		t.Fatalf("unexpected fetch with params %+v", call.params)
	case <-time.After(within):
	}
}

func waitStatus[T any](t *testing.T, c *Controller[T], want Status) State[T] {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().Status == want }, 2*time.Second, 5*time.Millisecond)
	return c.State()
}

func TestMountFetchesOnce(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.RU})
	t.Cleanup(c.Close)

	assert.Equal(t, StatusIdle, c.State().Status)

	c.Mount(context.Background())
	call := f.next(t)
	assert.Equal(t, i18n.RU, call.params.Lang)
	assert.Equal(t, StatusLoading, c.State().Status)

	call.reply <- fetchResult{data: "news"}
	st := waitStatus(t, c, StatusSuccess)
	assert.Equal(t, "news", st.Data)
	assert.Equal(t, TriggerMount, st.Trigger)

	c.Mount(context.Background())
	f.expectNone(t, 50*time.Millisecond)
}

func TestNotFoundThenRetrySendsIdenticalRequest(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.EN, Query: url.Values{"category": {"events"}}})
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	first := f.next(t)
	first.reply <- fetchResult{err: &cms.NetworkError{Status: 404}}

	st := waitStatus(t, c, StatusError)
	assert.Equal(t, "HTTP 404", st.Message)
	assert.True(t, cms.IsNotFound(st.Err))

	c.Retry()
	second := f.next(t)
	assert.Equal(t, first.params, second.params)

	second.reply <- fetchResult{data: "ok"}
	st = waitStatus(t, c, StatusSuccess)
	assert.Equal(t, TriggerRetry, st.Trigger)
	assert.Empty(t, st.Message)
	assert.NoError(t, st.Err)
}

func TestRetryFromSuccess(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.KY})
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	f.next(t).reply <- fetchResult{data: "v1"}
	waitStatus(t, c, StatusSuccess)

	c.Retry()
	call := f.next(t)
	assert.Equal(t, i18n.KY, call.params.Lang)
	call.reply <- fetchResult{data: "v2"}
	require.Eventually(t, func() bool { return c.State().Data == "v2" }, 2*time.Second, 5*time.Millisecond)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.RU})
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	ru := f.next(t)
	c.SetLanguage(i18n.EN)
	en := f.next(t)
	assert.Equal(t, i18n.EN, en.params.Lang)

	select {
	case <-ru.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded request was not canceled")
	}

	en.reply <- fetchResult{data: "en"}
	st := waitStatus(t, c, StatusSuccess)
	assert.Equal(t, "en", st.Data)

	ru.reply <- fetchResult{data: "ru"}
	assert.Never(t, func() bool { return c.State().Data != "en" }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestStaleResponseBeforeNewerKeepsLoading(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.RU})
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	ru := f.next(t)
	c.SetLanguage(i18n.EN)
	en := f.next(t)

	ru.reply <- fetchResult{data: "ru"}
	assert.Never(t, func() bool { return c.State().Status != StatusLoading }, 100*time.Millisecond, 5*time.Millisecond)

	en.reply <- fetchResult{data: "en"}
	st := waitStatus(t, c, StatusSuccess)
	assert.Equal(t, "en", st.Data)
	assert.Equal(t, i18n.EN, st.Params.Lang)
}

func TestSearchIsDebounced(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.EN}, WithSearchDebounce(80*time.Millisecond))
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	f.next(t).reply <- fetchResult{data: "all"}
	waitStatus(t, c, StatusSuccess)

	c.Search("a")
	c.Search("ab")
	c.Search("abc")

	call := f.next(t)
	assert.Equal(t, "abc", call.params.Search)
	assert.Equal(t, "abc", call.params.Values().Get("search"))
	call.reply <- fetchResult{data: "filtered"}

	f.expectNone(t, 200*time.Millisecond)
	st := waitStatus(t, c, StatusSuccess)
	assert.Equal(t, TriggerSearch, st.Trigger)
}

func TestLanguageChangeDoesNotLeakPendingSearch(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.RU}, WithSearchDebounce(time.Hour))
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	f.next(t).reply <- fetchResult{data: "ru"}

	c.Search("pending")
	c.SetLanguage(i18n.EN)
	call := f.next(t)
	assert.Equal(t, i18n.EN, call.params.Lang)
	assert.Empty(t, call.params.Search)
	call.reply <- fetchResult{data: "en"}
}

func TestSetFilter(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.EN})
	t.Cleanup(c.Close)

	c.SetFilter("category", "science")
	c.Mount(context.Background())
	call := f.next(t)
	assert.Equal(t, "science", call.params.Query.Get("category"))
	call.reply <- fetchResult{data: "science"}

	c.SetFilter("category", "")
	call = f.next(t)
	assert.False(t, call.params.Query.Has("category"))
	call.reply <- fetchResult{data: "all"}

	require.Eventually(t, func() bool { return c.State().Data == "all" }, 2*time.Second, 5*time.Millisecond)
}

func TestFilterDebounceCoalesces(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{}, WithFilterDebounce(50*time.Millisecond))
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	f.next(t).reply <- fetchResult{}

	c.SetFilter("category", "a")
	c.SetFilter("page", "2")
	call := f.next(t)
	assert.Equal(t, "a", call.params.Query.Get("category"))
	assert.Equal(t, "2", call.params.Query.Get("page"))
	call.reply <- fetchResult{}
	f.expectNone(t, 120*time.Millisecond)
}

func TestCloseDiscardsLateResults(t *testing.T) {
	t.Parallel()

	f := newFakeFetcher()
	c := New(f.fetch, Params{Lang: i18n.RU}, WithSearchDebounce(20*time.Millisecond))

	c.Mount(context.Background())
	call := f.next(t)
	c.Search("pending")
	c.Close()

	select {
	case <-call.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("close did not cancel the in-flight request")
	}

	call.reply <- fetchResult{data: "late"}
	assert.Never(t, func() bool { return c.State().Status != StatusLoading }, 100*time.Millisecond, 5*time.Millisecond)

	c.Retry()
	c.SetLanguage(i18n.EN)
	c.SetFilter("category", "x")
	c.Mount(context.Background())
	f.expectNone(t, 60*time.Millisecond)
	c.Close()
}

func TestTimeoutBecomesError(t *testing.T) {
	t.Parallel()

	c := New(func(ctx context.Context, _ Params) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, Params{}, WithTimeout(20*time.Millisecond))
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	st := waitStatus(t, c, StatusError)
	assert.Equal(t, "request timed out", st.Message)

	var timeoutErr *cms.TimeoutError
	require.ErrorAs(t, st.Err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.After)
}

func TestObserversSeeCommitOrder(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []Status
		c    *Controller[string]
	)
	f := newFakeFetcher()
	c = New(f.fetch, Params{}, WithObserver(func(st State[string]) {
		_ = c.State()
		mu.Lock()
		seen = append(seen, st.Status)
		mu.Unlock()
	}))
	t.Cleanup(c.Close)

	c.Mount(context.Background())
	f.next(t).reply <- fetchResult{err: errors.New("boom")}
	waitStatus(t, c, StatusError)
	c.Retry()
	f.next(t).reply <- fetchResult{data: "ok"}
	waitStatus(t, c, StatusSuccess)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLoading, StatusError, StatusLoading, StatusSuccess}, seen)
}

func TestObserverTypeMismatchPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		New(func(context.Context, Params) (int, error) { return 0, nil }, Params{},
			WithObserver(func(State[string]) {}))
	})
}

func TestSettle(t *testing.T) {
	t.Parallel()

	st := Settle(context.Background(), Params{Lang: i18n.KY}, func(_ context.Context, p Params) ([]string, error) {
		return []string{p.Lang.String()}, nil
	})
	assert.Equal(t, StatusSuccess, st.Status)
	assert.Equal(t, []string{"ky"}, st.Data)

	st = Settle(context.Background(), Params{}, func(context.Context, Params) ([]string, error) {
		return nil, &cms.TransportError{Cause: errors.New("dial tcp: connection refused")}
	})
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "service unreachable", st.Message)
	assert.Nil(t, st.Data)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: &cms.NetworkError{Status: 404}, want: "HTTP 404"},
		{err: fmt.Errorf("list news: %w", &cms.NetworkError{Status: 500}), want: "HTTP 500"},
		{err: &cms.TimeoutError{After: time.Second}, want: "request timed out"},
		{err: context.DeadlineExceeded, want: "request timed out"},
		{err: &cms.TransportError{Cause: errors.New("refused")}, want: "service unreachable"},
		{err: &cms.MalformedResponseError{Reason: "invalid JSON"}, want: "unexpected response"},
		{err: fmt.Errorf("x: %w", context.Canceled), want: "request canceled"},
		{err: errors.New("other"), want: "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Message(tt.err))
	}
}

func TestLocalizedMessage(t *testing.T) {
	t.Parallel()

	b := i18n.MustLoadEmbedded(i18n.RU)
	assert.Equal(t, "The requested item was not found.", LocalizedMessage(b, i18n.EN, &cms.NetworkError{Status: 404}))
	assert.Equal(t, "The server responded with HTTP 500.", LocalizedMessage(b, i18n.EN, &cms.NetworkError{Status: 500}))
	assert.Equal(t, b.T(i18n.KY, "error.timeout"), LocalizedMessage(b, i18n.KY, &cms.TimeoutError{}))
	assert.Equal(t, b.T(i18n.RU, "error.internal"), LocalizedMessage(b, i18n.KY, errors.New("boom")))
}

func TestStateJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(State[[]string]{Status: StatusSuccess, Data: []string{"a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","data":["a"]}`, string(raw))

	raw, err = json.Marshal(State[[]string]{Status: StatusError, Message: "HTTP 404"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","message":"HTTP 404"}`, string(raw))
}
