package loadstate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
)

const (
	// DefaultTimeout bounds each dispatched request.
	DefaultTimeout = 10 * time.Second
	// DefaultSearchDebounce is the quiet period after the last keystroke.
	DefaultSearchDebounce = 500 * time.Millisecond
)

// FetchFunc loads data for params. It must honor ctx cancellation.
type FetchFunc[T any] func(ctx context.Context, params Params) (T, error)

type settings struct {
	timeout        time.Duration
	searchDebounce time.Duration
	filterDebounce time.Duration
	logger         *zap.Logger
	observers      []any
}

// Option customises Controller construction.
type Option func(*settings)

// WithTimeout sets the per-request ceiling.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSearchDebounce sets the quiet period before a search term is dispatched.
func WithSearchDebounce(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.searchDebounce = d
		}
	}
}

// WithFilterDebounce sets the quiet period before filter changes are dispatched.
func WithFilterDebounce(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.filterDebounce = d
		}
	}
}

// WithLogger sets the logger for discarded and failed loads.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithObserver registers fn to receive every committed state in commit order.
// fn runs without the controller lock held and may call State.
func WithObserver[T any](fn func(State[T])) Option {
	return func(s *settings) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// Controller owns the load state of one view.
type Controller[T any] struct {
	fetch          FetchFunc[T]
	timeout        time.Duration
	searchDebounce time.Duration
	filterDebounce time.Duration
	logger         *zap.Logger
	observers      []func(State[T])

	mu         sync.Mutex
	state      State[T]
	params     Params
	seq        uint64
	base       context.Context
	baseCancel context.CancelFunc
	inflight   context.CancelFunc
	mounted    bool
	closed     bool

	pendingSearch  string
	searchTimer    *time.Timer
	searchGen      uint64
	pendingFilters map[string]string
	filterTimer    *time.Timer
	filterGen      uint64

	queue    []State[T]
	draining bool
}

// New builds an idle controller. Nothing is fetched until Mount.
func New[T any](fetch FetchFunc[T], initial Params, opts ...Option) *Controller[T] {
	s := settings{
		timeout:        DefaultTimeout,
		searchDebounce: DefaultSearchDebounce,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	observers := make([]func(State[T]), 0, len(s.observers))
	for _, o := range s.observers {
		fn, ok := o.(func(State[T]))
		if !ok {
			panic(fmt.Sprintf("loadstate: observer %T does not match controller state type", o))
		}
		observers = append(observers, fn)
	}

	params := initial.Clone()
	return &Controller[T]{
		fetch:          fetch,
		timeout:        s.timeout,
		searchDebounce: s.searchDebounce,
		filterDebounce: s.filterDebounce,
		logger:         s.logger,
		observers:      observers,
		params:         params,
		pendingSearch:  params.Search,
		state:          State[T]{Status: StatusIdle, Params: params.Clone()},
	}
}

// State returns the current snapshot.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	st.Params = st.Params.Clone()
	return st
}

// Mount starts the first fetch. ctx bounds the controller's whole lifetime.
// Calling Mount again, or after Close, does nothing.
func (c *Controller[T]) Mount(ctx context.Context) {
	c.mu.Lock()
	if c.mounted || c.closed {
		c.mu.Unlock()
		return
	}
	c.mounted = true
	c.base, c.baseCancel = context.WithCancel(ctx)
	c.dispatchLocked(TriggerMount)
}

// SetLanguage switches the display language and re-fetches immediately.
func (c *Controller[T]) SetLanguage(lang i18n.Language) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.params.Lang = lang
	if !c.mounted {
		c.mu.Unlock()
		return
	}
	c.dispatchLocked(TriggerLanguage)
}

// Retry re-issues the last request with unchanged parameters.
func (c *Controller[T]) Retry() {
	c.mu.Lock()
	if c.closed || !c.mounted {
		c.mu.Unlock()
		return
	}
	c.dispatchLocked(TriggerRetry)
}

// SetFilter changes one query parameter. An empty value removes it.
func (c *Controller[T]) SetFilter(key, value string) {
	c.mu.Lock()
	if c.closed || key == "" {
		c.mu.Unlock()
		return
	}
	if c.pendingFilters == nil {
		c.pendingFilters = make(map[string]string)
	}
	c.pendingFilters[key] = value
	if !c.mounted {
		c.applyFiltersLocked()
		c.mu.Unlock()
		return
	}
	if c.filterDebounce <= 0 {
		c.applyFiltersLocked()
		c.dispatchLocked(TriggerFilter)
		return
	}
	c.filterGen++
	gen := c.filterGen
	if c.filterTimer != nil {
		c.filterTimer.Stop()
	}
	c.filterTimer = time.AfterFunc(c.filterDebounce, func() { c.fireFilter(gen) })
	c.mu.Unlock()
}

// Search records a keystroke. Only the last term within the debounce window
// is dispatched.
func (c *Controller[T]) Search(term string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pendingSearch = term
	if !c.mounted {
		c.params.Search = term
		c.mu.Unlock()
		return
	}
	if c.searchDebounce <= 0 {
		c.params.Search = term
		c.dispatchLocked(TriggerSearch)
		return
	}
	c.searchGen++
	gen := c.searchGen
	if c.searchTimer != nil {
		c.searchTimer.Stop()
	}
	c.searchTimer = time.AfterFunc(c.searchDebounce, func() { c.fireSearch(gen) })
	c.mu.Unlock()
}

// Close cancels in-flight work and pending debounces. Later results and
// triggers are discarded.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.searchGen++
	c.filterGen++
	if c.searchTimer != nil {
		c.searchTimer.Stop()
	}
	if c.filterTimer != nil {
		c.filterTimer.Stop()
	}
	if c.inflight != nil {
		c.inflight()
		c.inflight = nil
	}
	if c.baseCancel != nil {
		c.baseCancel()
	}
}

func (c *Controller[T]) fireSearch(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.searchGen {
		c.mu.Unlock()
		return
	}
	c.params.Search = c.pendingSearch
	c.dispatchLocked(TriggerSearch)
}

func (c *Controller[T]) fireFilter(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.filterGen {
		c.mu.Unlock()
		return
	}
	c.applyFiltersLocked()
	c.dispatchLocked(TriggerFilter)
}

func (c *Controller[T]) applyFiltersLocked() {
	if len(c.pendingFilters) == 0 {
		return
	}
	if c.params.Query == nil {
		c.params.Query = make(url.Values, len(c.pendingFilters))
	}
	for k, v := range c.pendingFilters {
		if v == "" {
			c.params.Query.Del(k)
			continue
		}
		c.params.Query.Set(k, v)
	}
	c.pendingFilters = nil
}

// dispatchLocked supersedes any in-flight request and starts a new one.
// It must be called with c.mu held and releases it.
func (c *Controller[T]) dispatchLocked(trigger Trigger) {
	if c.inflight != nil {
		c.inflight()
	}
	c.seq++
	seq := c.seq
	params := c.params.Clone()
	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	c.inflight = cancel

	loading := State[T]{
		Status:  StatusLoading,
		Data:    c.state.Data,
		Seq:     seq,
		Trigger: trigger,
		Params:  params,
	}
	go c.run(ctx, cancel, seq, trigger, params)
	c.commitLocked(loading)
}

func (c *Controller[T]) run(ctx context.Context, cancel context.CancelFunc, seq uint64, trigger Trigger, params Params) {
	defer cancel()
	data, err := c.fetch(ctx, params.Clone())
	if err != nil {
		err = normalizeError(ctx, c.timeout, err)
	}

	c.mu.Lock()
	if c.closed || seq != c.seq || c.base.Err() != nil {
		c.mu.Unlock()
		c.logger.Debug("loadstate: discarded stale result",
			zap.Uint64("seq", seq),
			zap.String("trigger", string(trigger)),
		)
		return
	}
	c.inflight = nil

	next := State[T]{Seq: seq, Trigger: trigger, Params: params}
	if err != nil {
		next.Status = StatusError
		next.Err = err
		next.Message = Message(err)
		c.logger.Warn("loadstate: load failed",
			zap.Uint64("seq", seq),
			zap.String("trigger", string(trigger)),
			zap.String("lang", params.Lang.String()),
			zap.Error(err),
		)
	} else {
		next.Status = StatusSuccess
		next.Data = data
	}
	c.commitLocked(next)
}

// commitLocked publishes st and delivers queued states to observers in commit
// order. It must be called with c.mu held and releases it.
func (c *Controller[T]) commitLocked(st State[T]) {
	c.state = st
	if len(c.observers) == 0 {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, st)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()
		for _, s := range batch {
			for _, fn := range c.observers {
				fn(s)
			}
		}
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func normalizeError(ctx context.Context, limit time.Duration, err error) error {
	var timeoutErr *cms.TimeoutError
	if errors.As(err, &timeoutErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &cms.TimeoutError{After: limit}
	}
	return err
}

// Settle runs a single fetch to completion and returns its terminal state.
func Settle[T any](ctx context.Context, params Params, fetch FetchFunc[T]) State[T] {
	reqCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	params = params.Clone()
	st := State[T]{Seq: 1, Trigger: TriggerMount, Params: params}
	data, err := fetch(reqCtx, params.Clone())
	if err != nil {
		err = normalizeError(reqCtx, DefaultTimeout, err)
		st.Status = StatusError
		st.Err = err
		st.Message = Message(err)
		return st
	}
	st.Status = StatusSuccess
	st.Data = data
	return st
}
