// Package loadstate drives the idle → loading → success | error lifecycle of
// a remote fetch and keeps late responses from overwriting newer ones.
package loadstate

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
)

// Status is the lifecycle phase of a load.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

var statusNames = [...]string{"idle", "loading", "success", "error"}

// String returns the lower-case status name.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// MarshalText renders the status as its name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger names what caused a dispatch.
type Trigger string

const (
	TriggerMount    Trigger = "mount"
	TriggerLanguage Trigger = "language"
	TriggerRetry    Trigger = "retry"
	TriggerFilter   Trigger = "filter"
	TriggerSearch   Trigger = "search"
)

// Params is everything a fetch depends on.
type Params struct {
	Lang   i18n.Language
	Query  url.Values
	Search string
}

// Clone returns a deep copy so callers cannot mutate in-flight parameters.
func (p Params) Clone() Params {
	out := Params{Lang: p.Lang, Search: p.Search}
	if p.Query != nil {
		out.Query = make(url.Values, len(p.Query))
		for k, vs := range p.Query {
			out.Query[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// Values merges Query and Search into request query parameters.
func (p Params) Values() url.Values {
	out := p.Clone().Query
	if out == nil {
		out = url.Values{}
	}
	if term := strings.TrimSpace(p.Search); term != "" {
		out.Set("search", term)
	}
	return out
}

// State is an immutable snapshot of a load.
type State[T any] struct {
	Status  Status  `json:"status"`
	Data    T       `json:"data,omitempty"`
	Err     error   `json:"-"`
	Message string  `json:"message,omitempty"`
	Seq     uint64  `json:"-"`
	Trigger Trigger `json:"-"`
	Params  Params  `json:"-"`
}

// Loading reports whether a request is in flight.
func (s State[T]) Loading() bool { return s.Status == StatusLoading }

// Message renders err as a short, stable, English description.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var (
		netErr       *cms.NetworkError
		timeoutErr   *cms.TimeoutError
		transportErr *cms.TransportError
		malformedErr *cms.MalformedResponseError
	)
	switch {
	case errors.As(err, &netErr):
		return netErr.Error()
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.As(err, &transportErr):
		return "service unreachable"
	case errors.As(err, &malformedErr):
		return "unexpected response"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	}
	return err.Error()
}

// LocalizedMessage is Message rendered from the UI catalog.
func LocalizedMessage(b *i18n.Bundle, lang i18n.Language, err error) string {
	if err == nil {
		return ""
	}
	var (
		netErr       *cms.NetworkError
		timeoutErr   *cms.TimeoutError
		transportErr *cms.TransportError
		malformedErr *cms.MalformedResponseError
	)
	switch {
	case errors.As(err, &netErr):
		if netErr.NotFound() {
			return b.T(lang, "error.not_found")
		}
		return b.Tf(lang, "error.network", netErr.Status)
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return b.T(lang, "error.timeout")
	case errors.As(err, &transportErr):
		return b.T(lang, "error.transport")
	case errors.As(err, &malformedErr):
		return b.T(lang, "error.malformed")
	}
	return b.T(lang, "error.internal")
}

// Localized returns a copy of s whose Message is rendered from the UI
// catalog. It returns any so type-erased callers can swap it in place.
func (s State[T]) Localized(b *i18n.Bundle, lang i18n.Language) any {
	if s.Err != nil {
		s.Message = LocalizedMessage(b, lang, s.Err)
	}
	return s
}
