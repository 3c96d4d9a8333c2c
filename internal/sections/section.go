// Package sections maps content API records into localized view models for
// each area of the university site.
package sections

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"finitefield.org/university-web/internal/cms"
	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/loadstate"
	"finitefield.org/university-web/internal/localize"
)

var (
	// ErrUnknownSection is returned when a catalog lookup misses.
	ErrUnknownSection = errors.New("sections: unknown section")
	// ErrNotFound is returned when an entity has no displayable content.
	ErrNotFound = errors.New("sections: item not found")
	// ErrInvalidID is returned for empty or path-like identifiers.
	ErrInvalidID = errors.New("sections: invalid id")
)

// Fetcher is the subset of *cms.Client the sections need.
type Fetcher interface {
	FetchCollection(ctx context.Context, endpointPath string, opts cms.FetchOptions) ([]localize.Record, error)
	FetchEntity(ctx context.Context, endpointPath string, opts cms.FetchOptions) (localize.Record, error)
}

// Section pairs an API endpoint with the mapper for its records. Map reports
// false for records without a display title.
type Section[T any] struct {
	Name string
	Path string
	Map  func(localize.Resolver, localize.Record) (T, bool)
}

// List fetches and maps the collection, dropping records without content.
func (s Section[T]) List(ctx context.Context, f Fetcher, lang i18n.Language, query url.Values) ([]T, error) {
	records, err := f.FetchCollection(ctx, s.Path, cms.FetchOptions{Lang: lang, Query: query})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.Name, err)
	}
	r := localize.For(lang)
	items := make([]T, 0, len(records))
	for _, rec := range records {
		item, ok := s.Map(r, rec)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Get fetches and maps a single record by id.
func (s Section[T]) Get(ctx context.Context, f Fetcher, lang i18n.Language, id string) (T, error) {
	var zero T
	path, err := s.EntityPath(id)
	if err != nil {
		return zero, err
	}
	rec, err := f.FetchEntity(ctx, path, cms.FetchOptions{Lang: lang})
	if err != nil {
		return zero, fmt.Errorf("get %s %s: %w", s.Name, id, err)
	}
	item, ok := s.Map(localize.For(lang), rec)
	if !ok {
		return zero, fmt.Errorf("get %s %s: %w", s.Name, id, ErrNotFound)
	}
	return item, nil
}

// EntityPath returns the detail endpoint for id, keeping the trailing slash.
func (s Section[T]) EntityPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/?#") || id == "." || id == ".." {
		return "", ErrInvalidID
	}
	return strings.TrimRight(s.Path, "/") + "/" + url.PathEscape(id) + "/", nil
}

// Loader adapts List to a load-state fetch.
func (s Section[T]) Loader(f Fetcher) loadstate.FetchFunc[[]T] {
	return func(ctx context.Context, p loadstate.Params) ([]T, error) {
		return s.List(ctx, f, p.Lang, p.Values())
	}
}

// EntityLoader adapts Get to a load-state fetch.
func (s Section[T]) EntityLoader(f Fetcher, id string) loadstate.FetchFunc[T] {
	return func(ctx context.Context, p loadstate.Params) (T, error) {
		return s.Get(ctx, f, p.Lang, id)
	}
}

// SectionName implements Entry.
func (s Section[T]) SectionName() string { return s.Name }

// ListAny implements Entry.
func (s Section[T]) ListAny(ctx context.Context, f Fetcher, lang i18n.Language, query url.Values) (any, error) {
	return s.List(ctx, f, lang, query)
}

// GetAny implements Entry.
func (s Section[T]) GetAny(ctx context.Context, f Fetcher, lang i18n.Language, id string) (any, error) {
	return s.EntityLoader(f, id)(ctx, loadstate.Params{Lang: lang})
}

// SettleAny implements Entry.
func (s Section[T]) SettleAny(ctx context.Context, f Fetcher, params loadstate.Params) any {
	return loadstate.Settle(ctx, params, s.Loader(f))
}
