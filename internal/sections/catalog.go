package sections

import (
	"context"
	"net/url"
	"strings"

	"finitefield.org/university-web/internal/i18n"
	"finitefield.org/university-web/internal/loadstate"
)

// Entry is a type-erased Section, for callers that dispatch by name.
type Entry interface {
	SectionName() string
	ListAny(ctx context.Context, f Fetcher, lang i18n.Language, query url.Values) (any, error)
	GetAny(ctx context.Context, f Fetcher, lang i18n.Language, id string) (any, error)
	// SettleAny runs one list load and returns its terminal loadstate.State.
	SettleAny(ctx context.Context, f Fetcher, params loadstate.Params) any
}

// Catalog is an ordered registry of sections.
type Catalog struct {
	order   []string
	entries map[string]Entry
}

// NewCatalog registers entries in order. Later duplicates replace earlier ones.
func NewCatalog(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		name := strings.ToLower(e.SectionName())
		if _, exists := c.entries[name]; !exists {
			c.order = append(c.order, name)
		}
		c.entries[name] = e
	}
	return c
}

// Default returns the catalog of every public section.
func Default() *Catalog {
	return NewCatalog(News, Programs, Faculty, Documents, FAQs)
}

// Names lists section names in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Lookup returns the section called name.
func (c *Catalog) Lookup(name string) (Entry, error) {
	e, ok := c.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, ErrUnknownSection
	}
	return e, nil
}

// ListAny lists section name.
func (c *Catalog) ListAny(ctx context.Context, f Fetcher, name string, lang i18n.Language, query url.Values) (any, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.ListAny(ctx, f, lang, query)
}

// GetAny fetches one item of section name.
func (c *Catalog) GetAny(ctx context.Context, f Fetcher, name string, lang i18n.Language, id string) (any, error) {
	e, err := c.Lookup(name)
	if err != nil {
		return nil, err
	}
	return e.GetAny(ctx, f, lang, id)
}
