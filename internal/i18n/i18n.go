package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embeddedLocales embed.FS

// Bundle holds UI message catalogs keyed by language.
type Bundle struct {
	dict     map[Language]map[string]string
	fallback Language
}

// Load reads "<lang>.yaml" catalogs from fsys. The fallback catalog is required;
// the others may be missing.
func Load(fsys fs.FS, dir string, fallback Language) (*Bundle, error) {
	if !fallback.IsValid() {
		fallback = Default
	}
	b := &Bundle{
		dict:     map[Language]map[string]string{},
		fallback: fallback,
	}
	for _, l := range supported {
		raw, err := fs.ReadFile(fsys, path.Join(dir, string(l)+".yaml"))
		if err != nil {
			// allow missing file for non-default locales
			if l == fallback {
				return nil, fmt.Errorf("load locale %s: %w", l, err)
			}
			continue
		}
		var m map[string]string
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", l, err)
		}
		b.dict[l] = m
	}
	if _, ok := b.dict[fallback]; !ok {
		return nil, fmt.Errorf("fallback locale %s not loaded", fallback)
	}
	return b, nil
}

// LoadEmbedded loads the catalogs compiled into the binary.
func LoadEmbedded(fallback Language) (*Bundle, error) {
	return Load(embeddedLocales, "locales", fallback)
}

// MustLoadEmbedded is LoadEmbedded for package initialisation; it panics on error.
func MustLoadEmbedded(fallback Language) *Bundle {
	b, err := LoadEmbedded(fallback)
	if err != nil {
		panic(err)
	}
	return b
}

// T returns translation for key in lang, falling back to the fallback catalog and finally key.
func (b *Bundle) T(lang Language, key string) string {
	if b == nil {
		return key
	}
	if m, ok := b.dict[lang]; ok {
		if v, ok := m[key]; ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	if m, ok := b.dict[b.fallback]; ok {
		if v, ok := m[key]; ok {
			return v
		}
	}
	return key
}

// Tf formats the translation for key with args.
func (b *Bundle) Tf(lang Language, key string, args ...any) string {
	return fmt.Sprintf(b.T(lang, key), args...)
}

// Option is a selectable language for UI surfaces.
type Option struct {
	Code   Language `json:"code"`
	Label  string   `json:"label"`
	Native string   `json:"native"`
	Active bool     `json:"active"`
}

// Options lists supported languages labelled in the active language.
func (b *Bundle) Options(active Language) []Option {
	out := make([]Option, 0, len(supported))
	for _, l := range supported {
		out = append(out, Option{
			Code:   l,
			Label:  b.T(active, "language."+string(l)),
			Native: l.NativeName(),
			Active: l == active,
		})
	}
	return out
}
