// Package localize resolves language-suffixed fields on API records.
//
// A record field such as "title" may be stored as title_ru, title_en,
// title_kg / title_ky and an unsuffixed title. Resolution picks the first
// non-empty variant in a fixed order and never fails: absent or malformed
// input resolves to the empty string.
package localize

import (
	"strconv"
	"strings"
	"time"

	"finitefield.org/university-web/internal/i18n"
)

// Record is a decoded JSON object as returned by the content API.
type Record map[string]any

// fallbackSuffixes is the canonical order tried after the requested language.
var fallbackSuffixes = []string{"en", "ru", "kg", "ky"}

// Resolve returns the display value of field for lang.
//
// Order: field_<lang>, field_en, field_ru, field_kg, field_ky, field, "".
// Unsupported tags skip the first step.
func Resolve(rec Record, field string, lang string) string {
	if len(rec) == 0 || field == "" {
		return ""
	}
	for _, key := range candidateKeys(field, lang) {
		if v := scalarString(rec[key]); v != "" {
			return v
		}
	}
	return ""
}

// ResolveList is Resolve for array-valued fields such as tags_ru.
func ResolveList(rec Record, field string, lang string) []string {
	if len(rec) == 0 || field == "" {
		return nil
	}
	for _, key := range candidateKeys(field, lang) {
		if v := stringList(rec[key]); len(v) > 0 {
			return v
		}
	}
	return nil
}

// ResolveFirst resolves each field in turn and returns the first non-empty value.
func ResolveFirst(rec Record, lang string, fields ...string) string {
	for _, field := range fields {
		if v := Resolve(rec, field, lang); v != "" {
			return v
		}
	}
	return ""
}

func candidateKeys(field, lang string) []string {
	keys := make([]string, 0, 8)
	seen := make(map[string]struct{}, 8)
	add := func(key string) {
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if l, ok := i18n.Normalize(lang); ok {
		for _, suffix := range l.Suffixes() {
			add(field + "_" + suffix)
		}
	}
	for _, suffix := range fallbackSuffixes {
		add(field + "_" + suffix)
	}
	add(field)
	return keys
}

func scalarString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return ""
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		out := make([]string, 0, len(val))
		for _, s := range val {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := scalarString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// String returns a non-localized attribute as a trimmed string.
func String(rec Record, key string) string {
	if rec == nil {
		return ""
	}
	return scalarString(rec[key])
}

// FirstString returns the first non-empty attribute among keys.
func FirstString(rec Record, keys ...string) string {
	for _, key := range keys {
		if v := String(rec, key); v != "" {
			return v
		}
	}
	return ""
}

// Int returns a numeric attribute, accepting numbers and numeric strings.
func Int(rec Record, key string) (int64, bool) {
	if rec == nil {
		return 0, false
	}
	switch val := rec[key].(type) {
	case float64:
		return int64(val), true
	case int:
		return int64(val), true
	case int64:
		return val, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		return n, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses a date attribute in any of the layouts the API emits.
func Time(rec Record, key string) time.Time {
	v := String(rec, key)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Resolver binds a language so call sites name it once.
type Resolver struct {
	Lang i18n.Language
}

// For returns a Resolver for lang.
func For(lang i18n.Language) Resolver {
	return Resolver{Lang: lang}
}

// Text resolves field.
func (r Resolver) Text(rec Record, field string) string {
	return Resolve(rec, field, string(r.Lang))
}

// First resolves the first non-empty field among fields.
func (r Resolver) First(rec Record, fields ...string) string {
	return ResolveFirst(rec, string(r.Lang), fields...)
}

// List resolves an array-valued field.
func (r Resolver) List(rec Record, field string) []string {
	return ResolveList(rec, field, string(r.Lang))
}
