package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Language is one of the content languages served by the university API.
type Language string

// Supported languages. Kyrgyz is served as "ky"; "kg" is accepted as an alias
// because the backend historically suffixes fields with both.
const (
	RU Language = "ru"
	EN Language = "en"
	KY Language = "ky"

	Default = RU
)

var supported = []Language{RU, EN, KY}

// Supported returns the supported languages in display order.
func Supported() []Language {
	out := make([]Language, len(supported))
	copy(out, supported)
	return out
}

// Normalize maps a free-form locale tag ("en-US", "KG", "ru_RU") to a supported
// language. The bool is false when the primary subtag is not supported.
func Normalize(tag string) (Language, bool) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "_", "-")
	primary, _, _ := strings.Cut(tag, "-")
	switch primary {
	case "ru", "rus":
		return RU, true
	case "en", "eng":
		return EN, true
	case "ky", "kg", "kir":
		return KY, true
	}
	return "", false
}

// IsValid reports whether l is one of the supported languages.
func (l Language) IsValid() bool {
	switch l {
	case RU, EN, KY:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (l Language) String() string { return string(l) }

// Suffixes returns the field suffixes that carry values for l, preferred first.
func (l Language) Suffixes() []string {
	switch l {
	case KY:
		return []string{"ky", "kg"}
	case RU, EN:
		return []string{string(l)}
	}
	return nil
}

// Tag returns the BCP 47 tag for l.
func (l Language) Tag() language.Tag {
	switch l {
	case EN:
		return language.English
	case KY:
		return language.Make("ky")
	default:
		return language.Russian
	}
}

// NativeName returns the language name written in the language itself.
func (l Language) NativeName() string {
	name := display.Self.Name(l.Tag())
	if name == "" {
		return string(l)
	}
	return name
}

// FromAcceptLanguage picks the best supported language from an Accept-Language
// header, honouring q-values. It returns false when nothing matches.
func FromAcceptLanguage(header string) (Language, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		// fall back to a plain left-to-right scan for headers x/text rejects
		for _, part := range strings.Split(header, ",") {
			candidate, _, _ := strings.Cut(strings.TrimSpace(part), ";")
			if lang, ok := Normalize(candidate); ok {
				return lang, true
			}
		}
		return "", false
	}
	for _, tag := range tags {
		base, _ := tag.Base()
		if lang, ok := Normalize(base.String()); ok {
			return lang, true
		}
	}
	return "", false
}
