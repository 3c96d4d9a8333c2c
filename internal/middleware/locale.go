package middleware

import (
	"context"
	"net/http"
	"strings"

	"finitefield.org/university-web/internal/i18n"
)

// LangCookie stores the visitor's explicit language choice.
const LangCookie = "lang"

type ctxKey int

const ctxKeyLang ctxKey = iota

// Locale resolves the display language as ?lang > cookie > Accept-Language >
// def, stores it on the request context and surfaces Content-Language.
// An explicit ?lang is remembered in the cookie.
func Locale(def i18n.Language) func(http.Handler) http.Handler {
	if !def.IsValid() {
		def = i18n.Default
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lang := def
			if q := strings.TrimSpace(r.URL.Query().Get("lang")); q != "" {
				if l, ok := i18n.Normalize(q); ok {
					lang = l
					http.SetCookie(w, &http.Cookie{
						Name:     LangCookie,
						Value:    l.String(),
						Path:     "/",
						MaxAge:   365 * 24 * 60 * 60,
						HttpOnly: true,
						SameSite: http.SameSiteLaxMode,
					})
				} else {
					lang = fromRequest(r, def)
				}
			} else {
				lang = fromRequest(r, def)
			}
			w.Header().Set("Content-Language", lang.String())
			next.ServeHTTP(w, r.WithContext(WithLanguage(r.Context(), lang)))
		})
	}
}

func fromRequest(r *http.Request, def i18n.Language) i18n.Language {
	if c, err := r.Cookie(LangCookie); err == nil {
		if l, ok := i18n.Normalize(c.Value); ok {
			return l
		}
	}
	if l, ok := i18n.FromAcceptLanguage(r.Header.Get("Accept-Language")); ok {
		return l
	}
	return def
}

// VaryLocale marks responses as varying on the language inputs.
func VaryLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Language")
		w.Header().Add("Vary", "Cookie")
		next.ServeHTTP(w, r)
	})
}

// WithLanguage stores lang on ctx.
func WithLanguage(ctx context.Context, lang i18n.Language) context.Context {
	return context.WithValue(ctx, ctxKeyLang, lang)
}

// Language returns the request language, or i18n.Default outside Locale.
func Language(ctx context.Context) i18n.Language {
	if l, ok := ctx.Value(ctxKeyLang).(i18n.Language); ok && l.IsValid() {
		return l
	}
	return i18n.Default
}

// Lang is Language for a request.
func Lang(r *http.Request) i18n.Language {
	return Language(r.Context())
}
