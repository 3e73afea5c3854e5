package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

var LocaleKey = localeContextKey{}

// DefaultLanguages are the story languages offered when none are configured.
var DefaultLanguages = []string{"en", "id", "es", "fr", "de", "pt", "it", "nl", "ja"}

// I18N resolves the story language of a request from X-Locale, then
// Accept-Language, matched against the supported set. The first supported
// language is the fallback.
func I18N(defaultLocale string, supported []string) func(http.Handler) http.Handler {
	matcher, fallback := newLocaleMatcher(defaultLocale, supported)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			locale := detectLocale(r, matcher, fallback)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newLocaleMatcher(defaultLocale string, supported []string) (language.Matcher, string) {
	if len(supported) == 0 {
		supported = DefaultLanguages
	}
	fallback := normalizeLocale(defaultLocale, "en")
	tags := []language.Tag{language.Make(fallback)}
	for _, s := range supported {
		tag, err := language.Parse(s)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	return language.NewMatcher(tags), fallback
}

func detectLocale(r *http.Request, matcher language.Matcher, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Locale")); v != "" {
		if tag, err := language.Parse(v); err == nil {
			if locale, ok := match(matcher, tag); ok {
				return locale
			}
		}
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		if tags, _, err := language.ParseAcceptLanguage(v); err == nil && len(tags) > 0 {
			if locale, ok := match(matcher, tags...); ok {
				return locale
			}
		}
	}
	return fallback
}

func match(matcher language.Matcher, tags ...language.Tag) (string, bool) {
	tag, _, confidence := matcher.Match(tags...)
	if confidence == language.No {
		return "", false
	}
	base, _ := tag.Base()
	return base.String(), true
}

// normalizeLocale reduces a BCP 47 tag to its base language.
func normalizeLocale(locale, fallback string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return fallback
	}
	base, conf := tag.Base()
	if conf == language.No {
		return fallback
	}
	return base.String()
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}
