package middleware

import (
	"net/http"

	"github.com/envie2sortir/envie2sortir/i18n"
)

const langCookie = "lang"

// Lang resolves the request language (query > cookie > Accept-Language)
// into the context. A ?lang= choice is kept in a cookie for 30 days.
func Lang(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lang := ""
		if c, err := r.Cookie(langCookie); err == nil && i18n.Supported(c.Value) {
			lang = c.Value
		}
		if ql := r.URL.Query().Get("lang"); i18n.Supported(ql) {
			lang = ql
			http.SetCookie(w, &http.Cookie{Name: langCookie, Value: ql, Path: "/", MaxAge: 86400 * 30, SameSite: http.SameSiteLaxMode})
		}
		if lang == "" {
			lang = i18n.DetectLanguage(r.Header.Get("Accept-Language"))
		}
		next.ServeHTTP(w, r.WithContext(i18n.WithLang(r.Context(), lang)))
	})
}
