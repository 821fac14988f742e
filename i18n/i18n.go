// Package i18n holds the fr/en message catalog used by HTML pages and
// validation messages.
package i18n

import (
	"context"
	"strings"
)

const DefaultLang = "fr"

type langKey struct{}

var catalog = map[string]map[string]string{
	"fr": {
		"required":                 "Requis",
		"invalid_email":            "Adresse e-mail invalide",
		"invalid_siret":            "Numéro SIRET invalide",
		"invalid_slug":             "Identifiant invalide",
		"invalid_phone":            "Numéro de téléphone invalide",
		"invalid_url":              "URL invalide",
		"invalid_time":             "Heure invalide (HH:MM)",
		"too_short":                "Trop court",
		"too_long":                 "Trop long",
		"out_of_range":             "Hors limites",
		"must_be_positive":         "Doit être positif",
		"unknown_value":            "Valeur inconnue",
		"newsletter.title":         "Newsletter Envie2Sortir",
		"newsletter.confirmed":     "Merci ! Votre inscription à la newsletter est confirmée.",
		"newsletter.unsubscribed":  "Vous êtes désinscrit(e). Vous ne recevrez plus nos e-mails.",
		"newsletter.invalid_token": "Ce lien n'est plus valide.",
		"newsletter.back":          "Retour à l'accueil",
	},
	"en": {
		"required":                 "Required",
		"invalid_email":            "Invalid email address",
		"invalid_siret":            "Invalid SIRET number",
		"invalid_slug":             "Invalid identifier",
		"invalid_phone":            "Invalid phone number",
		"invalid_url":              "Invalid URL",
		"invalid_time":             "Invalid time (HH:MM)",
		"too_short":                "Too short",
		"too_long":                 "Too long",
		"out_of_range":             "Out of range",
		"must_be_positive":         "Must be positive",
		"unknown_value":            "Unknown value",
		"newsletter.title":         "Envie2Sortir newsletter",
		"newsletter.confirmed":     "Thanks! Your newsletter subscription is confirmed.",
		"newsletter.unsubscribed":  "You have been unsubscribed.",
		"newsletter.invalid_token": "This link is no longer valid.",
		"newsletter.back":          "Back to home",
	},
}

// Supported reports whether lang has a catalog.
func Supported(lang string) bool {
	_, ok := catalog[lang]
	return ok
}

// T translates code, falling back to French and then to the code itself.
func T(lang, code string) string {
	if m, ok := catalog[lang]; ok {
		if s, ok := m[code]; ok {
			return s
		}
	}
	if s, ok := catalog[DefaultLang][code]; ok {
		return s
	}
	return code
}

// DetectLanguage picks the first supported language of an Accept-Language
// header. Quality values are ignored; browsers already send them in order.
func DetectLanguage(acceptLanguage string) string {
	for _, part := range strings.Split(acceptLanguage, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		if tag == "" {
			continue
		}
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if Supported(base) {
			return base
		}
	}
	return DefaultLang
}

// WithLang stores the request language in ctx.
func WithLang(ctx context.Context, lang string) context.Context {
	if !Supported(lang) {
		lang = DefaultLang
	}
	return context.WithValue(ctx, langKey{}, lang)
}

// LangFromContext returns the request language, defaulting to French.
func LangFromContext(ctx context.Context) string {
	if lang, ok := ctx.Value(langKey{}).(string); ok {
		return lang
	}
	return DefaultLang
}

// Messages translates every value of a violations-like map.
func Messages(lang string, codes map[string]string) map[string]string {
	out := make(map[string]string, len(codes))
	for field, code := range codes {
		out[field] = T(lang, code)
	}
	return out
}
