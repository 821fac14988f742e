package i18n

import (
	"context"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	if DetectLanguage("en-US,en;q=0.9") != "en" {
		t.Fatalf("expected en")
	}
	if DetectLanguage("EN-gb") != "en" {
		t.Fatalf("expected en for EN-gb")
	}
	if DetectLanguage("fr-FR,fr;q=0.8") != "fr" {
		t.Fatalf("expected fr fallback")
	}
	if DetectLanguage("") != "fr" {
		t.Fatalf("expected default fr")
	}
}

func TestTranslations(t *testing.T) {
	if T("en", "required") != "Required" {
		t.Fatalf("expected Required")
	}
	if T("fr", "required") != "Requis" {
		t.Fatalf("expected Requis")
	}
	// unknown code -> fallback to code
	if T("en", "__nope__") != "__nope__" {
		t.Fatalf("expected fallback to code")
	}
	// unknown language -> fallback to fr translation if exists
	if T("es", "required") != "Requis" {
		t.Fatalf("expected fr fallback for es lang")
	}
}

func TestWithLang(t *testing.T) {
	ctx := WithLang(context.Background(), "en")
	if LangFromContext(ctx) != "en" {
		t.Fatalf("expected en from context")
	}
	ctx = WithLang(context.Background(), "de")
	if LangFromContext(ctx) != "fr" {
		t.Fatalf("unsupported language should fall back to fr")
	}
	if LangFromContext(context.Background()) != "fr" {
		t.Fatalf("expected fr default")
	}
}

func TestMessages(t *testing.T) {
	got := Messages("en", map[string]string{"email": "invalid_email", "siret": "invalid_siret"})
	if got["email"] != "Invalid email address" || got["siret"] != "Invalid SIRET number" {
		t.Fatalf("unexpected messages: %v", got)
	}
}
