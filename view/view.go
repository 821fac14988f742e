// Package view renders the few server-side HTML pages (newsletter
// confirmation and unsubscribe landings) from embedded templates.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/envie2sortir/envie2sortir/auth"
	"github.com/envie2sortir/envie2sortir/i18n"
)

//go:embed templates/*.html
var embedded embed.FS

var (
	mu       sync.RWMutex
	source   fs.FS = embedded
	cache          = map[string]*template.Template{}
	siteURL        = "/"
	langFunc       = func(r *http.Request) string { return i18n.LangFromContext(r.Context()) }
)

// SetSiteURL sets the link target of the "back to home" buttons.
func SetSiteURL(u string) {
	if u == "" {
		return
	}
	mu.Lock()
	siteURL = u
	mu.Unlock()
}

// SetLangResolver overrides how the page language is picked.
func SetLangResolver(f func(*http.Request) string) {
	if f != nil {
		mu.Lock()
		langFunc = f
		mu.Unlock()
	}
}

// SetFS swaps the template source. Tests use it with fstest.MapFS.
func SetFS(f fs.FS) {
	mu.Lock()
	source = f
	cache = map[string]*template.Template{}
	mu.Unlock()
}

// Funcs are bound per request; parse-time placeholders share the names.
func Funcs(r *http.Request) template.FuncMap {
	mu.RLock()
	lang := langFunc(r)
	home := siteURL
	mu.RUnlock()
	return template.FuncMap{
		"t":       func(code string) string { return i18n.T(lang, code) },
		"lang":    func() string { return lang },
		"siteURL": func() string { return home },
	}
}

func load(name string) (*template.Template, error) {
	mu.RLock()
	t, ok := cache[name]
	src := source
	mu.RUnlock()
	if ok {
		return t, nil
	}
	placeholders := Funcs(&http.Request{})
	t, err := template.New("layout.html").Funcs(placeholders).ParseFS(src, "templates/layout.html", "templates/"+name)
	if err != nil {
		return nil, fmt.Errorf("view: parse %s: %w", name, err)
	}
	mu.Lock()
	cache[name] = t
	mu.Unlock()
	return t, nil
}

// Render executes templates/<name> inside the shared layout.
func Render(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) error {
	base, err := load(name)
	if err != nil {
		return err
	}
	t, err := base.Clone()
	if err != nil {
		return err
	}
	t.Funcs(Funcs(r))

	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data["Year"]; !ok {
		data["Year"] = time.Now().Year()
	}
	if _, ok := data["IsLoggedIn"]; !ok {
		_, data["IsLoggedIn"] = auth.UserIDFromContext(r.Context())
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}
