// Package templates renders the map page and the HTML fragments pushed over SSE.
package templates

import (
	"html/template"
	"io/fs"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Patterns are the template globs parsed from the web filesystem.
var Patterns = []string{"templates/*.html", "templates/fragments/*.html"}

var funcMap = template.FuncMap{"dict": dict}

// dict builds a map from alternating keys and values so a fragment can take
// more than one argument. Non-string keys are skipped.
func dict(kv ...any) map[string]any {
	if len(kv)%2 != 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			m[key] = kv[i+1]
		}
	}
	return m
}

// Renderer holds the parsed page and fragment templates. It is safe for
// concurrent use and can be reloaded in place.
type Renderer struct {
	mu        sync.RWMutex
	templates *template.Template
}

// New parses the templates matching Patterns in fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func parse(fsys fs.FS) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, Patterns...)
	if err != nil {
		return nil, eris.Wrap(err, "templates: parse")
	}
	return tmpl, nil
}

// Render executes the named template. Nothing is returned on failure, so a
// half-rendered fragment never reaches a page.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	tmpl := r.templates
	r.mu.RUnlock()

	var sb strings.Builder
	if err := tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", eris.Wrapf(err, "templates: render %s", name)
	}
	return sb.String(), nil
}

// Reload re-parses templates, e.g. from os.DirFS during development.
func (r *Renderer) Reload(fsys fs.FS) error {
	tmpl, err := parse(fsys)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}
