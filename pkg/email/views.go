package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed views
var viewFS embed.FS

const viewLayout = "views/mail/layout.html"

// Recipient is the user a mail view is addressed to.
type Recipient struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ViewData is the data available inside every mail view.
type ViewData struct {
	AppName  string
	AppURL   string
	User     Recipient
	Email    string
	Password string
	Token    string
}

// Views renders the embedded mail views by name, for example "mail/confirm".
type Views struct {
	templates map[string]*template.Template
}

// NewViews parses every embedded view together with the shared layout.
func NewViews() (*Views, error) {
	names, err := fs.Glob(viewFS, "views/mail/*.html")
	if err != nil {
		return nil, err
	}
	templates := make(map[string]*template.Template, len(names))
	for _, file := range names {
		if file == viewLayout {
			continue
		}
		tmpl, err := template.New(path.Base(file)).Option("missingkey=error").ParseFS(viewFS, viewLayout, file)
		if err != nil {
			return nil, fmt.Errorf("parse mail view %s: %w", file, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(file, "views/"), ".html")
		templates[name] = tmpl
	}
	return &Views{templates: templates}, nil
}

// Names returns the available view names, sorted.
func (v *Views) Names() []string {
	names := make([]string, 0, len(v.templates))
	for name := range v.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named view.
func (v *Views) Render(name string, data ViewData) (string, error) {
	tmpl, ok := v.templates[strings.Trim(strings.TrimSpace(name), "/")]
	if !ok {
		return "", fmt.Errorf("unknown mail view %q", name)
	}
	var out bytes.Buffer
	if err := tmpl.ExecuteTemplate(&out, path.Base(tmpl.Name()), data); err != nil {
		return "", fmt.Errorf("render mail view %s: %w", name, err)
	}
	return out.String(), nil
}
