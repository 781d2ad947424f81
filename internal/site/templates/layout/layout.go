// Package layout provides the shared page chrome and the adapter that exposes
// html/template pages as templ components.
package layout

import (
	"context"
	"embed"
	"html/template"
	"io"
	"io/fs"

	"github.com/a-h/templ"

	"finitefield.org/meshfield-site/internal/site/httpserver/middleware"
	"finitefield.org/meshfield-site/internal/site/nav"
)

//go:embed base.html
var baseFS embed.FS

// Chrome carries the data every page layout needs.
type Chrome struct {
	Title       string
	Description string
	SiteName    string
	Lang        string
	Theme       string
	CSRFToken   string
	CSRFField   string
	CurrentPath string
	Nav         []nav.RenderedItem
	Crumbs      []nav.Crumb
}

// NewChrome builds the chrome from request-scoped middleware values.
func NewChrome(ctx context.Context, title, lang string) Chrome {
	if lang == "" {
		lang = "en"
	}
	path := middleware.RequestPathFromContext(ctx)
	return Chrome{
		Title:       title,
		SiteName:    middleware.SiteNameFromContext(ctx),
		Lang:        lang,
		Theme:       middleware.ThemeFromContext(ctx),
		CSRFToken:   middleware.CSRFTokenFromContext(ctx),
		CSRFField:   middleware.CSRFFieldFromContext(ctx),
		CurrentPath: path,
		Nav:         nav.Build(path, lang),
		Crumbs:      nav.Breadcrumbs(path, lang),
	}
}

// TokenField is the form field name hidden CSRF inputs are posted under.
func (c Chrome) TokenField() string {
	if c.CSRFField == "" {
		return middleware.CSRFFormField
	}
	return c.CSRFField
}

// Parse combines the base layout with page templates matched in page.
// Page templates define a "content" block.
func Parse(page fs.FS, patterns ...string) *template.Template {
	t := template.Must(template.New("base").ParseFS(baseFS, "base.html"))
	return template.Must(t.ParseFS(page, patterns...))
}

// Component renders the "base" template with data.
func Component(t *template.Template, data any) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return t.ExecuteTemplate(w, "base", data)
	})
}
