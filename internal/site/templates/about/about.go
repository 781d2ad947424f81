package about

import (
	"embed"

	"github.com/a-h/templ"

	"finitefield.org/meshfield-site/internal/site/content"
	"finitefield.org/meshfield-site/internal/site/templates/layout"
)

//go:embed about.html
var files embed.FS

var aboutTemplate = layout.Parse(files, "about.html")

// PageData is the view model for the About page.
type PageData struct {
	layout.Chrome

	Page content.Page
}

// Page renders the About page.
func Page(data PageData) templ.Component {
	return layout.Component(aboutTemplate, data)
}
