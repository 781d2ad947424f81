package dashboard

import (
	"embed"
	"time"

	"github.com/a-h/templ"

	"finitefield.org/meshfield-site/internal/site/templates/layout"
)

//go:embed dashboard.html
var files embed.FS

var dashboardTemplate = layout.Parse(files, "dashboard.html")

// PageData is the view model for the admin landing page.
type PageData struct {
	layout.Chrome

	Email      string
	SignedInAt time.Time
	LogoutPath string
}

// Page renders the admin dashboard.
func Page(data PageData) templ.Component {
	return layout.Component(dashboardTemplate, data)
}
