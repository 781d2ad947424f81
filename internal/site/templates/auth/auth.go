package auth

import (
	"embed"

	"github.com/a-h/templ"

	"finitefield.org/meshfield-site/internal/site/templates/layout"
)

//go:embed login.html
var files embed.FS

var loginTemplate = layout.Parse(files, "login.html")

// LoginPageData encapsulates rendering state for the admin login screen.
type LoginPageData struct {
	layout.Chrome

	Email      string
	Message    string
	Error      string
	Next       string
	LoginPath  string
	Submitting bool
}

// LoginPage renders the admin sign-in form.
func LoginPage(data LoginPageData) templ.Component {
	return layout.Component(loginTemplate, data)
}
