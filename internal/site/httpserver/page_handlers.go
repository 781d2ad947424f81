package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"finitefield.org/meshfield-site/internal/site/content"
	custommw "finitefield.org/meshfield-site/internal/site/httpserver/middleware"
	"finitefield.org/meshfield-site/internal/site/observability"
	abouttpl "finitefield.org/meshfield-site/internal/site/templates/about"
	dashboardtpl "finitefield.org/meshfield-site/internal/site/templates/dashboard"
	"finitefield.org/meshfield-site/internal/site/templates/layout"
)

const (
	aboutPath = "/about"
	aboutSlug = "about"
)

type pageHandlers struct {
	pages      PageSource
	logoutPath string
}

func newPageHandlers(pages PageSource, logoutPath string) *pageHandlers {
	return &pageHandlers{pages: pages, logoutPath: logoutPath}
}

func (h *pageHandlers) Home(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, aboutPath, http.StatusFound)
}

func (h *pageHandlers) About(w http.ResponseWriter, r *http.Request) {
	lang := strings.TrimSpace(r.URL.Query().Get("lang"))
	if lang == "" {
		lang = h.pages.ResolveLang(r.Header.Get("Accept-Language"))
	}

	page, err := h.pages.Page(r.Context(), aboutSlug, lang)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		observability.FromContext(r.Context()).Error("about page load failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Language", page.Lang)
	w.Header().Add("Vary", "Accept-Language")
	chrome := layout.NewChrome(r.Context(), page.Title, page.Lang)
	chrome.Description = page.Summary
	data := abouttpl.PageData{Chrome: chrome, Page: page}
	templ.Handler(abouttpl.Page(data)).ServeHTTP(w, r)
}

// ToggleTheme stores the requested theme (or flips the current one) in the
// session and sends the visitor back to the page they came from.
func (h *pageHandlers) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	theme := custommw.NormalizeTheme(r.PostFormValue("theme"))
	if theme == "" {
		theme = custommw.ToggleTheme(custommw.ThemeFromContext(r.Context()))
	}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		sess.SetTheme(theme)
	}

	target := sanitizeNextTarget("/", r.PostFormValue("return_to"))
	if target == "" {
		target = aboutPath
	}
	if custommw.IsHTMXRequest(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *pageHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := custommw.AdminFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	data := dashboardtpl.PageData{
		Chrome:     layout.NewChrome(r.Context(), "Dashboard", "en"),
		Email:      user.Email,
		SignedInAt: user.SignedInAt,
		LogoutPath: h.logoutPath,
	}
	templ.Handler(dashboardtpl.Page(data)).ServeHTTP(w, r)
}
