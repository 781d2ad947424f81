package nav

import (
	"path"
	"strings"
)

// Item represents a top-level navigation item.
type Item struct {
	Path   string
	Labels map[string]string // by language
}

// RenderedItem is a view model for templates.
type RenderedItem struct {
	Href   string
	Label  string
	Active bool
}

// Crumb represents a breadcrumb entry.
type Crumb struct {
	Href   string
	Label  string
	Active bool
}

// Main is the primary navigation definition.
var Main = []Item{
	{Path: "/models", Labels: map[string]string{"en": "Models", "ja": "モデル"}},
	{Path: "/creators", Labels: map[string]string{"en": "Creators", "ja": "クリエイター"}},
	{Path: "/about", Labels: map[string]string{"en": "About", "ja": "概要"}},
}

var homeLabels = map[string]string{"en": "Home", "ja": "ホーム"}

// Build renders navigation items with active state given the current path.
func Build(currentPath, lang string) []RenderedItem {
	if currentPath == "" {
		currentPath = "/"
	}
	items := make([]RenderedItem, 0, len(Main))
	for _, it := range Main {
		items = append(items, RenderedItem{
			Href:   it.Path,
			Label:  label(it.Labels, lang),
			Active: isActive(it.Path, currentPath),
		})
	}
	return items
}

func isActive(itemPath, currentPath string) bool {
	if itemPath == "/" {
		return currentPath == "/"
	}
	return currentPath == itemPath || strings.HasPrefix(currentPath, itemPath+"/")
}

// Breadcrumbs builds breadcrumb entries from the current path, starting with Home.
// Known top-level sections use their nav label; deeper segments are prettified.
func Breadcrumbs(currentPath, lang string) []Crumb {
	if currentPath == "" {
		currentPath = "/"
	}
	crumbs := []Crumb{{Href: "/", Label: label(homeLabels, lang), Active: currentPath == "/"}}
	if currentPath == "/" {
		return crumbs
	}

	clean := path.Clean("/" + strings.TrimPrefix(currentPath, "/"))
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return crumbs
	}

	href := ""
	for i, part := range parts {
		href += "/" + part
		text := titleFromSegment(part)
		if i == 0 {
			for _, it := range Main {
				if it.Path == href {
					text = label(it.Labels, lang)
					break
				}
			}
		}
		crumbs = append(crumbs, Crumb{Href: href, Label: text, Active: i == len(parts)-1})
	}
	return crumbs
}

func label(labels map[string]string, lang string) string {
	if v, ok := labels[lang]; ok {
		return v
	}
	return labels["en"]
}

func titleFromSegment(seg string) string {
	if seg == "" {
		return seg
	}
	s := strings.NewReplacer("-", " ", "_", " ").Replace(seg)
	return strings.ToUpper(s[:1]) + s[1:]
}
