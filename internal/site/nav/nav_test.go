package nav

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildMarksActiveSection(t *testing.T) {
	items := Build("/about", "en")
	require.Len(t, items, len(Main))

	var active []string
	for _, it := range items {
		if it.Active {
			active = append(active, it.Href)
		}
	}
	require.Equal(t, []string{"/about"}, active)
	require.Equal(t, "About", items[2].Label)
}

func TestBuildPrefixBoundary(t *testing.T) {
	items := Build("/models/benchy-remix", "ja")
	require.True(t, items[0].Active)
	require.Equal(t, "モデル", items[0].Label)

	items = Build("/modelsx", "en")
	for _, it := range items {
		require.False(t, it.Active, it.Href)
	}
}

func TestBuildUnknownLanguageFallsBackToEnglish(t *testing.T) {
	items := Build("/", "fr")
	require.Equal(t, "Creators", items[1].Label)
}

func TestBreadcrumbs(t *testing.T) {
	crumbs := Breadcrumbs("/", "en")
	require.Equal(t, []Crumb{{Href: "/", Label: "Home", Active: true}}, crumbs)

	crumbs = Breadcrumbs("/about", "ja")
	require.Equal(t, []Crumb{
		{Href: "/", Label: "ホーム"},
		{Href: "/about", Label: "概要", Active: true},
	}, crumbs)

	crumbs = Breadcrumbs("/models/low_poly-fox", "en")
	require.Equal(t, []Crumb{
		{Href: "/", Label: "Home"},
		{Href: "/models", Label: "Models"},
		{Href: "/models/low_poly-fox", Label: "Low poly fox", Active: true},
	}, crumbs)
}
