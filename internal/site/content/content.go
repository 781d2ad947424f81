// Package content loads the site's static pages from markdown with YAML front matter.
package content

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/patrickmn/go-cache"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed pages
var embedded embed.FS

// ErrNotFound is returned when no page exists for the requested slug in any language.
var ErrNotFound = errors.New("content: page not found")

const (
	defaultCacheTTL = 5 * time.Minute
	defaultLang     = "en"
)

var supportedLangs = []language.Tag{language.English, language.Japanese}

// Page is a rendered static page.
type Page struct {
	Slug      string
	Lang      string
	Title     string
	Summary   string
	Body      template.HTML
	UpdatedAt time.Time
}

type frontMatter struct {
	Title     string `yaml:"title"`
	Summary   string `yaml:"summary"`
	Lang      string `yaml:"lang"`
	UpdatedAt string `yaml:"updated_at"`
}

// Options configures a Source.
type Options struct {
	// Dir overrides the embedded pages with a directory laid out as <lang>/<slug>.md.
	Dir      string
	CacheTTL time.Duration
}

// Source resolves, renders and caches pages.
type Source struct {
	fsys    fs.FS
	cache   *cache.Cache
	md      goldmark.Markdown
	policy  *bluemonday.Policy
	matcher language.Matcher
}

// NewSource builds a Source backed by the embedded pages or opts.Dir.
func NewSource(opts Options) (*Source, error) {
	var fsys fs.FS
	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("content: stat %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("content: %s is not a directory", dir)
		}
		fsys = os.DirFS(dir)
	} else {
		sub, err := fs.Sub(embedded, "pages")
		if err != nil {
			return nil, err
		}
		fsys = sub
	}
	return newSource(fsys, opts.CacheTTL), nil
}

func newSource(fsys fs.FS, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Source{
		fsys:    fsys,
		cache:   cache.New(ttl, 2*ttl),
		md:      goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy:  bluemonday.UGCPolicy(),
		matcher: language.NewMatcher(supportedLangs),
	}
}

// ResolveLang picks the best supported language for an Accept-Language header.
func (s *Source) ResolveLang(acceptLanguage string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return defaultLang
	}
	_, idx, conf := s.matcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(supportedLangs) {
		return defaultLang
	}
	base, _ := supportedLangs[idx].Base()
	return base.String()
}

// Page returns the page for slug in lang, falling back to the other supported languages.
func (s *Source) Page(ctx context.Context, slug, lang string) (Page, error) {
	slug = sanitizeSlug(slug)
	if slug == "" {
		return Page{}, ErrNotFound
	}
	lang = normalizeLang(lang)

	key := lang + "|" + slug
	if cached, ok := s.cache.Get(key); ok {
		return cached.(Page), nil
	}

	for _, candidate := range langPriority(lang) {
		if err := ctx.Err(); err != nil {
			return Page{}, err
		}
		page, err := s.read(slug, candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Page{}, err
		}
		s.cache.Set(key, page, cache.DefaultExpiration)
		return page, nil
	}
	return Page{}, ErrNotFound
}

func (s *Source) read(slug, lang string) (Page, error) {
	file := path.Join(lang, slug+".md")
	data, err := fs.ReadFile(s.fsys, file)
	if err != nil {
		return Page{}, err
	}

	fm, body := splitFrontMatter(string(data))
	front := frontMatter{}
	if strings.TrimSpace(fm) != "" {
		if err := yaml.Unmarshal([]byte(fm), &front); err != nil {
			return Page{}, fmt.Errorf("content: parse front matter %s: %w", file, err)
		}
	}

	var buf bytes.Buffer
	if err := s.md.Convert([]byte(body), &buf); err != nil {
		return Page{}, fmt.Errorf("content: render %s: %w", file, err)
	}

	page := Page{
		Slug:      slug,
		Lang:      firstNonEmpty(strings.TrimSpace(front.Lang), lang),
		Title:     strings.TrimSpace(front.Title),
		Summary:   strings.TrimSpace(front.Summary),
		Body:      template.HTML(s.policy.SanitizeBytes(buf.Bytes())),
		UpdatedAt: parseDate(front.UpdatedAt),
	}
	if page.Title == "" {
		page.Title = prettifySlug(slug)
	}
	return page, nil
}

func langPriority(lang string) []string {
	priority := []string{lang}
	for _, tag := range supportedLangs {
		base, _ := tag.Base()
		if base.String() != lang {
			priority = append(priority, base.String())
		}
	}
	return priority
}

func normalizeLang(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return defaultLang
	}
	base, _ := tag.Base()
	for _, supported := range supportedLangs {
		if b, _ := supported.Base(); b == base {
			return base.String()
		}
	}
	return defaultLang
}

func splitFrontMatter(input string) (string, string) {
	input = strings.TrimLeft(input, "\ufeff")
	lines := strings.Split(input, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return "", input
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fm := strings.Join(lines[1:i], "\n")
			body := strings.Join(lines[i+1:], "\n")
			return fm, strings.TrimLeft(body, "\n\r")
		}
	}
	return "", input
}

func parseDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func prettifySlug(slug string) string {
	parts := strings.Split(slug, "-")
	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + part[1:]
	}
	return strings.Join(parts, " ")
}

func sanitizeSlug(slug string) string {
	slug = strings.Trim(strings.TrimSpace(strings.ToLower(slug)), "/")
	if slug == "" || strings.Contains(slug, "..") || strings.ContainsAny(slug, `/\`) {
		return ""
	}
	return slug
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
