package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML loads a response body into a goquery document, failing the test on malformed markup.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html (%d bytes): %v", len(body), err)
	}
	return doc
}

// TextOf returns the whitespace-trimmed text of every node matching selector.
func TextOf(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).Text())
}

// AttrOf returns attr of the first node matching selector, or "" when absent.
func AttrOf(doc *goquery.Document, selector, attr string) string {
	return doc.Find(selector).First().AttrOr(attr, "")
}
