// Package parse turns fetched markup into a traversable goquery document.
package parse

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ErrEmptyBody is wrapped in a ParseError when there is nothing to parse.
var ErrEmptyBody = errors.New("empty body")

// Document is a parsed page together with the base URL relative references
// resolve against.
type Document struct {
	*goquery.Document
	Base *url.URL
}

// Parse builds a Document from a page body. The base URL is the response URL
// unless the markup declares a usable <base href>.
func Parse(pageURL string, body []byte) (*Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &scraper.ParseError{URL: pageURL, Err: ErrEmptyBody}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &scraper.ParseError{URL: pageURL, Err: fmt.Errorf("parse page url: %w", err)}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &scraper.ParseError{URL: pageURL, Err: fmt.Errorf("parse markup: %w", err)}
	}
	doc.Url = base
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if declared, err := base.Parse(strings.TrimSpace(href)); err == nil && declared.Host != "" {
			base = declared
		}
	}
	return &Document{Document: doc, Base: base}, nil
}

// Text returns the trimmed text of a selection with internal runs of
// whitespace collapsed.
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
