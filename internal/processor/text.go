package processor

import (
	"context"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/parse"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// TextArtifact is the workspace path of the text category output.
const TextArtifact = "text/content.json"

var headingLevels = []string{"h1", "h2", "h3", "h4", "h5", "h6"}

// Text extracts the title, headings, paragraphs and anchors of a page.
type Text struct {
	store Store
}

// NewText returns a text processor. A nil store skips the artifact write.
func NewText(store Store) *Text {
	return &Text{store: store}
}

// Category implements Processor.
func (*Text) Category() scraper.Category { return scraper.CategoryText }

// Process implements Processor.
func (t *Text) Process(ctx context.Context, page *Page, sink Sink) error {
	text := ExtractText(page)
	if t.store != nil {
		if _, err := t.store.WriteJSON(ctx, TextArtifact, text); err != nil {
			return fmt.Errorf("write text artifact: %w", err)
		}
	}
	sink.Put(text)
	return nil
}

// ExtractText builds the text section of a page.
func ExtractText(page *Page) scraper.ExtractedText {
	text := scraper.ExtractedText{
		Title:      parse.Text(page.Find("title").First()),
		Headings:   make(map[string][]string, len(headingLevels)),
		Paragraphs: []string{},
		Links:      []scraper.LinkEntry{},
	}
	for _, level := range headingLevels {
		text.Headings[level] = []string{}
	}
	page.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, sel *goquery.Selection) {
		level := goquery.NodeName(sel)
		text.Headings[level] = append(text.Headings[level], parse.Text(sel))
	})
	page.Find("p").Each(func(_ int, sel *goquery.Selection) {
		text.Paragraphs = append(text.Paragraphs, parse.Text(sel))
	})
	text.Links = anchors(page, scraper.ResolveLink)
	return text
}

// anchors returns every non-empty a[href] that resolve accepts, in
// document order.
func anchors(page *Page, resolve func(base *url.URL, raw string) (string, error)) []scraper.LinkEntry {
	links := []scraper.LinkEntry{}
	page.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		address, err := resolve(page.Base, href)
		if err != nil {
			return
		}
		links = append(links, scraper.LinkEntry{Text: parse.Text(sel), URL: address})
	})
	return links
}
