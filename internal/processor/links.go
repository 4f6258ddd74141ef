package processor

import (
	"context"
	"fmt"
	"net/url"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// LinksArtifact is the workspace path of the links category output.
const LinksArtifact = "links/links.json"

// Links collects the distinct absolute anchors of a page.
type Links struct {
	store Store
}

// NewLinks returns a links processor. A nil store skips the artifact write.
func NewLinks(store Store) *Links {
	return &Links{store: store}
}

// Category implements Processor.
func (*Links) Category() scraper.Category { return scraper.CategoryLinks }

// Process implements Processor.
func (l *Links) Process(ctx context.Context, page *Page, sink Sink) error {
	links := ExtractLinks(page)
	if l.store != nil {
		if _, err := l.store.WriteJSON(ctx, LinksArtifact, links); err != nil {
			return fmt.Errorf("write links artifact: %w", err)
		}
	}
	for _, link := range links {
		sink.Put(link)
	}
	return nil
}

// ExtractLinks returns the http(s) anchors deduplicated by address; the
// first occurrence keeps its text.
func ExtractLinks(page *Page) []scraper.LinkEntry {
	all := anchors(page, webLink)
	seen := make(map[string]struct{}, len(all))
	out := make([]scraper.LinkEntry, 0, len(all))
	for _, link := range all {
		if _, dup := seen[link.URL]; dup {
			continue
		}
		seen[link.URL] = struct{}{}
		out = append(out, link)
	}
	return out
}

func webLink(base *url.URL, raw string) (string, error) {
	ref, err := scraper.ResolveReference(base, raw)
	if err != nil {
		return "", err
	}
	return ref.Resolved, nil
}
