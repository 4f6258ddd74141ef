// Package aggregate merges processor output into one ScrapeResult.
package aggregate

import (
	"sync"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Aggregator is a thread-safe accumulator for a single scrape.
type Aggregator struct {
	mu         sync.Mutex
	categories scraper.Categories
	result     scraper.ScrapeResult
	images     map[string]struct{}
	videos     map[string]struct{}
}

// New initialises every enabled section so that an enabled category with
// nothing found still serialises as empty rather than absent.
func New(categories scraper.Categories) *Aggregator {
	a := &Aggregator{
		categories: categories,
		images:     make(map[string]struct{}),
		videos:     make(map[string]struct{}),
	}
	if categories.Text {
		a.result.Text = &scraper.ExtractedText{
			Headings:   map[string][]string{},
			Paragraphs: []string{},
			Links:      []scraper.LinkEntry{},
		}
	}
	if categories.Metadata {
		a.result.Metadata = &scraper.ExtractedMetadata{}
	}
	if categories.Images {
		a.result.Images = []scraper.ImageEntry{}
	}
	if categories.Videos {
		a.result.Videos = []scraper.VideoEntry{}
	}
	if categories.Links {
		a.result.Links = []scraper.LinkEntry{}
	}
	if categories.Tables {
		a.result.Tables = []scraper.TableEntry{}
	}
	return a
}

// Merge folds one section in, choosing the merge rule by the category the
// section reports. Text and metadata overwrite; the sequence categories
// append in arrival order, with images and videos deduplicated by address.
// Sections of a disabled category, or whose record type does not match
// their category, are dropped. It reports whether the section changed the
// result.
func (a *Aggregator) Merge(section scraper.Section) bool {
	if section == nil {
		return false
	}
	category := section.Category()
	if !a.categories.Has(category) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch category {
	case scraper.CategoryText:
		s, ok := section.(scraper.ExtractedText)
		if !ok {
			return false
		}
		a.result.Text = &s
	case scraper.CategoryMetadata:
		s, ok := section.(scraper.ExtractedMetadata)
		if !ok {
			return false
		}
		a.result.Metadata = &s
	case scraper.CategoryImages:
		s, ok := section.(scraper.ImageEntry)
		if !ok {
			return false
		}
		if _, dup := a.images[s.URL]; dup {
			return false
		}
		a.images[s.URL] = struct{}{}
		a.result.Images = append(a.result.Images, s)
	case scraper.CategoryVideos:
		s, ok := section.(scraper.VideoEntry)
		if !ok {
			return false
		}
		if _, dup := a.videos[s.URL]; dup {
			return false
		}
		a.videos[s.URL] = struct{}{}
		a.result.Videos = append(a.result.Videos, s)
	case scraper.CategoryLinks:
		s, ok := section.(scraper.LinkEntry)
		if !ok {
			return false
		}
		a.result.Links = append(a.result.Links, s)
	case scraper.CategoryTables:
		s, ok := section.(scraper.TableEntry)
		if !ok {
			return false
		}
		a.result.Tables = append(a.result.Tables, s)
	default:
		return false
	}
	return true
}

// Result returns a copy that later merges cannot change.
func (a *Aggregator) Result() scraper.ScrapeResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result.Clone()
}
