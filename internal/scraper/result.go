package scraper

import (
	"encoding/json"
	"fmt"
)

// Section is one record produced by a processor. Merge behavior is chosen by
// the category the section reports, never by its runtime shape.
type Section interface {
	Category() Category
}

// CacheEntry is the immutable record of one downloaded asset.
type CacheEntry struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// ExtractedText holds the textual content of a page.
type ExtractedText struct {
	Title      string              `json:"title"`
	Headings   map[string][]string `json:"headings"`
	Paragraphs []string            `json:"paragraphs"`
	Links      []LinkEntry         `json:"links"`
}

// Category implements Section.
func (ExtractedText) Category() Category { return CategoryText }

// ExtractedMetadata holds the recognised meta tags. Missing tags are "".
type ExtractedMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Keywords    string `json:"keywords"`
	Author      string `json:"author"`
	Viewport    string `json:"viewport"`
}

// Category implements Section.
func (ExtractedMetadata) Category() Category { return CategoryMetadata }

// ImageEntry is a downloaded image.
type ImageEntry struct {
	CacheEntry
}

// Category implements Section.
func (ImageEntry) Category() Category { return CategoryImages }

// Video kinds.
const (
	VideoTypeYouTube = "youtube"
	VideoTypeVideo   = "video"
)

// VideoEntry is a resolved video reference. Bytes are fetched separately.
type VideoEntry struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// Category implements Section.
func (VideoEntry) Category() Category { return CategoryVideos }

// LinkEntry is one anchor with its resolved address.
type LinkEntry struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Category implements Section.
func (LinkEntry) Category() Category { return CategoryLinks }

// TableEntry is one HTML table.
type TableEntry struct {
	Index   int        `json:"index"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	CSVPath string     `json:"csv_path,omitempty"`
}

// Category implements Section.
func (TableEntry) Category() Category { return CategoryTables }

// ScrapeResult aggregates every enabled category of one scrape. A nil field
// means the category was disabled; an empty non-nil slice means it was
// enabled and found nothing.
type ScrapeResult struct {
	Text     *ExtractedText     `json:"text,omitempty"`
	Images   []ImageEntry       `json:"images,omitempty"`
	Videos   []VideoEntry       `json:"videos,omitempty"`
	Metadata *ExtractedMetadata `json:"metadata,omitempty"`
	Links    []LinkEntry        `json:"links,omitempty"`
	Tables   []TableEntry       `json:"tables,omitempty"`
}

// MarshalJSON emits exactly the enabled categories as top-level keys.
func (r ScrapeResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(AllCategories))
	if r.Text != nil {
		out[string(CategoryText)] = r.Text
	}
	if r.Images != nil {
		out[string(CategoryImages)] = r.Images
	}
	if r.Videos != nil {
		out[string(CategoryVideos)] = r.Videos
	}
	if r.Metadata != nil {
		out[string(CategoryMetadata)] = r.Metadata
	}
	if r.Links != nil {
		out[string(CategoryLinks)] = r.Links
	}
	if r.Tables != nil {
		out[string(CategoryTables)] = r.Tables
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal scrape result: %w", err)
	}
	return data, nil
}

// Counts reports how many records each present category holds.
func (r ScrapeResult) Counts() map[Category]int {
	counts := make(map[Category]int, len(AllCategories))
	if r.Text != nil {
		counts[CategoryText] = 1
	}
	if r.Images != nil {
		counts[CategoryImages] = len(r.Images)
	}
	if r.Videos != nil {
		counts[CategoryVideos] = len(r.Videos)
	}
	if r.Metadata != nil {
		counts[CategoryMetadata] = 1
	}
	if r.Links != nil {
		counts[CategoryLinks] = len(r.Links)
	}
	if r.Tables != nil {
		counts[CategoryTables] = len(r.Tables)
	}
	return counts
}

// Clone returns a deep copy sharing no mutable state with r.
func (r ScrapeResult) Clone() ScrapeResult {
	var out ScrapeResult
	if r.Text != nil {
		text := *r.Text
		text.Headings = make(map[string][]string, len(r.Text.Headings))
		for level, values := range r.Text.Headings {
			text.Headings[level] = append([]string{}, values...)
		}
		text.Paragraphs = append([]string{}, r.Text.Paragraphs...)
		text.Links = append([]LinkEntry{}, r.Text.Links...)
		out.Text = &text
	}
	if r.Metadata != nil {
		meta := *r.Metadata
		out.Metadata = &meta
	}
	if r.Images != nil {
		out.Images = append([]ImageEntry{}, r.Images...)
	}
	if r.Videos != nil {
		out.Videos = append([]VideoEntry{}, r.Videos...)
	}
	if r.Links != nil {
		out.Links = append([]LinkEntry{}, r.Links...)
	}
	if r.Tables != nil {
		out.Tables = make([]TableEntry, len(r.Tables))
		for i, table := range r.Tables {
			table.Headers = append([]string{}, table.Headers...)
			rows := make([][]string, len(table.Rows))
			for j, row := range table.Rows {
				rows[j] = append([]string{}, row...)
			}
			table.Rows = rows
			out.Tables[i] = table
		}
	}
	return out
}
