package scraper

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Category names one kind of extracted content.
type Category string

// Supported categories. The order here is the order categories are dispatched.
const (
	CategoryText     Category = "text"
	CategoryImages   Category = "images"
	CategoryVideos   Category = "videos"
	CategoryMetadata Category = "metadata"
	CategoryLinks    Category = "links"
	CategoryTables   Category = "tables"
)

// AllCategories lists every supported category.
var AllCategories = []Category{
	CategoryText,
	CategoryImages,
	CategoryVideos,
	CategoryMetadata,
	CategoryLinks,
	CategoryTables,
}

// Categories is the enable set for one scrape.
type Categories struct {
	Text     bool `json:"text" mapstructure:"text"`
	Images   bool `json:"images" mapstructure:"images"`
	Videos   bool `json:"videos" mapstructure:"videos"`
	Metadata bool `json:"metadata" mapstructure:"metadata"`
	Links    bool `json:"links" mapstructure:"links"`
	Tables   bool `json:"tables" mapstructure:"tables"`
}

// DefaultCategories enables every category.
func DefaultCategories() Categories {
	return Categories{Text: true, Images: true, Videos: true, Metadata: true, Links: true, Tables: true}
}

// ParseCategories builds an enable set from category names.
func ParseCategories(names []string) (Categories, error) {
	var c Categories
	for _, raw := range names {
		name := Category(strings.ToLower(strings.TrimSpace(raw)))
		if name == "" {
			continue
		}
		if !c.set(name) {
			return Categories{}, fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, raw)
		}
	}
	return c, nil
}

func (c *Categories) set(name Category) bool {
	switch name {
	case CategoryText:
		c.Text = true
	case CategoryImages:
		c.Images = true
	case CategoryVideos:
		c.Videos = true
	case CategoryMetadata:
		c.Metadata = true
	case CategoryLinks:
		c.Links = true
	case CategoryTables:
		c.Tables = true
	default:
		return false
	}
	return true
}

// Has reports whether the category is enabled.
func (c Categories) Has(name Category) bool {
	switch name {
	case CategoryText:
		return c.Text
	case CategoryImages:
		return c.Images
	case CategoryVideos:
		return c.Videos
	case CategoryMetadata:
		return c.Metadata
	case CategoryLinks:
		return c.Links
	case CategoryTables:
		return c.Tables
	default:
		return false
	}
}

// Enabled returns the enabled categories in dispatch order.
func (c Categories) Enabled() []Category {
	out := make([]Category, 0, len(AllCategories))
	for _, name := range AllCategories {
		if c.Has(name) {
			out = append(out, name)
		}
	}
	return out
}

// Empty reports whether no category is enabled.
func (c Categories) Empty() bool {
	return len(c.Enabled()) == 0
}

// RenderMode selects when the rendering collaborator replaces the plain fetch.
type RenderMode string

// Render modes.
const (
	RenderNever  RenderMode = ""
	RenderAuto   RenderMode = "auto"
	RenderAlways RenderMode = "always"
)

// ScrapeRequest describes one scrape invocation. It is copied by value into
// the scrape and never mutated afterwards.
type ScrapeRequest struct {
	URL        string
	Categories Categories
	Depth      int
	Render     RenderMode
	Headers    http.Header
}

// Validate checks the request and returns the parsed target URL.
func (r ScrapeRequest) Validate() (*url.URL, error) {
	target, err := url.Parse(strings.TrimSpace(r.URL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %v", ErrInvalidRequest, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("%w: url must be absolute http(s), got %q", ErrInvalidRequest, r.URL)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("%w: url %q has no host", ErrInvalidRequest, r.URL)
	}
	if r.Categories.Empty() {
		return nil, fmt.Errorf("%w: no categories enabled", ErrInvalidRequest)
	}
	if r.Depth < 1 {
		return nil, fmt.Errorf("%w: depth must be >= 1", ErrInvalidRequest)
	}
	switch r.Render {
	case RenderNever, RenderAuto, RenderAlways:
	default:
		return nil, fmt.Errorf("%w: unknown render mode %q", ErrInvalidRequest, r.Render)
	}
	return target, nil
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result of a successful fetch.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Attempts     int
	UsedHeadless bool
}
