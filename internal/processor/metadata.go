package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/parse"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// MetadataArtifact is the workspace path of the metadata category output.
const MetadataArtifact = "metadata/metadata.json"

// Metadata extracts the title and well-known meta tags.
type Metadata struct {
	store Store
}

// NewMetadata returns a metadata processor. A nil store skips the artifact
// write.
func NewMetadata(store Store) *Metadata {
	return &Metadata{store: store}
}

// Category implements Processor.
func (*Metadata) Category() scraper.Category { return scraper.CategoryMetadata }

// Process implements Processor.
func (m *Metadata) Process(ctx context.Context, page *Page, sink Sink) error {
	tasks, finish := m.Gather(page)
	if err := RunTasks(ctx, page, m.Category(), tasks, sink); err != nil {
		return err
	}
	return finish(ctx, sink)
}

// Gather implements Gatherer: one task reads the title and one reads each
// recognised meta name. finish writes the artifact and puts the record.
func (m *Metadata) Gather(page *Page) ([]Task, Task) {
	var (
		mu   sync.Mutex
		meta scraper.ExtractedMetadata
	)
	field := func(dst *string, read func() string) Task {
		return func(context.Context, Sink) error {
			value := read()
			mu.Lock()
			*dst = value
			mu.Unlock()
			return nil
		}
	}

	tasks := []Task{field(&meta.Title, func() string { return pageTitle(page) })}
	for name, dst := range map[string]*string{
		"description": &meta.Description,
		"keywords":    &meta.Keywords,
		"author":      &meta.Author,
		"viewport":    &meta.Viewport,
	} {
		tasks = append(tasks, field(dst, func() string { return metaContent(page, name) }))
	}

	finish := func(ctx context.Context, sink Sink) error {
		mu.Lock()
		out := meta
		mu.Unlock()
		if m.store != nil {
			if _, err := m.store.WriteJSON(ctx, MetadataArtifact, out); err != nil {
				return fmt.Errorf("write metadata artifact: %w", err)
			}
		}
		sink.Put(out)
		return nil
	}
	return tasks, finish
}

// ExtractMetadata reads meta tags by name, case-insensitively. The first
// tag of each name wins; missing tags are "".
func ExtractMetadata(page *Page) scraper.ExtractedMetadata {
	return scraper.ExtractedMetadata{
		Title:       pageTitle(page),
		Description: metaContent(page, "description"),
		Keywords:    metaContent(page, "keywords"),
		Author:      metaContent(page, "author"),
		Viewport:    metaContent(page, "viewport"),
	}
}

func pageTitle(page *Page) string {
	return parse.Text(page.Find("title").First())
}

func metaContent(page *Page, name string) string {
	content := ""
	page.Find("meta[name]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		attr, _ := sel.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(attr), name) {
			return true
		}
		content, _ = sel.Attr("content")
		content = strings.TrimSpace(content)
		return false
	})
	return content
}
