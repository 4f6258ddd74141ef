package processor

import (
	"context"
	"path"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// VideosDir is the workspace directory holding downloaded videos.
const VideosDir = "videos"

// Videos records video sources without fetching their bytes.
type Videos struct{}

// NewVideos returns a video processor.
func NewVideos() *Videos {
	return &Videos{}
}

// Category implements Processor.
func (*Videos) Category() scraper.Category { return scraper.CategoryVideos }

// Process runs every element task in order.
func (v *Videos) Process(ctx context.Context, page *Page, sink Sink) error {
	return RunTasks(ctx, page, scraper.CategoryVideos, v.Tasks(page), sink)
}

// Tasks returns one task per video[src], video > source[src] and YouTube
// iframe, in document order.
func (*Videos) Tasks(page *Page) []Task {
	var tasks []Task
	add := func(raw, kind string) {
		ref, err := scraper.ResolveReference(page.Base, raw)
		if err != nil {
			return
		}
		entry := VideoEntryFor(ref.Resolved, kind)
		tasks = append(tasks, func(_ context.Context, sink Sink) error {
			sink.Put(entry)
			sink.AssetDone(scraper.CategoryVideos, entry.URL, 0)
			return nil
		})
	}
	page.Find("video, iframe").Each(func(_ int, sel *goquery.Selection) {
		if goquery.NodeName(sel) == "iframe" {
			if src, ok := sel.Attr("src"); ok && IsYouTube(src) {
				add(src, scraper.VideoTypeYouTube)
			}
			return
		}
		if src, ok := sel.Attr("src"); ok {
			add(src, scraper.VideoTypeVideo)
		}
		sel.ChildrenFiltered("source[src]").Each(func(_ int, source *goquery.Selection) {
			src, _ := source.Attr("src")
			add(src, scraper.VideoTypeVideo)
		})
	})
	return tasks
}

// VideoEntryFor describes where a video would be stored once downloaded.
func VideoEntryFor(address, kind string) scraper.VideoEntry {
	filename := scraper.AssetFilename(address)
	return scraper.VideoEntry{
		URL:      address,
		Type:     kind,
		Filename: filename,
		Path:     path.Join(VideosDir, filename),
	}
}

// IsYouTube reports whether an address points at YouTube.
func IsYouTube(address string) bool {
	return scraper.ContainsFold(address, "youtube")
}
