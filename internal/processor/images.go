package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/cache"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ImagesDir is the workspace directory holding downloaded images.
const ImagesDir = "images"

// Images downloads every img[src] once per session through the cache.
type Images struct {
	fetcher scraper.Fetcher
	cache   *cache.Cache
	store   Store
}

// NewImages returns an image processor.
func NewImages(fetcher scraper.Fetcher, c *cache.Cache, store Store) *Images {
	return &Images{fetcher: fetcher, cache: c, store: store}
}

// Category implements Processor.
func (*Images) Category() scraper.Category { return scraper.CategoryImages }

// Process runs every element task in order.
func (p *Images) Process(ctx context.Context, page *Page, sink Sink) error {
	return RunTasks(ctx, page, scraper.CategoryImages, p.Tasks(page), sink)
}

// Tasks returns one task per image element with a resolvable source.
// Elements with an empty or unresolvable source are skipped silently.
func (p *Images) Tasks(page *Page) []Task {
	var tasks []Task
	page.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		ref, err := scraper.ResolveReference(page.Base, src)
		if err != nil {
			return
		}
		tasks = append(tasks, func(ctx context.Context, sink Sink) error {
			return p.download(ctx, page, ref.Resolved, sink)
		})
	})
	return tasks
}

func (p *Images) download(ctx context.Context, page *Page, address string, sink Sink) error {
	var written int64
	entry, err := p.cache.GetOrCompute(ctx, address, func(ctx context.Context) (scraper.CacheEntry, error) {
		n, entry, err := StoreAsset(ctx, p.fetcher, p.store, ImagesDir, address, page.Headers)
		written = n
		return entry, err
	})
	if err != nil {
		return assetError(scraper.CategoryImages, address, err)
	}
	sink.Put(scraper.ImageEntry{CacheEntry: entry})
	sink.AssetDone(scraper.CategoryImages, address, written)
	return nil
}

// StoreAsset fetches address and writes its bytes under dir. It returns the
// number of bytes written and the entry describing the stored file.
func StoreAsset(
	ctx context.Context,
	fetcher scraper.Fetcher,
	store Store,
	dir, address string,
	headers http.Header,
) (int64, scraper.CacheEntry, error) {
	if fetcher == nil || store == nil {
		return 0, scraper.CacheEntry{}, errors.New("asset download is not configured")
	}
	resp, err := fetcher.Fetch(ctx, scraper.FetchRequest{URL: address, Headers: headers})
	if err != nil {
		return 0, scraper.CacheEntry{}, fmt.Errorf("fetch asset: %w", err)
	}
	filename := scraper.AssetFilename(address)
	rel := path.Join(dir, filename)
	if _, err := store.PutObject(ctx, rel, bytes.NewReader(resp.Body)); err != nil {
		return 0, scraper.CacheEntry{}, fmt.Errorf("store asset: %w", err)
	}
	return int64(len(resp.Body)), scraper.CacheEntry{URL: address, Filename: filename, Path: rel}, nil
}
