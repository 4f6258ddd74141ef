package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/processor"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ErrNoExporter is returned for a remote SaveAll target when no exporter is
// configured.
var ErrNoExporter = errors.New("no exporter configured for remote target")

// SaveAll copies the workspace to target: a local directory, or a remote
// URI such as gs://bucket/prefix when an Exporter is configured.
func (e *Engine) SaveAll(ctx context.Context, target string) error {
	done, err := e.begin()
	if err != nil {
		return err
	}
	defer done()

	if strings.TrimSpace(target) == "" {
		return &scraper.PersistenceError{Op: "save", Path: target, Err: errors.New("target is required")}
	}
	if !strings.Contains(target, "://") {
		if err := e.workspace.SaveAll(ctx, target); err != nil {
			return err
		}
		e.logger.Info("workspace saved", zap.String("target", target))
		return nil
	}
	if e.deps.Exporter == nil {
		return &scraper.PersistenceError{Op: "save", Path: target, Err: ErrNoExporter}
	}
	return e.workspace.View(func(root string) error {
		uri, err := e.deps.Exporter.Export(ctx, root, target)
		if err != nil {
			return fmt.Errorf("export workspace: %w", err)
		}
		e.logger.Info("workspace exported", zap.String("target", uri))
		return nil
	})
}

// DownloadVideo fetches a video's bytes into the videos directory and
// returns the stored filename. Each address is downloaded at most once per
// session. Pages on video hosting sites are rejected.
func (e *Engine) DownloadVideo(ctx context.Context, address string) (string, error) {
	done, err := e.begin()
	if err != nil {
		return "", err
	}
	defer done()

	ref, err := scraper.ResolveReference(nil, address)
	if err != nil {
		return "", &scraper.AssetError{Category: scraper.CategoryVideos, URL: address, Err: err}
	}
	if processor.IsYouTube(ref.Resolved) {
		return "", &scraper.AssetError{Category: scraper.CategoryVideos, URL: ref.Resolved, Err: scraper.ErrUnsupportedVideoHost}
	}
	entry, err := e.videos.GetOrCompute(ctx, ref.Resolved, func(ctx context.Context) (scraper.CacheEntry, error) {
		_, entry, err := processor.StoreAsset(ctx, e.deps.Fetcher, e.workspace, processor.VideosDir, ref.Resolved, nil)
		return entry, err
	})
	if err != nil {
		return "", &scraper.AssetError{Category: scraper.CategoryVideos, URL: ref.Resolved, Err: err}
	}
	e.logger.Debug("video downloaded", zap.String("url", ref.Resolved), zap.String("path", entry.Path))
	return entry.Filename, nil
}
