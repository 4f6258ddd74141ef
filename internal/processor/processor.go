// Package processor extracts one category of content from a parsed page.
//
// Scalar processors (text, links, tables) produce their section in a single
// pass. Fan-out processors (images, videos) expose one Task per element so
// the dispatcher can run elements in parallel pool slots. Metadata gathers:
// one Task per tag, then a finish step that commits the combined record.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/parse"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Page is the shared, read-only input of every processor.
type Page struct {
	*parse.Document
	URL      string
	ScrapeID uuid.UUID
	Headers  http.Header
	Logger   *zap.Logger
}

// Sink receives processor output.
type Sink interface {
	// Put merges one record into the scrape result.
	Put(section scraper.Section)
	// AssetDone reports one completed element of a category.
	AssetDone(category scraper.Category, url string, bytes int64)
}

// Store writes artifacts into the session workspace. Paths are relative to
// the workspace root.
type Store interface {
	PutObject(ctx context.Context, relPath string, data io.Reader) (string, error)
	WriteJSON(ctx context.Context, relPath string, v any) (string, error)
}

// Processor extracts one category.
type Processor interface {
	Category() scraper.Category
	Process(ctx context.Context, page *Page, sink Sink) error
}

// Task handles one element of a fan-out category. A returned error is an
// element failure; callers log it and move on.
type Task func(ctx context.Context, sink Sink) error

// FanOut is a processor whose elements are independent.
type FanOut interface {
	Processor
	Tasks(page *Page) []Task
}

// Gatherer is a processor whose element tasks fill in one shared record.
// finish runs once every task has returned and commits the record; its
// error fails the category.
type Gatherer interface {
	Processor
	Gather(page *Page) (tasks []Task, finish Task)
}

// RunTasks executes tasks in order, absorbing element failures. It returns
// only when ctx is done.
func RunTasks(ctx context.Context, page *Page, category scraper.Category, tasks []Task, sink Sink) error {
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s elements: %w", category, err)
		}
		if err := task(ctx, sink); err != nil {
			LogElementFailure(page.logger(), category, err)
		}
	}
	return nil
}

// LogElementFailure records a skipped element at warn.
func LogElementFailure(logger *zap.Logger, category scraper.Category, err error) {
	fields := []zap.Field{zap.String("category", string(category)), zap.Error(err)}
	var assetErr *scraper.AssetError
	if errors.As(err, &assetErr) {
		fields = append(fields, zap.String("url", assetErr.URL))
	}
	logger.Warn("element skipped", fields...)
}

func (p *Page) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func assetError(category scraper.Category, url string, err error) error {
	return &scraper.AssetError{Category: category, URL: url, Err: err}
}
