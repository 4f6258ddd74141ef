package scraper

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RenderDetector decides whether a plain response needs a rendered fetch.
type RenderDetector interface {
	ShouldPromote(resp FetchResponse) bool
}

// Publisher pushes completion messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RecordStore persists one row per terminal scrape outcome.
type RecordStore interface {
	RecordScrape(ctx context.Context, record ScrapeRecord) error
}

// Exporter copies a local workspace tree to a remote destination.
type Exporter interface {
	Export(ctx context.Context, localRoot string, target string) (string, error)
}

// ScrapeRecord summarises a terminal outcome for stores and publishers.
type ScrapeRecord struct {
	ID           string           `json:"id"`
	URL          string           `json:"url"`
	State        State            `json:"state"`
	Error        string           `json:"error,omitempty"`
	ManifestPath string           `json:"manifest_path,omitempty"`
	Counts       map[Category]int `json:"counts,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
}
