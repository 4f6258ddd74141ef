package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest marks a ScrapeRequest rejected before any work starts.
	ErrInvalidRequest = errors.New("invalid scrape request")
	// ErrEngineClosed is returned once the engine has been closed.
	ErrEngineClosed = errors.New("engine closed")
	// ErrUnsupportedVideoHost is returned when a video address points at a
	// hosting page rather than a media file.
	ErrUnsupportedVideoHost = errors.New("unsupported video host")
	// ErrIllegalTransition is returned when a scrape tries to re-enter or skip a state.
	ErrIllegalTransition = errors.New("illegal state transition")
)

// FetchError reports a network, timeout, or HTTP status failure.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	default:
		return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports markup that could not be turned into a node tree.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AssetError reports a single element that could not be extracted. It is
// logged and the element skipped; it never fails a scrape.
type AssetError struct {
	Category Category
	URL      string
	Err      error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("%s asset %s: %v", e.Category, e.URL, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write or copy.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
