// Package scraper defines the domain types shared by the extraction engine:
// requests, categories, per-category results, the scrape state machine, the
// error taxonomy, and the narrow interfaces used to reach collaborators such
// as fetchers, publishers, and record stores.
package scraper
