// Package progress carries scrape progress from the engine to observers.
// Emitters hand events to a Hub, which never blocks them: events are
// buffered, batched on a background goroutine and fanned out to sinks.
// Under backpressure the Hub drops events rather than stall a scrape.
package progress
