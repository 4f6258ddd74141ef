// Package detector decides when a plain fetch should be promoted to the
// headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

const (
	defaultBodyThreshold = 2048
	scriptSharePercent   = 25
)

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// Heuristic flags app shells whose content only appears after JavaScript runs.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector; a zero threshold selects 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// ShouldPromote reports whether the response looks like an unrendered shell.
func (h *Heuristic) ShouldPromote(resp scraper.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if scraper.ContainsFold(doc.Find("noscript").Text(), "enable javascript") {
		return true
	}
	if len(body) >= h.BodyLengthThreshold {
		return false
	}
	scriptBytes := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	visible := strings.TrimSpace(doc.Find("body").Text())
	if scriptBytes == 0 {
		return false
	}
	return len(visible) == 0 || scriptBytes*100/len(body) >= scriptSharePercent
}
