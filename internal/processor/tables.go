package processor

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/webscraper/internal/parse"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// TablesDir is the workspace directory holding table exports.
const TablesDir = "tables"

// Tables extracts every table and exports each one as CSV.
type Tables struct {
	store Store
}

// NewTables returns a tables processor. A nil store skips the CSV export.
func NewTables(store Store) *Tables {
	return &Tables{store: store}
}

// Category implements Processor.
func (*Tables) Category() scraper.Category { return scraper.CategoryTables }

// Process implements Processor.
func (t *Tables) Process(ctx context.Context, page *Page, sink Sink) error {
	for _, table := range ExtractTables(page) {
		if t.store != nil {
			rel := fmt.Sprintf("%s/table_%d.csv", TablesDir, table.Index)
			data, err := tableCSV(table)
			if err != nil {
				return fmt.Errorf("encode table %d: %w", table.Index, err)
			}
			if _, err := t.store.PutObject(ctx, rel, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("write table %d: %w", table.Index, err)
			}
			table.CSVPath = rel
		}
		sink.Put(table)
	}
	return nil
}

// ExtractTables reads tables in document order. Headers come from the first
// row containing th cells; that row is excluded from Rows.
func ExtractTables(page *Page) []scraper.TableEntry {
	var tables []scraper.TableEntry
	page.Find("table").Each(func(i int, table *goquery.Selection) {
		entry := scraper.TableEntry{Index: i + 1, Headers: []string{}, Rows: [][]string{}}
		headerFound := false
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			// Rows of nested tables belong to the inner table.
			if row.Closest("table").Get(0) != table.Get(0) {
				return
			}
			if !headerFound && row.ChildrenFiltered("th").Length() > 0 {
				row.ChildrenFiltered("th").Each(func(_ int, cell *goquery.Selection) {
					entry.Headers = append(entry.Headers, parse.Text(cell))
				})
				headerFound = true
				return
			}
			var cells []string
			row.ChildrenFiltered("td, th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, parse.Text(cell))
			})
			if len(cells) > 0 {
				entry.Rows = append(entry.Rows, cells)
			}
		})
		tables = append(tables, entry)
	})
	return tables
}

func tableCSV(table scraper.TableEntry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(table.Headers) > 0 {
		if err := w.Write(table.Headers); err != nil {
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}
	return buf.Bytes(), nil
}
