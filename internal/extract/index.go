// Package extract turns tracker HTML pages into catalog records.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

const (
	indexRowSelector   = "table#tor-tbl tr.tCenter.hl-tr"
	indexTitleSelector = "td.t-title div.t-title a"
	indexTimeSelector  = "td:last-child u"
	indexSizeSelector  = "td.tor-size u"
)

// ParseIndex reads every row of the tracker index table. A malformed row
// fails the whole page.
func ParseIndex(markup []byte) ([]catalog.IndexEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, newExtractError(SectionIndex, markup, fmt.Errorf("parse html: %w", err))
	}

	rows := doc.Find(indexRowSelector)
	entries := make([]catalog.IndexEntry, 0, rows.Length())
	var rowErr error
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		entry, err := parseIndexRow(row)
		if err != nil {
			rowErr = fmt.Errorf("row %d: %w", i, err)
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if rowErr != nil {
		return nil, newExtractError(SectionIndex, markup, rowErr)
	}
	return entries, nil
}

func parseIndexRow(row *goquery.Selection) (catalog.IndexEntry, error) {
	link := row.Find(indexTitleSelector).First()
	if link.Length() == 0 {
		return catalog.IndexEntry{}, errors.New("title link not found")
	}
	rawID, ok := link.Attr("data-topic_id")
	if !ok {
		return catalog.IndexEntry{}, errors.New("title link has no data-topic_id")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return catalog.IndexEntry{}, fmt.Errorf("topic id: %w", err)
	}

	seconds, err := intText(row, indexTimeSelector)
	if err != nil {
		return catalog.IndexEntry{}, fmt.Errorf("timestamp: %w", err)
	}
	size, err := intText(row, indexSizeSelector)
	if err != nil {
		return catalog.IndexEntry{}, fmt.Errorf("size: %w", err)
	}

	return catalog.IndexEntry{
		ID:        id,
		Title:     strings.TrimSpace(link.Text()),
		Timestamp: time.Unix(seconds, 0).UTC(),
		Size:      size,
	}, nil
}

func intText(row *goquery.Selection, selector string) (int64, error) {
	sel := row.Find(selector).First()
	if sel.Length() == 0 {
		return 0, fmt.Errorf("%q not found", selector)
	}
	return strconv.ParseInt(strings.TrimSpace(sel.Text()), 10, 64)
}
