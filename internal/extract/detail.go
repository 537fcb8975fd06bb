package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/tracker-mirror/internal/catalog"
)

const (
	deletedSelector     = "table.message tr > td > div.mrg_16"
	deletedText         = "Тема не найдена"
	statusSelector      = "#tor-reged #tor-status-resp > a > b"
	breadcrumbSelector  = "td.nav.w100.pad_2.brand-bg-white > span > a"
	magnetSelector      = "a.med.magnet-link-16"
	descriptionSelector = "div.post_body"

	btihPrefix = "urn:btih:"
)

// Skip reasons reported for pages that must not be imported.
const (
	SkipDeleted        = "deleted"
	SkipStatusNotFound = "status not found"
	skipBadStatus      = "bad status: "
)

var approvedStatuses = map[string]struct{}{
	"не проверено":  {},
	"проверено":     {},
	"недооформлено": {},
	"сомнительно":   {},
	"временная":     {},
}

// DetailPage is the parsed entry page. When SkipReason is set the entry must
// not be imported and the other fields are empty.
type DetailPage struct {
	Path       catalog.CategoryPath
	Detail     catalog.EntryDetail
	SkipReason string
}

// Skipped reports whether the page was rejected by validation.
func (p DetailPage) Skipped() bool {
	return p.SkipReason != ""
}

// ParseDetail validates an entry page and extracts its category trail,
// fingerprint and description.
func ParseDetail(markup []byte) (DetailPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return DetailPage{}, newExtractError(SectionEntry, markup, fmt.Errorf("parse html: %w", err))
	}

	if reason := validate(doc); reason != "" {
		return DetailPage{SkipReason: reason}, nil
	}

	path, err := parseBreadcrumbs(doc)
	if err != nil {
		return DetailPage{}, newExtractError(SectionEntry, markup, err)
	}
	fingerprint, err := parseFingerprint(doc)
	if err != nil {
		return DetailPage{}, newExtractError(SectionEntry, markup, err)
	}
	description, err := parseDescription(doc)
	if err != nil {
		return DetailPage{}, newExtractError(SectionEntry, markup, err)
	}

	return DetailPage{
		Path: path,
		Detail: catalog.EntryDetail{
			Fingerprint: fingerprint,
			Description: description,
		},
	}, nil
}

func validate(doc *goquery.Document) string {
	if block := doc.Find(deletedSelector).First(); block.Length() > 0 {
		if strings.TrimSpace(block.Text()) == deletedText {
			return SkipDeleted
		}
	}

	status := doc.Find(statusSelector).First()
	if status.Length() == 0 {
		return SkipStatusNotFound
	}
	value := strings.TrimSpace(status.Text())
	if _, ok := approvedStatuses[value]; !ok {
		return skipBadStatus + value
	}
	return ""
}

func parseBreadcrumbs(doc *goquery.Document) (catalog.CategoryPath, error) {
	links := doc.Find(breadcrumbSelector)
	if links.Length() == 0 {
		return nil, errors.New("breadcrumbs not found")
	}
	path := make(catalog.CategoryPath, 0, links.Length())
	var linkErr error
	links.EachWithBreak(func(_ int, link *goquery.Selection) bool {
		segment, err := parseCategoryLink(link)
		if err != nil {
			linkErr = err
			return false
		}
		path = append(path, segment)
		return true
	})
	if linkErr != nil {
		return nil, linkErr
	}
	return path, nil
}

// parseCategoryLink reads (id, kind, title) off a breadcrumb link. Links
// without a query value point at the root; otherwise the kind is the last
// character of the parameter name, as in "viewforum.php?f=12".
func parseCategoryLink(link *goquery.Selection) (catalog.PathSegment, error) {
	title := strings.TrimSpace(link.Text())
	href, _ := link.Attr("href")
	eq := strings.LastIndex(href, "=")
	if eq < 0 {
		return catalog.PathSegment{ID: catalog.RootElem.ID, Kind: catalog.KindRoot, Title: title}, nil
	}
	if eq == 0 {
		return catalog.PathSegment{}, fmt.Errorf("breadcrumb %q: no parameter name", href)
	}
	id, err := strconv.ParseInt(href[eq+1:], 10, 64)
	if err != nil {
		return catalog.PathSegment{}, fmt.Errorf("breadcrumb %q: %w", href, err)
	}
	kind := catalog.Kind(href[eq-1 : eq])
	switch kind {
	case catalog.KindRoot, catalog.KindCategory, catalog.KindForum:
	default:
		return catalog.PathSegment{}, fmt.Errorf("breadcrumb %q: unknown kind %q", href, kind)
	}
	return catalog.PathSegment{ID: id, Kind: kind, Title: title}, nil
}

func parseFingerprint(doc *goquery.Document) (string, error) {
	href, ok := doc.Find(magnetSelector).First().Attr("href")
	if !ok {
		return "", errors.New("magnet link not found")
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("magnet link: %w", err)
	}
	xt := u.Query().Get("xt")
	if xt == "" {
		return "", fmt.Errorf("magnet link %q has no xt", href)
	}
	return strings.TrimPrefix(xt, btihPrefix), nil
}

func parseDescription(doc *goquery.Document) (string, error) {
	body := doc.Find(descriptionSelector).First()
	if body.Length() == 0 {
		return "", errors.New("description not found")
	}

	var buf bytes.Buffer
	// keep tracks whether the previous child was rendered; trailing text
	// belongs to its preceding sibling, leading text to nothing.
	keep := false
	for c := body.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if !keep {
				continue
			}
		case html.ElementNode:
			keep = !isGarbage(c)
			if !keep {
				continue
			}
		default:
			keep = false
			continue
		}
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("render description: %w", err)
		}
	}
	return strings.TrimSpace(buf.String()), nil
}

func isGarbage(n *html.Node) bool {
	if attr(n, "id") == "tor-reged" {
		return true
	}
	if n.DataAtom == atom.Div {
		switch attr(n, "class") {
		case "clear", "spacer_12":
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
