package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// MarkupStrategy scans rendered ad cards. It recovers less than the
// embedded state: id, URL, title and price only.
type MarkupStrategy struct {
	BaseURL string
}

func (MarkupStrategy) Name() string { return "markup" }

func (s MarkupStrategy) Extract(doc *goquery.Document, brand, model string) ([]domain.Listing, error) {
	cards := doc.Find(`a[data-test-id="ad"]`)
	if cards.Length() == 0 {
		cards = doc.Find(`a[class*="styles_adCard"]`)
	}

	var out []domain.Listing
	cards.Each(func(_ int, card *goquery.Selection) {
		href, _ := card.Attr("href")
		if !strings.Contains(href, "/ad/") {
			return
		}
		id := adIDFromHref(href)
		if id == "" {
			return
		}
		l := domain.Listing{
			ID:    id,
			URL:   href,
			Title: untitled,
			Brand: brand,
			Model: model,
		}
		if strings.HasPrefix(href, "/") {
			l.URL = strings.TrimRight(s.BaseURL, "/") + href
		}
		if t := firstWithClass(card, "h2, p", "title"); t != nil {
			l.Title = strings.TrimSpace(t.Text())
		}
		if p := firstWithClass(card, "span, p", "price"); p != nil {
			l.Price, _ = ParsePrice(p.Text())
		}
		out = append(out, l)
	})
	return out, nil
}

// firstWithClass returns the first descendant matching sel whose class
// attribute contains fragment, ignoring case.
func firstWithClass(card *goquery.Selection, sel, fragment string) *goquery.Selection {
	var hit *goquery.Selection
	card.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		class, _ := el.Attr("class")
		if strings.Contains(strings.ToLower(class), fragment) {
			hit = el
			return false
		}
		return true
	})
	return hit
}
