package scraper

import (
	"bytes"
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// Detail fetches the listing page and fills fields the results page left
// empty. Fields already set are never overwritten, and any failure returns
// l unchanged.
func (s *Searcher) Detail(ctx context.Context, l domain.Listing) domain.Listing {
	resp, err := s.fetcher.Fetch(ctx, l.URL, nil).Unwrap()
	if err != nil {
		s.log.Warn("detail: fetch failed", "listing_id", l.ID, "err", err)
		return l
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return l
	}
	nd, ok, err := readNextData(doc)
	if err != nil {
		s.log.Debug("detail: unreadable embedded state", "listing_id", l.ID, "err", err)
		return l
	}
	if !ok || len(nd.Props.PageProps.Ad) == 0 || string(nd.Props.PageProps.Ad) == "null" {
		return l
	}
	ad, err := decodeAd(nd.Props.PageProps.Ad)
	if err != nil {
		s.log.Debug("detail: malformed ad record", "listing_id", l.ID, "err", err)
		return l
	}
	return mergeDetail(l, ad)
}

func mergeDetail(l domain.Listing, ad adRecord) domain.Listing {
	attrs := ad.attributeMap()
	if l.Description == "" {
		l.Description = ad.Body
	}
	if l.Mileage == 0 {
		l.Mileage, _ = ParseMileage(attrs["mileage"])
	}
	if l.Year == 0 {
		l.Year, _ = ParseYear(attrs["regdate"])
	}
	if l.Fuel == "" {
		l.Fuel = attrs["fuel"]
	}
	if l.Gearbox == "" {
		l.Gearbox = attrs["gearbox"]
	}
	if l.Engine == "" {
		l.Engine = attrs["vehicle_engine"]
	}
	if len(attrs) > 0 {
		merged := make(map[string]string, len(l.Attributes)+len(attrs))
		for k, v := range attrs {
			merged[k] = v
		}
		for k, v := range l.Attributes {
			merged[k] = v
		}
		l.Attributes = merged
	}
	return l
}
