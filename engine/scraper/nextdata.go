package scraper

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/fn"
)

const untitled = "Sans titre"

// nextDataSelector is the script the results page embeds its state in.
const nextDataSelector = "script#__NEXT_DATA__"

type nextData struct {
	Props struct {
		PageProps struct {
			SearchData struct {
				Ads []json.RawMessage `json:"ads"`
			} `json:"searchData"`
			Ad json.RawMessage `json:"ad"`
		} `json:"pageProps"`
	} `json:"props"`
}

type adRecord struct {
	ListID     any           `json:"list_id"`
	Subject    *string       `json:"subject"`
	Body       string        `json:"body"`
	Price      any           `json:"price"`
	Attributes []adAttribute `json:"attributes"`
	Location   struct {
		City string `json:"city"`
	} `json:"location"`
	Images struct {
		URLs     []string `json:"urls"`
		SmallURL string   `json:"small_url"`
	} `json:"images"`
}

type adAttribute struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// readNextData decodes the embedded state document. ok is false when the
// page carries none.
func readNextData(doc *goquery.Document) (nextData, bool, error) {
	var nd nextData
	raw := strings.TrimSpace(doc.Find(nextDataSelector).First().Text())
	if raw == "" {
		return nd, false, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&nd); err != nil {
		return nd, true, fmt.Errorf("decode embedded state: %w", err)
	}
	return nd, true, nil
}

// decodeAd decodes one ad record on its own, so a record with unexpected
// field types costs only that record.
func decodeAd(raw json.RawMessage) (adRecord, error) {
	var ad adRecord
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	err := dec.Decode(&ad)
	return ad, err
}

// NextDataStrategy reads ads from the embedded page state.
type NextDataStrategy struct {
	BaseURL string
	Logger  *slog.Logger
}

func (NextDataStrategy) Name() string { return "next_data" }

func (s NextDataStrategy) Extract(doc *goquery.Document, brand, model string) ([]domain.Listing, error) {
	nd, ok, err := readNextData(doc)
	if err != nil || !ok {
		return nil, err
	}
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	ads := make([]adRecord, 0, len(nd.Props.PageProps.SearchData.Ads))
	for i, raw := range nd.Props.PageProps.SearchData.Ads {
		ad, err := decodeAd(raw)
		if err != nil {
			log.Debug("extract: skipping malformed ad record", "index", i, "err", err)
			continue
		}
		ads = append(ads, ad)
	}
	return fn.FilterMap(ads, func(ad adRecord) (domain.Listing, bool) {
		return s.listing(ad, brand, model)
	}), nil
}

func (s NextDataStrategy) listing(ad adRecord, brand, model string) (domain.Listing, bool) {
	id := scalarString(ad.ListID)
	if id == "" {
		return domain.Listing{}, false
	}
	attrs := ad.attributeMap()

	l := domain.Listing{
		ID:          id,
		URL:         adURL(s.BaseURL, id),
		Title:       untitled,
		Price:       priceOf(ad.Price),
		Fuel:        attrs["fuel"],
		Gearbox:     attrs["gearbox"],
		Brand:       brand,
		Model:       model,
		Engine:      attrs["vehicle_engine"],
		Location:    ad.Location.City,
		Description: ad.Body,
		Attributes:  attrs,
	}
	if ad.Subject != nil {
		l.Title = *ad.Subject
	}
	if v, ok := attrs["brand"]; ok {
		l.Brand = v
	}
	if v, ok := attrs["model"]; ok {
		l.Model = v
	}
	if km, ok := ParseMileage(attrs["mileage"]); ok {
		l.Mileage = km
	}
	if y, ok := ParseYear(attrs["regdate"]); ok {
		l.Year = y
	}
	switch {
	case len(ad.Images.URLs) > 0:
		l.ImageURL = ad.Images.URLs[0]
	case ad.Images.SmallURL != "":
		l.ImageURL = ad.Images.SmallURL
	}
	return l, true
}

// attributeMap keeps attributes with both a key and a non-empty value.
func (ad adRecord) attributeMap() map[string]string {
	m := make(map[string]string, len(ad.Attributes))
	for _, a := range ad.Attributes {
		v := scalarString(a.Value)
		if a.Key == "" || v == "" {
			continue
		}
		m[a.Key] = v
	}
	return m
}

// scalarString renders a decoded JSON scalar. Objects, arrays and null
// render as "".
func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// priceOf accepts a number or a single-element list of numbers.
func priceOf(v any) int {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return 0
		}
		v = list[0]
	}
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
		if f, err := t.Float64(); err == nil {
			return int(f)
		}
	case string:
		n, _ := ParsePrice(t)
		return n
	}
	return 0
}

func adURL(base, id string) string {
	return strings.TrimRight(base, "/") + "/ad/voitures/" + id + ".htm"
}
