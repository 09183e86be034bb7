// Package domain defines the listing, search and classification types shared
// by the carwatch engine, plus the validation gate for caller input.
package domain

import "encoding/json"

// SearchCriteria describes one marketplace search. It is immutable for the
// duration of a search call.
type SearchCriteria struct {
	Brand      string `json:"brand"`
	Model      string `json:"model,omitempty"`
	MaxPrice   int    `json:"max_price,omitempty"`
	MaxMileage int    `json:"max_mileage,omitempty"`
	MinYear    int    `json:"min_year,omitempty"`
	Fuel       string `json:"fuel,omitempty"`
	Gearbox    string `json:"gearbox,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

// DefaultMaxResults caps a search when the criteria leave it unset.
const DefaultMaxResults = 50

// Limit returns the result cap in effect.
func (c SearchCriteria) Limit() int {
	if c.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return c.MaxResults
}

// Listing is one vehicle ad. Before correspondence filtering it is a
// candidate; after, it is guaranteed to match the criteria it was searched
// with. Zero numeric fields and empty strings mean "not provided".
type Listing struct {
	ID          string            `json:"listing_id"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Price       int               `json:"price,omitempty"`
	Mileage     int               `json:"mileage,omitempty"`
	Year        int               `json:"year,omitempty"`
	Fuel        string            `json:"fuel,omitempty"`
	Gearbox     string            `json:"gearbox,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Model       string            `json:"model,omitempty"`
	Engine      string            `json:"engine,omitempty"`
	Location    string            `json:"location,omitempty"`
	Description string            `json:"description,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Priority is the notification tier of a scored listing.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ScoreResult is the classification of one listing. Excluded results carry
// no score and no priority. Explanation lists keep rule evaluation order.
type ScoreResult struct {
	TotalScore      int      `json:"total_score"`
	Priority        Priority `json:"priority,omitempty"`
	Bonuses         []string `json:"bonuses"`
	Penalties       []string `json:"penalties"`
	Warnings        []string `json:"warnings"`
	Excluded        bool     `json:"excluded"`
	ExclusionReason string   `json:"exclusion_reason,omitempty"`
}

// JSON renders the result for storage next to its listing.
func (r ScoreResult) JSON() string {
	if r.Bonuses == nil {
		r.Bonuses = []string{}
	}
	if r.Penalties == nil {
		r.Penalties = []string{}
	}
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	b, _ := json.Marshal(r)
	return string(b)
}
