// Package repo stores seen listings, their classification and a few
// operator settings, and answers the aggregate queries behind the status
// and stats commands.
package repo

import (
	"context"
	"math"
	"time"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// Persisted setting keys.
const (
	KeyHighThreshold = "high_threshold"
	KeyMonitoring    = "monitoring"
)

// UnknownLabel stands in for a missing brand or model in aggregates.
const UnknownLabel = "Inconnu"

// Record is a stored listing with its classification.
type Record struct {
	domain.Listing
	Score        domain.ScoreResult `json:"score"`
	DiscoveredAt time.Time          `json:"discovered_at"`
	Notified     bool               `json:"notified"`
	NotifiedAt   time.Time          `json:"notified_at,omitzero"`
}

// ModelStats aggregates non-excluded listings of one brand and model.
type ModelStats struct {
	Brand    string  `json:"brand"`
	Model    string  `json:"model"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
	AvgPrice float64 `json:"avg_price"`
}

// DayStats aggregates non-excluded listings discovered on one UTC day.
type DayStats struct {
	Date     string  `json:"date"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// Totals are store-wide counters. AvgScore and HighPriority ignore
// excluded listings; Last24h counts every listing.
type Totals struct {
	Total        int     `json:"total"`
	Notified     int     `json:"notified"`
	Excluded     int     `json:"excluded"`
	AvgScore     float64 `json:"avg_score"`
	HighPriority int     `json:"high_priority"`
	Last24h      int     `json:"today_count"`
}

// ListingStore is the persistence contract of the watcher.
type ListingStore interface {
	Exists(ctx context.Context, id string) (bool, error)
	// Insert stores r and reports false when the id was already present.
	Insert(ctx context.Context, r Record) (bool, error)
	MarkNotified(ctx context.Context, id string) error
	// Last returns up to n non-excluded records, newest first.
	Last(ctx context.Context, n int) ([]Record, error)
	StatsByModel(ctx context.Context) ([]ModelStats, error)
	// DailyStats covers the last days days, most recent first.
	DailyStats(ctx context.Context, days int) ([]DayStats, error)
	Totals(ctx context.Context) (Totals, error)
	// GetConfig returns domain.ErrNotFound for an unset key.
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
	// Cleanup deletes records discovered before now-olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
	Close() error
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

func orUnknown(s string) string {
	if s == "" {
		return UnknownLabel
	}
	return s
}

func prepare(r Record, now time.Time) (Record, error) {
	if err := domain.ValidateListing(r.Listing); err != nil {
		return r, err
	}
	if r.DiscoveredAt.IsZero() {
		r.DiscoveredAt = now
	}
	r.DiscoveredAt = r.DiscoveredAt.UTC().Truncate(time.Second)
	return r, nil
}
