package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/carwatch/engine/domain"
)

var storeNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T, now func() time.Time) ListingStore

// extraStores is filled by build-tagged test files that need a live backend.
var extraStores = map[string]storeFactory{}

func stores() map[string]storeFactory {
	all := map[string]storeFactory{
		"memory": func(t *testing.T, now func() time.Time) ListingStore {
			m := NewMemoryStore()
			m.now = now
			return m
		},
		"sqlite": func(t *testing.T, now func() time.Time) ListingStore {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "listings.db"))
			require.NoError(t, err)
			s.now = now
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	for name, f := range extraStores {
		all[name] = f
	}
	return all
}

func record(id, brand, model string, score int, prio domain.Priority, price int, at time.Time) Record {
	return Record{
		Listing: domain.Listing{
			ID:         id,
			URL:        "https://www.leboncoin.fr/ad/voitures/" + id + ".htm",
			Title:      brand + " " + model,
			Brand:      brand,
			Model:      model,
			Price:      price,
			Mileage:    90000,
			Year:       2012,
			Attributes: map[string]string{"fuel": "Essence"},
		},
		Score: domain.ScoreResult{
			TotalScore: score,
			Priority:   prio,
			Bonuses:    []string{"+10 Mazda 2 essence"},
		},
		DiscoveredAt: at,
	}
}

func excludedRecord(id string, at time.Time) Record {
	r := record(id, "Peugeot", "208", 0, "", 3000, at)
	r.Score = domain.ScoreResult{Excluded: true, ExclusionReason: "Keyword 'panne' found"}
	return r
}

func TestStoreInsertAndExists(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })

			ok, err := s.Exists(ctx, "100")
			require.NoError(t, err)
			require.False(t, ok)

			inserted, err := s.Insert(ctx, record("100", "Mazda", "2", 20, domain.PriorityHigh, 2500, time.Time{}))
			require.NoError(t, err)
			require.True(t, inserted)

			inserted, err = s.Insert(ctx, record("100", "Mazda", "2", 5, domain.PriorityLow, 9999, time.Time{}))
			require.NoError(t, err)
			require.False(t, inserted, "duplicate id must not insert")

			ok, err = s.Exists(ctx, "100")
			require.NoError(t, err)
			require.True(t, ok)

			last, err := s.Last(ctx, 5)
			require.NoError(t, err)
			require.Len(t, last, 1)
			got := last[0]
			require.Equal(t, 2500, got.Price, "first insert wins")
			require.Equal(t, 20, got.Score.TotalScore)
			require.Equal(t, domain.PriorityHigh, got.Score.Priority)
			require.Equal(t, []string{"+10 Mazda 2 essence"}, got.Score.Bonuses)
			require.Equal(t, map[string]string{"fuel": "Essence"}, got.Attributes)
			require.True(t, got.DiscoveredAt.Equal(storeNow), "zero discovery time defaults to now")
			require.False(t, got.Notified)
		})
	}
}

func TestStoreRejectsMissingID(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			s := open(t, func() time.Time { return storeNow })
			_, err := s.Insert(context.Background(), record("", "Mazda", "2", 1, domain.PriorityLow, 1, storeNow))
			require.ErrorIs(t, err, domain.ErrMissingListingID)
		})
	}
}

func TestStoreMarkNotified(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })
			_, err := s.Insert(ctx, record("1", "Mazda", "2", 20, domain.PriorityHigh, 2500, storeNow))
			require.NoError(t, err)

			require.NoError(t, s.MarkNotified(ctx, "1"))
			err = s.MarkNotified(ctx, "missing")
			require.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

			last, err := s.Last(ctx, 1)
			require.NoError(t, err)
			require.True(t, last[0].Notified)
			require.True(t, last[0].NotifiedAt.Equal(storeNow))

			tot, err := s.Totals(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, tot.Notified)
		})
	}
}

func TestStoreLastOrderAndExclusion(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })
			for i, id := range []string{"a", "b", "c"} {
				_, err := s.Insert(ctx, record(id, "Mazda", "2", 10, domain.PriorityMedium, 2000, storeNow.Add(time.Duration(i)*time.Minute)))
				require.NoError(t, err)
			}
			_, err := s.Insert(ctx, excludedRecord("x", storeNow.Add(time.Hour)))
			require.NoError(t, err)

			last, err := s.Last(ctx, 2)
			require.NoError(t, err)
			require.Len(t, last, 2)
			require.Equal(t, "c", last[0].ID)
			require.Equal(t, "b", last[1].ID)

			none, err := s.Last(ctx, 0)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestStoreStatsByModel(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })
			rows := []Record{
				record("1", "Mazda", "2", 20, domain.PriorityHigh, 2000, storeNow),
				record("2", "Mazda", "2", 15, domain.PriorityHigh, 2501, storeNow),
				record("3", "Mazda", "2", 10, domain.PriorityMedium, 0, storeNow),
				record("4", "Toyota", "Yaris", 7, domain.PriorityLow, 3000, storeNow),
				record("5", "", "", 4, domain.PriorityLow, 1000, storeNow),
				excludedRecord("6", storeNow),
			}
			for _, r := range rows {
				_, err := s.Insert(ctx, r)
				require.NoError(t, err)
			}

			got, err := s.StatsByModel(ctx)
			require.NoError(t, err)
			require.Equal(t, []ModelStats{
				{Brand: "Mazda", Model: "2", Count: 3, AvgScore: 15, AvgPrice: 2251},
				{Brand: UnknownLabel, Model: UnknownLabel, Count: 1, AvgScore: 4, AvgPrice: 1000},
				{Brand: "Toyota", Model: "Yaris", Count: 1, AvgScore: 7, AvgPrice: 3000},
			}, got)
		})
	}
}

func TestStoreDailyStats(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })
			day := 24 * time.Hour
			rows := []Record{
				record("1", "Mazda", "2", 20, domain.PriorityHigh, 2000, storeNow),
				record("2", "Mazda", "2", 11, domain.PriorityMedium, 2000, storeNow.Add(-time.Hour)),
				record("3", "Mazda", "2", 9, domain.PriorityLow, 2000, storeNow.Add(-day)),
				record("4", "Mazda", "2", 9, domain.PriorityLow, 2000, storeNow.Add(-30*day)),
				excludedRecord("5", storeNow),
			}
			for _, r := range rows {
				_, err := s.Insert(ctx, r)
				require.NoError(t, err)
			}

			got, err := s.DailyStats(ctx, 7)
			require.NoError(t, err)
			require.Equal(t, []DayStats{
				{Date: "2026-03-10", Count: 2, AvgScore: 15.5},
				{Date: "2026-03-09", Count: 1, AvgScore: 9},
			}, got)
		})
	}
}

func TestStoreTotals(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })

			empty, err := s.Totals(ctx)
			require.NoError(t, err)
			require.Equal(t, Totals{}, empty)

			rows := []Record{
				record("1", "Mazda", "2", 20, domain.PriorityHigh, 2000, storeNow),
				record("2", "Mazda", "2", 10, domain.PriorityMedium, 2000, storeNow.Add(-2*time.Hour)),
				record("3", "Mazda", "2", 5, domain.PriorityLow, 2000, storeNow.Add(-48*time.Hour)),
				excludedRecord("4", storeNow),
			}
			for _, r := range rows {
				_, err := s.Insert(ctx, r)
				require.NoError(t, err)
			}
			require.NoError(t, s.MarkNotified(ctx, "1"))

			got, err := s.Totals(ctx)
			require.NoError(t, err)
			require.Equal(t, Totals{
				Total:        4,
				Notified:     1,
				Excluded:     1,
				AvgScore:     11.7,
				HighPriority: 1,
				Last24h:      3,
			}, got)
		})
	}
}

func TestStoreConfig(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })

			_, err := s.GetConfig(ctx, KeyHighThreshold)
			require.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.SetConfig(ctx, KeyHighThreshold, "15"))
			require.NoError(t, s.SetConfig(ctx, KeyHighThreshold, "18"))
			v, err := s.GetConfig(ctx, KeyHighThreshold)
			require.NoError(t, err)
			require.Equal(t, "18", v)
		})
	}
}

func TestStoreCleanup(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, func() time.Time { return storeNow })
			day := 24 * time.Hour
			for id, age := range map[string]time.Duration{"old": 31 * day, "older": 60 * day, "fresh": day} {
				_, err := s.Insert(ctx, record(id, "Mazda", "2", 10, domain.PriorityMedium, 2000, storeNow.Add(-age)))
				require.NoError(t, err)
			}

			n, err := s.Cleanup(ctx, 30*day)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			for id, want := range map[string]bool{"old": false, "older": false, "fresh": true} {
				ok, err := s.Exists(ctx, id)
				require.NoError(t, err)
				require.Equal(t, want, ok, id)
			}
		})
	}
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "listings.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = s.Insert(ctx, record("1", "Mazda", "2", 20, domain.PriorityHigh, 2000, storeNow))
	require.NoError(t, err)
	require.NoError(t, s.SetConfig(ctx, KeyMonitoring, "true"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	ok, err := s.Exists(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	v, err := s.GetConfig(ctx, KeyMonitoring)
	require.NoError(t, err)
	require.Equal(t, "true", v)
}
