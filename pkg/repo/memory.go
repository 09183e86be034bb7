package repo

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// MemoryStore keeps everything in process. It backs dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	config  map[string]string
	now     func() time.Time
}

var _ ListingStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		config:  make(map[string]string),
		now:     time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok, nil
}

func (m *MemoryStore) Insert(_ context.Context, r Record) (bool, error) {
	r, err := prepare(r, m.now())
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return false, nil
	}
	r.Attributes = maps.Clone(r.Attributes)
	m.records[r.ID] = &r
	m.order = append(m.order, r.ID)
	return true, nil
}

func (m *MemoryStore) MarkNotified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return fmt.Errorf("repo: mark notified %s: %w", id, domain.ErrNotFound)
	}
	r.Notified = true
	r.NotifiedAt = m.now().UTC().Truncate(time.Second)
	return nil
}

func (m *MemoryStore) Last(_ context.Context, n int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Record{}
	for _, r := range m.sorted() {
		if len(out) >= n {
			break
		}
		if !r.Score.Excluded {
			out = append(out, *r)
		}
	}
	return out, nil
}

// sorted returns records newest first, later inserts winning ties.
func (m *MemoryStore) sorted() []*Record {
	out := make([]*Record, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if r, ok := m.records[m.order[i]]; ok {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b *Record) int {
		return b.DiscoveredAt.Compare(a.DiscoveredAt)
	})
	return out
}

func (m *MemoryStore) StatsByModel(_ context.Context) ([]ModelStats, error) {
	type acc struct {
		brand, model       string
		n, priced          int
		scoreSum, priceSum float64
	}
	m.mu.RLock()
	groups := map[[2]string]*acc{}
	for _, id := range m.order {
		r := m.records[id]
		if r == nil || r.Score.Excluded {
			continue
		}
		k := [2]string{r.Brand, r.Model}
		a := groups[k]
		if a == nil {
			a = &acc{brand: r.Brand, model: r.Model}
			groups[k] = a
		}
		a.n++
		a.scoreSum += float64(r.Score.TotalScore)
		if r.Price > 0 {
			a.priced++
			a.priceSum += float64(r.Price)
		}
	}
	m.mu.RUnlock()

	out := make([]ModelStats, 0, len(groups))
	for _, a := range groups {
		s := ModelStats{
			Brand:    a.brand,
			Model:    a.model,
			Count:    a.n,
			AvgScore: round1(a.scoreSum / float64(a.n)),
		}
		if a.priced > 0 {
			s.AvgPrice = math.Round(a.priceSum / float64(a.priced))
		}
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b ModelStats) int {
		return cmp.Or(cmp.Compare(b.Count, a.Count), cmp.Compare(a.Brand, b.Brand), cmp.Compare(a.Model, b.Model))
	})
	for i := range out {
		out[i].Brand, out[i].Model = orUnknown(out[i].Brand), orUnknown(out[i].Model)
	}
	return out, nil
}

func (m *MemoryStore) DailyStats(_ context.Context, days int) ([]DayStats, error) {
	since := dayStart(m.now()).AddDate(0, 0, -days)
	sums := map[string]*DayStats{}
	m.mu.RLock()
	for _, r := range m.records {
		if r.Score.Excluded || r.DiscoveredAt.Before(since) {
			continue
		}
		day := r.DiscoveredAt.UTC().Format(time.DateOnly)
		d := sums[day]
		if d == nil {
			d = &DayStats{Date: day}
			sums[day] = d
		}
		d.Count++
		d.AvgScore += float64(r.Score.TotalScore)
	}
	m.mu.RUnlock()

	out := make([]DayStats, 0, len(sums))
	for _, d := range sums {
		d.AvgScore = round1(d.AvgScore / float64(d.Count))
		out = append(out, *d)
	}
	slices.SortFunc(out, func(a, b DayStats) int { return cmp.Compare(b.Date, a.Date) })
	return out, nil
}

func (m *MemoryStore) Totals(_ context.Context) (Totals, error) {
	var (
		t        Totals
		scoreSum float64
		scored   int
	)
	since := m.now().Add(-24 * time.Hour)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		t.Total++
		if r.Notified {
			t.Notified++
		}
		if r.Score.Excluded {
			t.Excluded++
		} else {
			scored++
			scoreSum += float64(r.Score.TotalScore)
			if r.Score.Priority == domain.PriorityHigh {
				t.HighPriority++
			}
		}
		if !r.DiscoveredAt.Before(since) {
			t.Last24h++
		}
	}
	if scored > 0 {
		t.AvgScore = round1(scoreSum / float64(scored))
	}
	return t, nil
}

func (m *MemoryStore) GetConfig(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.config[key]
	if !ok {
		return "", fmt.Errorf("repo: config %q: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (m *MemoryStore) SetConfig(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.now().Add(-olderThan)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	kept := m.order[:0]
	for _, id := range m.order {
		if r := m.records[id]; r != nil && r.DiscoveredAt.Before(cutoff) {
			delete(m.records, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}
