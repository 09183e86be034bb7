package rules

import (
	"fmt"
	"strings"
)

// tally accumulates points with their explanations in rule order.
type tally struct {
	points int
	notes  []string
}

func (t *tally) add(pts int, format string, args ...any) {
	t.points += pts
	t.notes = append(t.notes, fmt.Sprintf("%+d ", pts)+fmt.Sprintf(format, args...))
}

// modelBonus is one named brand/model rule.
type modelBonus struct {
	brand, model string
	// text, when set, must also match the lowercased title and description.
	text   []string
	points func(ModelBonuses) int
	label  string
}

var modelBonuses = []modelBonus{
	{"mazda", "2", []string{"essence", "chaîne", "chaine"}, func(b ModelBonuses) int { return b.Mazda2Essence }, "Mazda 2 essence/chain"},
	{"honda", "jazz", manualTokens, func(b ModelBonuses) int { return b.HondaJazzManual }, "Honda Jazz manual"},
	{"suzuki", "swift", nil, func(b ModelBonuses) int { return b.SuzukiSwift3 }, "Suzuki Swift 3"},
	{"seat", "ibiza", []string{"1.4 16v", "1.2 12v", "atmosphérique", "atmo"}, func(b ModelBonuses) int { return b.SeatIbizaAtmo }, "Seat Ibiza naturally aspirated"},
	{"toyota", "yaris", nil, func(b ModelBonuses) int { return b.ToyotaYaris }, "Toyota Yaris"},
}

func (e *Engine) bonuses(in facts) (int, []string) {
	s := e.cfg.Criteria.Scoring
	var t tally

	for _, mb := range modelBonuses {
		if in.brand != mb.brand || !strings.Contains(in.model, mb.model) {
			continue
		}
		if mb.text != nil && !containsAny(in.lower, mb.text...) {
			continue
		}
		t.add(mb.points(s.HighPriorityModels), "%s", mb.label)
	}

	switch e.maintenanceKind(in) {
	case maintenanceChain:
		t.add(s.ChainEngine, "chain engine")
	case maintenanceDistribution:
		t.add(s.DistributionDone, "timing belt done")
	case maintenanceHistory:
		t.add(s.HistoryMentioned, "service history")
	}

	if p := in.l.Price; p > 0 && p < s.PriceBonusCeiling {
		t.add(s.PriceUnder, "price < %d", s.PriceBonusCeiling)
	}
	if km := in.l.Mileage; km > 0 && km < s.KmBonusCeiling {
		t.add(s.KmUnder, "mileage < %d", s.KmBonusCeiling)
	}
	return t.points, t.notes
}

type maintenance int

const (
	maintenanceNone maintenance = iota
	maintenanceHistory
	maintenanceDistribution
	maintenanceChain
)

// maintenanceKind grades the matched maintenance keywords. At most one
// maintenance bonus is awarded: chain beats distribution beats history.
func (e *Engine) maintenanceKind(in facts) maintenance {
	best := maintenanceNone
	for _, kw := range e.cfg.Exclusions.PositiveKeywords.Get(MaintenanceCategory) {
		nk := Normalize(strings.TrimSpace(kw))
		if nk == "" || !strings.Contains(in.normalized, nk) {
			continue
		}
		kind := maintenanceHistory
		switch {
		// "chaine de distribution" names both; it is a chain engine.
		case strings.Contains(nk, "chaine"):
			kind = maintenanceChain
		case strings.Contains(nk, "distribution"):
			kind = maintenanceDistribution
		}
		best = max(best, kind)
	}
	return best
}

func (e *Engine) penalties(in facts) (int, []string) {
	s := e.cfg.Criteria.Scoring
	var t tally

	text := in.lower + " " + strings.ToLower(in.l.Fuel)
	if strings.Contains(text, "diesel") {
		t.add(-abs(s.DieselPenalty), "diesel")
	}
	suspicious := e.cfg.Exclusions.BlacklistKeywords.Get(SuspiciousCategory)
	if kw, ok := firstKeyword(Normalize(text), suspicious); ok {
		t.add(-abs(s.BlacklistKeywordPenalty), "suspicious keyword: %s", kw)
	}
	return t.points, t.notes
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
