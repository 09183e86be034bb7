package rules

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/WessleyAI/carwatch/engine/domain"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return New(Load("testdata", nil), nil)
}

func TestBlacklistExcludes(t *testing.T) {
	e := testEngine(t)
	tests := []struct {
		title, desc, kw string
	}{
		{"Voiture en panne", "Moteur HS", "en panne"},
		{"Voiture pour pieces", "A depecer", "pour pièces"},
		{"Voiture ACCIDENTEE", "Choc avant", "accidenté"},
		{"Mazda 2 épave", "Pour collectionneur", "épave"},
	}
	for _, tt := range tests {
		r := e.Evaluate(domain.Listing{ID: "1", Title: tt.title, Description: tt.desc})
		if !r.Excluded {
			t.Errorf("%q: expected exclusion", tt.title)
			continue
		}
		if r.ExclusionReason != "blacklist keyword: "+tt.kw {
			t.Errorf("%q: reason %q", tt.title, r.ExclusionReason)
		}
		if r.TotalScore != 0 || r.Priority != "" || len(r.Bonuses) != 0 {
			t.Errorf("%q: excluded result carries scoring: %+v", tt.title, r)
		}
	}
}

func TestBlacklistBeatsBrandRule(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{Title: "Peugeot 207 1.4 VTi en panne", Brand: "peugeot"})
	if !strings.HasPrefix(r.ExclusionReason, "blacklist keyword:") {
		t.Fatalf("reason = %q", r.ExclusionReason)
	}
}

func TestBrandExclusions(t *testing.T) {
	e := testEngine(t)
	tests := []struct {
		name string
		l    domain.Listing
		want string
	}{
		{"peugeot vti", domain.Listing{Title: "Peugeot 208 1.4 VTi", Description: "Moteur 1.4 VTi 95ch", Brand: "peugeot"},
			"excluded engine: VTi - timing chain failures"},
		{"renault tce uppercase", domain.Listing{Title: "Renault Clio 1.2 TCE", Brand: "Renault"},
			"excluded engine: TCe - turbo petrol reliability"},
		{"engine field", domain.Listing{Title: "Renault Clio", Engine: "0.9 TCe 90", Brand: "renault"},
			"excluded engine: TCe - turbo petrol reliability"},
		{"honda cvt", domain.Listing{Title: "Honda Jazz CVT", Description: "Boite automatique CVT", Brand: "honda"},
			"excluded transmission: CVT - CVT gearbox"},
		{"suzuki ddis", domain.Listing{Title: "Suzuki Swift DDiS", Description: "1.3 DDiS diesel", Brand: "suzuki"},
			"excluded engine: DDiS - diesel"},
		{"seat tsi", domain.Listing{Title: "Seat Ibiza 1.2 TSI", Description: "Moteur TSI turbo", Brand: "seat"},
			"seat ibiza with TSI/TDI engine excluded"},
		{"seat tdi no space", domain.Listing{Title: "Seat Ibiza 1.4TDI", Brand: "seat"},
			"seat ibiza with TSI/TDI engine excluded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(tt.l)
			if !r.Excluded || r.ExclusionReason != tt.want {
				t.Fatalf("got excluded=%v reason=%q, want %q", r.Excluded, r.ExclusionReason, tt.want)
			}
		})
	}
}

func TestSeatAcceptedEngineNotExcluded(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{Title: "Seat Ibiza 1.4 16v", Description: "pas le 1.2 tsi", Brand: "seat", Model: "ibiza"})
	if r.Excluded {
		t.Fatalf("unexpected exclusion: %s", r.ExclusionReason)
	}
	if len(r.Bonuses) == 0 || r.Bonuses[0] != "+5 Seat Ibiza naturally aspirated" {
		t.Fatalf("bonuses = %v", r.Bonuses)
	}
}

func TestHondaManualWarning(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{Title: "Honda Jazz 1.4", Brand: "honda", Model: "jazz"})
	if r.Excluded {
		t.Fatalf("unexpected exclusion: %s", r.ExclusionReason)
	}
	if diff := cmp.Diff([]string{"check for CVT/automatic gearbox"}, r.Warnings); diff != "" {
		t.Fatalf("warnings (-want +got):\n%s", diff)
	}

	r = e.Evaluate(domain.Listing{Title: "Honda Jazz 1.4 manuelle", Brand: "honda", Model: "jazz"})
	if len(r.Warnings) != 0 {
		t.Fatalf("manual listing warned: %v", r.Warnings)
	}
}

func TestGeneralCriteria(t *testing.T) {
	e := testEngine(t)
	tests := []struct {
		name string
		l    domain.Listing
		want string
	}{
		{"price", domain.Listing{Title: "Mazda 2", Price: 5000}, "price 5000 > max 3000"},
		{"mileage", domain.Listing{Title: "Mazda 2", Price: 2500, Mileage: 200000}, "mileage 200000 > max 140000"},
		{"year", domain.Listing{Title: "Mazda 2", Price: 2500, Mileage: 100000, Year: 2005}, "year 2005 < min 2008"},
		{"gearbox fr", domain.Listing{Title: "Mazda 2", Gearbox: "Automatique"}, "automatic gearbox excluded"},
		{"gearbox en", domain.Listing{Title: "Mazda 2", Gearbox: "automatic"}, "automatic gearbox excluded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(tt.l)
			if !r.Excluded || r.ExclusionReason != tt.want {
				t.Fatalf("got excluded=%v reason=%q, want %q", r.Excluded, r.ExclusionReason, tt.want)
			}
		})
	}
}

func TestMissingFieldsNeverExclude(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{ID: "601", Title: "Mazda 2"})
	if r.Excluded {
		t.Fatalf("unexpected exclusion: %s", r.ExclusionReason)
	}
	if r.Priority != domain.PriorityLow {
		t.Fatalf("priority = %s", r.Priority)
	}
}

func TestMazdaHighPriority(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{
		Title: "Mazda 2 1.3 essence", Description: "Moteur chaîne, entretien suivi",
		Price: 2400, Mileage: 85000, Year: 2012, Fuel: "Essence", Gearbox: "Manuelle",
		Brand: "mazda", Model: "2",
	})
	want := domain.ScoreResult{
		TotalScore: 17,
		Priority:   domain.PriorityHigh,
		Bonuses: []string{
			"+10 Mazda 2 essence/chain",
			"+3 chain engine",
			"+2 price < 2500",
			"+2 mileage < 100000",
		},
	}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Fatalf("result (-want +got):\n%s", diff)
	}
}

func TestMaintenancePrecedence(t *testing.T) {
	e := testEngine(t)
	tests := []struct {
		desc, want string
	}{
		{"carnet d'entretien, distribution faite", "+3 timing belt done"},
		{"carnet d'entretien, moteur chaine, distribution faite", "+3 chain engine"},
		{"entretien suivi", "+3 service history"},
		{"moteur à chaîne de distribution", "+3 chain engine"},
	}
	for _, tt := range tests {
		r := e.Evaluate(domain.Listing{Title: "Toyota Aygo", Description: tt.desc, Brand: "toyota", Model: "aygo"})
		if diff := cmp.Diff([]string{tt.want}, r.Bonuses); diff != "" {
			t.Errorf("%q (-want +got):\n%s", tt.desc, diff)
		}
	}
}

func TestDieselPenalty(t *testing.T) {
	e := testEngine(t)
	base := domain.Listing{Title: "Peugeot 206", Description: "Bon etat", Price: 2800, Mileage: 120000, Year: 2010, Brand: "peugeot", Model: "206"}
	petrol := e.Evaluate(base)

	diesel := base
	diesel.Fuel = "Diesel"
	got := e.Evaluate(diesel)
	if got.Excluded {
		t.Fatalf("diesel must not exclude: %s", got.ExclusionReason)
	}
	if got.TotalScore != petrol.TotalScore-5 {
		t.Fatalf("score %d, want %d", got.TotalScore, petrol.TotalScore-5)
	}
	if diff := cmp.Diff([]string{"-5 diesel"}, got.Penalties); diff != "" {
		t.Fatalf("penalties (-want +got):\n%s", diff)
	}
}

func TestSuspiciousPenaltyFirstMatchOnly(t *testing.T) {
	e := testEngine(t)
	r := e.Evaluate(domain.Listing{Title: "Peugeot 206", Description: "Vendu en l'etat sans garantie", Brand: "peugeot"})
	if r.Excluded {
		t.Fatalf("suspicious keywords must not exclude: %s", r.ExclusionReason)
	}
	if diff := cmp.Diff([]string{"-10 suspicious keyword: en l'état"}, r.Penalties); diff != "" {
		t.Fatalf("penalties (-want +got):\n%s", diff)
	}
	if r.TotalScore != -10 {
		t.Fatalf("score = %d", r.TotalScore)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := testEngine(t)
	l := domain.Listing{Title: "Suzuki Swift 1.2", Description: "carnet d'entretien, diesel", Price: 2000, Mileage: 90000, Brand: "suzuki", Model: "swift"}
	a, b := e.Evaluate(l), e.Evaluate(l)
	if a.JSON() != b.JSON() {
		t.Fatalf("results differ:\n%s\n%s", a.JSON(), b.JSON())
	}
}

func TestTier(t *testing.T) {
	th := Thresholds{High: 15, Medium: 10}
	for score, want := range map[int]domain.Priority{
		16: domain.PriorityHigh, 15: domain.PriorityMedium, 10: domain.PriorityMedium,
		9: domain.PriorityLow, -5: domain.PriorityLow,
	} {
		if got := Tier(score, th); got != want {
			t.Errorf("Tier(%d) = %s, want %s", score, got, want)
		}
	}
}

func TestThresholdMutation(t *testing.T) {
	e := testEngine(t)
	l := domain.Listing{Title: "Mazda 2 essence", Description: "Bon etat", Price: 2800, Mileage: 120000, Year: 2012, Brand: "mazda", Model: "2"}

	before := e.Evaluate(l)
	if before.TotalScore != 10 || before.Priority != domain.PriorityMedium {
		t.Fatalf("before: %+v", before)
	}
	if err := e.SetThresholds(9, 5); err != nil {
		t.Fatal(err)
	}
	after := e.Evaluate(l)
	if after.Priority != domain.PriorityHigh {
		t.Fatalf("after: %+v", after)
	}
	if err := e.SetThresholds(9, 12); !errors.Is(err, domain.ErrThresholdOrder) {
		t.Fatalf("expected ErrThresholdOrder for a pair, got %v", err)
	}
	if before.Priority != domain.PriorityMedium {
		t.Fatal("earlier result changed")
	}
}

func TestHighThresholdBelowMedium(t *testing.T) {
	e := testEngine(t)
	if err := e.SetHighThreshold(8); err != nil {
		t.Fatalf("SetHighThreshold(8) = %v", err)
	}
	if got := e.Thresholds(); got != (Thresholds{High: 8, Medium: 10}) {
		t.Fatalf("thresholds = %+v", got)
	}
	for score, want := range map[int]domain.Priority{9: domain.PriorityHigh, 8: domain.PriorityLow} {
		if got := Tier(score, e.Thresholds()); got != want {
			t.Errorf("Tier(%d) = %s, want %s", score, got, want)
		}
	}
	if err := e.SetHighThreshold(0); err != nil {
		t.Fatalf("SetHighThreshold(0) = %v", err)
	}
}

func TestInvalidThresholdKeepsState(t *testing.T) {
	e := testEngine(t)
	for _, v := range []int{-1, 101} {
		err := e.SetHighThreshold(v)
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || !errors.Is(err, domain.ErrInvalidThreshold) {
			t.Fatalf("SetHighThreshold(%d) = %v", v, err)
		}
	}
	if got := e.Thresholds(); got != (Thresholds{High: 15, Medium: 10}) {
		t.Fatalf("thresholds changed: %+v", got)
	}
}

func TestConcurrentEvaluateAndSet(t *testing.T) {
	e := testEngine(t)
	l := domain.Listing{Title: "Toyota Yaris", Brand: "toyota", Model: "yaris"}
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if i%2 == 0 {
					_ = e.SetThresholds(20+j%5, 10)
				} else {
					_ = e.Evaluate(l)
				}
			}
		}()
	}
	wg.Wait()
}

func TestEmptyConfigDefaults(t *testing.T) {
	e := New(DefaultConfig(), nil)
	r := e.Evaluate(domain.Listing{Title: "Voiture en panne", Brand: "peugeot", Engine: "VTi"})
	if r.Excluded {
		t.Fatalf("empty rule set excluded: %s", r.ExclusionReason)
	}
	r = e.Evaluate(domain.Listing{Title: "x", Price: 3500})
	if !r.Excluded {
		t.Fatal("default max price not applied")
	}
}

func TestSummary(t *testing.T) {
	s := testEngine(t).Summary()
	for _, want := range []string{"max price: 3000", "Mazda 2 (priority: 10)", "high: score > 15", "low: score < 10"} {
		if !strings.Contains(s, want) {
			t.Errorf("summary missing %q:\n%s", want, s)
		}
	}
}

func TestNewRejectsBadConfiguredThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Criteria.Thresholds = Thresholds{High: 5, Medium: 50}
	if got := New(cfg, nil).Thresholds(); got != (Thresholds{High: 15, Medium: 10}) {
		t.Fatalf("thresholds = %+v", got)
	}
}
