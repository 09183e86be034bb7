package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/carwatch/pkg/configutil"
)

// Rule document names inside the configuration directory.
const (
	CriteriaFile   = "criteria.yaml"
	ExclusionsFile = "exclusions.yaml"
)

// SuspiciousCategory names the blacklist group that penalizes instead of
// excluding.
const SuspiciousCategory = "suspicious"

// MaintenanceCategory names the positive keyword group behind the service
// history bonus.
const MaintenanceCategory = "maintenance"

// General holds the search and exclusion limits. Zero limits are disabled.
type General struct {
	MaxPrice             int     `yaml:"max_price" json:"max_price"`
	MaxKm                int     `yaml:"max_km" json:"max_km"`
	MinYear              int     `yaml:"min_year" json:"min_year"`
	Fuel                 string  `yaml:"fuel" json:"fuel"`
	Gearbox              string  `yaml:"gearbox" json:"gearbox"`
	RequestDelayMin      float64 `yaml:"request_delay_min" json:"request_delay_min"`
	RequestDelayMax      float64 `yaml:"request_delay_max" json:"request_delay_max"`
	CheckIntervalMinutes int     `yaml:"check_interval_minutes" json:"check_interval_minutes"`
	MaxResults           int     `yaml:"max_results" json:"max_results"`
}

// ModelTarget is one brand/model the watcher searches for.
type ModelTarget struct {
	Name          string `yaml:"name" json:"name"`
	Brand         string `yaml:"brand" json:"brand"`
	Model         string `yaml:"model" json:"model"`
	YearMin       int    `yaml:"year_min" json:"year_min,omitempty"`
	PriorityScore int    `yaml:"priority_score" json:"priority_score"`
}

// Thresholds split scores into priority tiers.
type Thresholds struct {
	High   int `yaml:"high" json:"high"`
	Medium int `yaml:"medium" json:"medium"`
}

// ModelBonuses are the points of the named model rules.
type ModelBonuses struct {
	Mazda2Essence   int `yaml:"mazda_2_essence"`
	HondaJazzManual int `yaml:"honda_jazz_manuelle"`
	SuzukiSwift3    int `yaml:"swift_3_post_2010"`
	SeatIbizaAtmo   int `yaml:"seat_ibiza_atmo"`
	ToyotaYaris     int `yaml:"toyota_yaris"`
}

// Scoring holds bonus and penalty weights. Penalties may be written with
// or without a sign; they always subtract.
type Scoring struct {
	HighPriorityModels      ModelBonuses `yaml:"high_priority_models"`
	ChainEngine             int          `yaml:"chain_engine"`
	DistributionDone        int          `yaml:"distribution_done"`
	HistoryMentioned        int          `yaml:"history_mentioned"`
	PriceUnder              int          `yaml:"price_under_2500"`
	KmUnder                 int          `yaml:"km_under_100000"`
	PriceBonusCeiling       int          `yaml:"price_bonus_ceiling"`
	KmBonusCeiling          int          `yaml:"km_bonus_ceiling"`
	DieselPenalty           int          `yaml:"diesel_penalty"`
	BlacklistKeywordPenalty int          `yaml:"blacklist_keyword_penalty"`
}

// Criteria is the criteria.yaml document.
type Criteria struct {
	General    General       `yaml:"general"`
	Models     []ModelTarget `yaml:"models"`
	Thresholds Thresholds    `yaml:"priority_thresholds"`
	Scoring    Scoring       `yaml:"scoring"`
}

// BrandRule is the exclusion rule set of one brand.
type BrandRule struct {
	Engines         []string `yaml:"engines"`
	Transmissions   []string `yaml:"transmissions"`
	RequireManual   bool     `yaml:"require_manual"`
	AcceptedEngines []string `yaml:"accepted_engines"`
	Reason          string   `yaml:"reason"`
}

// KeywordGroup is one named keyword category.
type KeywordGroup struct {
	Category string
	Keywords []string
}

// KeywordGroups keeps categories in document order, which decides which
// keyword is reported when several match.
type KeywordGroups []KeywordGroup

// UnmarshalYAML reads a mapping of category to keyword list.
func (g *KeywordGroups) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("keyword groups: expected mapping at line %d", node.Line)
	}
	out := make(KeywordGroups, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var kws []string
		if err := node.Content[i+1].Decode(&kws); err != nil {
			return fmt.Errorf("keyword group %q: %w", node.Content[i].Value, err)
		}
		out = append(out, KeywordGroup{Category: node.Content[i].Value, Keywords: kws})
	}
	*g = out
	return nil
}

// Get returns the keywords of category, or nil.
func (g KeywordGroups) Get(category string) []string {
	for _, grp := range g {
		if grp.Category == category {
			return grp.Keywords
		}
	}
	return nil
}

// Exclusions is the exclusions.yaml document.
type Exclusions struct {
	BlacklistKeywords KeywordGroups        `yaml:"blacklist_keywords"`
	BrandExclusions   map[string]BrandRule `yaml:"brand_exclusions"`
	PositiveKeywords  KeywordGroups        `yaml:"positive_keywords"`
}

// Config is the full rule configuration.
type Config struct {
	Criteria   Criteria
	Exclusions Exclusions
}

// DefaultCriteria returns the values used for every key a document omits.
func DefaultCriteria() Criteria {
	return Criteria{
		General: General{
			MaxPrice:             3000,
			MaxKm:                150000,
			MinYear:              2008,
			Fuel:                 "essence",
			Gearbox:              "manuelle",
			RequestDelayMin:      5,
			RequestDelayMax:      10,
			CheckIntervalMinutes: 30,
			MaxResults:           50,
		},
		Thresholds: Thresholds{High: 15, Medium: 10},
		Scoring: Scoring{
			HighPriorityModels: ModelBonuses{
				Mazda2Essence:   10,
				HondaJazzManual: 10,
				SuzukiSwift3:    10,
				SeatIbizaAtmo:   5,
				ToyotaYaris:     5,
			},
			ChainEngine:             3,
			DistributionDone:        3,
			HistoryMentioned:        3,
			PriceUnder:              2,
			KmUnder:                 2,
			PriceBonusCeiling:       2500,
			KmBonusCeiling:          100000,
			DieselPenalty:           -5,
			BlacklistKeywordPenalty: -10,
		},
	}
}

// DefaultConfig is the configuration used when no document can be read:
// default criteria, no blacklist and no brand rules.
func DefaultConfig() Config {
	return Config{Criteria: DefaultCriteria()}
}

// Load reads both rule documents from dir. A missing or malformed document
// is logged and replaced by its defaults, so Load never fails.
func Load(dir string, log *slog.Logger) Config {
	if log == nil {
		log = slog.Default()
	}
	cfg := DefaultConfig()

	crit := DefaultCriteria()
	if err := readDoc(filepath.Join(dir, CriteriaFile), &crit, log); err == nil {
		cfg.Criteria = crit
	}
	var excl Exclusions
	if err := readDoc(filepath.Join(dir, ExclusionsFile), &excl, log); err == nil {
		cfg.Exclusions = excl
	}
	cfg.Exclusions.BrandExclusions = lowerKeys(cfg.Exclusions.BrandExclusions)
	return cfg
}

func readDoc[T any](path string, out *T, log *slog.Logger) error {
	err := configutil.ReadInto(path, out)
	switch {
	case err == nil:
		log.Info("rules: loaded", "path", path)
	case errors.Is(err, os.ErrNotExist):
		log.Warn("rules: document not found, using defaults", "path", path)
	default:
		log.Error("rules: unreadable document, using defaults", "path", path, "err", err)
	}
	return err
}

func lowerKeys(m map[string]BrandRule) map[string]BrandRule {
	out := make(map[string]BrandRule, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
