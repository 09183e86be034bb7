package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// verdict is the outcome of one exclusion check. A non-empty reason
// excludes; warnings only count when nothing excludes.
type verdict struct {
	reason   string
	warnings []string
}

func (v verdict) excluded() bool { return v.reason != "" }

func exclude(format string, args ...any) verdict {
	return verdict{reason: fmt.Sprintf(format, args...)}
}

type check func(*Engine, facts) verdict

// exclusionChecks run in order; the first exclusion wins.
var exclusionChecks = []check{
	(*Engine).checkBlacklist,
	(*Engine).checkBrand,
	(*Engine).checkGeneral,
}

var (
	manualTokens    = []string{"manuelle", "manuel", "manual"}
	automaticTokens = []string{"automatique", "automatic"}
	turboPetrolRe   = regexp.MustCompile(`(?i)\b1\.[24]\s*(tsi|tdi)\b`)
)

func (e *Engine) checkBlacklist(in facts) verdict {
	for _, grp := range e.cfg.Exclusions.BlacklistKeywords {
		if grp.Category == SuspiciousCategory {
			continue
		}
		if kw, ok := firstKeyword(in.normalized, grp.Keywords); ok {
			return exclude("blacklist keyword: %s", kw)
		}
	}
	return verdict{}
}

func (e *Engine) checkBrand(in facts) verdict {
	rule, ok := e.cfg.Exclusions.BrandExclusions[in.brand]
	if !ok {
		return verdict{}
	}
	text := strings.ToLower(in.l.Title + " " + in.l.Description + " " + in.l.Engine)

	for _, p := range rule.Engines {
		if p != "" && strings.Contains(text, strings.ToLower(p)) {
			return exclude("excluded engine: %s - %s", p, rule.Reason)
		}
	}
	for _, p := range rule.Transmissions {
		if p != "" && strings.Contains(text, strings.ToLower(p)) {
			return exclude("excluded transmission: %s - %s", p, rule.Reason)
		}
	}

	var v verdict
	if rule.RequireManual && !containsAny(text, manualTokens...) {
		v.warnings = append(v.warnings, "check for CVT/automatic gearbox")
	}
	if in.brand == "seat" && turboPetrolRe.MatchString(text) && !acceptedEngine(text, rule.AcceptedEngines) {
		return exclude("seat ibiza with TSI/TDI engine excluded")
	}
	return v
}

func acceptedEngine(text string, accepted []string) bool {
	for _, a := range accepted {
		if a != "" && strings.Contains(text, strings.ToLower(a)) {
			return true
		}
	}
	return false
}

func (e *Engine) checkGeneral(in facts) verdict {
	g := e.cfg.Criteria.General
	l := in.l
	if l.Price > 0 && g.MaxPrice > 0 && l.Price > g.MaxPrice {
		return exclude("price %d > max %d", l.Price, g.MaxPrice)
	}
	if l.Mileage > 0 && g.MaxKm > 0 && l.Mileage > g.MaxKm {
		return exclude("mileage %d > max %d", l.Mileage, g.MaxKm)
	}
	if l.Year > 0 && g.MinYear > 0 && l.Year < g.MinYear {
		return exclude("year %d < min %d", l.Year, g.MinYear)
	}
	if requiresManual(g.Gearbox) && containsAny(strings.ToLower(l.Gearbox), automaticTokens...) {
		return exclude("automatic gearbox excluded")
	}
	// Diesel under a petrol policy is left to the penalty stage.
	return verdict{}
}

func requiresManual(gearbox string) bool {
	switch strings.ToLower(strings.TrimSpace(gearbox)) {
	case "manuelle", "manuel", "manual":
		return true
	}
	return false
}
