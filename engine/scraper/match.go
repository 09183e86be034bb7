package scraper

import (
	"strings"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// Matches reports whether l really is the brand and model that was searched
// for. Marketplace results include near misses, so a short numeric model
// such as "2" only matches in forms that cannot be part of a longer number
// like "2008" or "206".
func Matches(l domain.Listing, brand, model string) bool {
	title := strings.ToLower(l.Title)
	lBrand := strings.ToLower(l.Brand)
	lModel := strings.ToLower(l.Model)
	b := strings.ToLower(brand)
	m := strings.ToLower(model)

	brandHit := false
	for _, alias := range domain.BrandAliases(b) {
		if strings.Contains(lBrand, alias) || strings.Contains(title, alias) {
			brandHit = true
			break
		}
	}
	if !brandHit {
		return false
	}
	if m == "" {
		return true
	}
	if lModel != "" && strings.Contains(lModel, m) {
		return true
	}

	if isShortNumber(m) {
		if strings.HasSuffix(title, " "+m) || strings.HasSuffix(title, b+m) {
			return true
		}
		return containsAny(title, b+" "+m, b+m+" ", b+m+",", " "+m+" ")
	}

	for _, p := range []string{m, " " + m + " ", " " + m + ",", " " + m + "."} {
		if strings.Contains(title, p) || strings.Contains(lModel, p) {
			return true
		}
	}
	return false
}

func isShortNumber(s string) bool {
	if s == "" || len(s) > 2 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
