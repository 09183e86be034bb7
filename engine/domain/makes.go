package domain

import "strings"

// brandSlugs maps brand spellings to the marketplace's URL slug.
var brandSlugs = map[string]string{
	"mazda":   "mazda",
	"honda":   "honda",
	"suzuki":  "suzuki",
	"seat":    "seat",
	"peugeot": "peugeot",
	"citroen": "citroen",
	"citroën": "citroen",
	"renault": "renault",
	"toyota":  "toyota",
}

// brandAliases lists every spelling a brand is written with in listing text.
var brandAliases = map[string][]string{
	"citroen": {"citroën", "citroen"},
	"citroën": {"citroën", "citroen"},
}

// BrandSlug returns the search parameter value for a brand. Unknown brands
// are lowercased.
func BrandSlug(brand string) string {
	b := strings.ToLower(strings.TrimSpace(brand))
	if slug, ok := brandSlugs[b]; ok {
		return slug
	}
	return b
}

// BrandAliases returns the lowercase spellings to look for when matching
// brand in listing text.
func BrandAliases(brand string) []string {
	b := strings.ToLower(brand)
	if aliases, ok := brandAliases[b]; ok {
		return aliases
	}
	return []string{b}
}

// FuelCodes maps fuel names to the marketplace's fuel enumeration.
var FuelCodes = map[string]string{
	"essence":    "1",
	"diesel":     "2",
	"hybride":    "3",
	"electrique": "4",
	"gpl":        "5",
}

// GearboxCodes maps gearbox names to the marketplace's gearbox enumeration.
var GearboxCodes = map[string]string{
	"manuelle":    "1",
	"automatique": "2",
}

// FuelCode returns the code for fuel, defaulting to petrol.
func FuelCode(fuel string) string {
	if c, ok := FuelCodes[strings.ToLower(fuel)]; ok {
		return c
	}
	return FuelCodes["essence"]
}

// GearboxCode returns the code for gearbox, defaulting to manual.
func GearboxCode(gearbox string) string {
	if c, ok := GearboxCodes[strings.ToLower(gearbox)]; ok {
		return c
	}
	return GearboxCodes["manuelle"]
}

// MaxThreshold is the largest accepted priority threshold.
const MaxThreshold = 100
