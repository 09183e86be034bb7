package scraper

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	digitRun = regexp.MustCompile(`\d+`)
	yearRun  = regexp.MustCompile(`\d{4}`)
	adIDRe   = regexp.MustCompile(`/(\d+)\.htm`)
)

// stripSpaces removes every kind of space a French number may be grouped
// with, including the non-breaking ones.
func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)
}

// firstInt parses the first run matched by re.
func firstInt(re *regexp.Regexp, s string) (int, bool) {
	m := re.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseMileage reads "95 000 km"-style text as 95000.
func ParseMileage(s string) (int, bool) {
	return firstInt(digitRun, stripSpaces(s))
}

// ParseYear returns the first four-digit group of a registration date such
// as "01/2015" or "2018-06".
func ParseYear(s string) (int, bool) {
	return firstInt(yearRun, s)
}

// ParsePrice reads "2 490 €"-style text as 2490.
func ParsePrice(s string) (int, bool) {
	return firstInt(digitRun, stripSpaces(s))
}

// adIDFromHref returns the numeric id of an ad link like /ad/voitures/123.htm.
func adIDFromHref(href string) string {
	m := adIDRe.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	return m[1]
}
