package rules

import "strings"

var accentFolder = strings.NewReplacer(
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"à", "a", "â", "a",
	"ù", "u", "û", "u",
	"ô", "o",
	"î", "i", "ï", "i",
	"ç", "c",
)

// Normalize lowercases s and folds the common French accented letters to
// their base letter.
func Normalize(s string) string {
	return accentFolder.Replace(strings.ToLower(s))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// firstKeyword returns the first non-empty keyword whose normalized form
// occurs in the already normalized text.
func firstKeyword(normalized string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		nk := Normalize(strings.TrimSpace(kw))
		if nk != "" && strings.Contains(normalized, nk) {
			return kw, true
		}
	}
	return "", false
}
