package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// Format renders a message as plain text. Notices render as their text.
func Format(m Message) string {
	if m.Kind == KindNotice {
		return m.Text
	}
	l, sr := m.Listing, m.Score

	var b strings.Builder
	fmt.Fprintf(&b, "%s PRIORITY\n", strings.ToUpper(string(sr.Priority)))
	fmt.Fprintf(&b, "Score: %d\n\n", sr.TotalScore)
	fmt.Fprintf(&b, "%s\n\n", l.Title)

	var chars []string
	if l.Price > 0 {
		chars = append(chars, fmt.Sprintf("Price: %d€", l.Price))
	}
	if l.Mileage > 0 {
		chars = append(chars, "Km: "+Thousands(l.Mileage))
	}
	if l.Year > 0 {
		chars = append(chars, fmt.Sprintf("Year: %d", l.Year))
	}
	for _, f := range []struct{ label, v string }{
		{"Fuel", l.Fuel},
		{"Gearbox", l.Gearbox},
		{"Engine", l.Engine},
		{"Location", l.Location},
	} {
		if f.v != "" {
			chars = append(chars, f.label+": "+f.v)
		}
	}
	if len(chars) > 0 {
		b.WriteString(strings.Join(chars, "\n"))
		b.WriteString("\n\n")
	}

	section(&b, "Highlights", sr.Bonuses)
	section(&b, "Warnings", sr.Warnings)
	section(&b, "Drawbacks", sr.Penalties)

	b.WriteString(l.URL)
	return b.String()
}

func section(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, l := range lines {
		b.WriteString("  " + l + "\n")
	}
	b.WriteString("\n")
}

// Thousands formats n with a space every three digits.
func Thousands(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ' ')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

// Short renders a listing on one line, as used by listing summaries.
func Short(l domain.Listing, sr domain.ScoreResult) string {
	return fmt.Sprintf("[%s] %s | score %d | %s | %s km | %s | %s",
		orDash(string(sr.Priority)), l.Title, sr.TotalScore,
		unknownInt(l.Price, "€"), unknownMileage(l.Mileage), unknownInt(l.Year, ""), l.URL)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func unknownInt(v int, unit string) string {
	if v == 0 {
		return "?"
	}
	return strconv.Itoa(v) + unit
}

func unknownMileage(v int) string {
	if v == 0 {
		return "?"
	}
	return Thousands(v)
}
