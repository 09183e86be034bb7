package rules

import (
	"fmt"
	"strings"
)

// Summary renders the criteria in effect for operators.
func (e *Engine) Summary() string {
	g := e.cfg.Criteria.General
	t := e.Thresholds()

	var b strings.Builder
	b.WriteString("Current search criteria\n\n")
	b.WriteString("General:\n")
	fmt.Fprintf(&b, "- max price: %d EUR\n", g.MaxPrice)
	fmt.Fprintf(&b, "- max mileage: %d km\n", g.MaxKm)
	fmt.Fprintf(&b, "- min year: %d\n", g.MinYear)
	fmt.Fprintf(&b, "- gearbox: %s\n", g.Gearbox)
	fmt.Fprintf(&b, "- fuel: %s\n", g.Fuel)
	b.WriteString("\nTarget models:\n")
	if len(e.cfg.Criteria.Models) == 0 {
		b.WriteString("- none\n")
	}
	for _, m := range e.cfg.Criteria.Models {
		name := m.Name
		if name == "" {
			name = strings.TrimSpace(m.Brand + " " + m.Model)
		}
		fmt.Fprintf(&b, "- %s (priority: %d)\n", name, m.PriorityScore)
	}
	b.WriteString("\nPriority thresholds:\n")
	fmt.Fprintf(&b, "- high: score > %d\n", t.High)
	fmt.Fprintf(&b, "- medium: score %d-%d\n", t.Medium, t.High)
	fmt.Fprintf(&b, "- low: score < %d\n", t.Medium)
	return b.String()
}
