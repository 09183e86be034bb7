package metrics

import "strconv"

// Watcher is the metric set of one carwatch process.
type Watcher struct {
	reg *Registry

	Cycles           *Counter
	CycleErrors      *Counter
	CycleDuration    *Histogram
	FetchLatency     *Histogram
	ListingsFound    *Counter
	ListingsNew      *Counter
	ListingsExcluded *Counter
	Monitoring       *Gauge
	HighThreshold    *Gauge
	MediumThreshold  *Gauge
}

// NewWatcher registers the watcher metrics in reg. A nil reg gets a private
// registry, which keeps call sites free of nil checks in tests.
func NewWatcher(reg *Registry) *Watcher {
	if reg == nil {
		reg = New()
	}
	return &Watcher{
		reg:              reg,
		Cycles:           reg.Counter("carwatch_cycles_total", "Completed monitoring cycles."),
		CycleErrors:      reg.Counter("carwatch_cycle_errors_total", "Searches that failed inside a cycle."),
		CycleDuration:    reg.Histogram("carwatch_cycle_duration_seconds", "Wall time of a monitoring cycle.", []float64{10, 30, 60, 120, 300, 600}),
		FetchLatency:     reg.Histogram("carwatch_fetch_duration_seconds", "Latency of single page requests.", nil),
		ListingsFound:    reg.Counter("carwatch_listings_found_total", "Listings returned by searches after filtering."),
		ListingsNew:      reg.Counter("carwatch_listings_new_total", "Listings seen for the first time."),
		ListingsExcluded: reg.Counter("carwatch_listings_excluded_total", "New listings rejected by exclusion rules."),
		Monitoring:       reg.Gauge("carwatch_monitoring", "1 while periodic monitoring is enabled."),
		HighThreshold:    reg.Gauge("carwatch_threshold_high", "Current high priority threshold."),
		MediumThreshold:  reg.Gauge("carwatch_threshold_medium", "Current medium priority threshold."),
	}
}

// Registry returns the registry the set is attached to.
func (w *Watcher) Registry() *Registry { return w.reg }

// Fetch counts one page request by outcome ("ok", "blocked", "rate_limited",
// "http_error", "network").
func (w *Watcher) Fetch(outcome string) {
	w.reg.Counter(WithLabels("carwatch_fetch_total", "outcome", outcome), "Page requests by outcome.").Inc()
}

// Extracted counts listings by the extraction strategy that produced them.
func (w *Watcher) Extracted(strategy string, n int) {
	w.reg.Counter(WithLabels("carwatch_extracted_total", "strategy", strategy), "Candidates by extraction strategy.").Add(int64(n))
}

// Notified counts one delivery attempt on a channel.
func (w *Watcher) Notified(channel string, ok bool) {
	w.reg.Counter(WithLabels("carwatch_notifications_total", "channel", channel, "ok", strconv.FormatBool(ok)), "Notification deliveries.").Inc()
}

// Priority counts a scored listing by tier.
func (w *Watcher) Priority(tier string) {
	w.reg.Counter(WithLabels("carwatch_listings_priority_total", "priority", tier), "Accepted listings by priority.").Inc()
}
