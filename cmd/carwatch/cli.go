package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/engine/scraper"
	"github.com/WessleyAI/carwatch/engine/watch"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

func newTable(out io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	return t
}

func newSearchCmd(cfg *Config, log *slog.Logger) *cobra.Command {
	var c domain.SearchCriteria
	var baseURL string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Runs one search and prints the evaluated results. Nothing is stored or sent.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := rules.New(rules.Load(cfg.ConfigDir, log), log)
			g := engine.General()
			crit := watch.CriteriaFor(g, rules.ModelTarget{Brand: c.Brand, Model: c.Model, YearMin: c.MinYear})
			if c.MaxPrice > 0 {
				crit.MaxPrice = c.MaxPrice
			}
			if c.MaxMileage > 0 {
				crit.MaxMileage = c.MaxMileage
			}
			if c.Fuel != "" {
				crit.Fuel = c.Fuel
			}
			if c.Gearbox != "" {
				crit.Gearbox = c.Gearbox
			}
			if c.MaxResults > 0 {
				crit.MaxResults = c.MaxResults
			}

			m := metrics.NewWatcher(nil)
			s := scraper.NewSearcher(newFetcher(*cfg, g, log, m), scraper.SearcherOpts{BaseURL: baseURL, Logger: log, Metrics: m})
			listings, err := s.SearchResult(cmd.Context(), crit).Unwrap()
			if err != nil {
				return err
			}
			printListings(cmd.OutOrStdout(), listings, engine)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&c.Brand, "brand", "", "brand to search (required)")
	f.StringVar(&c.Model, "model", "", "model to search")
	f.IntVar(&c.MaxPrice, "max-price", 0, "maximum price, default from criteria")
	f.IntVar(&c.MaxMileage, "max-km", 0, "maximum mileage, default from criteria")
	f.IntVar(&c.MinYear, "min-year", 0, "minimum model year, default from criteria")
	f.StringVar(&c.Fuel, "fuel", "", "fuel type")
	f.StringVar(&c.Gearbox, "gearbox", "", "gearbox type")
	f.IntVar(&c.MaxResults, "limit", 0, "maximum number of results")
	f.StringVar(&baseURL, "base-url", scraper.DefaultBaseURL, "marketplace base URL")
	cmd.MarkFlagRequired("brand")
	return cmd
}

func printListings(out io.Writer, listings []domain.Listing, engine *rules.Engine) {
	t := newTable(out)
	t.AppendHeader(table.Row{"ID", "Title", "Price", "Km", "Year", "Score", "Priority"})
	for _, l := range listings {
		sr := engine.Evaluate(l)
		prio := string(sr.Priority)
		if sr.Excluded {
			prio = "excluded: " + sr.ExclusionReason
		}
		t.AppendRow(table.Row{l.ID, l.Title, orQuestion(l.Price, "€"), orQuestion(l.Mileage, " km"), orQuestion(l.Year, ""), sr.TotalScore, prio})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d listings", len(listings))})
	t.Render()
}

func orQuestion(v int, unit string) string {
	if v <= 0 {
		return "?"
	}
	if unit == "" {
		return strconv.Itoa(v)
	}
	return notify.Thousands(v) + unit
}

func newEvaluateCmd(cfg *Config, log *slog.Logger) *cobra.Command {
	var l domain.Listing
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Scores one listing described by flags and prints the result as JSON.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := rules.New(rules.Load(cfg.ConfigDir, log), log)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(engine.Evaluate(l))
		},
	}
	f := cmd.Flags()
	f.StringVar(&l.ID, "id", "cli", "listing id")
	f.StringVar(&l.Title, "title", "", "listing title")
	f.StringVar(&l.Description, "description", "", "listing description")
	f.IntVar(&l.Price, "price", 0, "price in euros")
	f.IntVar(&l.Mileage, "km", 0, "mileage")
	f.IntVar(&l.Year, "year", 0, "model year")
	f.StringVar(&l.Fuel, "fuel", "", "fuel type")
	f.StringVar(&l.Gearbox, "gearbox", "", "gearbox type")
	f.StringVar(&l.Brand, "brand", "", "brand")
	f.StringVar(&l.Model, "model", "", "model")
	f.StringVar(&l.Engine, "engine", "", "engine description")
	return cmd
}

func newStatsCmd(cfg *Config, _ *slog.Logger) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints totals, per-model and daily statistics from the store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			totals, err := store.Totals(ctx)
			if err != nil {
				return err
			}
			models, err := store.StatsByModel(ctx)
			if err != nil {
				return err
			}
			daily, err := store.DailyStats(ctx, days)
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), totals, models, daily)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", watch.StatsDays, "days in the daily breakdown")
	return cmd
}

func printStats(out io.Writer, totals repo.Totals, models []repo.ModelStats, daily []repo.DayStats) {
	t := newTable(out)
	t.AppendHeader(table.Row{"Total", "Notified", "Excluded", "Avg score", "High priority", "Last 24h"})
	t.AppendRow(table.Row{totals.Total, totals.Notified, totals.Excluded, fmt.Sprintf("%.1f", totals.AvgScore), totals.HighPriority, totals.Last24h})
	t.Render()

	t = newTable(out)
	t.AppendHeader(table.Row{"Brand", "Model", "Listings", "Avg score", "Avg price"})
	for _, m := range models {
		t.AppendRow(table.Row{m.Brand, m.Model, m.Count, fmt.Sprintf("%.1f", m.AvgScore), fmt.Sprintf("%.0f€", m.AvgPrice)})
	}
	t.Render()

	t = newTable(out)
	t.AppendHeader(table.Row{"Date", "Listings", "Avg score"})
	for _, d := range daily {
		t.AppendRow(table.Row{d.Date, d.Count, fmt.Sprintf("%.1f", d.AvgScore)})
	}
	t.Render()
}

func newCriteriaCmd(cfg *Config, log *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "criteria",
		Short: "Prints the search criteria and thresholds in effect.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine := rules.New(rules.Load(cfg.ConfigDir, log), log)
			fmt.Fprint(cmd.OutOrStdout(), engine.Summary())

			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Target", "Brand", "Model", "Min year", "Priority"})
			for _, m := range engine.Models() {
				t.AppendRow(table.Row{m.Name, m.Brand, m.Model, m.YearMin, m.PriorityScore})
			}
			t.Render()
			return nil
		},
	}
}
