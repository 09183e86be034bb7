package watch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/pkg/natsutil"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

// CommandSubject serves commands over NATS request/reply.
const CommandSubject = "carwatch.cmd"

// LastCount is how many listings the last command shows.
const LastCount = 5

// StatsDays is the window of the daily breakdown.
const StatsDays = 7

// Command is an operator request.
type Command struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// ParseCommand splits "/sethighscore 18" style input.
func ParseCommand(line string) Command {
	f := strings.Fields(line)
	if len(f) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(strings.TrimPrefix(f[0], "/")), Args: f[1:]}
}

// Reply is the answer to a command: operator text plus structured data.
type Reply struct {
	Text  string `json:"text"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Status is the data of the status command.
type Status struct {
	Monitoring bool             `json:"monitoring"`
	Totals     repo.Totals      `json:"totals"`
	Thresholds rules.Thresholds `json:"thresholds"`
	LastCycle  *CycleReport     `json:"last_cycle,omitempty"`
}

// Stats is the data of the stats command.
type Stats struct {
	Models []repo.ModelStats `json:"models"`
	Days   []repo.DayStats   `json:"days"`
}

const helpText = `Available commands:

start - start monitoring
stop - stop monitoring
status - status and global statistics
last - last 5 listings with scores
stats - statistics per model
sethighscore X - change the high priority threshold
criteria - show search criteria
help - this help

Priority levels:
HIGH - score above the high threshold
MEDIUM - intermediate score
LOW - low score (silent)`

// Handle runs one command. Unknown names fail with
// domain.ErrUnknownCommand; bad arguments with a *domain.ValidationError.
func (w *Watcher) Handle(ctx context.Context, cmd Command) (Reply, error) {
	switch cmd.Name {
	case "start":
		changed, err := w.Start(ctx)
		if err != nil {
			return Reply{}, err
		}
		if !changed {
			return Reply{Text: "Monitoring is already active."}, nil
		}
		return Reply{Text: "Monitoring started.\n\nNew listings matching the criteria will be notified.\n\nCommands: help"}, nil

	case "stop":
		changed, err := w.Stop(ctx)
		if err != nil {
			return Reply{}, err
		}
		if !changed {
			return Reply{Text: "Monitoring is not active."}, nil
		}
		return Reply{Text: "Monitoring stopped.\n\nUse start to resume."}, nil

	case "status":
		s, err := w.Status(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: statusText(s), Data: s}, nil

	case "last":
		recs, err := w.opts.Store.Last(ctx, LastCount)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: lastText(recs), Data: recs}, nil

	case "stats":
		s, err := w.Stats(ctx)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: statsText(s), Data: s}, nil

	case "sethighscore":
		if len(cmd.Args) == 0 {
			return Reply{
				Text: fmt.Sprintf("Current high threshold: %d\n\nUsage: sethighscore <value>", w.opts.Rules.Thresholds().High),
				Data: w.opts.Rules.Thresholds(),
			}, nil
		}
		v, err := domain.ParseThreshold("high", cmd.Args[0])
		if err == nil {
			err = w.SetHighThreshold(ctx, v)
		}
		if err != nil {
			return Reply{Text: "Invalid value. Usage: sethighscore <number between 0 and 100>"}, err
		}
		return Reply{
			Text: fmt.Sprintf("High priority threshold updated: %d\n\nListings scoring above %d will trigger an urgent notification.", v, v),
			Data: w.opts.Rules.Thresholds(),
		}, nil

	case "criteria":
		return Reply{Text: w.opts.Rules.Summary(), Data: w.opts.Rules.Config().Criteria}, nil

	case "help":
		return Reply{Text: helpText}, nil
	}
	return Reply{Text: "Unknown command. Use help for the list of commands."},
		fmt.Errorf("%w: %q", domain.ErrUnknownCommand, cmd.Name)
}

// Status gathers the status data.
func (w *Watcher) Status(ctx context.Context) (Status, error) {
	t, err := w.opts.Store.Totals(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Monitoring: w.Monitoring(),
		Totals:     t,
		Thresholds: w.opts.Rules.Thresholds(),
		LastCycle:  w.LastCycle(),
	}, nil
}

// Stats gathers per-model and daily statistics.
func (w *Watcher) Stats(ctx context.Context) (Stats, error) {
	models, err := w.opts.Store.StatsByModel(ctx)
	if err != nil {
		return Stats{}, err
	}
	days, err := w.opts.Store.DailyStats(ctx, StatsDays)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Models: models, Days: days}, nil
}

// ServeNATS answers commands on CommandSubject. Failures come back in
// Reply.Error.
func (w *Watcher) ServeNATS(nc *nats.Conn) (*nats.Subscription, error) {
	return natsutil.Reply(nc, CommandSubject, func(ctx context.Context, cmd Command) Reply {
		r, err := w.Handle(ctx, cmd)
		if err != nil {
			r.Error = err.Error()
			w.log.Warn("watch: command failed", "command", cmd.Name, "error", err)
		}
		return r
	})
}

func statusText(s Status) string {
	state := "stopped"
	if s.Monitoring {
		state = "active"
	}
	t := s.Totals
	return fmt.Sprintf("Status\n\nMonitoring: %s\n\nGlobal statistics:\n"+
		"- total listings: %d\n- notified: %d\n- excluded: %d\n- average score: %.1f\n- high priority: %d\n\n"+
		"Last 24h:\n- new listings: %d",
		state, t.Total, t.Notified, t.Excluded, t.AvgScore, t.HighPriority, t.Last24h)
}

func lastText(recs []repo.Record) string {
	if len(recs) == 0 {
		return "No listings found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %d listings:\n\n", LastCount)
	for _, r := range recs {
		b.WriteString(notify.Short(r.Listing, r.Score))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func statsText(s Stats) string {
	if len(s.Models) == 0 {
		return "No statistics available yet."
	}
	var b strings.Builder
	b.WriteString("Statistics per model:\n\n")
	for _, m := range s.Models {
		fmt.Fprintf(&b, "%s %s: %d listings | avg score %.1f | avg price %.0f€\n", m.Brand, m.Model, m.Count, m.AvgScore, m.AvgPrice)
	}
	if len(s.Days) > 0 {
		fmt.Fprintf(&b, "\nLast %d days:\n", StatsDays)
		for _, d := range s.Days {
			fmt.Fprintf(&b, "%s: %d listings (avg score %.1f)\n", d.Date, d.Count, d.AvgScore)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
