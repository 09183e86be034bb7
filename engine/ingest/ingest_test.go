package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/natsutil"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

type scoreFunc func(domain.Listing) domain.ScoreResult

func (f scoreFunc) Evaluate(l domain.Listing) domain.ScoreResult { return f(l) }

// byTitle excludes listings titled "broken" and scores the rest high.
var byTitle = scoreFunc(func(l domain.Listing) domain.ScoreResult {
	if l.Title == "broken" {
		return domain.ScoreResult{Excluded: true, ExclusionReason: "Keyword 'panne' found"}
	}
	return domain.ScoreResult{TotalScore: 20, Priority: domain.PriorityHigh}
})

type sink struct {
	mu   sync.Mutex
	got  []notify.Message
	fail bool
}

func (s *sink) Deliver(_ context.Context, m notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.got = append(s.got, m)
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type fixture struct {
	store *repo.MemoryStore
	sink  *sink
	m     *metrics.Watcher
	proc  *Processor
}

func newFixture() fixture {
	f := fixture{store: repo.NewMemoryStore(), sink: &sink{}, m: metrics.NewWatcher(nil)}
	f.proc = NewProcessor(Deps{
		Store:    f.store,
		Rules:    byTitle,
		Notifier: f.sink,
		Metrics:  f.m,
		Logger:   slog.New(slog.DiscardHandler),
	})
	return f
}

func listing(id, title string) domain.Listing {
	return domain.Listing{ID: id, Title: title, URL: "https://www.leboncoin.fr/ad/voitures/" + id + ".htm"}
}

func TestProcessNewListingIsNotified(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	out, err := f.proc.Process(ctx, listing("1", "Mazda 2"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != OutcomeNotified || out.Score.TotalScore != 20 {
		t.Fatalf("unexpected result %+v", out)
	}
	if f.sink.count() != 1 || f.sink.got[0].Listing.ID != "1" {
		t.Fatalf("expected one delivery, got %d", f.sink.count())
	}
	tot, _ := f.store.Totals(ctx)
	if tot.Total != 1 || tot.Notified != 1 {
		t.Fatalf("store totals %+v", tot)
	}
	if f.m.ListingsNew.Value() != 1 {
		t.Fatalf("new listings metric = %d", f.m.ListingsNew.Value())
	}
}

func TestProcessSeenListingIsSkipped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.proc.Process(ctx, listing("1", "Mazda 2")); err != nil {
		t.Fatal(err)
	}
	out, err := f.proc.Process(ctx, listing("1", "Mazda 2"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != OutcomeSeen {
		t.Fatalf("outcome = %s", out.Outcome)
	}
	if f.sink.count() != 1 {
		t.Fatalf("seen listing delivered again")
	}
	if f.m.ListingsNew.Value() != 1 {
		t.Fatalf("seen listing counted as new: %d", f.m.ListingsNew.Value())
	}
}

func TestProcessExcludedIsStoredNotDelivered(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	out, err := f.proc.Process(ctx, listing("9", "broken"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != OutcomeExcluded {
		t.Fatalf("outcome = %s", out.Outcome)
	}
	if f.sink.count() != 0 {
		t.Fatal("excluded listing delivered")
	}
	if ok, _ := f.store.Exists(ctx, "9"); !ok {
		t.Fatal("excluded listing not persisted")
	}
	if f.m.ListingsExcluded.Value() != 1 {
		t.Fatal("excluded metric not counted")
	}
}

func TestProcessDeliveryFailureLeavesUnnotified(t *testing.T) {
	f := newFixture()
	f.sink.fail = true
	ctx := context.Background()
	out, err := f.proc.Process(ctx, listing("3", "Yaris"))
	if err != nil {
		t.Fatal(err)
	}
	if out.Outcome != OutcomeStored {
		t.Fatalf("outcome = %s", out.Outcome)
	}
	tot, _ := f.store.Totals(ctx)
	if tot.Total != 1 || tot.Notified != 0 {
		t.Fatalf("store totals %+v", tot)
	}
}

func TestProcessInvalidListing(t *testing.T) {
	f := newFixture()
	out, err := f.proc.Process(context.Background(), listing("", "no id"))
	if !errors.Is(err, domain.ErrMissingListingID) {
		t.Fatalf("expected ErrMissingListingID, got %v", err)
	}
	if out.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s", out.Outcome)
	}
}

func TestProcessAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.proc.Process(ctx, listing("1", "Mazda 2")); err != nil {
		t.Fatal(err)
	}

	s := f.proc.ProcessAll(ctx, []domain.Listing{
		listing("1", "Mazda 2"),
		listing("2", "Jazz"),
		listing("3", "broken"),
		listing("", "no id"),
		listing("2", "Jazz"),
	})
	want := Summary{Seen: 2, Excluded: 1, Notified: 1, Failed: 1}
	if s != want {
		t.Fatalf("summary = %+v, want %+v", s, want)
	}
	if s.New() != 2 {
		t.Fatalf("New() = %d", s.New())
	}
}

func TestProcessAllStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := f.proc.ProcessAll(ctx, []domain.Listing{listing("1", "Mazda 2")})
	if s != (Summary{}) {
		t.Fatalf("cancelled batch processed: %+v", s)
	}
}

func TestStartConsumer(t *testing.T) {
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	defer nc.Close()

	f := newFixture()
	sub, err := StartConsumer(nc, f.proc)
	if err != nil {
		t.Fatalf("StartConsumer: %v", err)
	}
	defer sub.Unsubscribe()

	if err := natsutil.Publish(context.Background(), nc, IngestSubject, listing("42", "Swift")); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.sink.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("listing not consumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ok, _ := f.store.Exists(context.Background(), "42"); !ok {
		t.Fatal("consumed listing not stored")
	}
}
