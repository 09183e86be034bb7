package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/WessleyAI/carwatch/engine/domain"
	"github.com/WessleyAI/carwatch/engine/ingest"
	"github.com/WessleyAI/carwatch/engine/rules"
	"github.com/WessleyAI/carwatch/engine/watch"
	"github.com/WessleyAI/carwatch/pkg/fn"
	"github.com/WessleyAI/carwatch/pkg/metrics"
	"github.com/WessleyAI/carwatch/pkg/notify"
	"github.com/WessleyAI/carwatch/pkg/repo"
)

var quiet = slog.New(slog.DiscardHandler)

type noResults struct{}

func (noResults) SearchResult(context.Context, domain.SearchCriteria) fn.Result[[]domain.Listing] {
	return fn.Ok[[]domain.Listing](nil)
}

func newTestServer(t *testing.T) (*httptest.Server, *server) {
	t.Helper()
	reg := metrics.New()
	m := metrics.NewWatcher(reg)
	engine := rules.New(rules.DefaultConfig(), quiet)
	store := repo.NewMemoryStore()
	hub := notify.NewHub(quiet)
	proc := ingest.NewProcessor(ingest.Deps{Store: store, Rules: engine, Notifier: hub, Metrics: m, Logger: quiet})
	w := watch.New(watch.Options{
		Searcher:  noResults{},
		Rules:     engine,
		Store:     store,
		Processor: proc,
		Metrics:   m,
		Logger:    quiet,
	})
	s := &server{watcher: w, store: store, rules: engine, hub: hub, registry: reg, log: quiet}
	ts := httptest.NewServer(s.routes("*"))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return ts, s
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	handleHealth(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/api/health", "")
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var st watch.Status
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	want := watch.Status{Thresholds: rules.Thresholds{High: 15, Medium: 10}}
	if diff := cmp.Diff(want, st); diff != "" {
		t.Fatalf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestListingsEndpoint(t *testing.T) {
	ts, s := newTestServer(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		rec := repo.Record{
			Listing:      domain.Listing{ID: id, Title: "Mazda 2 " + id, URL: "https://example.test/" + id, Brand: "Mazda", Model: "2"},
			DiscoveredAt: time.Now().Add(time.Duration(i) * time.Minute),
		}
		if _, err := s.store.Insert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/api/listings?limit=2", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var recs []repo.Record
	if err := json.Unmarshal(body, &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "c" || recs[1].ID != "b" {
		t.Fatalf("unexpected listings %+v", recs)
	}

	for _, q := range []string{"abc", "0", "-3"} {
		if resp, _ := do(t, http.MethodGet, ts.URL+"/api/listings?limit="+q, ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestListingsEndpointEmpty(t *testing.T) {
	ts, _ := newTestServer(t)
	_, body := do(t, http.MethodGet, ts.URL+"/api/listings", "")
	if strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, s := newTestServer(t)
	rec := repo.Record{
		Listing: domain.Listing{ID: "a", Title: "Honda Jazz", URL: "https://example.test/a", Brand: "Honda", Model: "Jazz", Price: 2500},
		Score:   domain.ScoreResult{TotalScore: 12, Priority: domain.PriorityMedium},
	}
	if _, err := s.store.Insert(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	_, body := do(t, http.MethodGet, ts.URL+"/api/stats", "")
	var st watch.Stats
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	want := []repo.ModelStats{{Brand: "Honda", Model: "Jazz", Count: 1, AvgScore: 12, AvgPrice: 2500}}
	if diff := cmp.Diff(want, st.Models); diff != "" {
		t.Fatalf("models mismatch (-want +got):\n%s", diff)
	}
	if len(st.Days) != 1 || st.Days[0].Count != 1 {
		t.Fatalf("days = %+v", st.Days)
	}
}

func TestCommandEndpoint(t *testing.T) {
	ts, s := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/commands", `{"line":"/start"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", resp.StatusCode, body)
	}
	if !s.watcher.Monitoring() {
		t.Fatal("start command did not enable monitoring")
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/api/commands", `{"name":"help"}`)
	var r watch.Reply
	if err := json.Unmarshal(body, &r); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(r.Text, "Available commands") {
		t.Fatalf("help: %d %+v", resp.StatusCode, r)
	}

	cases := []struct {
		body string
		code int
	}{
		{`{"line":"/reboot"}`, http.StatusNotFound},
		{`{"name":"sethighscore","args":["abc"]}`, http.StatusBadRequest},
		{`{"name":"sethighscore","args":["101"]}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := do(t, http.MethodPost, ts.URL+"/api/commands", tc.body)
		if resp.StatusCode != tc.code {
			t.Errorf("%s: expected %d, got %d (%s)", tc.body, tc.code, resp.StatusCode, body)
		}
		if !bytes.Contains(body, []byte(`"error"`)) {
			t.Errorf("%s: no error in body %s", tc.body, body)
		}
	}
}

func TestHighThresholdEndpoint(t *testing.T) {
	ts, s := newTestServer(t)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/thresholds/high", `{"value":20}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var th rules.Thresholds
	if err := json.Unmarshal(body, &th); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(rules.Thresholds{High: 20, Medium: 10}, th); diff != "" {
		t.Fatalf("thresholds mismatch (-want +got):\n%s", diff)
	}
	if v, _ := s.store.GetConfig(context.Background(), repo.KeyHighThreshold); v != "20" {
		t.Fatalf("threshold not persisted: %q", v)
	}

	for _, b := range []string{`{"value":-1}`, `{"value":150}`, `{}`, `x`} {
		if resp, _ := do(t, http.MethodPut, ts.URL+"/api/thresholds/high", b); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", b, resp.StatusCode)
		}
	}
	if s.rules.Thresholds().High != 20 {
		t.Fatal("rejected update changed the threshold")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	_, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	for _, name := range []string{"carwatch_cycles_total", "carwatch_threshold_high 15"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output missing %q", name)
		}
	}
}

func TestListingFeed(t *testing.T) {
	ts, s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/listings"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	msg := notify.NewMessage(
		domain.Listing{ID: "42", Title: "Mazda 2", URL: "https://example.test/42"},
		domain.ScoreResult{TotalScore: 18, Priority: domain.PriorityHigh},
	)
	if err := s.hub.Deliver(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got notify.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != msg.ID || got.Listing.ID != "42" {
		t.Fatalf("unexpected message %+v", got)
	}
}
