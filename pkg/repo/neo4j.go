package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/carwatch/engine/domain"
)

// result is the minimal interface needed from a neo4j result.
type result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
}

// runner is the minimal interface needed from a neo4j session.
type runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (result, error)
	Close(ctx context.Context) error
}

type neo4jSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *neo4jSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *neo4jSessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

// Neo4jStore keeps listings as :Listing nodes linked to a :Model node per
// brand and model, and settings as :BotConfig nodes.
type Neo4jStore struct {
	driver     neo4j.DriverWithContext
	database   string
	now        func() time.Time
	newSession func(ctx context.Context) runner // for testing
}

var _ ListingStore = (*Neo4jStore)(nil)

// NewNeo4jStore wraps an existing driver. An empty database uses the
// server default.
func NewNeo4jStore(driver neo4j.DriverWithContext, database string) *Neo4jStore {
	return &Neo4jStore{driver: driver, database: database, now: time.Now}
}

// OpenNeo4j connects to url, verifies connectivity and ensures the
// uniqueness constraint on listing ids.
func OpenNeo4j(ctx context.Context, url, user, password, database string) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(url, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("repo: neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("repo: neo4j connect %s: %w", url, err)
	}
	s := NewNeo4jStore(driver, database)
	if err := s.run(ctx, cypherConstraint, nil, nil); err != nil {
		driver.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Neo4jStore) session(ctx context.Context) runner {
	if s.newSession != nil {
		return s.newSession(ctx)
	}
	return &neo4jSessionAdapter{sess: s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})}
}

// run executes cypher and hands every returned record to each, if set.
func (s *Neo4jStore) run(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	res, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("repo: neo4j: %w", err)
	}
	for res.Next(ctx) {
		if each == nil {
			continue
		}
		if err := each(res.Record()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Neo4jStore) Close() error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(context.Background())
}

const (
	cypherConstraint = `CREATE CONSTRAINT listing_id IF NOT EXISTS FOR (l:Listing) REQUIRE l.listing_id IS UNIQUE`

	cypherExists = `MATCH (l:Listing {listing_id: $id}) RETURN count(l) AS n`

	cypherInsert = `OPTIONAL MATCH (e:Listing {listing_id: $id})
WITH e WHERE e IS NULL
CREATE (l:Listing)
SET l = $props
MERGE (m:Model {brand: $brand, model: $model})
CREATE (l)-[:OF_MODEL]->(m)
RETURN l.listing_id AS id`

	cypherMarkNotified = `MATCH (l:Listing {listing_id: $id})
SET l.notified = true, l.notified_at = $now
RETURN count(l) AS n`

	cypherLast = `MATCH (l:Listing) WHERE l.excluded = false
RETURN l {.*} AS l
ORDER BY l.discovered_at DESC LIMIT $n`

	cypherStatsByModel = `MATCH (l:Listing) WHERE l.excluded = false
WITH coalesce(l.brand, '') AS brand, coalesce(l.model, '') AS model, l
RETURN brand, model, count(l) AS count, avg(l.score) AS avg_score, avg(l.price) AS avg_price
ORDER BY count DESC, brand, model`

	cypherDailyStats = `MATCH (l:Listing) WHERE l.excluded = false AND l.discovered_at >= $since
WITH toString(date(datetime({epochSeconds: l.discovered_at}))) AS day, l
RETURN day, count(l) AS count, avg(l.score) AS avg_score
ORDER BY day DESC`

	cypherTotals = `MATCH (l:Listing)
RETURN count(l) AS total,
	sum(CASE WHEN l.notified THEN 1 ELSE 0 END) AS notified,
	sum(CASE WHEN l.excluded THEN 1 ELSE 0 END) AS excluded,
	avg(CASE WHEN NOT l.excluded THEN l.score END) AS avg_score,
	sum(CASE WHEN NOT l.excluded AND l.priority = 'high' THEN 1 ELSE 0 END) AS high,
	sum(CASE WHEN l.discovered_at >= $since THEN 1 ELSE 0 END) AS recent`

	cypherGetConfig = `MATCH (c:BotConfig {key: $key}) RETURN c.value AS value`

	cypherSetConfig = `MERGE (c:BotConfig {key: $key}) SET c.value = $value, c.updated_at = $now`

	cypherCleanup = `MATCH (l:Listing) WHERE l.discovered_at < $cutoff
WITH l, l.listing_id AS id
DETACH DELETE l
RETURN count(id) AS n`
)

func (s *Neo4jStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.run(ctx, cypherExists, map[string]any{"id": id}, func(rec *neo4j.Record) error {
		n = intValue(rec, "n")
		return nil
	})
	return n > 0, err
}

func (s *Neo4jStore) Insert(ctx context.Context, r Record) (bool, error) {
	r, err := prepare(r, s.now())
	if err != nil {
		return false, err
	}
	props, err := toProps(r)
	if err != nil {
		return false, err
	}
	created := false
	err = s.run(ctx, cypherInsert, map[string]any{
		"id":    r.ID,
		"props": props,
		"brand": orUnknown(r.Brand),
		"model": orUnknown(r.Model),
	}, func(*neo4j.Record) error {
		created = true
		return nil
	})
	return created, err
}

func (s *Neo4jStore) MarkNotified(ctx context.Context, id string) error {
	n := 0
	err := s.run(ctx, cypherMarkNotified, map[string]any{"id": id, "now": s.now().Unix()}, func(rec *neo4j.Record) error {
		n = intValue(rec, "n")
		return nil
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repo: mark notified %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Neo4jStore) Last(ctx context.Context, n int) ([]Record, error) {
	out := []Record{}
	if n <= 0 {
		return out, nil
	}
	err := s.run(ctx, cypherLast, map[string]any{"n": n}, func(rec *neo4j.Record) error {
		v, _ := rec.Get("l")
		props, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("repo: neo4j: unexpected listing value %T", v)
		}
		r, err := fromProps(props)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Neo4jStore) StatsByModel(ctx context.Context) ([]ModelStats, error) {
	out := []ModelStats{}
	err := s.run(ctx, cypherStatsByModel, nil, func(rec *neo4j.Record) error {
		out = append(out, ModelStats{
			Brand:    orUnknown(stringValue(rec, "brand")),
			Model:    orUnknown(stringValue(rec, "model")),
			Count:    intValue(rec, "count"),
			AvgScore: round1(floatValue(rec, "avg_score")),
			AvgPrice: math.Round(floatValue(rec, "avg_price")),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Neo4jStore) DailyStats(ctx context.Context, days int) ([]DayStats, error) {
	since := dayStart(s.now()).AddDate(0, 0, -days).Unix()
	out := []DayStats{}
	err := s.run(ctx, cypherDailyStats, map[string]any{"since": since}, func(rec *neo4j.Record) error {
		out = append(out, DayStats{
			Date:     stringValue(rec, "day"),
			Count:    intValue(rec, "count"),
			AvgScore: round1(floatValue(rec, "avg_score")),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Neo4jStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	since := s.now().Add(-24 * time.Hour).Unix()
	err := s.run(ctx, cypherTotals, map[string]any{"since": since}, func(rec *neo4j.Record) error {
		t = Totals{
			Total:        intValue(rec, "total"),
			Notified:     intValue(rec, "notified"),
			Excluded:     intValue(rec, "excluded"),
			AvgScore:     round1(floatValue(rec, "avg_score")),
			HighPriority: intValue(rec, "high"),
			Last24h:      intValue(rec, "recent"),
		}
		return nil
	})
	return t, err
}

func (s *Neo4jStore) GetConfig(ctx context.Context, key string) (string, error) {
	var (
		v     string
		found bool
	)
	err := s.run(ctx, cypherGetConfig, map[string]any{"key": key}, func(rec *neo4j.Record) error {
		v, found = stringValue(rec, "value"), true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("repo: config %q: %w", key, domain.ErrNotFound)
	}
	return v, nil
}

func (s *Neo4jStore) SetConfig(ctx context.Context, key, value string) error {
	return s.run(ctx, cypherSetConfig, map[string]any{"key": key, "value": value, "now": s.now().Unix()}, nil)
}

func (s *Neo4jStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	n := 0
	cutoff := s.now().Add(-olderThan).Unix()
	err := s.run(ctx, cypherCleanup, map[string]any{"cutoff": cutoff}, func(rec *neo4j.Record) error {
		n = intValue(rec, "n")
		return nil
	})
	return n, err
}

// toProps flattens a record into node properties. Absent numbers are left
// out so aggregates skip them.
func toProps(r Record) (map[string]any, error) {
	attrs, err := json.Marshal(nonNilAttrs(r.Attributes))
	if err != nil {
		return nil, fmt.Errorf("repo: encode attributes: %w", err)
	}
	p := map[string]any{
		"listing_id":       r.ID,
		"url":              r.URL,
		"title":            r.Title,
		"fuel":             r.Fuel,
		"gearbox":          r.Gearbox,
		"brand":            r.Brand,
		"model":            r.Model,
		"engine":           r.Engine,
		"location":         r.Location,
		"description":      r.Description,
		"image_url":        r.ImageURL,
		"attributes":       string(attrs),
		"score":            r.Score.TotalScore,
		"priority":         string(r.Score.Priority),
		"score_details":    r.Score.JSON(),
		"excluded":         r.Score.Excluded,
		"exclusion_reason": r.Score.ExclusionReason,
		"discovered_at":    r.DiscoveredAt.Unix(),
		"notified":         r.Notified,
	}
	for k, v := range map[string]int{"price": r.Price, "mileage": r.Mileage, "year": r.Year} {
		if v != 0 {
			p[k] = v
		}
	}
	if !r.NotifiedAt.IsZero() {
		p["notified_at"] = r.NotifiedAt.Unix()
	}
	return p, nil
}

func fromProps(p map[string]any) (Record, error) {
	str := func(k string) string { s, _ := p[k].(string); return s }
	num := func(k string) int64 { n, _ := p[k].(int64); return n }
	flag := func(k string) bool { b, _ := p[k].(bool); return b }

	var r Record
	r.ID, r.URL, r.Title = str("listing_id"), str("url"), str("title")
	r.Price, r.Mileage, r.Year = int(num("price")), int(num("mileage")), int(num("year"))
	r.Fuel, r.Gearbox, r.Brand, r.Model = str("fuel"), str("gearbox"), str("brand"), str("model")
	r.Engine, r.Location, r.Description, r.ImageURL = str("engine"), str("location"), str("description"), str("image_url")
	r.Score.TotalScore = int(num("score"))
	r.Score.Priority = domain.Priority(str("priority"))
	r.Score.Excluded = flag("excluded")
	r.Score.ExclusionReason = str("exclusion_reason")
	r.DiscoveredAt = time.Unix(num("discovered_at"), 0).UTC()
	r.Notified = flag("notified")
	if at := num("notified_at"); at != 0 {
		r.NotifiedAt = time.Unix(at, 0).UTC()
	}
	if err := decodeDetails(&r, str("attributes"), str("score_details")); err != nil {
		return Record{}, err
	}
	return r, nil
}

func intValue(rec *neo4j.Record, key string) int {
	v, _ := rec.Get(key)
	n, _ := v.(int64)
	return int(n)
}

func floatValue(rec *neo4j.Record, key string) float64 {
	v, _ := rec.Get(key)
	switch f := v.(type) {
	case float64:
		return f
	case int64:
		return float64(f)
	}
	return 0
}

func stringValue(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}
