package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/WessleyAI/carwatch/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS car_listings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id       TEXT NOT NULL UNIQUE,
	url              TEXT NOT NULL,
	title            TEXT NOT NULL,
	price            INTEGER,
	mileage          INTEGER,
	year             INTEGER,
	fuel             TEXT NOT NULL DEFAULT '',
	gearbox          TEXT NOT NULL DEFAULT '',
	brand            TEXT NOT NULL DEFAULT '',
	model            TEXT NOT NULL DEFAULT '',
	engine           TEXT NOT NULL DEFAULT '',
	location         TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	image_url        TEXT NOT NULL DEFAULT '',
	attributes       TEXT NOT NULL DEFAULT '{}',
	score            INTEGER NOT NULL DEFAULT 0,
	priority         TEXT NOT NULL DEFAULT '',
	score_details    TEXT NOT NULL DEFAULT '{}',
	excluded         INTEGER NOT NULL DEFAULT 0,
	exclusion_reason TEXT NOT NULL DEFAULT '',
	discovered_at    INTEGER NOT NULL,
	notified         INTEGER NOT NULL DEFAULT 0,
	notified_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_car_listings_discovered ON car_listings(discovered_at);
CREATE TABLE IF NOT EXISTS bot_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

const listingColumns = `listing_id, url, title, price, mileage, year, fuel, gearbox, brand, model,
	engine, location, description, image_url, attributes, score, priority, score_details,
	excluded, exclusion_reason, discovered_at, notified, notified_at`

// SQLiteStore is the default ListingStore, a single file database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ListingStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repo: create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repo: open sqlite: %w", err)
	}
	// one writer; the watcher and the control server share the handle
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM car_listings WHERE listing_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("repo: exists %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, r Record) (bool, error) {
	r, err := prepare(r, s.now())
	if err != nil {
		return false, err
	}
	attrs, err := json.Marshal(nonNilAttrs(r.Attributes))
	if err != nil {
		return false, fmt.Errorf("repo: encode attributes: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO car_listings (`+listingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO NOTHING`,
		r.ID, r.URL, r.Title, nullInt(r.Price), nullInt(r.Mileage), nullInt(r.Year),
		r.Fuel, r.Gearbox, r.Brand, r.Model, r.Engine, r.Location, r.Description, r.ImageURL,
		string(attrs), r.Score.TotalScore, string(r.Score.Priority), r.Score.JSON(),
		r.Score.Excluded, r.Score.ExclusionReason, r.DiscoveredAt.Unix(),
		r.Notified, nullTime(r.NotifiedAt),
	)
	if err != nil {
		return false, fmt.Errorf("repo: insert %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repo: insert %s: %w", r.ID, err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE car_listings SET notified = 1, notified_at = ? WHERE listing_id = ?`,
		s.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("repo: mark notified %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("repo: mark notified %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Last(ctx context.Context, n int) ([]Record, error) {
	if n <= 0 {
		return []Record{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM car_listings
		WHERE excluded = 0 ORDER BY discovered_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("repo: last: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) StatsByModel(ctx context.Context) ([]ModelStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT brand, model, COUNT(1), AVG(score), AVG(price)
		FROM car_listings WHERE excluded = 0
		GROUP BY brand, model ORDER BY COUNT(1) DESC, brand, model`)
	if err != nil {
		return nil, fmt.Errorf("repo: stats by model: %w", err)
	}
	defer rows.Close()

	out := []ModelStats{}
	for rows.Next() {
		var (
			m        ModelStats
			avgScore sql.NullFloat64
			avgPrice sql.NullFloat64
		)
		if err := rows.Scan(&m.Brand, &m.Model, &m.Count, &avgScore, &avgPrice); err != nil {
			return nil, fmt.Errorf("repo: stats by model: %w", err)
		}
		m.Brand, m.Model = orUnknown(m.Brand), orUnknown(m.Model)
		m.AvgScore = round1(avgScore.Float64)
		m.AvgPrice = math.Round(avgPrice.Float64)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DailyStats(ctx context.Context, days int) ([]DayStats, error) {
	since := dayStart(s.now()).AddDate(0, 0, -days).Unix()
	rows, err := s.db.QueryContext(ctx, `SELECT date(discovered_at, 'unixepoch') AS day, COUNT(1), AVG(score)
		FROM car_listings WHERE excluded = 0 AND discovered_at >= ?
		GROUP BY day ORDER BY day DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("repo: daily stats: %w", err)
	}
	defer rows.Close()

	out := []DayStats{}
	for rows.Next() {
		var (
			d   DayStats
			avg sql.NullFloat64
		)
		if err := rows.Scan(&d.Date, &d.Count, &avg); err != nil {
			return nil, fmt.Errorf("repo: daily stats: %w", err)
		}
		d.AvgScore = round1(avg.Float64)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Totals(ctx context.Context) (Totals, error) {
	var (
		t   Totals
		avg sql.NullFloat64
	)
	since := s.now().Add(-24 * time.Hour).Unix()
	err := s.db.QueryRowContext(ctx, `SELECT
		COUNT(1),
		COALESCE(SUM(notified), 0),
		COALESCE(SUM(excluded), 0),
		AVG(CASE WHEN excluded = 0 THEN score END),
		COALESCE(SUM(CASE WHEN excluded = 0 AND priority = 'high' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN discovered_at >= ? THEN 1 ELSE 0 END), 0)
		FROM car_listings`, since).
		Scan(&t.Total, &t.Notified, &t.Excluded, &avg, &t.HighPriority, &t.Last24h)
	if err != nil {
		return Totals{}, fmt.Errorf("repo: totals: %w", err)
	}
	t.AvgScore = round1(avg.Float64)
	return t, nil
}

func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM bot_config WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("repo: config %q: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("repo: config %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().Unix())
	if err != nil {
		return fmt.Errorf("repo: set config %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM car_listings WHERE discovered_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("repo: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("repo: cleanup: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                    Record
		price, mileage, year sql.NullInt64
		attrs, priority      string
		details              string
		discovered           int64
		notifiedAt           sql.NullInt64
	)
	err := sc.Scan(&r.ID, &r.URL, &r.Title, &price, &mileage, &year,
		&r.Fuel, &r.Gearbox, &r.Brand, &r.Model, &r.Engine, &r.Location, &r.Description, &r.ImageURL,
		&attrs, &r.Score.TotalScore, &priority, &details,
		&r.Score.Excluded, &r.Score.ExclusionReason, &discovered, &r.Notified, &notifiedAt)
	if err != nil {
		return Record{}, fmt.Errorf("repo: scan listing: %w", err)
	}
	r.Price, r.Mileage, r.Year = int(price.Int64), int(mileage.Int64), int(year.Int64)
	if err := decodeDetails(&r, attrs, details); err != nil {
		return Record{}, err
	}
	r.Score.Priority = domain.Priority(priority)
	r.DiscoveredAt = time.Unix(discovered, 0).UTC()
	if notifiedAt.Valid {
		r.NotifiedAt = time.Unix(notifiedAt.Int64, 0).UTC()
	}
	return r, nil
}

// decodeDetails restores the attribute bag and the score breakdown. The
// flat columns stay authoritative for score, priority and exclusion.
func decodeDetails(r *Record, attrs, details string) error {
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return fmt.Errorf("repo: decode attributes of %s: %w", r.ID, err)
		}
	}
	if details != "" {
		var sr domain.ScoreResult
		if err := json.Unmarshal([]byte(details), &sr); err != nil {
			return fmt.Errorf("repo: decode score of %s: %w", r.ID, err)
		}
		r.Score.Bonuses = nilIfEmpty(sr.Bonuses)
		r.Score.Penalties = nilIfEmpty(sr.Penalties)
		r.Score.Warnings = nilIfEmpty(sr.Warnings)
	}
	return nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nonNilAttrs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}

func nullTime(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.Unix(), Valid: !t.IsZero()}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
