package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
	_ "modernc.org/sqlite" // Local SQLite driver
)

// timeLayout is the canonical timestamp encoding. All values are stored in
// UTC with this fixed-width layout so string comparison orders correctly.
const timeLayout = "2006-01-02 15:04:05"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS reporter_sources (
		store_platform TEXT NOT NULL,
		store_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		allowed_domains JSON,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (store_platform, store_id)
	);

	CREATE TABLE IF NOT EXISTS traffic_events (
		event_id TEXT PRIMARY KEY,
		store_platform TEXT NOT NULL,
		store_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		path TEXT NOT NULL,
		type TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		ingested_at DATETIME NOT NULL,
		primary_source TEXT NOT NULL,
		client_id TEXT,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_traffic_events_store_occurred
		ON traffic_events(store_platform, store_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_traffic_events_ingested
		ON traffic_events(ingested_at);

	CREATE TABLE IF NOT EXISTS crawler_events (
		event_id TEXT PRIMARY KEY,
		store_platform TEXT NOT NULL,
		store_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		path TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		ip TEXT,
		occurred_at DATETIME NOT NULL,
		ingested_at DATETIME NOT NULL,
		metadata JSON
	);
	CREATE INDEX IF NOT EXISTS idx_crawler_events_store
		ON crawler_events(store_platform, store_id, occurred_at);

	CREATE TABLE IF NOT EXISTS client_sources (
		store_platform TEXT NOT NULL,
		store_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		source TEXT NOT NULL,
		first_seen_at DATETIME NOT NULL,
		PRIMARY KEY (store_platform, store_id, client_id)
	);

	CREATE TABLE IF NOT EXISTS traffic_buckets (
		store_platform TEXT NOT NULL,
		store_id TEXT NOT NULL,
		primary_source TEXT NOT NULL,
		bucket_start DATETIME NOT NULL,
		total_events INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		most_popular JSON,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (store_platform, store_id, primary_source, bucket_start)
	);
	CREATE INDEX IF NOT EXISTS idx_traffic_buckets_store_start
		ON traffic_buckets(store_platform, store_id, bucket_start);

	CREATE TABLE IF NOT EXISTS rollup_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		watermark DATETIME NOT NULL,
		lease_owner TEXT NOT NULL DEFAULT '',
		lease_until DATETIME
	);
	`
	if _, err := db.Exec(query); err != nil {
		return err
	}

	_, err := db.Exec(`INSERT OR IGNORE INTO rollup_state (id, watermark) VALUES (1, '1970-01-01 00:00:00')`)
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
		return t
	}
	// Remote drivers may hand back RFC3339.
	t, _ := time.Parse(time.RFC3339, s)
	return t.UTC()
}

// --- Reporters ---

func (r *SQLiteRepository) UpsertReporter(ctx context.Context, src *domain.ReporterSource) error {
	domainsJSON, err := json.Marshal(src.AllowedDomains)
	if err != nil {
		return err
	}

	query := `INSERT INTO reporter_sources (store_platform, store_id, status, allowed_domains, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?)
			  ON CONFLICT(store_platform, store_id) DO UPDATE SET
				status = excluded.status,
				allowed_domains = excluded.allowed_domains,
				updated_at = excluded.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		src.Platform, src.StoreID, src.Status, domainsJSON, fmtTime(src.CreatedAt), fmtTime(src.UpdatedAt))
	return err
}

func (r *SQLiteRepository) GetReporter(ctx context.Context, platform, storeID string) (*domain.ReporterSource, error) {
	query := `SELECT store_platform, store_id, status, allowed_domains, created_at, updated_at
			  FROM reporter_sources WHERE store_platform = ? AND store_id = ?`

	var src domain.ReporterSource
	var domainsJSON []byte
	var createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, query, platform, storeID).Scan(
		&src.Platform, &src.StoreID, &src.Status, &domainsJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	_ = json.Unmarshal(domainsJSON, &src.AllowedDomains)
	src.CreatedAt = parseTime(createdAt)
	src.UpdatedAt = parseTime(updatedAt)
	return &src, nil
}

// --- Raw events ---

func (r *SQLiteRepository) InsertTrafficEvent(ctx context.Context, ev *domain.TrafficEvent) error {
	metadataJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO traffic_events
			  (event_id, store_platform, store_id, domain, path, type, occurred_at, ingested_at, primary_source, client_id, metadata)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		ev.EventID, ev.Platform, ev.StoreID, ev.Domain, ev.Path, ev.Type,
		fmtTime(ev.OccurredAt), fmtTime(ev.IngestedAt), ev.PrimarySource,
		nullString(ev.ClientID), metadataJSON)
	return err
}

func (r *SQLiteRepository) InsertCrawlerEvent(ctx context.Context, ev *domain.CrawlerEvent) error {
	metadataJSON, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	query := `INSERT INTO crawler_events
			  (event_id, store_platform, store_id, domain, path, user_agent, ip, occurred_at, ingested_at, metadata)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		ev.EventID, ev.Platform, ev.StoreID, ev.Domain, ev.Path, ev.UserAgent,
		nullString(ev.IP), fmtTime(ev.OccurredAt), fmtTime(ev.IngestedAt), metadataJSON)
	return err
}

// --- First-touch attribution ---

// InsertClientSourceIfAbsent relies on INSERT OR IGNORE against the primary
// key, so concurrent first sightings of the same client race safely: exactly
// one wins, and the row is never rewritten afterwards.
func (r *SQLiteRepository) InsertClientSourceIfAbsent(ctx context.Context, attr *domain.ClientSourceAttribution) (bool, error) {
	query := `INSERT OR IGNORE INTO client_sources (store_platform, store_id, client_id, source, first_seen_at)
			  VALUES (?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		attr.Platform, attr.StoreID, attr.ClientID, attr.Source, fmtTime(attr.FirstSeen))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) GetClientSource(ctx context.Context, platform, storeID, clientID string) (*domain.ClientSourceAttribution, error) {
	query := `SELECT store_platform, store_id, client_id, source, first_seen_at
			  FROM client_sources WHERE store_platform = ? AND store_id = ? AND client_id = ?`

	var attr domain.ClientSourceAttribution
	var firstSeen string
	err := r.db.QueryRowContext(ctx, query, platform, storeID, clientID).Scan(
		&attr.Platform, &attr.StoreID, &attr.ClientID, &attr.Source, &firstSeen,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	attr.FirstSeen = parseTime(firstSeen)
	return &attr, nil
}

func (r *SQLiteRepository) ListClientSources(ctx context.Context, platform, storeID string) ([]domain.ClientSourceAttribution, error) {
	query := `SELECT store_platform, store_id, client_id, source, first_seen_at
			  FROM client_sources WHERE store_platform = ? AND store_id = ?`

	rows, err := r.db.QueryContext(ctx, query, platform, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []domain.ClientSourceAttribution
	for rows.Next() {
		var attr domain.ClientSourceAttribution
		var firstSeen string
		if err := rows.Scan(&attr.Platform, &attr.StoreID, &attr.ClientID, &attr.Source, &firstSeen); err != nil {
			return nil, err
		}
		attr.FirstSeen = parseTime(firstSeen)
		attrs = append(attrs, attr)
	}
	return attrs, rows.Err()
}

// --- Event reads ---

const eventColumns = `event_id, store_platform, store_id, domain, path, type, occurred_at, ingested_at, primary_source, client_id, metadata`

func (r *SQLiteRepository) ListEventsIngestedSince(ctx context.Context, since time.Time) ([]domain.TrafficEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM traffic_events WHERE ingested_at >= ? ORDER BY occurred_at ASC`
	return r.queryEvents(ctx, query, fmtTime(since))
}

func (r *SQLiteRepository) ListBucketEvents(ctx context.Context, key domain.BucketKey, width time.Duration) ([]domain.TrafficEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM traffic_events
			  WHERE store_platform = ? AND store_id = ? AND primary_source = ?
				AND occurred_at >= ? AND occurred_at < ?
			  ORDER BY occurred_at ASC`
	return r.queryEvents(ctx, query, key.Platform, key.StoreID, key.Source,
		fmtTime(key.Start), fmtTime(key.Start.Add(width)))
}

func (r *SQLiteRepository) ListEventsBetween(ctx context.Context, platform, storeID string, from, to time.Time) ([]domain.TrafficEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM traffic_events
			  WHERE store_platform = ? AND store_id = ? AND occurred_at >= ? AND occurred_at <= ?
			  ORDER BY occurred_at ASC`
	return r.queryEvents(ctx, query, platform, storeID, fmtTime(from), fmtTime(to))
}

func (r *SQLiteRepository) ListEventsByTypes(ctx context.Context, platform, storeID string, types []string) ([]domain.TrafficEvent, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := `SELECT ` + eventColumns + ` FROM traffic_events
			  WHERE store_platform = ? AND store_id = ? AND type IN (` + placeholders(len(types)) + `)
			  ORDER BY occurred_at ASC`
	args := []interface{}{platform, storeID}
	for _, t := range types {
		args = append(args, t)
	}
	return r.queryEvents(ctx, query, args...)
}

func (r *SQLiteRepository) ListRecentEvents(ctx context.Context, platform, storeID, source string, types []string, limit int) ([]domain.TrafficEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM traffic_events WHERE store_platform = ? AND store_id = ?`
	args := []interface{}{platform, storeID}

	if source != "" {
		query += " AND primary_source = ?"
		args = append(args, source)
	}
	if len(types) > 0 {
		query += " AND type IN (" + placeholders(len(types)) + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}

	query += " ORDER BY occurred_at DESC LIMIT ?"
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r *SQLiteRepository) CountEvents(ctx context.Context, platform, storeID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM traffic_events WHERE store_platform = ? AND store_id = ?`,
		platform, storeID).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) CountCrawlerEvents(ctx context.Context, platform, storeID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM crawler_events WHERE store_platform = ? AND store_id = ?`,
		platform, storeID).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]domain.TrafficEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.TrafficEvent
	for rows.Next() {
		var ev domain.TrafficEvent
		var occurredAt, ingestedAt string
		var clientID sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.Platform, &ev.StoreID, &ev.Domain, &ev.Path, &ev.Type,
			&occurredAt, &ingestedAt, &ev.PrimarySource, &clientID, &metadataJSON); err != nil {
			return nil, err
		}
		ev.OccurredAt = parseTime(occurredAt)
		ev.IngestedAt = parseTime(ingestedAt)
		if clientID.Valid {
			ev.ClientID = clientID.String
		}
		if len(metadataJSON) > 0 {
			_ = json.Unmarshal(metadataJSON, &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Aggregated buckets ---

// UpsertBucket replaces metrics wholesale on conflict. Incrementing here
// would break rollup idempotency.
func (r *SQLiteRepository) UpsertBucket(ctx context.Context, b *domain.AggregatedBucket) error {
	var popularJSON []byte
	if b.MostPopular != nil {
		var err error
		popularJSON, err = json.Marshal(b.MostPopular)
		if err != nil {
			return err
		}
	}

	query := `INSERT INTO traffic_buckets
			  (store_platform, store_id, primary_source, bucket_start, total_events, unique_users, most_popular, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(store_platform, store_id, primary_source, bucket_start) DO UPDATE SET
				total_events = excluded.total_events,
				unique_users = excluded.unique_users,
				most_popular = excluded.most_popular,
				updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		b.Platform, b.StoreID, b.Source, fmtTime(b.BucketStart),
		b.TotalEvents, b.UniqueUsers, popularJSON, fmtTime(b.UpdatedAt))
	return err
}

func (r *SQLiteRepository) ListBuckets(ctx context.Context, platform, storeID string, from, to time.Time) ([]domain.AggregatedBucket, error) {
	query := `SELECT store_platform, store_id, primary_source, bucket_start, total_events, unique_users, most_popular, updated_at
			  FROM traffic_buckets
			  WHERE store_platform = ? AND store_id = ? AND bucket_start >= ? AND bucket_start <= ?
			  ORDER BY bucket_start ASC`

	rows, err := r.db.QueryContext(ctx, query, platform, storeID, fmtTime(from), fmtTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []domain.AggregatedBucket
	for rows.Next() {
		var b domain.AggregatedBucket
		var bucketStart, updatedAt string
		var popularJSON []byte
		if err := rows.Scan(&b.Platform, &b.StoreID, &b.Source, &bucketStart,
			&b.TotalEvents, &b.UniqueUsers, &popularJSON, &updatedAt); err != nil {
			return nil, err
		}
		b.BucketStart = parseTime(bucketStart)
		b.UpdatedAt = parseTime(updatedAt)
		if len(popularJSON) > 0 {
			var mp domain.MostPopular
			if err := json.Unmarshal(popularJSON, &mp); err == nil {
				b.MostPopular = &mp
			}
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// --- Rollup bookkeeping ---

func (r *SQLiteRepository) Watermark(ctx context.Context) (time.Time, error) {
	var mark string
	err := r.db.QueryRowContext(ctx, `SELECT watermark FROM rollup_state WHERE id = 1`).Scan(&mark)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(mark), nil
}

func (r *SQLiteRepository) SetWatermark(ctx context.Context, mark time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE rollup_state SET watermark = ? WHERE id = 1`, fmtTime(mark))
	return err
}

// AcquireRollupLease grants the lease when it is free, expired, or already
// held by the same owner (renewal). A single UPDATE keeps the check and the
// claim atomic.
func (r *SQLiteRepository) AcquireRollupLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	query := `UPDATE rollup_state SET lease_owner = ?, lease_until = ?
			  WHERE id = 1 AND (lease_owner = '' OR lease_owner = ? OR lease_until IS NULL OR lease_until < ?)`

	res, err := r.db.ExecContext(ctx, query, owner, fmtTime(now.Add(ttl)), owner, fmtTime(now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ReleaseRollupLease(ctx context.Context, owner string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE rollup_state SET lease_owner = '', lease_until = NULL WHERE id = 1 AND lease_owner = ?`, owner)
	return err
}

// --- helpers ---

func marshalMetadata(md map[string]any) ([]byte, error) {
	if md == nil {
		return nil, nil
	}
	return json.Marshal(md)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Ensure interface compliance
var _ ports.TrafficRepository = (*SQLiteRepository)(nil)
