package domain

import "time"

// Reporter status values. Reporters are never hard-deleted; deactivation is
// the only lifecycle transition after registration.
const (
	ReporterActive   = "active"
	ReporterInactive = "inactive"
)

// ReporterSource is a registered tenant (storefront) permitted to submit
// traffic events. Uniqueness is (Platform, StoreID). An empty AllowedDomains
// list means the reporter may submit events for any domain.
type ReporterSource struct {
	Platform       string    `json:"store_platform"`
	StoreID        string    `json:"store_id"`
	Status         string    `json:"status"`
	AllowedDomains []string  `json:"allowed_domains"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (r *ReporterSource) Active() bool {
	return r.Status == ReporterActive
}

// TrafficEvent is one raw storefront event. Rows are immutable once written.
type TrafficEvent struct {
	EventID       string         `json:"event_id"`
	Platform      string         `json:"store_platform"`
	StoreID       string         `json:"store_id"`
	Domain        string         `json:"domain"`
	Path          string         `json:"path"`
	Type          string         `json:"type"`
	OccurredAt    time.Time      `json:"occurred_at"`
	IngestedAt    time.Time      `json:"ingested_at"`
	PrimarySource string         `json:"primary_source"`
	ClientID      string         `json:"client_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CrawlerEvent is a bot/crawler hit reported by a storefront. Kept separate
// from TrafficEvent so crawler volume never skews visitor analytics.
type CrawlerEvent struct {
	EventID    string         `json:"event_id"`
	Platform   string         `json:"store_platform"`
	StoreID    string         `json:"store_id"`
	Domain     string         `json:"domain"`
	Path       string         `json:"path"`
	UserAgent  string         `json:"user_agent"`
	IP         string         `json:"ip,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	IngestedAt time.Time      `json:"ingested_at"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ClientSourceAttribution records the first-observed source for an anonymous
// client. First-touch semantics: once written, the row is never updated.
type ClientSourceAttribution struct {
	Platform  string    `json:"store_platform"`
	StoreID   string    `json:"store_id"`
	ClientID  string    `json:"client_id"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen_at"`
}

// MostPopular identifies the top item within a bucket or summary.
type MostPopular struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	TotalEvents int64  `json:"total_events"`
}

// BucketKey identifies one aggregation bucket. Start is aligned to the
// bucket width in the aggregation timezone.
type BucketKey struct {
	Platform string
	StoreID  string
	Source   string
	Start    time.Time
}

// AggregatedBucket is one pre-aggregated row per
// (platform, store, source, hour). Only the aggregator writes these, and it
// always replaces metrics wholesale rather than incrementing them.
type AggregatedBucket struct {
	Platform    string       `json:"store_platform"`
	StoreID     string       `json:"store_id"`
	Source      string       `json:"primary_source"`
	BucketStart time.Time    `json:"bucket_start"`
	TotalEvents int64        `json:"total_events"`
	UniqueUsers int64        `json:"unique_users"`
	MostPopular *MostPopular `json:"most_popular,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (b *AggregatedBucket) Key() BucketKey {
	return BucketKey{Platform: b.Platform, StoreID: b.StoreID, Source: b.Source, Start: b.BucketStart}
}

// TrafficReport is the parsed body of a report-traffic request.
type TrafficReport struct {
	Platform   string
	StoreID    string
	Domain     string
	Path       string
	Type       string
	OccurredAt string
	Metadata   map[string]any
	OriginHost string
}

// CrawlReport is the parsed body of a report-crawl request.
type CrawlReport struct {
	Platform   string
	StoreID    string
	Domain     string
	Path       string
	UserAgent  string
	IP         string
	OccurredAt string
	Metadata   map[string]any
}
