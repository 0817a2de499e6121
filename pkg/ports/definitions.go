package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
)

// TrafficRepository defines storage operations for the tracking pipeline.
type TrafficRepository interface {
	// Reporters
	UpsertReporter(ctx context.Context, src *domain.ReporterSource) error
	GetReporter(ctx context.Context, platform, storeID string) (*domain.ReporterSource, error)

	// Raw events (append-only)
	InsertTrafficEvent(ctx context.Context, ev *domain.TrafficEvent) error
	InsertCrawlerEvent(ctx context.Context, ev *domain.CrawlerEvent) error

	// First-touch attribution. Insert must be atomic insert-if-absent; the
	// bool reports whether a row was created.
	InsertClientSourceIfAbsent(ctx context.Context, attr *domain.ClientSourceAttribution) (bool, error)
	GetClientSource(ctx context.Context, platform, storeID, clientID string) (*domain.ClientSourceAttribution, error)
	ListClientSources(ctx context.Context, platform, storeID string) ([]domain.ClientSourceAttribution, error)

	// Event reads
	ListEventsIngestedSince(ctx context.Context, since time.Time) ([]domain.TrafficEvent, error)
	ListBucketEvents(ctx context.Context, key domain.BucketKey, width time.Duration) ([]domain.TrafficEvent, error)
	ListEventsBetween(ctx context.Context, platform, storeID string, from, to time.Time) ([]domain.TrafficEvent, error)
	ListEventsByTypes(ctx context.Context, platform, storeID string, types []string) ([]domain.TrafficEvent, error)
	ListRecentEvents(ctx context.Context, platform, storeID, source string, types []string, limit int) ([]domain.TrafficEvent, error)
	CountEvents(ctx context.Context, platform, storeID string) (int64, error)
	CountCrawlerEvents(ctx context.Context, platform, storeID string) (int64, error)

	// Aggregated buckets (written only by the aggregator)
	UpsertBucket(ctx context.Context, b *domain.AggregatedBucket) error
	ListBuckets(ctx context.Context, platform, storeID string, from, to time.Time) ([]domain.AggregatedBucket, error)

	// Rollup bookkeeping
	Watermark(ctx context.Context) (time.Time, error)
	SetWatermark(ctx context.Context, mark time.Time) error
	AcquireRollupLease(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseRollupLease(ctx context.Context, owner string) error
}

// ReporterService registers and authenticates reporters.
type ReporterService interface {
	Register(ctx context.Context, platform, storeID string, allowedDomains []string) (*domain.ReporterSource, error)
	Deactivate(ctx context.Context, platform, storeID string) error
	// Authenticate validates the claimed tenant and domain. claimedDomain
	// comes from the report body, originHost from the request headers;
	// either may be empty.
	Authenticate(ctx context.Context, platform, storeID, claimedDomain, originHost string) (*domain.ReporterSource, error)
}

// IngestService validates, authenticates, classifies and appends events.
type IngestService interface {
	IngestTraffic(ctx context.Context, report *domain.TrafficReport) (*domain.TrafficEvent, error)
	IngestCrawl(ctx context.Context, report *domain.CrawlReport) (*domain.CrawlerEvent, error)
}

// SeriesService serves dashboard reads over raw events and buckets.
type SeriesService interface {
	Series(ctx context.Context, platform, storeID string, interval domain.Interval) ([]domain.SeriesPoint, error)
	Summary(ctx context.Context, platform, storeID string) (*domain.StoreSummary, error)
	RecentActivity(ctx context.Context, platform, storeID, source string, n int) ([]domain.ActivityRecord, error)
}
