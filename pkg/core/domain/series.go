package domain

import (
	"fmt"
	"time"
)

// Interval is a dashboard lookback window.
type Interval string

const (
	Interval5m Interval = "5m"
	Interval1h Interval = "1h"
	Interval1d Interval = "1d"
	Interval1w Interval = "1w"
)

func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case Interval5m, Interval1h, Interval1d, Interval1w:
		return Interval(s), nil
	}
	return "", fmt.Errorf("unsupported interval %q", s)
}

// Window is the span of time the interval covers, ending at now.
func (i Interval) Window() time.Duration {
	switch i {
	case Interval5m:
		return 5 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Granularity is the point width used when charting the interval. Sub-hour
// intervals are recomputed live from raw events at minute granularity; the
// longer intervals read pre-aggregated hourly buckets.
func (i Interval) Granularity() time.Duration {
	switch i {
	case Interval5m, Interval1h:
		return time.Minute
	case Interval1d:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// Points is the fixed number of points a series for this interval contains,
// independent of how much data exists.
func (i Interval) Points() int {
	return int(i.Window() / i.Granularity())
}

// PointMetrics are the per-source counters of one series point.
type PointMetrics struct {
	TotalEvents int64 `json:"total_events"`
	UniqueUsers int64 `json:"unique_users"`
}

// SeriesPoint is one chart point. Sources maps primary_source to its
// metrics; All is the sum across sources.
type SeriesPoint struct {
	Start   time.Time               `json:"bucket_start"`
	Label   string                  `json:"label"`
	All     PointMetrics            `json:"all"`
	Sources map[string]PointMetrics `json:"sources"`
}

// ConversionInfo describes the most recent conversion for a store.
type ConversionInfo struct {
	OccurredAt   time.Time `json:"occurred_at"`
	ProductTitle string    `json:"product_title,omitempty"`
}

// StoreSummary is the non-bucketed all-time rollup for one tenant.
type StoreSummary struct {
	TotalVisits           int64                   `json:"total_visits"`
	TotalConversions      int64                   `json:"total_conversions"`
	TotalCrawlerHits      int64                   `json:"total_crawler_hits"`
	MostRecentConversion  *ConversionInfo         `json:"most_recent_conversion,omitempty"`
	MostPurchased         *MostPopular            `json:"most_purchased,omitempty"`
	MostPurchasedBySource map[string]*MostPopular `json:"most_purchased_by_source,omitempty"`
}

// ActivityRecord is one row of the recent-activity feed.
type ActivityRecord struct {
	ClientID      string    `json:"client_id"`
	EventType     string    `json:"event_type"`
	Description   string    `json:"description"`
	URL           string    `json:"url,omitempty"`
	PrimarySource string    `json:"primary_source"`
	Time          time.Time `json:"time"`
}
