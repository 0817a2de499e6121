package services

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/ports"
)

const (
	bucketWidth = time.Hour
	// leaseSlack keeps the lease alive past the run deadline so a slow run
	// cannot lose the lease mid-flight.
	leaseSlack = 30 * time.Second
)

// RollupStats summarizes one aggregation run.
type RollupStats struct {
	EventsSeen     int
	BucketsUpdated int
	BucketsFailed  int
}

// Aggregator folds raw traffic events into hourly buckets. It is driven by an
// ingestion-time watermark: each run recomputes, from scratch, every bucket
// touched by events ingested since the previous successful run. Recomputing
// whole buckets makes runs idempotent and makes late-arriving events land in
// their correct hour.
type Aggregator struct {
	repo    ports.TrafficRepository
	loc     *time.Location
	owner   string
	timeout time.Duration
	now     func() time.Time
}

func NewAggregator(repo ports.TrafficRepository, loc *time.Location, owner string, timeout time.Duration) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{repo: repo, loc: loc, owner: owner, timeout: timeout, now: time.Now}
}

// Run executes RunOnce on a fixed interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				log.Printf("rollup run failed: %v", err)
			}
		}
	}
}

// RunOnce performs a single aggregation pass. Only one process may roll up at
// a time; when another holds the lease the run is skipped without error.
func (a *Aggregator) RunOnce(ctx context.Context) (RollupStats, error) {
	acquired, err := a.repo.AcquireRollupLease(ctx, a.owner, a.timeout+leaseSlack)
	if err != nil {
		return RollupStats{}, err
	}
	if !acquired {
		log.Printf("rollup lease held elsewhere, skipping run")
		return RollupStats{}, nil
	}
	defer func() {
		if err := a.repo.ReleaseRollupLease(ctx, a.owner); err != nil {
			log.Printf("rollup lease release failed: %v", err)
		}
	}()

	runStart := a.now().UTC()

	since, err := a.repo.Watermark(ctx)
	if err != nil {
		return RollupStats{}, err
	}

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	stats, err := a.Rollup(runCtx, since)
	if err != nil {
		return stats, err
	}

	// Advance the watermark only after a fully clean run; a failed bucket
	// stays covered by the old watermark and is retried next time.
	if stats.BucketsFailed == 0 {
		if err := a.repo.SetWatermark(ctx, runStart); err != nil {
			return stats, err
		}
	}
	if stats.EventsSeen > 0 {
		log.Printf("rollup: %d events seen, %d buckets updated, %d failed",
			stats.EventsSeen, stats.BucketsUpdated, stats.BucketsFailed)
	}
	return stats, nil
}

// Rollup recomputes every bucket touched by events ingested at or after
// since. Bucket failures are isolated: one bad bucket does not stop the run.
func (a *Aggregator) Rollup(ctx context.Context, since time.Time) (RollupStats, error) {
	events, err := a.repo.ListEventsIngestedSince(ctx, since)
	if err != nil {
		return RollupStats{}, err
	}

	stats := RollupStats{EventsSeen: len(events)}
	if len(events) == 0 {
		return stats, nil
	}

	touched := map[domain.BucketKey]bool{}
	for i := range events {
		touched[a.bucketKey(&events[i])] = true
	}

	keys := make([]domain.BucketKey, 0, len(touched))
	for key := range touched {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if !keys[i].Start.Equal(keys[j].Start) {
			return keys[i].Start.Before(keys[j].Start)
		}
		if keys[i].Platform != keys[j].Platform {
			return keys[i].Platform < keys[j].Platform
		}
		if keys[i].StoreID != keys[j].StoreID {
			return keys[i].StoreID < keys[j].StoreID
		}
		return keys[i].Source < keys[j].Source
	})

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			stats.BucketsFailed += len(keys) - stats.BucketsUpdated - stats.BucketsFailed
			return stats, err
		}
		if err := a.recomputeBucket(ctx, key); err != nil {
			log.Printf("rollup: bucket %s/%s %s @ %s failed: %v",
				key.Platform, key.StoreID, key.Source, key.Start.Format(time.RFC3339), err)
			stats.BucketsFailed++
			continue
		}
		stats.BucketsUpdated++
	}
	return stats, nil
}

func (a *Aggregator) bucketKey(ev *domain.TrafficEvent) domain.BucketKey {
	t := ev.OccurredAt.In(a.loc)
	// Wall-clock truncation, so half-hour offset zones still bucket on the
	// local hour.
	start := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, a.loc)
	return domain.BucketKey{
		Platform: ev.Platform,
		StoreID:  ev.StoreID,
		Source:   ev.PrimarySource,
		Start:    start,
	}
}

// recomputeBucket rebuilds one bucket entirely from its raw events.
func (a *Aggregator) recomputeBucket(ctx context.Context, key domain.BucketKey) error {
	events, err := a.repo.ListBucketEvents(ctx, key, bucketWidth)
	if err != nil {
		return err
	}

	clients := map[string]bool{}
	type itemCount struct {
		info     *productInfo
		count    int64
		lastSeen time.Time
	}
	items := map[string]*itemCount{}

	for i := range events {
		ev := &events[i]
		if ev.ClientID != "" {
			clients[ev.ClientID] = true
		}
		product := productFromEvent(ev)
		if product == nil {
			continue
		}
		id := product.ID
		if id == "" {
			id = product.Title
		}
		item, ok := items[id]
		if !ok {
			item = &itemCount{info: product}
			items[id] = item
		}
		item.count++
		if ev.OccurredAt.After(item.lastSeen) {
			item.lastSeen = ev.OccurredAt
		}
	}

	var top *itemCount
	for _, item := range items {
		if top == nil || item.count > top.count ||
			(item.count == top.count && item.lastSeen.After(top.lastSeen)) {
			top = item
		}
	}

	bucket := &domain.AggregatedBucket{
		Platform:    key.Platform,
		StoreID:     key.StoreID,
		Source:      key.Source,
		BucketStart: key.Start,
		TotalEvents: int64(len(events)),
		UniqueUsers: int64(len(clients)),
		UpdatedAt:   a.now().UTC(),
	}
	if top != nil {
		bucket.MostPopular = &domain.MostPopular{
			ID:          top.info.ID,
			Title:       top.info.Title,
			URL:         top.info.URL,
			TotalEvents: top.count,
		}
	}
	return a.repo.UpsertBucket(ctx, bucket)
}
