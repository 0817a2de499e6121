package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
)

func trafficEvent(id, source, clientID string, occurred, ingested time.Time, md map[string]any) *domain.TrafficEvent {
	return &domain.TrafficEvent{
		EventID:       id,
		Platform:      "shopify",
		StoreID:       "shop-1",
		Domain:        "shop.example.com",
		Path:          "/",
		Type:          "page_viewed",
		OccurredAt:    occurred,
		IngestedAt:    ingested,
		PrimarySource: source,
		ClientID:      clientID,
		Metadata:      md,
	}
}

func productMeta(id, title string) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"productVariant": map[string]any{
				"product": map[string]any{"id": id, "title": title, "url": "https://shop.example.com/products/" + id},
			},
		},
	}
}

func insertEvents(t *testing.T, repo *sqlite.SQLiteRepository, events ...*domain.TrafficEvent) {
	t.Helper()
	for _, ev := range events {
		if err := repo.InsertTrafficEvent(context.Background(), ev); err != nil {
			t.Fatalf("InsertTrafficEvent failed: %v", err)
		}
	}
}

func TestRollupBuildsHourlyBuckets(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ingested := hour.Add(45 * time.Minute)

	insertEvents(t, repo,
		trafficEvent("e1", "chatgpt", "c-1", hour.Add(5*time.Minute), ingested, productMeta("p1", "Shoes")),
		trafficEvent("e2", "chatgpt", "c-1", hour.Add(10*time.Minute), ingested, productMeta("p1", "Shoes")),
		trafficEvent("e3", "chatgpt", "c-2", hour.Add(15*time.Minute), ingested, productMeta("p1", "Shoes")),
		trafficEvent("e4", "chatgpt", "c-2", hour.Add(20*time.Minute), ingested, productMeta("p2", "Socks")),
		trafficEvent("e5", "direct", "c-3", hour.Add(25*time.Minute), ingested, nil),
	)

	agg := NewAggregator(repo, time.UTC, "test", time.Minute)
	agg.now = fixedClock(hour.Add(time.Hour))

	stats, err := agg.Rollup(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Rollup failed: %v", err)
	}
	if stats.EventsSeen != 5 {
		t.Errorf("EventsSeen = %d, want 5", stats.EventsSeen)
	}
	if stats.BucketsUpdated != 2 {
		t.Errorf("BucketsUpdated = %d, want 2", stats.BucketsUpdated)
	}

	buckets, err := repo.ListBuckets(ctx, "shopify", "shop-1", hour, hour)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}

	bySource := map[string]*domain.AggregatedBucket{}
	for i := range buckets {
		bySource[buckets[i].Source] = &buckets[i]
	}

	chatgpt := bySource["chatgpt"]
	if chatgpt == nil {
		t.Fatal("no chatgpt bucket")
	}
	if chatgpt.TotalEvents != 4 {
		t.Errorf("chatgpt TotalEvents = %d, want 4", chatgpt.TotalEvents)
	}
	if chatgpt.UniqueUsers != 2 {
		t.Errorf("chatgpt UniqueUsers = %d, want 2", chatgpt.UniqueUsers)
	}
	if chatgpt.MostPopular == nil {
		t.Fatal("chatgpt MostPopular is nil")
	}
	if chatgpt.MostPopular.ID != "p1" || chatgpt.MostPopular.TotalEvents != 3 {
		t.Errorf("MostPopular = %+v, want p1 with 3 events", chatgpt.MostPopular)
	}

	direct := bySource["direct"]
	if direct == nil {
		t.Fatal("no direct bucket")
	}
	if direct.TotalEvents != 1 || direct.UniqueUsers != 1 {
		t.Errorf("direct bucket = %d/%d, want 1/1", direct.TotalEvents, direct.UniqueUsers)
	}
	if direct.MostPopular != nil {
		t.Errorf("direct MostPopular = %+v, want nil", direct.MostPopular)
	}
}

func TestRollupIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	insertEvents(t, repo,
		trafficEvent("e1", "chatgpt", "c-1", hour.Add(5*time.Minute), hour.Add(6*time.Minute), nil),
		trafficEvent("e2", "chatgpt", "c-2", hour.Add(7*time.Minute), hour.Add(8*time.Minute), nil),
	)

	agg := NewAggregator(repo, time.UTC, "test", time.Minute)
	agg.now = fixedClock(hour.Add(time.Hour))

	for i := 0; i < 3; i++ {
		if _, err := agg.Rollup(ctx, time.Time{}); err != nil {
			t.Fatalf("Rollup pass %d failed: %v", i, err)
		}
	}

	buckets, err := repo.ListBuckets(ctx, "shopify", "shop-1", hour, hour)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(buckets))
	}
	if buckets[0].TotalEvents != 2 || buckets[0].UniqueUsers != 2 {
		t.Errorf("bucket = %d/%d, want 2/2", buckets[0].TotalEvents, buckets[0].UniqueUsers)
	}
}

func TestRunOnceAdvancesWatermarkAndHandlesLateEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	hour := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	firstRun := hour.Add(time.Hour)

	insertEvents(t, repo,
		trafficEvent("e1", "chatgpt", "c-1", hour.Add(5*time.Minute), hour.Add(6*time.Minute), nil),
	)

	agg := NewAggregator(repo, time.UTC, "test", time.Minute)
	agg.now = fixedClock(firstRun)

	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	mark, err := repo.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if !mark.Equal(firstRun) {
		t.Errorf("watermark = %v, want %v", mark, firstRun)
	}

	// A late event for the already-rolled-up hour arrives afterwards. The
	// next run must fold it into the old bucket.
	insertEvents(t, repo,
		trafficEvent("e2", "chatgpt", "c-2", hour.Add(10*time.Minute), firstRun.Add(time.Minute), nil),
	)

	agg.now = fixedClock(firstRun.Add(2 * time.Minute))
	if _, err := agg.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}

	buckets, err := repo.ListBuckets(ctx, "shopify", "shop-1", hour, hour)
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 1 {
		t.Fatalf("got %d buckets, want 1", len(buckets))
	}
	if buckets[0].TotalEvents != 2 || buckets[0].UniqueUsers != 2 {
		t.Errorf("bucket after late event = %d/%d, want 2/2", buckets[0].TotalEvents, buckets[0].UniqueUsers)
	}
}

func TestRunOnceSkipsWhenLeaseHeld(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	held, err := repo.AcquireRollupLease(ctx, "other-process", time.Hour)
	if err != nil || !held {
		t.Fatalf("could not set up foreign lease: held=%v err=%v", held, err)
	}

	insertEvents(t, repo,
		trafficEvent("e1", "direct", "c-1", time.Now().UTC().Add(-time.Minute), time.Now().UTC(), nil),
	)

	agg := NewAggregator(repo, time.UTC, "test", time.Minute)
	stats, err := agg.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if stats.EventsSeen != 0 || stats.BucketsUpdated != 0 {
		t.Errorf("run should have been skipped, got %+v", stats)
	}
}

func TestRollupSplitsEventsAcrossHours(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	var events []*domain.TrafficEvent
	for i := 0; i < 3; i++ {
		events = append(events, trafficEvent(
			fmt.Sprintf("h1-%d", i), "direct", "", base.Add(time.Duration(i)*time.Minute), base.Add(time.Hour), nil))
	}
	events = append(events, trafficEvent("h2-0", "direct", "", base.Add(90*time.Minute), base.Add(2*time.Hour), nil))
	insertEvents(t, repo, events...)

	agg := NewAggregator(repo, time.UTC, "test", time.Minute)
	agg.now = fixedClock(base.Add(3 * time.Hour))

	if _, err := agg.Rollup(ctx, time.Time{}); err != nil {
		t.Fatalf("Rollup failed: %v", err)
	}

	buckets, err := repo.ListBuckets(ctx, "shopify", "shop-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListBuckets failed: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("got %d buckets, want 2", len(buckets))
	}
	if buckets[0].TotalEvents != 3 {
		t.Errorf("first hour = %d events, want 3", buckets[0].TotalEvents)
	}
	if buckets[1].TotalEvents != 1 {
		t.Errorf("second hour = %d events, want 1", buckets[1].TotalEvents)
	}
	// Events without a client id contribute no uniques.
	if buckets[0].UniqueUsers != 0 {
		t.Errorf("first hour uniques = %d, want 0", buckets[0].UniqueUsers)
	}
}
