package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/classify"
	"github.com/wadjakorntonsri/aeo-tracker/pkg/core/domain"
)

func newTestIngest(t *testing.T) (*IngestService, *ReporterService) {
	t.Helper()
	repo := newTestRepo(t)
	reporters := NewReporterService(repo)
	svc := NewIngestService(repo, reporters, classify.Default())
	if _, err := reporters.Register(context.Background(), "shopify", "shop-1", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return svc, reporters
}

func TestIngestTraffic(t *testing.T) {
	svc, _ := newTestIngest(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	ev, err := svc.IngestTraffic(context.Background(), &domain.TrafficReport{
		Platform:   "shopify",
		StoreID:    "shop-1",
		Domain:     "shop.example.com",
		Path:       "/products/shoes?utm_source=chatgpt.com",
		Type:       "product_viewed",
		OccurredAt: "2026-03-14T10:25:00Z",
		Metadata:   map[string]any{"clientId": "c-1"},
	})
	if err != nil {
		t.Fatalf("IngestTraffic failed: %v", err)
	}

	if ev.EventID == "" {
		t.Error("EventID is empty")
	}
	if ev.PrimarySource != "chatgpt" {
		t.Errorf("PrimarySource = %q, want chatgpt", ev.PrimarySource)
	}
	if ev.ClientID != "c-1" {
		t.Errorf("ClientID = %q, want c-1", ev.ClientID)
	}
	if !ev.OccurredAt.Equal(time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v", ev.OccurredAt)
	}
	if !ev.IngestedAt.Equal(now) {
		t.Errorf("IngestedAt = %v, want %v", ev.IngestedAt, now)
	}
}

func TestIngestTrafficDefaults(t *testing.T) {
	svc, _ := newTestIngest(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	ev, err := svc.IngestTraffic(context.Background(), &domain.TrafficReport{
		Platform: "shopify",
		StoreID:  "shop-1",
		Domain:   "shop.example.com",
	})
	if err != nil {
		t.Fatalf("IngestTraffic failed: %v", err)
	}
	if ev.Path != "/" {
		t.Errorf("Path = %q, want /", ev.Path)
	}
	if ev.Type != "generic" {
		t.Errorf("Type = %q, want generic", ev.Type)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Errorf("OccurredAt = %v, want now", ev.OccurredAt)
	}
	if ev.PrimarySource != classify.SourceDirect {
		t.Errorf("PrimarySource = %q, want direct", ev.PrimarySource)
	}
}

func TestIngestTrafficRejections(t *testing.T) {
	svc, _ := newTestIngest(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	svc.now = fixedClock(now)
	ctx := context.Background()

	tests := []struct {
		name    string
		report  domain.TrafficReport
		wantErr error
	}{
		{
			name:    "missing domain",
			report:  domain.TrafficReport{Platform: "shopify", StoreID: "shop-1"},
			wantErr: domain.ErrMissingDomain,
		},
		{
			name: "garbage timestamp",
			report: domain.TrafficReport{
				Platform: "shopify", StoreID: "shop-1", Domain: "shop.example.com",
				OccurredAt: "yesterday-ish",
			},
			wantErr: domain.ErrInvalidTimestamp,
		},
		{
			name: "ancient timestamp",
			report: domain.TrafficReport{
				Platform: "shopify", StoreID: "shop-1", Domain: "shop.example.com",
				OccurredAt: "2020-01-01T00:00:00Z",
			},
			wantErr: domain.ErrInvalidTimestamp,
		},
		{
			name: "unregistered reporter",
			report: domain.TrafficReport{
				Platform: "shopify", StoreID: "nope", Domain: "shop.example.com",
			},
			wantErr: domain.ErrUnknownReporter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.IngestTraffic(ctx, &tt.report); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIngestTrafficClampsFuture(t *testing.T) {
	svc, _ := newTestIngest(t)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	svc.now = fixedClock(now)

	ev, err := svc.IngestTraffic(context.Background(), &domain.TrafficReport{
		Platform: "shopify",
		StoreID:  "shop-1",
		Domain:   "shop.example.com",
		// An hour in the future, past the allowed skew.
		OccurredAt: "2026-03-14T11:30:00Z",
	})
	if err != nil {
		t.Fatalf("IngestTraffic failed: %v", err)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Errorf("OccurredAt = %v, want clamped to %v", ev.OccurredAt, now)
	}
}

func TestIngestFirstTouchAttribution(t *testing.T) {
	repo := newTestRepo(t)
	reporters := NewReporterService(repo)
	svc := NewIngestService(repo, reporters, classify.Default())
	ctx := context.Background()
	if _, err := reporters.Register(ctx, "shopify", "shop-1", nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	report := func(path string) *domain.TrafficReport {
		return &domain.TrafficReport{
			Platform: "shopify",
			StoreID:  "shop-1",
			Domain:   "shop.example.com",
			Path:     path,
			Metadata: map[string]any{"clientId": "c-1"},
		}
	}

	if _, err := svc.IngestTraffic(ctx, report("/?utm_source=chatgpt")); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if _, err := svc.IngestTraffic(ctx, report("/?utm_source=gemini")); err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}

	attr, err := repo.GetClientSource(ctx, "shopify", "shop-1", "c-1")
	if err != nil {
		t.Fatalf("GetClientSource failed: %v", err)
	}
	if attr == nil {
		t.Fatal("no attribution recorded")
	}
	if attr.Source != "chatgpt" {
		t.Errorf("first-touch source = %q, want chatgpt", attr.Source)
	}
}

func TestIngestCrawl(t *testing.T) {
	svc, _ := newTestIngest(t)
	ctx := context.Background()

	if _, err := svc.IngestCrawl(ctx, &domain.CrawlReport{
		Platform: "shopify", StoreID: "shop-1", Domain: "shop.example.com",
	}); !errors.Is(err, domain.ErrMissingField) {
		t.Errorf("missing user agent: err = %v, want ErrMissingField", err)
	}

	ev, err := svc.IngestCrawl(ctx, &domain.CrawlReport{
		Platform:  "shopify",
		StoreID:   "shop-1",
		Domain:    "shop.example.com",
		Path:      "/robots.txt",
		UserAgent: "GPTBot/1.0",
	})
	if err != nil {
		t.Fatalf("IngestCrawl failed: %v", err)
	}
	if ev.EventID == "" {
		t.Error("EventID is empty")
	}
	if ev.UserAgent != "GPTBot/1.0" {
		t.Errorf("UserAgent = %q", ev.UserAgent)
	}
}
